package protocol

import (
	"fmt"

	"github.com/cognicore/sheetclass/pkg/sheetclass/internalerr"
)

// Kind names a message type on the supervisor/worker channel.
type Kind string

const (
	KindPayload  Kind = "PAYLOAD"
	KindShutdown Kind = "SHUTDOWN"
	KindStatus   Kind = "STATUS"
	KindLog      Kind = "LOG"
	KindError    Kind = "ERROR"
	KindResult   Kind = "RESULT"
	KindAck      Kind = "ACK"
)

// Message is implemented only by the types in this package.
type Message interface {
	Kind() Kind
	isMessage()
}

// Request is a classification request as submitted by a caller.
type Request struct {
	ID       string   `json:"id,omitempty"`
	Text     string   `json:"text"`
	Keywords []string `json:"keywords,omitempty"`
}

// Payload asks a worker to classify a request.
type Payload struct {
	Request Request
}

// Shutdown asks a worker to drain and stop.
type Shutdown struct {
	WorkerID string
}

// Status is an indicator update.
type Status struct {
	Fill  string `json:"fill"`
	Shape string `json:"shape"`
	Text  string `json:"text"`
}

// Log is a free-text diagnostic.
type Log struct {
	Text string
}

// Error reports a failure. Request is set when the error concerns a
// specific request (rejections).
type Error struct {
	Text    string
	Request *Request
	Err     error
}

func (e Error) Error() string { return e.Text }
func (e Error) Unwrap() error { return e.Err }

// Result is the classification of one request.
type Result struct {
	Request         Request `json:"request"`
	Category        string  `json:"category"`
	DocumentID      string  `json:"documentId"`
	WorkerID        string  `json:"workerId,omitempty"`
	Probability     float64 `json:"probability,omitempty"`
	SecondCategory  string  `json:"secondCategory,omitempty"`
	TimesMoreLikely float64 `json:"timesMoreLikely,omitempty"`
}

// Ack confirms a completed graceful shutdown.
type Ack struct {
	WorkerID string
}

func (Payload) Kind() Kind  { return KindPayload }
func (Shutdown) Kind() Kind { return KindShutdown }
func (Status) Kind() Kind   { return KindStatus }
func (Log) Kind() Kind      { return KindLog }
func (Error) Kind() Kind    { return KindError }
func (Result) Kind() Kind   { return KindResult }
func (Ack) Kind() Kind      { return KindAck }

func (Payload) isMessage()  {}
func (Shutdown) isMessage() {}
func (Status) isMessage()   {}
func (Log) isMessage()      {}
func (Error) isMessage()    {}
func (Result) isMessage()   {}
func (Ack) isMessage()      {}

// Indicator colors and shapes.
const (
	FillYellow = "yellow"
	FillGreen  = "green"
	FillRed    = "red"

	ShapeRing = "ring"
	ShapeDot  = "dot"
)

// StatusTraining is shown while data is fetched and the model trained.
func StatusTraining() Status {
	return Status{Fill: FillYellow, Shape: ShapeRing, Text: "Fetch And Train Data..."}
}

// StatusReady is shown once the model is trained.
func StatusReady() Status {
	return Status{Fill: FillGreen, Shape: ShapeDot, Text: "Classifier Trained"}
}

// StatusFailed is shown after a fatal training failure.
func StatusFailed(err error) Status {
	return Status{Fill: FillRed, Shape: ShapeRing, Text: err.Error()}
}

// Errorf builds an Error message wrapping err.
func Errorf(err error, format string, args ...any) Error {
	return Error{Text: fmt.Sprintf(format, args...), Err: err}
}

// Reject builds an Error message returning req to the caller.
func Reject(req Request, err error) Error {
	r := req
	return Error{Text: fmt.Sprintf("request %q rejected: %v", req.ID, err), Request: &r, Err: err}
}

// Describe renders a message for logs.
func Describe(m Message) (string, error) {
	switch v := m.(type) {
	case Payload:
		return fmt.Sprintf("PAYLOAD %q", v.Request.Text), nil
	case Shutdown:
		return "SHUTDOWN " + v.WorkerID, nil
	case Status:
		return fmt.Sprintf("STATUS %s/%s %s", v.Fill, v.Shape, v.Text), nil
	case Log:
		return "LOG " + v.Text, nil
	case Error:
		return "ERROR " + v.Text, nil
	case Result:
		return fmt.Sprintf("RESULT %s -> %s", v.DocumentID, v.Category), nil
	case Ack:
		return "ACK " + v.WorkerID, nil
	default:
		return "", fmt.Errorf("%w: %T", internalerr.ErrUnknownMessage, m)
	}
}
