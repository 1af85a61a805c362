package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cognicore/sheetclass/pkg/sheetclass/internalerr"
)

type envelope struct {
	Type  Kind            `json:"type"`
	Value json.RawMessage `json:"value"`
}

type errorValue struct {
	Text    string   `json:"text"`
	Request *Request `json:"request,omitempty"`
}

// Encode writes m as a {"type": ..., "value": ...} envelope.
func Encode(m Message) ([]byte, error) {
	var value any
	switch v := m.(type) {
	case Payload:
		value = v.Request
	case Shutdown:
		value = v.WorkerID
	case Status:
		value = v
	case Log:
		value = v.Text
	case Error:
		if v.Request == nil {
			value = v.Text
		} else {
			value = errorValue{Text: v.Text, Request: v.Request}
		}
	case Result:
		value = v
	case Ack:
		value = v.WorkerID
	default:
		return nil, fmt.Errorf("encode: %w: %T", internalerr.ErrUnknownMessage, m)
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	return json.Marshal(envelope{Type: m.Kind(), Value: raw})
}

// Decode parses an envelope produced by Encode. Decoded errors carry their
// text only.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Type {
	case KindPayload:
		var req Request
		if err := json.Unmarshal(env.Value, &req); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return Payload{Request: req}, nil
	case KindShutdown:
		var id string
		if len(env.Value) > 0 {
			if err := json.Unmarshal(env.Value, &id); err != nil {
				return nil, fmt.Errorf("decode %s: %w", env.Type, err)
			}
		}
		return Shutdown{WorkerID: id}, nil
	case KindStatus:
		var st Status
		if err := json.Unmarshal(env.Value, &st); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return st, nil
	case KindLog:
		var text string
		if err := json.Unmarshal(env.Value, &text); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return Log{Text: text}, nil
	case KindError:
		var text string
		if err := json.Unmarshal(env.Value, &text); err == nil {
			return Error{Text: text, Err: errors.New(text)}, nil
		}
		var ev errorValue
		if err := json.Unmarshal(env.Value, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return Error{Text: ev.Text, Request: ev.Request, Err: errors.New(ev.Text)}, nil
	case KindResult:
		var res Result
		if err := json.Unmarshal(env.Value, &res); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return res, nil
	case KindAck:
		var id string
		if err := json.Unmarshal(env.Value, &id); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return Ack{WorkerID: id}, nil
	default:
		return nil, fmt.Errorf("decode: %w: %q", internalerr.ErrUnknownMessage, env.Type)
	}
}
