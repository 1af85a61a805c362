package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cognicore/sheetclass/pkg/sheetclass/protocol"
	"github.com/cognicore/sheetclass/pkg/sheetclass/store"
)

type historian interface {
	Trainings(ctx context.Context, limit int) ([]store.TrainingRun, error)
}

func printHistory(ctx context.Context, h historian, out io.Writer) error {
	runs, err := h.Trainings(ctx, 10)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No training runs yet.")
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(out, "%s %s %s docs=%d categories=%v", r.StartedAt.Format("2006-01-02 15:04:05"), r.WorkerID, r.Status, r.Documents, r.Categories)
		if r.Error != "" {
			fmt.Fprintf(out, " error=%q", r.Error)
		}
		fmt.Fprintln(out)
	}
	return nil
}

// printSink echoes worker output. Results are printed by the caller of
// Classify, so the sink only shows status, log and error lines. With wire
// set, lines are printed as protocol envelopes.
type printSink struct {
	out     io.Writer
	verbose bool
	wire    bool
}

func (p printSink) Status(workerID string, st protocol.Status) {
	if !p.verbose {
		return
	}
	if p.wire {
		p.encode(st)
		return
	}
	fmt.Fprintf(p.out, "[%s] status: %s (%s %s)\n", workerID, st.Text, st.Fill, st.Shape)
}

func (p printSink) Log(workerID, text string) {
	if !p.verbose {
		return
	}
	if p.wire {
		p.encode(protocol.Log{Text: text})
		return
	}
	fmt.Fprintf(p.out, "[%s] %s\n", workerID, text)
}

func (p printSink) Error(workerID string, err error) {
	if p.wire {
		var perr protocol.Error
		if !errors.As(err, &perr) {
			perr = protocol.Error{Text: err.Error(), Err: err}
		}
		p.encode(perr)
		return
	}
	fmt.Fprintf(p.out, "[%s] error: %v\n", workerID, err)
}

func (p printSink) Result(workerID string, res protocol.Result) {}

func (p printSink) encode(m protocol.Message) {
	data, err := protocol.Encode(m)
	if err != nil {
		fmt.Fprintln(p.out, "encode:", err)
		return
	}
	fmt.Fprintln(p.out, string(data))
}
