package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cognicore/sheetclass/pkg/sheetclass/protocol"
	"github.com/cognicore/sheetclass/pkg/sheetclass/store"
	"github.com/cognicore/sheetclass/pkg/sheetclass/supervisor"
)

type fakeService struct {
	lastReq    protocol.Request
	reloadedTo string
	reloads    int
	runs       []store.TrainingRun
}

func (f *fakeService) Classify(ctx context.Context, req protocol.Request) (protocol.Result, error) {
	f.lastReq = req
	if req.Text == "fail" {
		return protocol.Result{}, errors.New("boom")
	}
	return protocol.Result{
		Request:         req,
		Category:        "positive",
		DocumentID:      "doc-1",
		Probability:     0.75,
		SecondCategory:  "negative",
		TimesMoreLikely: 3,
	}, nil
}

func (f *fakeService) Reload(ctx context.Context, address string) error {
	f.reloads++
	f.reloadedTo = address
	return nil
}

func (f *fakeService) Snapshot() supervisor.Snapshot {
	return supervisor.Snapshot{
		State:      "running",
		Generation: uint64(1 + f.reloads),
		Address:    "feed",
		Workers:    []supervisor.WorkerInfo{{Generation: 1, ID: "worker-1", State: "ready", Current: true}},
	}
}

func (f *fakeService) Trainings(ctx context.Context, limit int) ([]store.TrainingRun, error) {
	return f.runs, nil
}

func TestHandleLineClassify(t *testing.T) {
	svc := &fakeService{}
	var out bytes.Buffer

	if err := handleLine(context.Background(), svc, "great product | shipping, price", &out, time.Second); err != nil {
		t.Fatal(err)
	}
	if svc.lastReq.Text != "great product" {
		t.Errorf("text = %q", svc.lastReq.Text)
	}
	if len(svc.lastReq.Keywords) != 2 || svc.lastReq.Keywords[1] != "price" {
		t.Errorf("keywords = %v", svc.lastReq.Keywords)
	}
	got := out.String()
	if !strings.Contains(got, "positive (p=0.750, 3.0x over negative) [doc-1]") {
		t.Errorf("output = %q", got)
	}
}

func TestHandleLineClassifyError(t *testing.T) {
	var out bytes.Buffer
	if err := handleLine(context.Background(), &fakeService{}, "fail", &out, time.Second); err == nil {
		t.Error("expected error")
	}
}

func TestHandleLineReload(t *testing.T) {
	svc := &fakeService{}
	var out bytes.Buffer

	if err := handleLine(context.Background(), svc, "reload https://example.com/b.csv", &out, time.Second); err != nil {
		t.Fatal(err)
	}
	if svc.reloadedTo != "https://example.com/b.csv" {
		t.Errorf("reloaded to %q", svc.reloadedTo)
	}
	if !strings.Contains(out.String(), "generation 2") {
		t.Errorf("output = %q", out.String())
	}

	if err := handleLine(context.Background(), svc, "reload", &out, time.Second); err != nil {
		t.Fatal(err)
	}
	if svc.reloadedTo != "" {
		t.Errorf("bare reload should keep the current address, got %q", svc.reloadedTo)
	}
}

func TestHandleLineStatus(t *testing.T) {
	var out bytes.Buffer
	if err := handleLine(context.Background(), &fakeService{}, "status", &out, time.Second); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "* worker-1 gen=1 state=ready") {
		t.Errorf("output = %q", out.String())
	}
}

func TestHandleLineHistory(t *testing.T) {
	svc := &fakeService{runs: []store.TrainingRun{
		{WorkerID: "worker-1", Status: store.TrainingFailed, Error: "HTTP 404"},
	}}
	var out bytes.Buffer
	if err := handleLine(context.Background(), svc, "history", &out, time.Second); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), `worker-1 failed`) || !strings.Contains(out.String(), `error="HTTP 404"`) {
		t.Errorf("output = %q", out.String())
	}
}

func TestParseRequest(t *testing.T) {
	req := parseRequest("  hello world  ")
	if req.Text != "hello world" || req.Keywords != nil {
		t.Errorf("req = %+v", req)
	}
}

func TestPrintSink(t *testing.T) {
	var out bytes.Buffer
	quiet := printSink{out: &out}
	quiet.Log("worker-1", "Data fetched")
	quiet.Status("worker-1", protocol.StatusReady())
	if out.Len() != 0 {
		t.Errorf("quiet sink wrote %q", out.String())
	}
	quiet.Error("worker-1", errors.New("bad sheet"))
	if !strings.Contains(out.String(), "[worker-1] error: bad sheet") {
		t.Errorf("output = %q", out.String())
	}

	out.Reset()
	loud := printSink{out: &out, verbose: true}
	loud.Status("worker-1", protocol.StatusReady())
	if !strings.Contains(out.String(), "Classifier Trained") {
		t.Errorf("output = %q", out.String())
	}
}

func TestPrintSinkWire(t *testing.T) {
	var out bytes.Buffer
	sink := printSink{out: &out, verbose: true, wire: true}
	sink.Log("worker-1", "Model trained in 2ms")
	sink.Error("worker-1", errors.New("bad sheet"))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q", lines)
	}
	if lines[0] != `{"type":"LOG","value":"Model trained in 2ms"}` {
		t.Errorf("log line = %s", lines[0])
	}
	if lines[1] != `{"type":"ERROR","value":"bad sheet"}` {
		t.Errorf("error line = %s", lines[1])
	}
}
