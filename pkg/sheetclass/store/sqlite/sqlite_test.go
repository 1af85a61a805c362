package sqlite

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/cognicore/sheetclass/pkg/sheetclass/store"
)

func openTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "sheetclass.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestTrainingRunRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	started := time.Unix(1700000000, 123)
	run := store.TrainingRun{
		ID:            "01HZX",
		WorkerID:      "worker-1",
		Address:       "https://example.com/feed",
		StartedAt:     started,
		FinishedAt:    started.Add(2 * time.Second),
		Rows:          4,
		Categories:    []string{"positive", "negative"},
		Documents:     4,
		FetchDuration: 1500 * time.Millisecond,
		BuildDuration: 2 * time.Millisecond,
		TrainDuration: 3 * time.Millisecond,
		Status:        store.TrainingSucceeded,
	}
	if err := st.RecordTraining(ctx, run); err != nil {
		t.Fatalf("RecordTraining: %v", err)
	}

	failed := store.TrainingRun{
		ID:        "01HZY",
		WorkerID:  "worker-2",
		Address:   "https://example.com/missing",
		StartedAt: started.Add(time.Minute),
		Status:    store.TrainingFailed,
		Error:     "HTTP 404",
	}
	if err := st.RecordTraining(ctx, failed); err != nil {
		t.Fatalf("RecordTraining: %v", err)
	}

	runs, err := st.ListTrainings(ctx, 10)
	if err != nil {
		t.Fatalf("ListTrainings: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].ID != failed.ID || runs[0].Error != "HTTP 404" || runs[0].Categories != nil {
		t.Errorf("unexpected newest run %+v", runs[0])
	}

	got := runs[1]
	if !got.StartedAt.Equal(run.StartedAt) || !got.FinishedAt.Equal(run.FinishedAt) {
		t.Errorf("times not preserved: %v %v", got.StartedAt, got.FinishedAt)
	}
	got.StartedAt, got.FinishedAt = run.StartedAt, run.FinishedAt
	if !reflect.DeepEqual(got, run) {
		t.Errorf("run = %+v, want %+v", got, run)
	}

	limited, err := st.ListTrainings(ctx, 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("limited list: %v %d", err, len(limited))
	}
}

func TestResultJournal(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	now := time.Now()
	records := []store.ResultRecord{
		{DocumentID: "d1", RequestID: "r1", WorkerID: "worker-1", Text: "amazing", Keywords: []string{"wow"}, Category: "positive", Probability: 0.66, ClassifiedAt: now},
		{DocumentID: "d2", WorkerID: "worker-1", Text: "terrible", Category: "negative", ClassifiedAt: now},
		{DocumentID: "d3", RequestID: "r1", WorkerID: "worker-2", Text: "amazing again", Category: "positive", ClassifiedAt: now},
	}
	for _, r := range records {
		if err := st.RecordResult(ctx, r); err != nil {
			t.Fatalf("RecordResult: %v", err)
		}
	}
	// Duplicate document IDs are ignored.
	if err := st.RecordResult(ctx, records[0]); err != nil {
		t.Fatalf("duplicate RecordResult: %v", err)
	}

	got, ok, err := st.GetResult(ctx, "r1")
	if err != nil || !ok {
		t.Fatalf("GetResult: ok=%v err=%v", ok, err)
	}
	if got.DocumentID != "d3" || got.WorkerID != "worker-2" {
		t.Errorf("GetResult = %+v, want d3", got)
	}

	if _, ok, err := st.GetResult(ctx, "nope"); ok || err != nil {
		t.Errorf("expected clean miss, ok=%v err=%v", ok, err)
	}

	recent, err := st.RecentResults(ctx, 0)
	if err != nil {
		t.Fatalf("RecentResults: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("got %d results, want 3", len(recent))
	}
	first := recent[2]
	if first.DocumentID != "d1" || !reflect.DeepEqual(first.Keywords, []string{"wow"}) || first.Probability != 0.66 {
		t.Errorf("unexpected oldest result %+v", first)
	}
	if recent[1].Keywords != nil {
		t.Errorf("nil keywords should stay nil, got %v", recent[1].Keywords)
	}
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	st, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.RecordTraining(ctx, store.TrainingRun{ID: "x", WorkerID: "w", Address: "a", Status: store.TrainingSucceeded}); err != nil {
		t.Fatal(err)
	}
	st.Close()

	st, err = OpenSQLite(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	runs, err := st.ListTrainings(ctx, 0)
	if err != nil || len(runs) != 1 {
		t.Fatalf("after reopen: %v %d", err, len(runs))
	}
}
