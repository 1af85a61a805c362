package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/cognicore/sheetclass/pkg/sheetclass/config"
	"github.com/cognicore/sheetclass/pkg/sheetclass/internalerr"
)

func TestLoadConfigDefault(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "source:\n  address: https://example.com/feed.csv\nserver:\n  port: 9090\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9090 || cfg.SourceAddress() != "https://example.com/feed.csv" {
		t.Errorf("config = %+v", cfg)
	}
}

func TestLoadConfigMissing(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

type fakeLifecycle struct {
	startErr error
	closed   int
}

func (f *fakeLifecycle) Start(ctx context.Context) error { return f.startErr }

func (f *fakeLifecycle) Close(ctx context.Context) error {
	f.closed++
	return nil
}

func TestStartClosesServiceOnFailure(t *testing.T) {
	svc := &fakeLifecycle{startErr: internalerr.ErrClosed}
	if err := start(context.Background(), svc); !errors.Is(err, internalerr.ErrClosed) {
		t.Fatalf("start = %v", err)
	}
	if svc.closed != 1 {
		t.Errorf("Close called %d times, want 1", svc.closed)
	}

	ok := &fakeLifecycle{}
	if err := start(context.Background(), ok); err != nil {
		t.Fatalf("start = %v", err)
	}
	if ok.closed != 0 {
		t.Error("healthy service must stay open")
	}
}

func TestRunReturnsErrors(t *testing.T) {
	cfg := config.Default()
	err := run(&cfg, "", zap.NewNop())
	if !errors.Is(err, internalerr.ErrInvalidConfig) {
		t.Fatalf("run without address = %v, want ErrInvalidConfig", err)
	}
}
