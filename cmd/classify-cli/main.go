package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cognicore/sheetclass/internal/logging"
	"github.com/cognicore/sheetclass/pkg/sheetclass"
	"github.com/cognicore/sheetclass/pkg/sheetclass/config"
	"github.com/cognicore/sheetclass/pkg/sheetclass/protocol"
	"github.com/cognicore/sheetclass/pkg/sheetclass/supervisor"
)

func main() {
	var (
		configPath = flag.String("config", "", "YAML config file (optional)")
		address    = flag.String("address", "", "Training data address (overrides config)")
		text       = flag.String("text", "", "One-shot text to classify (non-interactive mode)")
		keywords   = flag.String("keywords", "", "Comma-separated keywords for -text")
		verbose    = flag.Bool("v", false, "Print worker status and log lines")
		wire       = flag.Bool("wire", false, "Print worker output as JSON protocol envelopes")
	)
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "load config:", err)
			os.Exit(1)
		}
		cfg = *loaded
	}
	cfg.Log.Level = "error"
	if *verbose {
		cfg.Log.Level = "debug"
		cfg.Log.Development = true
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "init logger:", err)
		os.Exit(1)
	}

	err = run(&cfg, *address, *text, *keywords, printSink{out: os.Stdout, verbose: *verbose, wire: *wire}, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config, address, text, keywords string, sink printSink, logger *zap.Logger) error {
	ctx := context.Background()
	svc, err := sheetclass.New(ctx, sheetclass.Options{
		Config:  cfg,
		Address: address,
		Sink:    sink,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		svc.Close(closeCtx)
	}()

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	// One-shot mode
	if text != "" {
		line := text
		if keywords != "" {
			line += " | " + keywords
		}
		return handleLine(ctx, svc, line, os.Stdout, svc.RequestTimeout())
	}

	fmt.Println("Sheet classifier")
	fmt.Println("Type text to classify, optionally followed by '| kw1, kw2'.")
	fmt.Println("Commands: reload [address], status, history. Ctrl+D to exit.")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := handleLine(ctx, svc, line, os.Stdout, svc.RequestTimeout()); err != nil {
			fmt.Println("Error:", err)
		}
	}

	fmt.Println("\nGoodbye!")
	return nil
}

// service is the part of *sheetclass.Service the CLI drives.
type service interface {
	Classify(ctx context.Context, req protocol.Request) (protocol.Result, error)
	Reload(ctx context.Context, address string) error
	Snapshot() supervisor.Snapshot
}

func handleLine(ctx context.Context, svc service, line string, out io.Writer, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "reload":
		if err := svc.Reload(ctx, strings.TrimSpace(arg)); err != nil {
			return fmt.Errorf("reload: %w", err)
		}
		snap := svc.Snapshot()
		fmt.Fprintf(out, "Reloaded: generation %d from %s\n", snap.Generation, snap.Address)
		return nil
	case "status":
		printSnapshot(out, svc.Snapshot())
		return nil
	case "history":
		if h, ok := svc.(historian); ok {
			return printHistory(ctx, h, out)
		}
	}

	req := parseRequest(line)
	res, err := svc.Classify(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s (p=%.3f", res.Category, res.Probability)
	if res.SecondCategory != "" {
		fmt.Fprintf(out, ", %.1fx over %s", res.TimesMoreLikely, res.SecondCategory)
	}
	fmt.Fprintf(out, ") [%s]\n", res.DocumentID)
	return nil
}

// parseRequest splits "text | kw1, kw2" into a request.
func parseRequest(line string) protocol.Request {
	text, kws, found := strings.Cut(line, "|")
	req := protocol.Request{Text: strings.TrimSpace(text)}
	if found {
		for _, kw := range strings.Split(kws, ",") {
			if kw = strings.TrimSpace(kw); kw != "" {
				req.Keywords = append(req.Keywords, kw)
			}
		}
	}
	return req
}

func printSnapshot(out io.Writer, snap supervisor.Snapshot) {
	fmt.Fprintf(out, "Supervisor: %s (generation %d)\n", snap.State, snap.Generation)
	fmt.Fprintf(out, "Source: %s\n", snap.Address)
	for _, w := range snap.Workers {
		marker := " "
		if w.Current {
			marker = "*"
		}
		fmt.Fprintf(out, " %s %s gen=%d state=%s\n", marker, w.ID, w.Generation, w.State)
	}
}
