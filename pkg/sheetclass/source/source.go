package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// Row is one labeled training example as read from the feed.
type Row struct {
	Key      string
	Text     string
	Keywords []string
	Category string
}

// Fetcher loads the rows behind a data-source address.
type Fetcher interface {
	Fetch(ctx context.Context, address string) ([]Row, error)
}

// Format selects the feed parser.
type Format string

const (
	FormatAuto  Format = ""
	FormatCells Format = "cells" // Google Sheets cells feed (JSON)
	FormatCSV   Format = "csv"
	FormatJSONL Format = "jsonl"
)

// Config configures a Source.
type Config struct {
	Format     Format
	Timeout    time.Duration
	MaxRetries uint64        // 0 means a single attempt
	RetryDelay time.Duration // base of the exponential backoff
	Client     *http.Client
}

const (
	defaultTimeout    = 30 * time.Second
	defaultRetryDelay = time.Second
)

// Source fetches feeds over HTTP(S) or from the local filesystem.
type Source struct {
	cfg    Config
	client *http.Client
}

// New creates a Source.
func New(cfg Config) *Source {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Source{cfg: cfg, client: client}
}

// Fetch reads and parses the feed at address. Transport failures and 5xx
// responses are retried up to MaxRetries times; parse failures are not.
func (s *Source) Fetch(ctx context.Context, address string) ([]Row, error) {
	if strings.TrimSpace(address) == "" {
		return nil, errors.New("empty data source address")
	}

	backoff := retry.WithMaxRetries(s.cfg.MaxRetries, retry.NewExponential(s.cfg.RetryDelay))

	var rows []Row
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		data, contentType, err := s.read(ctx, address)
		if err != nil {
			var te *transientError
			if errors.As(err, &te) {
				return retry.RetryableError(err)
			}
			return err
		}

		format := s.cfg.Format
		if format == FormatAuto {
			format = DetectFormat(address, contentType)
		}

		rows, err = Parse(data, format)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// transientError marks failures worth another attempt.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func (s *Source) read(ctx context.Context, address string) ([]byte, string, error) {
	u, err := url.Parse(address)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return s.readHTTP(ctx, address)
	}

	path := address
	if err == nil && u.Scheme == "file" {
		path = u.Path
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", path, err)
	}
	return data, "", nil
}

func (s *Source) readHTTP(ctx context.Context, address string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, address, nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", err
		}
		return nil, "", &transientError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("HTTP %d fetching %s", resp.StatusCode, address)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, "", &transientError{err: statusErr}
		}
		return nil, "", statusErr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", &transientError{err: err}
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// DetectFormat guesses the feed format from the address, falling back to
// the response content type and finally to the cells feed.
func DetectFormat(address, contentType string) Format {
	lower := strings.ToLower(address)
	if u, err := url.Parse(lower); err == nil {
		path := u.Path
		q := u.Query()
		switch {
		case strings.HasSuffix(path, ".csv"), q.Get("output") == "csv", q.Get("format") == "csv":
			return FormatCSV
		case strings.HasSuffix(path, ".jsonl"), strings.HasSuffix(path, ".ndjson"):
			return FormatJSONL
		}
	}

	ct := strings.ToLower(contentType)
	switch {
	case strings.HasPrefix(ct, "text/csv"):
		return FormatCSV
	case strings.HasPrefix(ct, "application/x-ndjson"), strings.HasPrefix(ct, "application/jsonl"):
		return FormatJSONL
	}
	return FormatCells
}

// SheetURL builds the public cells-feed address of a Google sheet page.
func SheetURL(sheetID string, page int) string {
	if page <= 0 {
		page = 1
	}
	return fmt.Sprintf("https://spreadsheets.google.com/feeds/cells/%s/%d/public/full?alt=json", url.PathEscape(sheetID), page)
}
