package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/loykin/nodevisor/internal/history"
)

// Options selects where node events are indexed.
type Options struct {
	BaseURL string
	Index   string // default node-history
	Daily   bool   // write to <Index>-YYYY.MM.DD by event date
	Timeout time.Duration
}

// document is the indexed shape of one node lifecycle event.
type document struct {
	Timestamp time.Time `json:"@timestamp"`
	Event     string    `json:"event"`
	Node      string    `json:"node"`
	PID       int       `json:"pid,omitempty"`
	Args      string    `json:"args,omitempty"`
	ExitError string    `json:"exit_error,omitempty"`
	Forced    bool      `json:"forced"`
	Host      string    `json:"host,omitempty"`
}

// Sink indexes node events into OpenSearch (or Elasticsearch) over HTTP.
type Sink struct {
	client  *http.Client
	baseURL string
	index   string
	daily   bool
	host    string
}

func New(opts Options) *Sink {
	if opts.Index == "" {
		opts.Index = "node-history"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	host, _ := os.Hostname()
	return &Sink{
		client:  &http.Client{Timeout: opts.Timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		index:   opts.Index,
		daily:   opts.Daily,
		host:    host,
	}
}

// IndexFor returns the index an event occurring at t is written to.
func (s *Sink) IndexFor(t time.Time) string {
	if !s.daily {
		return s.index
	}
	return s.index + "-" + t.UTC().Format("2006.01.02")
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	at := e.OccurredAt
	if at.IsZero() {
		at = time.Now()
	}
	b, err := json.Marshal(document{
		Timestamp: at.UTC(),
		Event:     string(e.Type),
		Node:      e.Record.Name,
		PID:       e.Record.PID,
		Args:      e.Record.Args,
		ExitError: e.Record.ExitErr,
		Forced:    e.Type == history.EventKill,
		Host:      s.host,
	})
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s/%s/_doc", s.baseURL, s.IndexFor(at))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if reason := gjson.GetBytes(body, "error.reason"); reason.Exists() {
			return fmt.Errorf("opensearch index %s: status %d: %s", s.IndexFor(at), resp.StatusCode, reason.String())
		}
		return fmt.Errorf("opensearch index %s: status %d", s.IndexFor(at), resp.StatusCode)
	}
	return nil
}
