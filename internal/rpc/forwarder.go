package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/loykin/nodevisor/internal/nodeerr"
	"github.com/tidwall/gjson"
)

const (
	// RequestID is the id of every forwarded call; calls are never pipelined.
	RequestID = 1

	DefaultHost    = "127.0.0.1"
	DefaultPort    = 8080
	DefaultTimeout = 30 * time.Second
)

// Request is the JSON-RPC method call sent to the node. JSONRPC is left empty
// so the version member is omitted, matching what the node expects.
type Request struct {
	JSONRPC string            `json:"jsonrpc,omitempty"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int64             `json:"id"`
}

type Options struct {
	Host    string        // default 127.0.0.1
	Timeout time.Duration // per call, default 30s
	Client  *http.Client  // optional; Timeout is ignored when set
}

// Forwarder performs one synchronous HTTP round trip per call.
type Forwarder struct {
	host   string
	client *http.Client
	log    *slog.Logger
}

func NewForwarder(opts Options, log *slog.Logger) *Forwarder {
	if opts.Host == "" {
		opts.Host = DefaultHost
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	c := opts.Client
	if c == nil {
		c = &http.Client{Timeout: opts.Timeout}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Forwarder{host: opts.Host, client: c, log: log.With("component", "rpc")}
}

// Endpoint is the node's JSON-RPC URL for port.
func (f *Forwarder) Endpoint(port int) string {
	return "http://" + net.JoinHostPort(f.host, strconv.Itoa(port)) + "/"
}

// Call sends method with positional args to the node listening on port and
// returns the response envelope as received. JSON-RPC error objects are not
// interpreted; they come back as a successful value.
func (f *Forwarder) Call(ctx context.Context, port int, method string, args []json.RawMessage) (json.RawMessage, error) {
	if args == nil {
		args = []json.RawMessage{}
	}
	body, err := json.Marshal(Request{Method: method, Params: args, ID: RequestID})
	if err != nil {
		return nil, &nodeerr.Error{Kind: nodeerr.KindRPCParse, Msg: "invalid request arguments", Err: err}
	}
	url := f.Endpoint(port)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, nodeerr.FromTransport(err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, nodeerr.FromTransport(err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nodeerr.FromTransport(err)
	}
	f.log.Debug("rpc call", "method", method, "url", url, "status", resp.StatusCode, "elapsed", time.Since(start))

	out, err := DecodeResponse(raw)
	if err != nil {
		return nil, nodeerr.FromDecode(err)
	}
	return out, nil
}

// DecodeResponse checks that b is a JSON-RPC response (single or batch) and
// returns it compacted.
func DecodeResponse(b []byte) (json.RawMessage, error) {
	if !gjson.ValidBytes(b) {
		return nil, errors.New("body is not valid JSON")
	}
	res := gjson.ParseBytes(b)
	switch {
	case res.IsArray():
		items := res.Array()
		if len(items) == 0 {
			return nil, errors.New("empty batch response")
		}
		for i, it := range items {
			if err := checkOutput(it); err != nil {
				return nil, fmt.Errorf("batch element %d: %w", i, err)
			}
		}
	case res.IsObject():
		if err := checkOutput(res); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("response is neither an object nor an array")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func checkOutput(r gjson.Result) error {
	if !r.IsObject() {
		return errors.New("response is not an object")
	}
	if v := r.Get("jsonrpc"); v.Exists() && v.String() != "2.0" {
		return fmt.Errorf("unsupported jsonrpc version %q", v.String())
	}
	id := r.Get("id")
	if !id.Exists() {
		return errors.New("missing id")
	}
	switch id.Type {
	case gjson.Number, gjson.String, gjson.Null:
	default:
		return errors.New("id must be a number, string or null")
	}
	hasResult, hasError := r.Get("result").Exists(), r.Get("error").Exists()
	if hasResult == hasError {
		return errors.New("want exactly one of result or error")
	}
	if hasError {
		e := r.Get("error")
		if !e.IsObject() || e.Get("code").Type != gjson.Number || e.Get("message").Type != gjson.String {
			return errors.New("error member must carry numeric code and string message")
		}
	}
	return nil
}
