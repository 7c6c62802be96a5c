package nodevisor

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/nodevisor/internal/config"
	"github.com/loykin/nodevisor/internal/history"
	"github.com/loykin/nodevisor/internal/history/factory"
	"github.com/loykin/nodevisor/internal/logger"
	"github.com/loykin/nodevisor/internal/manager"
	"github.com/loykin/nodevisor/internal/metrics"
	"github.com/loykin/nodevisor/internal/nodeerr"
	"github.com/loykin/nodevisor/internal/process"
	iapi "github.com/loykin/nodevisor/internal/server"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.FileConfig

type NodeConfig = process.Config

type Info = process.Info

type NodeStatus = process.NodeStatus

type HistorySink = history.Sink

type HistoryEvent = history.Event

type Router = iapi.Router

// Node is the control actor of one supervised node process. All methods
// are safe for concurrent use and are executed one at a time, in order.
type Node = manager.Actor

// NodeOptions configures a Node built without a config file.
type NodeOptions = manager.Options

const (
	StatusRunning = process.StatusRunning
	StatusStopped = process.StatusStopped
)

// Error sentinels for errors.Is.
var (
	ErrConfigParse    = nodeerr.ErrConfigParse
	ErrAlreadyRunning = nodeerr.ErrAlreadyRunning
	ErrNotRunning     = nodeerr.ErrNotRunning
	ErrProcessSpawn   = nodeerr.ErrProcessSpawn
	ErrIO             = nodeerr.ErrIO
	ErrRPCTransport   = nodeerr.ErrRPCTransport
	ErrRPCParse       = nodeerr.ErrRPCParse
	ErrActorStopped   = manager.ErrActorStopped
)

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// NewLogger builds the daemon logger from the [log] table.
func NewLogger(c *Config) (*slog.Logger, io.Closer, error) {
	return logger.New(c.Log.Logger())
}

// NewNode starts a control actor with explicit options.
func NewNode(opts NodeOptions, log *slog.Logger) *Node { return manager.New(opts, log) }

// New wires a Node from a loaded config: history sinks are opened and
// metrics registered with the default registry when enabled. The returned
// closer releases the history sinks and must be called after the node quits.
func New(c *Config, log *slog.Logger) (*Node, io.Closer, error) {
	sinks, err := factory.NewMulti(c.History.Sinks)
	if err != nil {
		return nil, nil, fmt.Errorf("open history sinks: %w", err)
	}
	if c.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			_ = sinks.Close()
			return nil, nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	opts := manager.Options{
		Node:           c.Node,
		RPCPort:        c.RPC.Port,
		PortFlag:       c.RPC.PortFlag,
		HistoryTimeout: c.History.Timeout,
	}
	opts.RPC.Timeout = c.RPC.Timeout
	if len(sinks) > 0 {
		opts.History = sinks
	}
	return manager.New(opts, log), sinks, nil
}

// NewRouter returns embeddable HTTP handlers controlling node.
func NewRouter(node *Node, basePath string) *Router { return iapi.NewRouter(node, basePath) }

// NewHTTPServer serves r on addr in the background.
func NewHTTPServer(addr string, r *Router) (*http.Server, error) { return iapi.NewServer(addr, r) }

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
func MetricsHandler() http.Handler                  { return metrics.Handler() }
