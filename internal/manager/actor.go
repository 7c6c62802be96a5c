package manager

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/nodevisor/internal/env"
	"github.com/loykin/nodevisor/internal/history"
	"github.com/loykin/nodevisor/internal/metrics"
	"github.com/loykin/nodevisor/internal/nodelog"
	"github.com/loykin/nodevisor/internal/process"
	"github.com/loykin/nodevisor/internal/rpc"
)

// ErrActorStopped is returned for commands submitted after Quit.
var ErrActorStopped = errors.New("control actor stopped")

const (
	defaultQueueSize      = 16
	defaultHistoryTimeout = 3 * time.Second
)

// Options configures an Actor. Zero values select defaults.
type Options struct {
	Node           process.Config
	RPC            rpc.Options
	RPCPort        int    // fallback when the run args carry no port flag
	PortFlag       string // default --jsonrpc-port
	History        history.Sink
	HistoryTimeout time.Duration
	QueueSize      int
}

// Actor serializes every control operation on the node. A single goroutine
// owns the supervisor; callers talk to it only through commands.
type Actor struct {
	sup     *process.Supervisor
	logs    *nodelog.Reader
	rpc     *rpc.Forwarder
	history history.Sink
	log     *slog.Logger

	historyTimeout time.Duration
	portFlag       string
	defaultPort    int

	// loop-owned
	rpcPort  int
	lastArgs string

	cmds chan Command
	done chan struct{}
}

// New starts the actor goroutine. It runs until a QuitCommand is handled.
func New(opts Options, log *slog.Logger) *Actor {
	if log == nil {
		log = slog.Default()
	}
	if opts.RPCPort <= 0 {
		opts.RPCPort = rpc.DefaultPort
	}
	if opts.PortFlag == "" {
		opts.PortFlag = rpc.DefaultPortFlag
	}
	if opts.HistoryTimeout <= 0 {
		opts.HistoryTimeout = defaultHistoryTimeout
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	sup := process.NewSupervisor(opts.Node, log)
	a := &Actor{
		sup:            sup,
		logs:           nodelog.NewReader(sup.Config().LogFile),
		rpc:            rpc.NewForwarder(opts.RPC, log),
		history:        opts.History,
		log:            log.With("component", "actor"),
		historyTimeout: opts.HistoryTimeout,
		portFlag:       opts.PortFlag,
		defaultPort:    opts.RPCPort,
		rpcPort:        opts.RPCPort,
		cmds:           make(chan Command, opts.QueueSize),
		done:           make(chan struct{}),
	}
	go a.run()
	return a
}

// Done is closed once the loop has exited.
func (a *Actor) Done() <-chan struct{} { return a.done }

// Submit enqueues cmd. The reply arrives on the command's own channel.
func (a *Actor) Submit(ctx context.Context, cmd Command) error {
	if cmd == nil {
		return errors.New("nil command")
	}
	select {
	case <-a.done:
		return ErrActorStopped
	default:
	}
	select {
	case a.cmds <- cmd:
		return nil
	case <-a.done:
		return ErrActorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// await waits for a reply. Commands left in the queue when the loop exits are
// never answered, so the done channel ends the wait.
func await[T any](ctx context.Context, a *Actor, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-a.done:
		select {
		case v := <-reply:
			return v, nil
		default:
			return zero, ErrActorStopped
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// call submits a command whose reply is a bare error.
func (a *Actor) call(ctx context.Context, cmd Command, reply chan error) error {
	if err := a.Submit(ctx, cmd); err != nil {
		return err
	}
	err, werr := await(ctx, a, reply)
	if werr != nil {
		return werr
	}
	return err
}

func (a *Actor) Run(ctx context.Context, envSpec, argSpec string) error {
	reply := make(chan error, 1)
	return a.call(ctx, RunCommand{Env: envSpec, Args: argSpec, Reply: reply}, reply)
}

func (a *Actor) Stop(ctx context.Context) error {
	reply := make(chan error, 1)
	return a.call(ctx, StopCommand{Reply: reply}, reply)
}

func (a *Actor) Quit(ctx context.Context) error {
	reply := make(chan error, 1)
	return a.call(ctx, QuitCommand{Reply: reply}, reply)
}

// Info returns the node status with PIDs and start time.
func (a *Actor) Info(ctx context.Context) (process.Info, error) {
	reply := make(chan process.Info, 1)
	if err := a.Submit(ctx, StatusCommand{Reply: reply}); err != nil {
		return process.Info{}, err
	}
	return await(ctx, a, reply)
}

func (a *Actor) Status(ctx context.Context) (process.NodeStatus, error) {
	info, err := a.Info(ctx)
	if err != nil {
		return "", err
	}
	return info.Status, nil
}

func (a *Actor) Log(ctx context.Context) (string, error) {
	reply := make(chan Result[string], 1)
	if err := a.Submit(ctx, LogCommand{Reply: reply}); err != nil {
		return "", err
	}
	res, err := await(ctx, a, reply)
	if err != nil {
		return "", err
	}
	return res.Value, res.Err
}

// CallRPC forwards method to the node. JSON-RPC error responses are returned
// as values, not errors.
func (a *Actor) CallRPC(ctx context.Context, method string, args ...json.RawMessage) (json.RawMessage, error) {
	reply := make(chan Result[json.RawMessage], 1)
	if err := a.Submit(ctx, RPCCommand{Method: method, Args: args, Reply: reply}); err != nil {
		return nil, err
	}
	res, err := await(ctx, a, reply)
	if err != nil {
		return nil, err
	}
	return res.Value, res.Err
}

func (a *Actor) run() {
	defer close(a.done)
	for cmd := range a.cmds {
		start := time.Now()
		reply, quit, err := a.dispatch(cmd)
		metrics.ObserveCommand(cmd.commandName(), err, time.Since(start))
		metrics.SetRunning(a.sup.IsRunning())
		reply()
		if err != nil {
			a.log.Debug("command failed", "command", cmd.commandName(), "error", err)
		} else {
			a.log.Debug("command done", "command", cmd.commandName(), "took", time.Since(start))
		}
		if quit {
			a.log.Info("control actor quit")
			return
		}
	}
}

// dispatch executes cmd. The returned reply delivers the result and is
// called once metrics reflect the command. err is for instrumentation.
func (a *Actor) dispatch(cmd Command) (reply func(), quit bool, err error) {
	switch c := cmd.(type) {
	case RunCommand:
		err = a.handleRun(c.Env, c.Args)
		return func() { c.Reply <- err }, false, err
	case StopCommand:
		err = a.handleStop()
		return func() { c.Reply <- err }, false, err
	case QuitCommand:
		return func() { c.Reply <- nil }, true, nil
	case StatusCommand:
		info := a.sup.Info()
		return func() { c.Reply <- info }, false, nil
	case LogCommand:
		var s string
		s, err = a.logs.Read()
		res := Result[string]{Value: s, Err: err}
		return func() { c.Reply <- res }, false, err
	case RPCCommand:
		var v json.RawMessage
		v, err = a.rpc.Call(context.Background(), a.rpcPort, c.Method, c.Args)
		metrics.IncRPC(c.Method, err)
		res := Result[json.RawMessage]{Value: v, Err: err}
		return func() { c.Reply <- res }, false, err
	}
	a.log.Warn("unknown command dropped", "type", cmd)
	return func() {}, false, nil
}

func (a *Actor) handleRun(envSpec, argSpec string) error {
	if err := a.sup.Run(envSpec, argSpec); err != nil {
		return err
	}
	args := append(append([]string(nil), a.sup.Config().ProgramArgs...), env.Args(argSpec)...)
	a.rpcPort = a.defaultPort
	if p, ok := rpc.PortFromArgs(args, a.portFlag); ok {
		a.rpcPort = p
	}
	a.lastArgs = argSpec
	metrics.IncStart()

	info := a.sup.Info()
	a.log.Info("node running", "pid", info.PID, "rpc_port", a.rpcPort)
	a.emit(history.EventStart, info.PID, "")
	return nil
}

func (a *Actor) handleStop() error {
	pid := a.sup.Info().PID
	st, _ := a.sup.State().(process.Running)
	mode, err := a.sup.Stop()
	if err != nil {
		return err
	}
	metrics.IncStop(mode.String())

	typ := history.EventStop
	if mode == process.StopForced {
		typ = history.EventKill
	}
	var exitErr string
	if st.Primary != nil {
		if e := st.Primary.ExitErr(); e != nil {
			exitErr = e.Error()
		}
	}
	a.emit(typ, pid, exitErr)
	return nil
}

// emit records a lifecycle event. Sink failures are logged and never reach
// the command's caller.
func (a *Actor) emit(typ history.EventType, pid int, exitErr string) {
	if a.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.historyTimeout)
	defer cancel()
	e := history.Event{
		Type:       typ,
		OccurredAt: time.Now().UTC(),
		Record: history.Record{
			Name:    filepath.Base(a.sup.Config().Program),
			PID:     pid,
			Args:    strings.TrimSpace(a.lastArgs),
			ExitErr: exitErr,
		},
	}
	if err := a.history.Send(ctx, e); err != nil {
		a.log.Warn("history sink failed", "event", typ, "error", err)
	}
}
