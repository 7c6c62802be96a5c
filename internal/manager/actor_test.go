//go:build !windows

package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/nodevisor/internal/history"
	"github.com/loykin/nodevisor/internal/metrics"
	"github.com/loykin/nodevisor/internal/nodeerr"
	"github.com/loykin/nodevisor/internal/process"
)

var testRegistry = prometheus.NewRegistry()

func TestMain(m *testing.M) {
	if err := metrics.Register(testRegistry); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(m.Run())
}

type recordingSink struct {
	mu     sync.Mutex
	events []history.Event
	err    error
}

func (r *recordingSink) Send(_ context.Context, e history.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingSink) types() []history.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]history.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

// newShellActor supervises /bin/sh -c script; run args become $1..$n.
func newShellActor(t *testing.T, script string, opts Options) (*Actor, string) {
	t.Helper()
	dir := t.TempDir()
	logPath := filepath.Join(dir, "node.log")
	opts.Node = process.Config{
		WorkDir:     dir,
		LogFile:     logPath,
		Program:     "/bin/sh",
		ProgramArgs: []string{"-c", script, "node"},
		StopTimeout: opts.Node.StopTimeout,
	}
	a := New(opts, nil)
	t.Cleanup(func() {
		ctx := context.Background()
		if err := a.Stop(ctx); err != nil && !errors.Is(err, nodeerr.ErrNotRunning) && !errors.Is(err, ErrActorStopped) {
			t.Logf("cleanup stop: %v", err)
		}
		_ = a.Quit(ctx)
		<-a.Done()
		// a test that quit early can leave a live node behind
		if a.sup.IsRunning() {
			_, _ = a.sup.Stop()
		}
	})
	return a, logPath
}

func closedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func serverPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	_, p, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	port, err := strconv.Atoi(p)
	require.NoError(t, err)
	return port
}

func TestRunStatusStop(t *testing.T) {
	sink := &recordingSink{}
	a, logPath := newShellActor(t, `echo "FOO=$FOO BAR=$BAR args=$*"; exec sleep 30`, Options{History: sink})
	ctx := context.Background()

	st, err := a.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, process.StatusStopped, st)

	require.NoError(t, a.Run(ctx, "FOO=1 BAR=2", "--port 1234"))
	st, err = a.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, process.StatusRunning, st)

	require.Eventually(t, func() bool {
		b, _ := os.ReadFile(logPath)
		return strings.Contains(string(b), "FOO=1 BAR=2 args=--port 1234")
	}, 5*time.Second, 20*time.Millisecond)

	info, err := a.Info(ctx)
	require.NoError(t, err)
	assert.Greater(t, info.PID, 0)
	assert.False(t, info.StartedAt.IsZero())

	require.NoError(t, a.Stop(ctx))
	st, err = a.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, process.StatusStopped, st)

	assert.Equal(t, []history.EventType{history.EventStart, history.EventStop}, sink.types())
	sink.mu.Lock()
	start := sink.events[0]
	sink.mu.Unlock()
	assert.Equal(t, info.PID, start.Record.PID)
	assert.Equal(t, "sh", start.Record.Name)
	assert.Equal(t, "--port 1234", start.Record.Args)
}

func TestRunAndStopErrorsLeaveStateUnchanged(t *testing.T) {
	a, _ := newShellActor(t, "exec sleep 30", Options{})
	ctx := context.Background()

	err := a.Stop(ctx)
	require.ErrorIs(t, err, nodeerr.ErrNotRunning)

	require.NoError(t, a.Run(ctx, "", ""))
	before, err := a.Info(ctx)
	require.NoError(t, err)

	err = a.Run(ctx, "", "")
	require.ErrorIs(t, err, nodeerr.ErrAlreadyRunning)
	after, err := a.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.PID, after.PID)
	assert.Equal(t, process.StatusRunning, after.Status)
}

func TestRunWithBadEnvSpec(t *testing.T) {
	sink := &recordingSink{}
	a, _ := newShellActor(t, "exec sleep 30", Options{History: sink})
	ctx := context.Background()

	err := a.Run(ctx, "FOO", "")
	require.ErrorIs(t, err, nodeerr.ErrConfigParse)
	var ne *nodeerr.Error
	require.ErrorAs(t, err, &ne)
	assert.Contains(t, ne.Msg, `"FOO"`)

	st, err := a.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, process.StatusStopped, st)
	assert.Empty(t, sink.types())
}

func TestStopEscalationIsRecordedAsKill(t *testing.T) {
	sink := &recordingSink{}
	opts := Options{History: sink}
	opts.Node.StopTimeout = 200 * time.Millisecond
	a, logPath := newShellActor(t, `trap '' TERM; echo ready; while :; do sleep 0.05; done`, opts)
	ctx := context.Background()

	require.NoError(t, a.Run(ctx, "", ""))
	require.Eventually(t, func() bool {
		b, _ := os.ReadFile(logPath)
		return strings.Contains(string(b), "ready")
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, a.Stop(ctx))
	assert.Equal(t, []history.EventType{history.EventStart, history.EventKill}, sink.types())
}

func TestHistoryFailureDoesNotFailCommands(t *testing.T) {
	sink := &recordingSink{err: errors.New("sink down")}
	a, _ := newShellActor(t, "exec sleep 30", Options{History: sink})
	ctx := context.Background()

	require.NoError(t, a.Run(ctx, "", ""))
	require.NoError(t, a.Stop(ctx))
	assert.Len(t, sink.types(), 2)
}

func TestLogIsByteIdentical(t *testing.T) {
	a, logPath := newShellActor(t, `printf 'line one\nline two\n'; exec sleep 30`, Options{})
	ctx := context.Background()

	_, err := a.Log(ctx)
	require.ErrorIs(t, err, nodeerr.ErrIO, "no log before the first run")

	require.NoError(t, a.Run(ctx, "", ""))
	require.Eventually(t, func() bool {
		b, _ := os.ReadFile(logPath)
		return strings.Contains(string(b), "line two")
	}, 5*time.Second, 20*time.Millisecond)

	got, err := a.Log(ctx)
	require.NoError(t, err)
	want, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, string(want), got)

	again, err := a.Log(ctx)
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestCallRPCUsesPortFromRunArgs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_, hasVersion := req["jsonrpc"]
		assert.False(t, hasVersion)
		_, _ = fmt.Fprintf(w, `{"jsonrpc":"2.0","result":%q,"id":1}`, req["method"])
	}))
	defer srv.Close()

	a, _ := newShellActor(t, "exec sleep 30", Options{RPCPort: closedPort(t)})
	ctx := context.Background()

	_, err := a.CallRPC(ctx, "ping")
	require.ErrorIs(t, err, nodeerr.ErrRPCTransport, "fallback port has no listener")

	require.NoError(t, a.Run(ctx, "", "--jsonrpc-port "+strconv.Itoa(serverPort(t, srv))))
	res, err := a.CallRPC(ctx, "ping", json.RawMessage(`1`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":"ping","id":1}`, string(res))
}

func TestCallRPCParseFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>not rpc</html>")
	}))
	defer srv.Close()

	a, _ := newShellActor(t, "exec sleep 30", Options{RPCPort: serverPort(t, srv)})
	_, err := a.CallRPC(context.Background(), "ping")
	require.ErrorIs(t, err, nodeerr.ErrRPCParse)
}

func TestConcurrentCallersAreSerialized(t *testing.T) {
	var inFlight, maxInFlight, calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		calls.Add(1)
		inFlight.Add(-1)
		_, _ = io.WriteString(w, `{"result":null,"id":1}`)
	}))
	defer srv.Close()

	a, _ := newShellActor(t, "exec sleep 30", Options{RPCPort: serverPort(t, srv)})
	ctx := context.Background()

	const callers = 16
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.CallRPC(ctx, "slow")
			assert.NoError(t, err)
			_, err = a.Status(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(callers), calls.Load())
	assert.Equal(t, int32(1), maxInFlight.Load(), "commands must never overlap")
}

func TestQueuedCommandsRunInOrder(t *testing.T) {
	a, _ := newShellActor(t, "exec sleep 30", Options{})
	ctx := context.Background()

	replies := make([]chan error, 4)
	for i := range replies {
		replies[i] = make(chan error, 1)
	}
	require.NoError(t, a.Submit(ctx, RunCommand{Reply: replies[0]}))
	require.NoError(t, a.Submit(ctx, RunCommand{Reply: replies[1]}))
	require.NoError(t, a.Submit(ctx, StopCommand{Reply: replies[2]}))
	require.NoError(t, a.Submit(ctx, StopCommand{Reply: replies[3]}))

	assert.NoError(t, <-replies[0])
	assert.ErrorIs(t, <-replies[1], nodeerr.ErrAlreadyRunning)
	assert.NoError(t, <-replies[2])
	assert.ErrorIs(t, <-replies[3], nodeerr.ErrNotRunning)
}

func TestQuitEndsLoopAndKeepsNode(t *testing.T) {
	a, _ := newShellActor(t, "exec sleep 30", Options{})
	ctx := context.Background()

	require.NoError(t, a.Run(ctx, "", ""))
	require.NoError(t, a.Quit(ctx))

	select {
	case <-a.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("actor loop did not exit")
	}

	require.ErrorIs(t, a.Run(ctx, "", ""), ErrActorStopped)
	_, err := a.Status(ctx)
	require.ErrorIs(t, err, ErrActorStopped)
	require.ErrorIs(t, a.Quit(ctx), ErrActorStopped)

	assert.True(t, a.sup.IsRunning(), "quit must not stop the node")
	_, err = a.sup.Stop()
	require.NoError(t, err)
}

func TestCommandsQueuedBehindQuitDoNotHang(t *testing.T) {
	a, _ := newShellActor(t, "exec sleep 30", Options{})
	ctx := context.Background()

	quit := make(chan error, 1)
	status := make(chan process.Info, 1)
	require.NoError(t, a.Submit(ctx, QuitCommand{Reply: quit}))
	if err := a.Submit(ctx, StatusCommand{Reply: status}); err != nil {
		require.ErrorIs(t, err, ErrActorStopped)
		return
	}
	require.NoError(t, <-quit)
	_, err := await(ctx, a, status)
	require.ErrorIs(t, err, ErrActorStopped)
}

func TestContextCancelWhileWaiting(t *testing.T) {
	a, _ := newShellActor(t, "exec sleep 30", Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reply := make(chan error, 1)
	_, err := await(ctx, a, reply)
	require.ErrorIs(t, err, context.Canceled)
	require.Error(t, a.Submit(ctx, nil))
}

func TestCommandMetricsRecorded(t *testing.T) {
	a, _ := newShellActor(t, "exec sleep 30", Options{})
	ctx := context.Background()
	require.NoError(t, a.Run(ctx, "", ""))
	require.NoError(t, a.Stop(ctx))

	mfs, err := testRegistry.Gather()
	require.NoError(t, err)
	found := map[string]bool{}
	for _, mf := range mfs {
		found[mf.GetName()] = len(mf.GetMetric()) > 0
	}
	assert.True(t, found["nodevisor_actor_commands_total"])
	assert.True(t, found["nodevisor_node_starts_total"])
	assert.True(t, found["nodevisor_node_stops_total"])
}

// runningGauge reads nodevisor_node_running from the test registry, or -1.
func runningGauge() float64 {
	mfs, err := testRegistry.Gather()
	if err != nil {
		return -1
	}
	for _, mf := range mfs {
		if mf.GetName() == "nodevisor_node_running" && len(mf.GetMetric()) == 1 {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	return -1
}

func TestRunningGaugeFollowsSelfExit(t *testing.T) {
	a, _ := newShellActor(t, "sleep 0.3; exit 0", Options{})
	ctx := context.Background()
	require.NoError(t, a.Run(ctx, "", ""))
	assert.Equal(t, 1.0, runningGauge())

	// log commands refresh the gauge too; nobody polls status here
	require.Eventually(t, func() bool {
		_, _ = a.Log(ctx)
		return runningGauge() == 0
	}, 5*time.Second, 50*time.Millisecond)
}
