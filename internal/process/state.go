package process

import (
	"os/exec"
	"time"
)

// State is either NotStarted or Running. Running always holds both handles,
// so a half-started pipeline cannot be represented.
type State interface {
	isState()
}

type NotStarted struct{}

type Running struct {
	Primary *Handle // the node
	Sink    *Handle // log tee fed by the node's combined output
}

func (NotStarted) isState() {}
func (Running) isState()    {}

// Handle is a started OS process plus a channel closed once it has been reaped.
type Handle struct {
	cmd       *exec.Cmd
	startedAt time.Time
	done      chan struct{}
	err       error // exit error, valid after done is closed
}

// startHandle starts cmd and reaps it in the background. The waiter only
// closes done; it never touches supervisor state.
func startHandle(cmd *exec.Cmd) (*Handle, error) {
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	h := &Handle{cmd: cmd, startedAt: time.Now(), done: make(chan struct{})}
	go func() {
		h.err = cmd.Wait()
		close(h.done)
	}()
	return h, nil
}

func (h *Handle) Pid() int {
	if h == nil || h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *Handle) StartedAt() time.Time { return h.startedAt }

// Done is closed when the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exited polls without blocking.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// ExitErr returns the wait error once Exited reports true.
func (h *Handle) ExitErr() error {
	if !h.Exited() {
		return nil
	}
	return h.err
}
