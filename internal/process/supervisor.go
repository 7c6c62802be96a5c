package process

import (
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/loykin/nodevisor/internal/env"
	"github.com/loykin/nodevisor/internal/nodeerr"
)

// reapGrace bounds the wait for the kernel to reap the node after SIGKILL.
const reapGrace = 2 * time.Second

// Supervisor owns the node/sink pipeline. It is not safe for concurrent use:
// the control actor is its only caller.
type Supervisor struct {
	cfg   Config
	env   *env.Env
	log   *slog.Logger
	state State
}

func NewSupervisor(cfg Config, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		cfg:   cfg.WithDefaults(),
		env:   env.New(),
		log:   log.With("component", "supervisor"),
		state: NotStarted{},
	}
}

func (s *Supervisor) Config() Config { return s.cfg }

// State returns the current lifecycle state. A Running state whose primary
// has exited stays Running until the next Run or Stop replaces it.
func (s *Supervisor) State() State { return s.state }

// Run parses envSpec and argSpec and starts the node piped into the log sink.
func (s *Supervisor) Run(envSpec, argSpec string) error {
	if s.IsRunning() {
		return nodeerr.ErrAlreadyRunning
	}
	overrides, err := env.Parse(envSpec)
	if err != nil {
		return err
	}
	args := append(append([]string(nil), s.cfg.ProgramArgs...), env.Args(argSpec)...)
	s.warnStale()

	if dir := filepath.Dir(s.cfg.LogFile); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nodeerr.FromIO(err)
		}
	}
	r, w, err := os.Pipe()
	if err != nil {
		return nodeerr.FromSpawn("output pipe", err)
	}

	// The node starts first: the sink truncates the log file when it opens
	// it, so a node that fails to spawn must leave the previous log intact.
	// ok: intentional execution of the configured node program
	// #nosec G204
	cmd := exec.Command(s.cfg.Program, args...)
	cmd.Dir = s.cfg.WorkDir
	cmd.Env = s.env.Merge(overrides)
	cmd.Stdout = w
	cmd.Stderr = w
	configureSysProcAttr(cmd)
	primary, err := startHandle(cmd)
	// The node holds its own copy; closing ours lets the sink see EOF as
	// soon as the node exits.
	_ = w.Close()
	if err != nil {
		_ = r.Close()
		s.state = NotStarted{}
		return nodeerr.FromSpawn(s.cfg.Program, err)
	}

	// #nosec G204
	sinkCmd := exec.Command(s.cfg.SinkCommand, s.cfg.LogFile)
	sinkCmd.Stdin = r
	if s.cfg.EchoOutput {
		sinkCmd.Stdout = os.Stdout
	}
	sink, err := startHandle(sinkCmd)
	_ = r.Close()
	if err != nil {
		s.reap(primary)
		s.state = NotStarted{}
		return nodeerr.FromSpawn("log sink "+s.cfg.SinkCommand, err)
	}

	s.state = Running{Primary: primary, Sink: sink}
	if s.cfg.PIDFile != "" {
		if err := writePIDFile(s.cfg.PIDFile, primary.Pid(), s.cfg.Program, primary.StartedAt()); err != nil {
			s.log.Warn("write pid file", "path", s.cfg.PIDFile, "error", err)
		}
	}
	s.log.Info("node started", "pid", primary.Pid(), "sink_pid", sink.Pid(), "program", s.cfg.Program, "args", args, "env_overrides", len(overrides))
	return nil
}

// IsRunning polls the primary without blocking or changing state.
func (s *Supervisor) IsRunning() bool {
	st, ok := s.state.(Running)
	if !ok {
		return false
	}
	return !st.Primary.Exited()
}

// Stop sends SIGTERM to the node and waits up to StopTimeout, then SIGKILLs it.
// It fails only when the node is not running.
func (s *Supervisor) Stop() (StopMode, error) {
	st, ok := s.state.(Running)
	if !ok || st.Primary.Exited() {
		return 0, nodeerr.ErrNotRunning
	}
	pid := st.Primary.Pid()
	s.log.Debug("sending SIGTERM to node", "pid", pid)
	if err := terminate(st.Primary.cmd); err != nil {
		s.log.Debug("terminate failed", "pid", pid, "error", err)
	}

	mode := StopGraceful
	timer := time.NewTimer(s.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-st.Primary.Done():
		s.log.Info("node exited", "pid", pid, "exit", exitText(st.Primary.ExitErr()))
	case <-timer.C:
		mode = StopForced
		s.log.Warn("node did not exit in time, killing", "pid", pid, "timeout", s.cfg.StopTimeout)
		if err := kill(st.Primary.cmd); err != nil {
			s.log.Debug("kill failed", "pid", pid, "error", err)
		}
		select {
		case <-st.Primary.Done():
		case <-time.After(reapGrace):
			// best-effort
		}
	}
	s.state = NotStarted{}
	if s.cfg.PIDFile != "" {
		if err := removePIDFile(s.cfg.PIDFile); err != nil {
			s.log.Warn("remove pid file", "path", s.cfg.PIDFile, "error", err)
		}
	}
	return mode, nil
}

// reap kills a node whose sink could not be started and waits for it.
func (s *Supervisor) reap(h *Handle) {
	if err := kill(h.cmd); err != nil {
		s.log.Debug("kill failed", "pid", h.Pid(), "error", err)
	}
	select {
	case <-h.Done():
	case <-time.After(reapGrace):
	}
}

// warnStale logs a node left alive by an earlier supervisor. Run goes ahead
// regardless; the old process is not ours to signal.
func (s *Supervisor) warnStale() {
	if s.cfg.PIDFile == "" {
		return
	}
	pid, alive, err := StalePID(s.cfg.PIDFile)
	switch {
	case err != nil:
		s.log.Debug("unreadable pid file", "path", s.cfg.PIDFile, "error", err)
	case alive:
		s.log.Warn("pid file names a live process; a previous node may still be running", "path", s.cfg.PIDFile, "pid", pid)
	}
}

// Info reports status plus PIDs of the current pipeline.
func (s *Supervisor) Info() Info {
	st, ok := s.state.(Running)
	if !ok {
		return Info{Status: StatusStopped}
	}
	if st.Primary.Exited() {
		return Info{Status: StatusStopped, ExitErr: exitText(st.Primary.ExitErr())}
	}
	return Info{
		Status:    StatusRunning,
		PID:       st.Primary.Pid(),
		SinkPID:   st.Sink.Pid(),
		StartedAt: st.Primary.StartedAt(),
	}
}

func exitText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
