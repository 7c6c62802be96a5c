//go:build !windows

package process

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loykin/nodevisor/internal/nodeerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newShellSupervisor runs script through /bin/sh with argSpec tokens as $1..$n.
func newShellSupervisor(t *testing.T, script string, stopTimeout time.Duration) (*Supervisor, string) {
	t.Helper()
	dir := t.TempDir()
	logPath := filepath.Join(dir, "logs", "node.log")
	s := NewSupervisor(Config{
		WorkDir:     dir,
		LogFile:     logPath,
		Program:     "/bin/sh",
		ProgramArgs: []string{"-c", script, "node"},
		StopTimeout: stopTimeout,
	}, nil)
	t.Cleanup(func() {
		if s.IsRunning() {
			_, _ = s.Stop()
		}
	})
	return s, logPath
}

func waitForLog(t *testing.T, path, want string) string {
	t.Helper()
	var content string
	require.Eventually(t, func() bool {
		b, err := os.ReadFile(path)
		content = string(b)
		return err == nil && strings.Contains(content, want)
	}, 5*time.Second, 20*time.Millisecond, "log never contained %q", want)
	return content
}

func TestRunAppliesEnvArgsAndWorkdir(t *testing.T) {
	s, logPath := newShellSupervisor(t, `echo "env FOO=$FOO BAR=$BAR"; echo "argv $#:$1,$2"; echo "cwd $(pwd)"; echo "to stderr" 1>&2; exec sleep 30`, time.Second)

	require.NoError(t, s.Run("FOO=1 BAR=2", "--port 1234"))
	assert.True(t, s.IsRunning())

	content := waitForLog(t, logPath, "to stderr")
	assert.Contains(t, content, "env FOO=1 BAR=2")
	assert.Contains(t, content, "argv 2:--port,1234")
	assert.Contains(t, content, "cwd "+s.Config().WorkDir)

	info := s.Info()
	assert.Equal(t, StatusRunning, info.Status)
	assert.Greater(t, info.PID, 0)
	assert.Greater(t, info.SinkPID, 0)
}

func TestRunWhileRunningIsRejected(t *testing.T) {
	s, _ := newShellSupervisor(t, "exec sleep 30", time.Second)
	require.NoError(t, s.Run("", ""))
	before := s.State().(Running).Primary.Pid()

	err := s.Run("", "")
	require.ErrorIs(t, err, nodeerr.ErrAlreadyRunning)

	st, ok := s.State().(Running)
	require.True(t, ok)
	assert.Equal(t, before, st.Primary.Pid())
}

func TestStopWhenNotStarted(t *testing.T) {
	s, _ := newShellSupervisor(t, "exec sleep 30", time.Second)
	mode, err := s.Stop()
	require.ErrorIs(t, err, nodeerr.ErrNotRunning)
	assert.Equal(t, StopMode(0), mode)
	assert.IsType(t, NotStarted{}, s.State())
}

func TestBadEnvSpawnsNothing(t *testing.T) {
	s, logPath := newShellSupervisor(t, "exec sleep 30", time.Second)
	err := s.Run("FOO", "")
	require.ErrorIs(t, err, nodeerr.ErrConfigParse)
	assert.False(t, s.IsRunning())
	assert.Equal(t, StatusStopped, s.Info().Status)
	assert.IsType(t, NotStarted{}, s.State())
	_, statErr := os.Stat(logPath)
	assert.True(t, os.IsNotExist(statErr), "sink must not have created the log file")
}

func TestGracefulStop(t *testing.T) {
	s, _ := newShellSupervisor(t, "exec sleep 30", 5*time.Second)
	require.NoError(t, s.Run("", ""))
	st := s.State().(Running)

	start := time.Now()
	mode, err := s.Stop()
	require.NoError(t, err)
	assert.Equal(t, StopGraceful, mode)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, st.Primary.Exited())
	assert.IsType(t, NotStarted{}, s.State())

	// the sink is never signaled; it ends when the node's output closes
	select {
	case <-st.Sink.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("log sink still running after node stopped")
	}
}

func TestStopEscalatesToKill(t *testing.T) {
	timeout := 300 * time.Millisecond
	s, logPath := newShellSupervisor(t, `trap '' TERM; echo ready; while :; do sleep 0.05; done`, timeout)
	require.NoError(t, s.Run("", ""))
	waitForLog(t, logPath, "ready")

	start := time.Now()
	mode, err := s.Stop()
	require.NoError(t, err)
	assert.Equal(t, StopForced, mode)
	assert.GreaterOrEqual(t, time.Since(start), timeout)
	assert.False(t, s.IsRunning())
}

func TestSelfExitObservedLazily(t *testing.T) {
	s, _ := newShellSupervisor(t, "exit 3", time.Second)
	require.NoError(t, s.Run("", ""))
	st := s.State().(Running)
	<-st.Primary.Done()

	assert.False(t, s.IsRunning())
	assert.IsType(t, Running{}, s.State(), "polling must not clear state")
	info := s.Info()
	assert.Equal(t, StatusStopped, info.Status)
	assert.Contains(t, info.ExitErr, "exit status 3")

	_, err := s.Stop()
	require.ErrorIs(t, err, nodeerr.ErrNotRunning)

	// a new Run replaces the stale pipeline
	require.NoError(t, s.Run("", ""))
	assert.NotSame(t, st.Primary, s.State().(Running).Primary)
}

func TestSpawnFailures(t *testing.T) {
	dir := t.TempDir()
	s := NewSupervisor(Config{WorkDir: dir, LogFile: filepath.Join(dir, "n.log"), Program: filepath.Join(dir, "missing-node")}, nil)
	err := s.Run("", "")
	require.ErrorIs(t, err, nodeerr.ErrProcessSpawn)
	assert.IsType(t, NotStarted{}, s.State())

	s = NewSupervisor(Config{WorkDir: dir, LogFile: filepath.Join(dir, "n.log"), Program: "/bin/sh", SinkCommand: filepath.Join(dir, "missing-tee")}, nil)
	err = s.Run("", "")
	require.ErrorIs(t, err, nodeerr.ErrProcessSpawn)
	assert.Contains(t, err.Error(), "log sink")
}

func TestFailedSpawnKeepsPreviousLog(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "node.log")
	require.NoError(t, os.WriteFile(logPath, []byte("previous run output\n"), 0o600))

	s := NewSupervisor(Config{WorkDir: dir, LogFile: logPath, Program: filepath.Join(dir, "missing-node")}, nil)
	require.ErrorIs(t, s.Run("", ""), nodeerr.ErrProcessSpawn)

	b, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, "previous run output\n", string(b))
}

func TestSinkFailureReapsNode(t *testing.T) {
	dir := t.TempDir()
	s := NewSupervisor(Config{
		WorkDir:     dir,
		LogFile:     filepath.Join(dir, "n.log"),
		Program:     "/bin/sh",
		ProgramArgs: []string{"-c", "exec sleep 30"},
		SinkCommand: filepath.Join(dir, "missing-tee"),
	}, nil)
	start := time.Now()
	require.ErrorIs(t, s.Run("", ""), nodeerr.ErrProcessSpawn)
	assert.Less(t, time.Since(start), reapGrace+time.Second)
	assert.IsType(t, NotStarted{}, s.State())
	assert.False(t, s.IsRunning())
}

func TestUncreatableLogDirIsIOError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	s := NewSupervisor(Config{
		WorkDir:     dir,
		LogFile:     filepath.Join(blocker, "logs", "node.log"),
		Program:     "/bin/sh",
		ProgramArgs: []string{"-c", "exec sleep 30"},
	}, nil)
	require.ErrorIs(t, s.Run("", ""), nodeerr.ErrIO)
	assert.IsType(t, NotStarted{}, s.State())
}

func TestPIDFileFollowsNode(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "run", "node.pid")
	s := NewSupervisor(Config{
		WorkDir:     dir,
		LogFile:     filepath.Join(dir, "node.log"),
		Program:     "/bin/sh",
		ProgramArgs: []string{"-c", "exec sleep 30"},
		StopTimeout: time.Second,
		PIDFile:     pidPath,
	}, nil)

	require.NoError(t, s.Run("", ""))
	pid, err := ReadPIDFile(pidPath)
	require.NoError(t, err)
	assert.Equal(t, s.Info().PID, pid)

	_, err = s.Stop()
	require.NoError(t, err)
	_, statErr := os.Stat(pidPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestConfigDefaults(t *testing.T) {
	c := Config{}.WithDefaults()
	assert.Equal(t, "cargo", c.Program)
	assert.Equal(t, []string{"run", "--"}, c.ProgramArgs)
	assert.Equal(t, "tee", c.SinkCommand)
	assert.Equal(t, 10*time.Second, c.StopTimeout)

	c = Config{Program: "/usr/bin/node"}.WithDefaults()
	assert.Nil(t, c.ProgramArgs)
}
