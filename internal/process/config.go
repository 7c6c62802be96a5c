package process

import "time"

// Default invocation of the supervised node and stop policy.
const (
	DefaultProgram     = "cargo"
	DefaultSinkCommand = "tee"
	DefaultStopTimeout = 10 * time.Second
)

var DefaultProgramArgs = []string{"run", "--"}

// Config is fixed for the lifetime of a Supervisor.
type Config struct {
	WorkDir     string        `json:"work_dir" mapstructure:"work_dir"`         // working directory of the node
	LogFile     string        `json:"log_file" mapstructure:"log_file"`         // file the sink writes captured output to
	Program     string        `json:"program" mapstructure:"program"`           // node executable (default cargo)
	ProgramArgs []string      `json:"program_args" mapstructure:"program_args"` // fixed leading args (default run --)
	SinkCommand string        `json:"sink_command" mapstructure:"sink_command"` // log-tee executable, invoked as <cmd> <log_file>
	StopTimeout time.Duration `json:"stop_timeout" mapstructure:"stop_timeout"` // graceful wait before SIGKILL
	EchoOutput  bool          `json:"echo_output" mapstructure:"echo_output"`   // pass sink output through to our stdout
	PIDFile     string        `json:"pid_file" mapstructure:"pid_file"`         // optional; holds the running node's pid
}

// WithDefaults fills unset fields. An explicitly empty ProgramArgs slice is kept.
func (c Config) WithDefaults() Config {
	if c.Program == "" {
		c.Program = DefaultProgram
		if c.ProgramArgs == nil {
			c.ProgramArgs = append([]string(nil), DefaultProgramArgs...)
		}
	}
	if c.SinkCommand == "" {
		c.SinkCommand = DefaultSinkCommand
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	return c
}
