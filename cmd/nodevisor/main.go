package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot(os.Stdout)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command with all subcommands writing to out.
func buildRoot(out io.Writer) *cobra.Command {
	globalFlags := &GlobalFlags{}
	runFlags := &RunFlags{}
	serveFlags := &ServeFlags{}

	cmd := &command{global: globalFlags, out: out}

	root := createRootCommand(globalFlags)
	root.SetOut(out)
	root.AddCommand(
		createServeCommand(globalFlags, serveFlags),
		createRunCommand(cmd, runFlags),
		createStopCommand(cmd),
		createStatusCommand(cmd),
		createLogCommand(cmd),
		createRPCCommand(cmd),
		createQuitCommand(cmd),
	)
	return root
}

// createRootCommand creates the root command with persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "nodevisor",
		Short: "Supervisor for a single blockchain node process",
		Long: `Nodevisor starts, stops and watches one node process, serves its
captured log and forwards JSON-RPC calls to it. All control commands are
executed one at a time by the daemon.

Examples:
  nodevisor serve --config nodevisor.toml    # Start daemon
  nodevisor run --env "RUST_LOG=info" --args "--jsonrpc-port 8081"
  nodevisor status
  nodevisor rpc chain_getBestBlockNumber
  nodevisor status --api-url=http://remote:7070/api`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (serve only)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "http://127.0.0.1:7070/api", "nodevisor daemon API base URL")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", time.Minute, "API request timeout")
	return root
}

func createServeCommand(globalFlags *GlobalFlags, serveFlags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the nodevisor daemon",
		Long: `Start the nodevisor daemon: the control loop plus its HTTP API.
Configuration comes from an optional TOML file and NODEVISOR_* environment
variables. On SIGINT/SIGTERM the node is stopped and the daemon exits.
After a quit command the daemon exits and leaves the node running.

Examples:
  nodevisor serve                           # defaults + environment
  nodevisor serve nodevisor.toml            # with config file
  nodevisor serve --listen 0.0.0.0:7070`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			return runServe(serveFlags, args)
		},
	}
	cmd.Flags().StringVar(&serveFlags.Listen, "listen", "", "override [server].listen")
	cmd.Flags().BoolVar(&serveFlags.NonBlocking, "non-blocking", false, "shut down right after startup (testing)")
	_ = cmd.Flags().MarkHidden("non-blocking")
	return cmd
}

func createRunCommand(c *command, flags *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the node",
		Long: `Start the node with extra environment variables and arguments.

--env takes whitespace-separated KEY=VALUE pairs; a pair without exactly one
'=' rejects the whole request and nothing is started. --args is split on
whitespace and appended to the configured command line.

Examples:
  nodevisor run
  nodevisor run --env "FOO=1 BAR=2" --args "--port 1234"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Run(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Env, "env", "", "environment overrides, KEY=VALUE separated by spaces")
	cmd.Flags().StringVar(&flags.Args, "args", "", "extra node arguments separated by spaces")
	return cmd
}

func createStopCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the node (SIGTERM, then SIGKILL after the stop timeout)",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, args []string) error { return c.Stop() },
	}
}

func createStatusCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the node is running",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, args []string) error { return c.Status() },
	}
}

func createLogCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "log",
		Short: "Print the captured node log",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, args []string) error { return c.Log() },
	}
}

func createRPCCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "rpc METHOD [ARG...]",
		Short: "Forward a JSON-RPC call to the node",
		Long: `Forward a JSON-RPC call to the node and print its response.
Each ARG that is valid JSON is passed as is, anything else as a string.

Examples:
  nodevisor rpc ping
  nodevisor rpc chain_getBlockHash 10
  nodevisor rpc account_sendTransaction '{"to":"x"}' secret`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error { return c.RPC(args[0], args[1:]) },
	}
}

func createQuitCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "quit",
		Short: "End the daemon's control loop (the node is left running)",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, args []string) error { return c.Quit() },
	}
}
