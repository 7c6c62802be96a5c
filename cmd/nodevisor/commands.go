package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/loykin/nodevisor/pkg/client"
)

// command runs client subcommands against the daemon API.
type command struct {
	global *GlobalFlags
	out    io.Writer
}

func (c *command) client() *client.Client {
	return client.New(client.Config{BaseURL: c.global.APIUrl, Timeout: c.global.APITimeout})
}

func (c *command) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.global.APITimeout)
}

func (c *command) Run(f RunFlags) error {
	ctx, cancel := c.ctx()
	defer cancel()
	if err := c.client().Run(ctx, client.RunRequest{Env: f.Env, Args: f.Args}); err != nil {
		return err
	}
	return c.Status()
}

func (c *command) Stop() error {
	ctx, cancel := c.ctx()
	defer cancel()
	if err := c.client().Stop(ctx); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.out, "stopped")
	return nil
}

func (c *command) Quit() error {
	ctx, cancel := c.ctx()
	defer cancel()
	if err := c.client().Quit(ctx); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.out, "control loop stopped")
	return nil
}

func (c *command) Status() error {
	ctx, cancel := c.ctx()
	defer cancel()
	st, err := c.client().Status(ctx)
	if err != nil {
		return err
	}
	return printJSON(c.out, st)
}

func (c *command) Log() error {
	ctx, cancel := c.ctx()
	defer cancel()
	s, err := c.client().Log(ctx)
	if err != nil {
		return err
	}
	_, err = io.WriteString(c.out, s)
	return err
}

func (c *command) RPC(method string, args []string) error {
	ctx, cancel := c.ctx()
	defer cancel()
	res, err := c.client().RPC(ctx, method, rpcParams(args)...)
	if err != nil {
		return err
	}
	return printJSON(c.out, res)
}

// rpcParams turns CLI words into positional params. A word that is valid
// JSON is sent as is; anything else is sent as a JSON string.
func rpcParams(args []string) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(args))
	for _, a := range args {
		if json.Valid([]byte(a)) {
			out = append(out, json.RawMessage(a))
			continue
		}
		b, _ := json.Marshal(a)
		out = append(out, b)
	}
	return out
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
