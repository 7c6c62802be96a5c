package main

import "time"

// Flag structs to decouple cobra from logic for testing.

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
}

type RunFlags struct {
	Env  string
	Args string
}

type ServeFlags struct {
	ConfigPath string
	Listen     string // overrides [server].listen
	// For tests we can set NonBlocking to return right after the server is up
	NonBlocking bool
}
