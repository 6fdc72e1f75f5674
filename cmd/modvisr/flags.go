package main

import "time"

// GlobalFlags are persistent across every subcommand.
type GlobalFlags struct {
	ConfigPath string
}

// RunFlags are the root command's supervisor flags. They are bound into
// viper so the config file and MODVISR_* variables can supply them too.
type RunFlags struct {
	Testing          bool
	Verbose          bool
	AutostartModules string
}

// RemoteFlags select the supervisor a remote command talks to.
type RemoteFlags struct {
	APIUrl     string
	APITimeout time.Duration
	JSON       bool
}
