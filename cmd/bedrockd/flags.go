package main

import "time"

// Flag structs decouple cobra from command logic for testing.

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
}

// BackupFlags holds flags for the backup command.
type BackupFlags struct {
	Mode    string
	Archive bool
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

// RestoreFlags holds flags for the restore command.
type RestoreFlags struct {
	ArchivePath string
}

// StatusFlags holds flags for the status command.
type StatusFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

// CheckUpdateFlags holds flags for the check-update command.
type CheckUpdateFlags struct {
	URL       string
	Installed string
}

// RunFlags holds flags for the run command.
type RunFlags struct {
	ConfigPath string
	NoConsole  bool // disable the interactive operator console
}
