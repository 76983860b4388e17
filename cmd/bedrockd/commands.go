package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tilewind/bedrockd"
	"github.com/tilewind/bedrockd/internal/version"
)

type command struct{}

// Backup triggers one backup session on a running daemon.
func (command) Backup(f BackupFlags) error {
	switch f.Mode {
	case "", "incremental", "full":
	default:
		return fmt.Errorf("mode must be incremental or full, got %q", f.Mode)
	}
	client := NewAPIClient(f.APIUrl, f.APITimeout)
	result, err := client.TriggerBackup(f.Mode, f.Archive)
	if err != nil {
		return err
	}
	printJSON(result)
	return nil
}

// Restore replaces the world with an archive's content. This runs
// locally against the config; the daemon must not be running.
func (command) Restore(f RestoreFlags, configPath string) error {
	if configPath == "" {
		return fmt.Errorf("config file required, use --config=bedrockd.toml")
	}
	cfg, err := bedrockd.LoadConfig(configPath)
	if err != nil {
		return err
	}
	w, err := bedrockd.New(cfg)
	if err != nil {
		return err
	}
	if err := w.Restore(f.ArchivePath); err != nil {
		return err
	}
	fmt.Printf("World restored from %s\n", f.ArchivePath)
	return nil
}

// Status prints daemon and server status.
func (command) Status(f StatusFlags) error {
	client := NewAPIClient(f.APIUrl, f.APITimeout)
	result, err := client.GetStatus()
	if err != nil {
		return err
	}
	printJSON(result)
	return nil
}

// CheckUpdate compares the installed server version with the newest one
// published on the configured download page.
func (command) CheckUpdate(f CheckUpdateFlags) error {
	if f.URL == "" {
		return fmt.Errorf("--url is required")
	}
	latest, err := version.NewChecker(f.URL).Latest()
	if err != nil {
		return err
	}
	if f.Installed == "" {
		fmt.Printf("Latest version: %s\n", latest)
		return nil
	}
	if version.UpdateAvailable(f.Installed, latest) {
		fmt.Printf("Update available: %s -> %s\n", f.Installed, latest)
	} else {
		fmt.Printf("Up to date (installed %s, latest %s)\n", f.Installed, latest)
	}
	return nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
