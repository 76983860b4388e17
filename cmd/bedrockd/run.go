package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tilewind/bedrockd"
)

// runDaemon loads the config, starts the wrapper and blocks until the
// server stops or a termination signal arrives. Unless disabled, stdin
// becomes an operator console: wrapper commands are intercepted and
// everything else goes to the server.
func runDaemon(f RunFlags, args []string) error {
	configPath := f.ConfigPath
	if len(args) > 0 {
		configPath = args[0]
	}
	if configPath == "" {
		return fmt.Errorf("config file required, use --config=bedrockd.toml or provide as argument")
	}

	cfg, err := bedrockd.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	w, err := bedrockd.New(cfg)
	if err != nil {
		return err
	}
	if err := bedrockd.RegisterMetricsDefault(); err != nil {
		fmt.Printf("Warning: failed to register metrics: %v\n", err)
	}
	if err := w.Start(); err != nil {
		return err
	}
	if cfg.HTTP.Addr != "" {
		fmt.Printf("Serving API on %s%s\n", cfg.HTTP.Addr, cfg.HTTP.BasePath)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	stopRequested := make(chan struct{})
	if !f.NoConsole {
		go operatorConsole(w, stopRequested)
	}

	exited := make(chan struct{})
	go func() {
		w.WaitExit(0)
		close(exited)
	}()

	select {
	case <-sigCh:
		fmt.Println("Shutting down...")
	case <-stopRequested:
	case <-exited:
		// Unexpected exits are the watchdog's business; we only leave
		// once it gives up or was never enabled.
		if cfg.Watchdog.Enabled {
			waitForFinalExit(w, sigCh)
		}
	}
	w.Stop(30 * time.Second)
	return nil
}

// waitForFinalExit keeps the daemon alive across watchdog restarts until
// the server stays down or a termination signal arrives.
func waitForFinalExit(w *bedrockd.Wrapper, sigCh chan os.Signal) {
	for {
		select {
		case <-sigCh:
			return
		case <-time.After(2 * time.Second):
			if !w.IsRunning() {
				return
			}
			w.WaitExit(0)
		}
	}
}

// operatorConsole reads operator input, handling wrapper commands itself
// and forwarding anything else to the server's stdin.
func operatorConsole(w *bedrockd.Wrapper, stopRequested chan<- struct{}) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "backup":
			mode := bedrockd.BackupIncremental
			doArchive := false
			bad := false
			for _, arg := range fields[1:] {
				switch arg {
				case "full":
					mode = bedrockd.BackupFull
				case "archive":
					doArchive = true
				default:
					bad = true
				}
			}
			if bad {
				fmt.Println("Usage: backup [full] [archive]")
				continue
			}
			go func() {
				res, err := w.Backup(mode, doArchive)
				if err != nil {
					fmt.Printf("Backup failed: %v\n", err)
					return
				}
				fmt.Printf("Backup done: %d files copied, %d skipped\n", res.Files, res.Skipped)
				if res.ArchivePath != "" {
					fmt.Printf("Archived to %s\n", res.ArchivePath)
				}
				if res.ArchiveErr != nil {
					fmt.Printf("Archiving failed: %v\n", res.ArchiveErr)
				}
			}()
		case "restore":
			if len(fields) != 2 {
				fmt.Println("Usage: restore <archive.zip>")
				continue
			}
			go func(path string) {
				if err := w.Restore(path); err != nil {
					fmt.Printf("Restore failed: %v\n", err)
					return
				}
				fmt.Printf("World restored from %s\n", path)
			}(fields[1])
		case "render":
			if len(fields) > 1 && fields[1] == "abort" {
				w.AbortRender()
				continue
			}
			go func() {
				if err := w.Render(); err != nil {
					fmt.Printf("Render failed: %v\n", err)
				}
			}()
		case "check-update":
			latest, newer, err := w.CheckUpdate("")
			if err != nil {
				fmt.Printf("Update check failed: %v\n", err)
				continue
			}
			if newer {
				fmt.Printf("Update available: %s\n", latest)
			} else {
				fmt.Printf("Latest version: %s\n", latest)
			}
		case "history":
			events, err := w.History(context.Background(), 20)
			if err != nil {
				fmt.Printf("History failed: %v\n", err)
				continue
			}
			if events == nil {
				fmt.Println("History is not enabled")
				continue
			}
			for _, e := range events {
				fmt.Printf("%s  %-8s ok=%-5v %s\n", e.At.Format(time.RFC3339), e.Type, e.OK, e.Detail)
			}
		case "watchdog-reset":
			w.ResetWatchdog()
			fmt.Println("Watchdog counter reset")
		case "stop":
			_ = w.SendCommand("stop")
			close(stopRequested)
			return
		default:
			if err := w.SendCommand(line); err != nil {
				fmt.Printf("Command failed: %v\n", err)
			}
		}
	}
}
