package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	runFlags := &RunFlags{}
	backupFlags := &BackupFlags{}
	restoreFlags := &RestoreFlags{}
	statusFlags := &StatusFlags{}
	checkFlags := &CheckUpdateFlags{}

	cmd := command{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createRunCommand(globalFlags, runFlags),
		createBackupCommand(cmd, backupFlags),
		createRestoreCommand(cmd, globalFlags, restoreFlags),
		createStatusCommand(cmd, statusFlags),
		createCheckUpdateCommand(cmd, checkFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "bedrockd",
		Short: "Dedicated server wrapper with live backups and crash recovery",
		Long: `Bedrockd supervises a console-driven dedicated game server:
it injects commands, watches console output, takes consistent backups
while the server runs, and restarts it after crashes.

Examples:
  bedrockd run --config=bedrockd.toml       # Start server under the wrapper
  bedrockd backup --archive                 # Trigger a backup via the daemon API
  bedrockd restore --archive=2026-01-02_03-04_MyWorld.zip --config=bedrockd.toml
  bedrockd status                           # Daemon and server status`,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file")
	return root
}

func createRunCommand(globalFlags *GlobalFlags, runFlags *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [bedrockd.toml]",
		Short: "Start the server under the wrapper",
		Long: `Start the dedicated server under the wrapper and keep it
supervised until it stops. Stdin becomes an operator console: backup,
restore, render, history, check-update and watchdog-reset are handled by
the wrapper, anything else is forwarded to the server.

Examples:
  bedrockd run --config=bedrockd.toml
  bedrockd run bedrockd.toml --no-console   # e.g. under systemd`,
		RunE: func(cmd *cobra.Command, args []string) error {
			runFlags.ConfigPath = globalFlags.ConfigPath
			return runDaemon(*runFlags, args)
		},
	}
	cmd.Flags().BoolVar(&runFlags.NoConsole, "no-console", false, "disable the interactive operator console")
	return cmd
}

func createBackupCommand(c command, flags *BackupFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Trigger a backup on the running daemon",
		Long: `Trigger one backup session via the daemon's REST API.

Examples:
  bedrockd backup                          # Incremental, no archive
  bedrockd backup --mode=full --archive
  bedrockd backup --api-url=http://remote:8085/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Backup(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Mode, "mode", "incremental", "backup mode: incremental or full")
	cmd.Flags().BoolVar(&flags.Archive, "archive", false, "zip the snapshot after copying")
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "daemon URL (default http://localhost:8085/api)")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 15*time.Minute, "request timeout; backups can be slow")
	return cmd
}

func createRestoreCommand(c command, globalFlags *GlobalFlags, flags *RestoreFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore the world from an archive",
		Long: `Replace the live world with an archive's content. A precautionary
backup of the current world is taken first. The daemon must not be
running.

Examples:
  bedrockd restore --archive=/srv/backups/archives/2026-01-02_03-04_MyWorld.zip --config=bedrockd.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Restore(*flags, globalFlags.ConfigPath)
		},
	}
	cmd.Flags().StringVar(&flags.ArchivePath, "archive", "", "path to the zip archive (required)")
	if err := cmd.MarkFlagRequired("archive"); err != nil {
		panic(err)
	}
	return cmd
}

func createStatusCommand(c command, flags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and server status",
		Long: `Show the supervised server's status via the daemon's REST API.

Examples:
  bedrockd status
  bedrockd status --api-url=http://remote:8085/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "daemon URL (default http://localhost:8085/api)")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	return cmd
}

func createCheckUpdateCommand(c command, flags *CheckUpdateFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check-update",
		Short: "Check for a newer server release",
		Long: `Fetch a download page and extract the newest published server
version.

Examples:
  bedrockd check-update --url=https://example.com/downloads
  bedrockd check-update --url=https://example.com/downloads --installed=1.20.15.01`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.CheckUpdate(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.URL, "url", "", "download page URL (required)")
	cmd.Flags().StringVar(&flags.Installed, "installed", "", "installed server version to compare against")
	if err := cmd.MarkFlagRequired("url"); err != nil {
		panic(err)
	}
	return cmd
}
