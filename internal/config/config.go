package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/tilewind/bedrockd/internal/backup"
	"github.com/tilewind/bedrockd/internal/logger"
	"github.com/tilewind/bedrockd/internal/render"
)

// FileConfig is the top-level TOML structure.
type FileConfig struct {
	Server   ServerConfig   `mapstructure:"server"`
	World    WorldConfig    `mapstructure:"world"`
	Backup   BackupConfig   `mapstructure:"backup"`
	Watchdog WatchdogConfig `mapstructure:"watchdog"`
	Render   []render.Task  `mapstructure:"render"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	History  HistoryConfig  `mapstructure:"history"`
	Log      logger.Config  `mapstructure:"log"`

	// Ignore lists console line patterns never echoed to the operator.
	Ignore []string `mapstructure:"ignore"`

	// VersionURL is the page checked for newer server releases.
	VersionURL string `mapstructure:"version_url"`
}

type ServerConfig struct {
	Name    string   `mapstructure:"name"`
	Command string   `mapstructure:"command"`
	WorkDir string   `mapstructure:"workdir"`
	Env     []string `mapstructure:"env"`
}

type WorldConfig struct {
	Dir  string `mapstructure:"dir"`
	Name string `mapstructure:"name"` // defaults to base of Dir
}

type BackupConfig struct {
	DestDir          string        `mapstructure:"dest_dir"`
	ArchiveDir       string        `mapstructure:"archive_dir"`
	Keep             int           `mapstructure:"keep"` // -1 keeps all
	Archive          bool          `mapstructure:"archive"`
	QueryInterval    time.Duration `mapstructure:"query_interval"`
	StopTimeout      time.Duration `mapstructure:"stop_timeout"`
	ReadyTimeout     time.Duration `mapstructure:"ready_timeout"`
	ReadyPattern     string        `mapstructure:"ready_pattern"`
	ResumePattern    string        `mapstructure:"resume_pattern"`
	MetadataTail     int           `mapstructure:"metadata_tail"`
	StopBeforeBackup bool          `mapstructure:"stop_before_backup"`
	RestartAfterFull bool          `mapstructure:"restart_after_full"`
	Notify           bool          `mapstructure:"notify"`
	NotifyCommand    string        `mapstructure:"notify_command"`
	PreHook          string        `mapstructure:"pre_hook"`
	PostHook         string        `mapstructure:"post_hook"`
	Schedule         string        `mapstructure:"schedule"` // "@every <duration>", empty disables
}

type WatchdogConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	RetryLimit    int    `mapstructure:"retry_limit"`
	StablePattern string `mapstructure:"stable_pattern"`
}

type HTTPConfig struct {
	Addr     string `mapstructure:"addr"` // empty disables the API
	BasePath string `mapstructure:"base_path"`
}

type HistoryConfig struct {
	Path string `mapstructure:"path"` // empty disables persistence
}

// DefaultStablePattern matches the dedicated server's startup banner.
const DefaultStablePattern = `(?i)server started`

// Load reads and validates the TOML config at path.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	v.SetDefault("server.name", "bedrock")
	v.SetDefault("backup.keep", -1)
	v.SetDefault("backup.query_interval", time.Second)
	v.SetDefault("backup.notify_command", "say")
	v.SetDefault("watchdog.enabled", true)
	v.SetDefault("watchdog.retry_limit", 3)
	v.SetDefault("watchdog.stable_pattern", DefaultStablePattern)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var fc FileConfig
	// Viper's default decode hooks already handle "5m"-style durations.
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := fc.Validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

// Validate checks the fields nothing else can default sensibly.
func (c *FileConfig) Validate() error {
	if c.Server.Command == "" {
		return fmt.Errorf("server.command is required")
	}
	if c.World.Dir == "" {
		return fmt.Errorf("world.dir is required")
	}
	if c.Backup.DestDir == "" {
		return fmt.Errorf("backup.dest_dir is required")
	}
	if c.Backup.Keep < -1 {
		return fmt.Errorf("backup.keep must be >= -1")
	}
	if c.Watchdog.RetryLimit < 0 {
		return fmt.Errorf("watchdog.retry_limit must be >= 0")
	}
	return nil
}

// BackupCoordinatorConfig maps the file config onto the coordinator's.
func (c *FileConfig) BackupCoordinatorConfig() backup.Config {
	return backup.Config{
		WorldDir:         c.World.Dir,
		WorldName:        c.World.Name,
		DestDir:          c.Backup.DestDir,
		ArchiveDir:       c.Backup.ArchiveDir,
		Keep:             c.Backup.Keep,
		QueryInterval:    c.Backup.QueryInterval,
		ResumePattern:    c.Backup.ResumePattern,
		ReadyPattern:     c.Backup.ReadyPattern,
		StopTimeout:      c.Backup.StopTimeout,
		ReadyTimeout:     c.Backup.ReadyTimeout,
		MetadataTail:     c.Backup.MetadataTail,
		StopBeforeBackup: c.Backup.StopBeforeBackup,
		RestartAfterFull: c.Backup.RestartAfterFull,
		Notify:           c.Backup.Notify,
		NotifyCommand:    c.Backup.NotifyCommand,
		PreHook:          c.Backup.PreHook,
		PostHook:         c.Backup.PostHook,
	}
}
