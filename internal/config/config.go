package config

import (
	"time"

	"github.com/spf13/viper"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// Config holds all runtime configuration for simgate.
type Config struct {
	Port        int
	EngineBin   string // path to the engine CLI binary
	EngineDir   string // working directory for spawned engine processes
	AnalysisBin string // path to the analysis helper executable
	DataDir     string // root for read-only file browsing

	MaxSessions    int
	MaxBufferBytes int64
	IdleTimeout    time.Duration
	CommandTimeout time.Duration

	Tokens      []string // operator-supplied bearer tokens; empty set mints one
	StderrAllow []string // substrings marking benign engine stderr lines

	LogLevel   string
	LogConsole bool
}

// Load reads configuration from viper, which merges flag values, env vars,
// and defaults (set up by the cobra command in cmd/simgate).
func Load() Config {
	return Config{
		Port:        viper.GetInt("port"),
		EngineBin:   viper.GetString("engine_bin"),
		EngineDir:   viper.GetString("engine_dir"),
		AnalysisBin: viper.GetString("analysis_bin"),
		DataDir:     viper.GetString("data_dir"),

		MaxSessions:    viper.GetInt("max_sessions"),
		MaxBufferBytes: viper.GetInt64("max_buffer"),
		IdleTimeout:    viper.GetDuration("idle_timeout"),
		CommandTimeout: viper.GetDuration("command_timeout"),

		Tokens:      viper.GetStringSlice("tokens"),
		StderrAllow: viper.GetStringSlice("stderr_allow"),

		LogLevel:   viper.GetString("log_level"),
		LogConsole: viper.GetBool("log_console"),
	}
}
