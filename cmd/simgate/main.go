package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"simgate/internal/admission"
	"simgate/internal/analysis"
	"simgate/internal/auth"
	"simgate/internal/config"
	"simgate/internal/engine"
	"simgate/internal/fsbrowse"
	"simgate/internal/hub"
	"simgate/internal/log"
	"simgate/internal/mission"
	"simgate/internal/stream"
	"simgate/internal/web"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "simgate",
		Short: "Session gateway for simulation engine CLIs",
		RunE:  run,
	}

	f := rootCmd.Flags()
	f.Int("port", 8080, "HTTP listen port")
	f.String("engine-bin", "simengine", "path to the engine CLI binary")
	f.String("engine-dir", ".", "working directory for spawned engine processes")
	f.String("analysis-bin", "simanalyze", "path to the analysis helper executable")
	f.String("data-dir", "./data", "root directory for read-only file browsing")
	f.Int("max-sessions", 50, "maximum concurrent control sessions")
	f.Int64("max-buffer", stream.DefaultMaxBuffer, "maximum buffered bytes per engine output line")
	f.Duration("idle-timeout", time.Hour, "close a session after this much client silence")
	f.Duration("command-timeout", time.Minute, "per-command response deadline (0 disables)")
	f.StringSlice("tokens", nil, "valid bearer tokens (one is minted if empty)")
	f.StringSlice("stderr-allow", nil, "substrings marking benign engine stderr lines")
	f.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	f.Bool("log-console", false, "human-readable console logs instead of JSON")

	// Viper keys use underscores so they match the env var suffix after
	// stripping the SIMGATE_ prefix.
	bindFlag := func(viperKey, flagName string) {
		_ = viper.BindPFlag(viperKey, f.Lookup(flagName))
	}
	bindFlag("port", "port")
	bindFlag("engine_bin", "engine-bin")
	bindFlag("engine_dir", "engine-dir")
	bindFlag("analysis_bin", "analysis-bin")
	bindFlag("data_dir", "data-dir")
	bindFlag("max_sessions", "max-sessions")
	bindFlag("max_buffer", "max-buffer")
	bindFlag("idle_timeout", "idle-timeout")
	bindFlag("command_timeout", "command-timeout")
	bindFlag("tokens", "tokens")
	bindFlag("stderr_allow", "stderr-allow")
	bindFlag("log_level", "log-level")
	bindFlag("log_console", "log-console")

	viper.SetEnvPrefix("SIMGATE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	log.Configure(log.Config{Level: cfg.LogLevel, Console: cfg.LogConsole})
	logger := log.WithComponent("main")
	logger.Info().
		Str("version", config.Version).
		Int("port", cfg.Port).
		Str("engine_bin", cfg.EngineBin).
		Int("max_sessions", cfg.MaxSessions).
		Msg("simgate starting")

	tokens := auth.NewRegistry(cfg.Tokens)
	hubReg := hub.NewRegistry()
	admit := admission.NewController(cfg.MaxSessions)

	browser, err := fsbrowse.New(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("data dir: %w", err)
	}

	// Launch verifies the engine is actually runnable before a mission is
	// reported as running.
	missions := mission.NewStore(func(ctx context.Context, m mission.Mission) error {
		if !engine.KnownEngine(m.Engine) {
			return fmt.Errorf("unknown engine %q", m.Engine)
		}
		if _, err := exec.LookPath(cfg.EngineBin); err != nil {
			return fmt.Errorf("engine binary: %w", err)
		}
		return nil
	})
	invoker := analysis.NewInvoker(cfg.AnalysisBin, 0)

	spawn := func(workDir string) (engine.Child, error) {
		return engine.Spawn(cfg.EngineBin, nil, workDir)
	}

	server := web.New(cfg, web.Deps{
		Tokens:   tokens,
		Hub:      hubReg,
		Admit:    admit,
		Missions: missions,
		Browser:  browser,
		Analysis: invoker,
		Spawn:    spawn,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("web server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("web server shutdown")
	}
	return nil
}
