package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirerelay/internal/app"
	"github.com/vovakirdan/wirerelay/internal/config"
	applog "github.com/vovakirdan/wirerelay/internal/log"
	"github.com/vovakirdan/wirerelay/internal/version"
)

type serveFlags struct {
	configPath  string
	addr        string
	logLevel    string
	logFormat   string
	redisAddr   string
	jwtRequired bool
}

func newRootCmd() *cobra.Command {
	flags := &serveFlags{}

	root := &cobra.Command{
		Use:           "wirerelay",
		Short:         "WebRTC signaling relay over WebSocket rooms",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, flags)
		},
	}
	bindServeFlags(root, flags)

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the signaling relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, flags)
		},
	}
	bindServeFlags(serve, flags)

	root.AddCommand(serve, newVersionCmd())
	return root
}

func bindServeFlags(cmd *cobra.Command, f *serveFlags) {
	fs := cmd.Flags()
	fs.StringVarP(&f.configPath, "config", "c", "", "path to config.yaml")
	fs.StringVar(&f.addr, "addr", "", "HTTP listen address")
	fs.StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(&f.logFormat, "log-format", "", "log format (console, json)")
	fs.StringVar(&f.redisAddr, "redis-addr", "", "redis address for multi-instance fan-out")
	fs.BoolVar(&f.jwtRequired, "jwt-required", false, "require a JWT on websocket and API routes")
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "wirerelay "+version.String())
		},
	}
}

func runServe(cmd *cobra.Command, f *serveFlags) error {
	// A missing .env is fine.
	_ = godotenv.Load()

	cfg, path, err := loadConfig(cmd, f)
	if err != nil {
		return err
	}

	logger := applog.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info().
		Str("config", path).
		Str("version", version.Version).
		Bool("jwt_required", cfg.JWTRequired).
		Msg("starting wirerelay")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, &cfg, logger)
	if err != nil {
		return err
	}

	if err := application.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// loadConfig resolves file and env values, applies flags and validates the result.
func loadConfig(cmd *cobra.Command, f *serveFlags) (config.Config, string, error) {
	bootLog := applog.New("info", "console")
	cfg, path, err := config.Load(bootLog, f.configPath)
	if err != nil {
		return cfg, path, err
	}
	applyFlags(cmd, f, &cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, path, err
	}
	return cfg, path, nil
}

// applyFlags lets explicitly set flags win over file and env values.
func applyFlags(cmd *cobra.Command, f *serveFlags, cfg *config.Config) {
	fs := cmd.Flags()

	var override config.Config
	if fs.Changed("addr") {
		override.Addr = f.addr
	}
	if fs.Changed("log-level") {
		override.LogLevel = f.logLevel
	}
	if fs.Changed("log-format") {
		override.LogFormat = f.logFormat
	}
	if fs.Changed("redis-addr") {
		override.RedisAddr = f.redisAddr
	}
	cfg.UpdateFrom(override)

	// UpdateFrom skips booleans.
	if fs.Changed("jwt-required") {
		cfg.JWTRequired = f.jwtRequired
	}
}
