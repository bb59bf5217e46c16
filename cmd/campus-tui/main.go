package main

import (
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/campus-news/notify/internal/app"
	"github.com/campus-news/notify/internal/channel"
	"github.com/campus-news/notify/internal/client"
	"github.com/campus-news/notify/internal/config"
)

type flags struct {
	configPath string
	baseURL    string
	token      string
	model      string
	logFile    string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:          "campus-tui",
		Short:        "Terminal client for campus news notifications and the AI assistant",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVar(&f.configPath, "config", config.DefaultPath, "Path to config file")
	cmd.Flags().StringVar(&f.baseURL, "base-url", "", "Override the API base URL")
	cmd.Flags().StringVar(&f.token, "token", "", "Session token (overrides config)")
	cmd.Flags().StringVar(&f.model, "model", "", "Chat model to request")
	cmd.Flags().StringVar(&f.logFile, "log-file", "campus-tui.log", "Log file; the terminal is owned by the UI")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	return cmd
}

func setupLogging(path, level string) (*os.File, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "log level %q", level)
	}
	zerolog.SetGlobalLevel(lvl)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open log file %s", path)
	}
	log.Logger = zerolog.New(file).With().Timestamp().Logger()
	return file, nil
}

func run(parent context.Context, f *flags) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	if f.baseURL != "" {
		cfg.Client.BaseURL = f.baseURL
	}
	if f.token != "" {
		cfg.Client.Token = f.token
	}

	logFile, err := setupLogging(f.logFile, f.logLevel)
	if err != nil {
		return err
	}
	defer logFile.Close()
	logger := log.Logger

	wsURL, err := cfg.Client.WebsocketURL()
	if err != nil {
		return err
	}

	session := client.NewSession(cfg.Client.Token)
	ch, err := channel.New(channel.Options{
		URL:         wsURL,
		Credentials: session,
		Dialer: &channel.WebsocketDialer{
			HandshakeTimeout: cfg.Client.HandshakeTimeout,
			WriteTimeout:     cfg.Client.WriteTimeout,
		},
		RetryBudget:   cfg.Client.RetryBudget,
		RetryDelay:    cfg.Client.RetryDelay,
		ProbeInterval: cfg.Client.ProbeInterval,
		ProbePayload:  cfg.Client.ProbePayload,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	bridge := app.NewBridge()
	app.Subscribe(ch, bridge)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- ch.Run(ctx) }()

	m := app.New(app.Options{
		Conn:        ch,
		API:         client.NewHTTPClient(cfg.Client.BaseURL, session, cfg.Client.RequestTimeout, logger),
		Chat:        client.NewChatClient(cfg.Client.BaseURL, session, cfg.Client.RequestTimeout, logger),
		Bridge:      bridge,
		User:        userLabel(cfg, session.Token()),
		RetryBudget: cfg.Client.RetryBudget,
		ChatModel:   f.model,

		ConnectOnStart: true,
	})

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	bridge.Attach(p)

	logger.Info().Str("url", wsURL).Msg("campus-tui started")
	_, runErr := p.Run()

	cancel()
	if err := <-runDone; err != nil {
		logger.Warn().Err(err).Msg("channel stopped")
	}
	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		return errors.Wrap(runErr, "run tui")
	}
	return nil
}

// userLabel names the logged in user when the token belongs to a configured
// dev account.
func userLabel(cfg *config.Config, token string) string {
	if token == "" {
		return "logged out"
	}
	if u, ok := cfg.Server.UserByToken(token); ok {
		return u.Name
	}
	return ""
}
