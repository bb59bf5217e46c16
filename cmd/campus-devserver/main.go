package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/campus-news/notify/internal/config"
	"github.com/campus-news/notify/internal/mock"
	"github.com/campus-news/notify/internal/notification"
	"github.com/campus-news/notify/internal/server"
)

type flags struct {
	configPath string
	port       int
	logLevel   string
	mockMode   bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:           "campus-devserver",
		Short:         "Development notification server with push socket, REST inbox and streaming chat",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			lvl, err := zerolog.ParseLevel(f.logLevel)
			if err != nil {
				return errors.Wrapf(err, "log level %q", f.logLevel)
			}
			zerolog.SetGlobalLevel(lvl)
			log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := run(cmd.Context(), f); err != nil {
				log.Error().Err(err).Msg("devserver failed")
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&f.configPath, "config", config.DefaultPath, "Path to config file")
	cmd.Flags().IntVar(&f.port, "port", 0, "Override server port")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&f.mockMode, "mock", true, "Generate mock notifications")
	return cmd
}

func run(parent context.Context, f *flags) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	if f.port > 0 {
		cfg.Server.Port = f.port
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.Logger
	store := notification.NewStore()
	hub := server.NewHub(logger)
	defer hub.Close()

	srv := server.NewServer(cfg.Server, store, hub, mock.NewAssistant(cfg.Mock.AnswerDelay), logger)
	mux := http.NewServeMux()
	srv.SetupRoutes(mux)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(ctx, cfg.Server.Host, cfg.Server.Port, mux, logger)
	})
	if f.mockMode {
		gen := mock.NewGenerator(srv, cfg.Server.Users, cfg.Mock.Interval, logger)
		g.Go(func() error {
			return gen.Run(ctx)
		})
	}

	log.Info().
		Int("port", cfg.Server.Port).
		Int("users", len(cfg.Server.Users)).
		Bool("mock", f.mockMode).
		Msg("devserver starting")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("shutting down")
	return nil
}
