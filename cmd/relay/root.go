package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/chatrelay/chatgpt-relay/internal/conf"
	"github.com/chatrelay/chatgpt-relay/internal/data"
	"github.com/chatrelay/chatgpt-relay/internal/logging"
	"github.com/chatrelay/chatgpt-relay/internal/server"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "relay",
		Short:        "Relay chat messages to ChatGPT and send back the replies",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.PersistentFlags().String("settings", conf.DefaultSettingsPath, "Path to the settings file")

	cmd.AddCommand(newSettingsCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// loadSettings reads the file named by --settings after loading .env into the environment
func loadSettings(cmd *cobra.Command) (*conf.Config, error) {
	envErr := godotenv.Load()

	path, _ := cmd.Flags().GetString("settings")
	cfg, err := conf.Load(path)
	if errors.Is(err, conf.ErrSettingsNotFound) {
		if cmd.Flags().Changed("settings") {
			return nil, errors.New("the file specified by the --settings parameter does not exist")
		}
		return nil, errors.New("the settings.yaml file does not exist")
	}
	if err != nil {
		return nil, err
	}

	if err := logging.Init(cfg.Log); err != nil {
		return nil, err
	}
	if envErr != nil {
		log := logging.Component("relay")
		log.Debug().Msg("no .env file found, using environment variables")
	}
	return cfg, nil
}

func run(parent context.Context, cfg *conf.Config) error {
	defer logging.Close()
	log := logging.Component("relay")

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate(); err != nil {
		return initFailed(ctx, cfg, log, err)
	}

	repos, err := data.NewRepositories(cfg, logging.Get())
	if err != nil {
		return initFailed(ctx, cfg, log, err)
	}

	srv := server.NewRelayServer(cfg, repos, os.Stdout, logging.Get())
	err = srv.Start(ctx)
	log.Info().Msg("shutting down")
	srv.Stop()
	if err != nil {
		return initFailed(ctx, cfg, log, err)
	}
	return nil
}

// initFailed logs err and, unless exit_on_init_error is set, keeps the process
// alive until it is signalled.
func initFailed(ctx context.Context, cfg *conf.Config, log zerolog.Logger, err error) error {
	log.Error().Err(err).Msg("relay failed to start")
	if cfg.ExitOnInitError {
		return err
	}
	<-ctx.Done()
	return nil
}
