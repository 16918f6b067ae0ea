// Package cmd defines and implements the CLI commands of the harvester
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/webcam-harvester/internal/app"
	"github.com/JakeFAU/webcam-harvester/internal/config"
	"github.com/JakeFAU/webcam-harvester/internal/logging"
)

type envKeyType string

const envKey envKeyType = "env"

// env carries what the root command resolved for its subcommands.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

// newApp is the service factory. Tests may replace it.
var newApp = app.New

// configKeyAnnotation marks a flag that overrides a config key.
const configKeyAnnotation = "harvester_config_key"

// newRootCmd builds the command tree. Flags of the executing subcommand are
// bound to one Viper instance so they override the file and environment.
func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Harvests still frames from public webcams.",
		Long: `harvester scrapes webcam metadata from a source, caches it locally and
periodically stores the current still image of every live webcam as a
timestamped frame.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := bindConfigFlags(v, cmd); err != nil {
				return err
			}
			cfg, err := config.LoadWith(v, cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Config{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), envKey, &env{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e, ok := cmd.Context().Value(envKey).(*env); ok {
				_ = e.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")

	cmd.AddCommand(
		newScrapeFramesCmd(),
		newScrapeMetadataCmd(),
		newListMetadataCmd(),
		newFramesCmd(),
		newServeCmd(),
	)
	return cmd
}

// Execute runs the CLI until it finishes or the process is interrupted.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "harvester:", err)
		return 1
	}
	return 0
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKey).(*env)
	if !ok || e == nil {
		return nil, errors.New("configuration not loaded")
	}
	return e, nil
}

// withApp opens the services, runs fn and always closes them, so the
// metadata store is flushed exactly once even when fn fails.
func withApp(cmd *cobra.Command, fn func(context.Context, *app.App) error) (err error) {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, e.cfg, e.logger)
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	defer func() {
		if closeErr := a.Close(context.WithoutCancel(ctx)); closeErr != nil {
			e.logger.Error("failed to close services", zap.Error(closeErr))
			err = errors.Join(err, closeErr)
		}
	}()
	return fn(ctx, a)
}

// configFlag marks flag as an override for the config key.
func configFlag(cmd *cobra.Command, key, flag string) {
	if err := cmd.Flags().SetAnnotation(flag, configKeyAnnotation, []string{key}); err != nil {
		panic(fmt.Sprintf("annotate flag %s: %v", flag, err))
	}
}

func bindConfigFlags(v *viper.Viper, cmd *cobra.Command) error {
	var errs []error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		keys, ok := f.Annotations[configKeyAnnotation]
		if !ok || len(keys) == 0 {
			return
		}
		if err := v.BindPFlag(keys[0], f); err != nil {
			errs = append(errs, fmt.Errorf("bind flag %s: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}
