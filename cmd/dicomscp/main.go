package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/caio-sobreiro/dicomscp/config"
	"github.com/caio-sobreiro/dicomscp/logging"
)

var version = "dev"

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	v          *viper.Viper
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{v: config.New()}
	def := config.Default()

	cmd := &cobra.Command{
		Use:           "dicomscp",
		Short:         "DICOM storage SCP and network tools",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("DICOMSCP_CONFIG"), "YAML configuration file")
	cmd.PersistentFlags().String("log-level", def.LogLevel, "debug, info, warn or error")
	cmd.PersistentFlags().String("log-format", def.LogFormat, "json or console")

	cmd.AddCommand(
		newServeCommand(opts),
		newEchoCommand(opts),
		newStoreCommand(opts),
		newFindCommand(opts),
	)
	return cmd
}

// load resolves the configuration for cmd and builds its logger.
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.v, o.configPath, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(logging.WithLogLevel(cfg.LogLevel), logging.WithLogFormat(cfg.LogFormat))
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
