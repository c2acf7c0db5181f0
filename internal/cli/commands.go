// Package cli implements the fsfacade command line.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/pheyse/FileSystemFacade-sub001/internal/logger"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/config"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs"
)

// options are shared by every subcommand.
type options struct {
	configPath string
	logLevel   string
	local      bool

	cfg       *config.Config
	logCloser io.Closer
}

// New returns the root command.
func New() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:               "fsfacade",
		Short:             "Work with composable virtual filesystems",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.logCloser != nil {
				return opts.logCloser.Close()
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default is $XDG_CONFIG_HOME/fsfacade/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level (DEBUG, INFO, WARN, ERROR)")
	cmd.PersistentFlags().BoolVar(&opts.local, "local", false, "use the configured stack even when a remote server is configured")

	cmd.AddCommand(serveCmd(opts))
	cmd.AddCommand(lsCmd(opts))
	cmd.AddCommand(catCmd(opts))
	cmd.AddCommand(putCmd(opts))
	cmd.AddCommand(mkdirCmd(opts))
	cmd.AddCommand(rmCmd(opts))
	cmd.AddCommand(mvCmd(opts))
	cmd.AddCommand(historyCmd(opts))
	cmd.AddCommand(configCmd(opts))

	return cmd
}

func (o *options) load() error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	closer, err := config.ConfigureLogging(cfg.Logging)
	if err != nil {
		return err
	}
	o.cfg = cfg
	o.logCloser = closer
	return nil
}

// openFS returns the remote filesystem when a server address is configured
// and the local stack otherwise. The release func must be called when done.
func (o *options) openFS(ctx context.Context) (vfs.FileSystem, func(), error) {
	if o.cfg.Client.Dial.Address != "" && !o.local {
		client, err := config.CreateClient(&o.cfg.Client)
		if err != nil {
			return nil, nil, err
		}
		logger.Debug("Using remote filesystem at %s", o.cfg.Client.Dial.Address)
		return client, func() {}, nil
	}

	stack, err := config.CreateStack(ctx, o.cfg, nil)
	if err != nil {
		return nil, nil, err
	}
	return stack.FS, func() {
		if err := stack.Close(); err != nil {
			logger.Warn("Failed to close filesystem stack: %v", err)
		}
	}, nil
}

// withFile resolves raw on the selected filesystem and runs fn.
func (o *options) withFile(ctx context.Context, raw string, fn func(f *vfs.File) error) error {
	fsys, release, err := o.openFS(ctx)
	if err != nil {
		return err
	}
	defer release()

	f, err := vfs.CreateByPath(fsys, raw)
	if err != nil {
		return err
	}
	return fn(f)
}

func exactArgs(n int, usage string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return fmt.Errorf("expected %s", usage)
		}
		return nil
	}
}
