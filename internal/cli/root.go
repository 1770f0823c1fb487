// Package cli implements whisperctl, the headless model manager.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"whisper-desk/internal/bootstrap"
	"whisper-desk/internal/config"
	"whisper-desk/internal/logging"
)

const closeTimeout = 10 * time.Second

// runner carries global flags and the lazily built services of one run.
type runner struct {
	settingsPath string
	logLevel     string
	assumeYes    bool

	in  io.Reader
	out io.Writer
	err io.Writer

	services *bootstrap.Services
}

// NewRootCommand builds the whisperctl command tree.
func NewRootCommand() *cobra.Command {
	r := &runner{in: os.Stdin}

	root := &cobra.Command{
		Use:           "whisperctl",
		Short:         "Manage local whisper speech models",
		Long:          "whisperctl lists, downloads, deletes and selects the speech models used by Whisper Desk.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			r.out = cmd.OutOrStdout()
			r.err = cmd.ErrOrStderr()
			if in := cmd.InOrStdin(); in != nil {
				r.in = in
			}
		},
	}
	root.PersistentFlags().StringVar(&r.settingsPath, "config", "", "settings file (default ~/.whisper-desk/settings.json)")
	root.PersistentFlags().StringVar(&r.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newListCommand(r),
		newCheckCommand(r),
		newDownloadCommand(r),
		newDeleteCommand(r),
		newSelectCommand(r),
		newHistoryCommand(r),
	)
	return root
}

// Execute runs whisperctl with os.Args.
func Execute() error {
	return NewRootCommand().Execute()
}

// withServices builds the services for one command and always closes them.
func (r *runner) withServices(ctx context.Context, fn func(*bootstrap.Services) error) (err error) {
	services, err := r.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := r.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(services)
}

func (r *runner) open(ctx context.Context) (*bootstrap.Services, error) {
	if r.services != nil {
		return r.services, nil
	}

	path := r.settingsPath
	if path == "" {
		var err error
		if path, err = config.DefaultSettingsPath(); err != nil {
			return nil, fmt.Errorf("resolve settings path: %w", err)
		}
	}
	store := config.NewJSONStore(path)
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if r.logLevel != "" {
		settings.Logging.Level = r.logLevel
	}
	log := logging.NewWithWriter(settings.Logging, r.err)
	if r.logLevel == "" {
		// Progress lines own the terminal; only problems are logged.
		log.SetLevel(logrus.WarnLevel)
	}

	services, err := bootstrap.NewServices(ctx, store, log, newPromptConfirmer(r.in, r.out, &r.assumeYes))
	if err != nil {
		return nil, err
	}
	r.services = services
	return services, nil
}

func (r *runner) close() error {
	if r.services == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	err := r.services.Close(ctx)
	r.services = nil
	return err
}
