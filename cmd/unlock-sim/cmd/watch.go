package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/keyguardkit/autounlock/unlock/config"
	"github.com/michaelquigley/pfxlog"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch <settings file>",
	Short: "Watch an unlock settings file and log every reload",
	Long: `Loads the settings file, then reloads it whenever it changes on disk. A change
that fails validation is logged and the previous settings stay in effect.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, err := config.NewFromFile(args[0])
		if err != nil {
			return err
		}

		log := pfxlog.Logger().WithField("path", source.Path())
		logSettings := func(settings *config.Settings) {
			log.WithField("directUnlock", settings.DirectUnlock.String()).
				WithField("directUnlockPolicy", settings.DirectUnlockPolicy.String()).
				WithField("smartUnlock", settings.SmartUnlock).
				WithField("smartUnlockPolicy", settings.SmartUnlockPolicy.String()).
				WithField("quickUnlock", settings.QuickUnlock).
				WithField("pinLength", settings.PinLength).
				Info("unlock settings")
		}
		logSettings(source.Current())
		source.OnReload(logSettings)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return source.Watch(ctx)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
