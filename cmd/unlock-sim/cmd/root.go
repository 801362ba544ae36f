package cmd

import (
	"github.com/michaelquigley/pfxlog"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	verbose      bool
	logFormatter string
)

var rootCmd = &cobra.Command{
	Use:   "unlock-sim",
	Short: "Simulate and validate automatic unlock decisions",
	Long: `unlock-sim drives the unlock decision engine with scripted lifecycle signals,
validates unlock settings files and watches them for changes.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initLogging()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&logFormatter, "log-formatter", "pfxlog", "log format (pfxlog|json|text)")
}

func Execute() error {
	return rootCmd.Execute()
}

func initLogging() {
	logLevel := logrus.InfoLevel
	if verbose {
		logLevel = logrus.DebugLevel
	}

	options := pfxlog.DefaultOptions().SetTrimPrefix("github.com/keyguardkit/").NoColor()
	pfxlog.GlobalInit(logLevel, options)

	switch logFormatter {
	case "json":
		pfxlog.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z"})
	case "text":
		pfxlog.SetFormatter(&logrus.TextFormatter{})
	default:
		pfxlog.SetFormatter(pfxlog.NewFormatter(options.StartingToday()))
	}
}
