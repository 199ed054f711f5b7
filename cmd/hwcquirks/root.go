package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	hwc "github.com/bnema/hwcomposer"
)

var (
	verbose    bool
	configFile string
	v          = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "hwcquirks",
	Short: "Inspect the hardware composer quirks of an Android device",
	Long: `hwcquirks evaluates the per-device quirk table used by the hardware
composer layer. Device and GPU identity come from getprop unless given on
the command line; every quirk can be switched with the flags below, an
HWC_* environment variable, or hwc-quirks.yaml.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			hwc.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
		}
		if configFile != "" {
			v.SetConfigFile(configFile)
		}
		return v.BindPFlags(cmd.Flags())
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a quirks config file")
	hwc.RegisterQuirkFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(quirksCmd, alignCmd)
}
