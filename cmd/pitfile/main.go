package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "pitfile <repository> <mountpoint>",
	Short: "Mirror a directory tree and quarantine files that break policy",
	Long: `pitfile mounts a mirror of <repository> at <mountpoint>. Every file written
through the mount is checked against the path and content rules in
<repository>/.pitfilerc when it is closed. Offending files are moved to
<repository>.quarantine and reported by mail.

Send SIGHUP to reload .pitfilerc. SIGINT or SIGTERM unmounts.`,
	Args:          cobra.ExactArgs(2),
	SilenceErrors: true,
	RunE:          runMount,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("log-level", "info", "Log level (debug, info, warn, error)")
	pf.Bool("syslog", false, "Send logs to the system log")
	viper.BindPFlag("log-level", pf.Lookup("log-level"))
	viper.BindPFlag("syslog", pf.Lookup("syslog"))

	viper.SetEnvPrefix("pitfile")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
