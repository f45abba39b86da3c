package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/pitfile/internal/errx"
	"github.com/jingkaihe/pitfile/pkg/config"
)

var checkCmd = &cobra.Command{
	Use:   "check <repository>",
	Short: "Validate a repository's .pitfilerc",
	Long:  "Validate <repository>/.pitfilerc, writing the default policy first if there is none.",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	repo, err := resolveRepository(args[0])
	if err != nil {
		return err
	}
	path := config.PathFor(repo)

	created, err := config.Materialize(path)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(cmd.OutOrStdout(), "wrote default policy to %s\n", path)
	}

	cfg, err := config.LoadFile(path, config.ResolveHostname)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
		return exitWith(2, errx.Wrap(ErrPolicyInvalid, err))
	}

	out := cmd.OutOrStdout()
	p := cfg.Policy
	fmt.Fprintf(out, "%s: ok\n", path)
	fmt.Fprintf(out, "  recipient:          %s\n", cfg.Recipient)
	fmt.Fprintf(out, "  sender:             %s\n", cfg.Sender())
	fmt.Fprintf(out, "  excerpt size:       %d\n", cfg.ExcerptSize)
	fmt.Fprintf(out, "  loaded at:          %s\n", cfg.LoadedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "  path whitelist:     %d\n", len(p.Path.Whitelist))
	fmt.Fprintf(out, "  path blacklist:     %d\n", len(p.Path.Blacklist))
	fmt.Fprintf(out, "  content whitelist:  %d\n", len(p.Content.Whitelist))
	fmt.Fprintf(out, "  content blacklist:  %d\n", len(p.Content.Blacklist))
	return nil
}
