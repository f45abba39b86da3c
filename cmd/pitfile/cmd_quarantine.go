package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/pitfile/internal/errx"
	"github.com/jingkaihe/pitfile/pkg/quarantine"
)

var quarantineCmd = &cobra.Command{
	Use:   "quarantine",
	Short: "Inspect quarantined files",
}

var quarantineLsCmd = &cobra.Command{
	Use:     "ls <repository>",
	Aliases: []string{"list"},
	Short:   "List quarantined files recorded in the ledger",
	Args:    cobra.ExactArgs(1),
	RunE:    runQuarantineLs,
}

func init() {
	quarantineCmd.AddCommand(quarantineLsCmd)
	rootCmd.AddCommand(quarantineCmd)
}

func runQuarantineLs(cmd *cobra.Command, args []string) error {
	repo, err := resolveRepository(args[0])
	if err != nil {
		return err
	}
	area := quarantine.AreaFor(repo)
	path := quarantine.LedgerPath(area)

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(cmd.OutOrStdout(), "no quarantined files in %s\n", area)
		return nil
	}

	ledger, err := quarantine.OpenLedger(path)
	if err != nil {
		return errx.Wrap(ErrOpenLedger, err)
	}
	defer ledger.Close()

	entries, err := ledger.List(cmd.Context())
	if err != nil {
		return errx.Wrap(ErrListLedger, err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "QUARANTINED\tPATH\tSIZE\tDOMAIN\tPATTERN\tDIGEST")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			e.QuarantinedAt.Local().Format(time.DateTime),
			e.Path,
			e.Size,
			e.Domain,
			e.Pattern,
			e.Digest,
		)
	}
	return w.Flush()
}
