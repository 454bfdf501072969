package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deusflow/newsrepost/internal/app"
	"github.com/deusflow/newsrepost/internal/config"
	"github.com/deusflow/newsrepost/internal/storage"
)

var (
	flagDestination string
	flagLimit       int
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect or edit the ledger of published article URLs",
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print recorded URLs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, closeFn, err := openLedger(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		var urls []string
		switch l := ledger.(type) {
		case *storage.FileLedger:
			if urls, err = l.Entries(); err != nil {
				return err
			}
		case *storage.PostgresLedger:
			items, err := l.Recent(cmd.Context(), flagLimit)
			if err != nil {
				return err
			}
			for _, item := range items {
				urls = append(urls, item.URL)
			}
		default:
			return fmt.Errorf("ledger does not support listing")
		}

		for _, u := range urls {
			fmt.Fprintln(cmd.OutOrStdout(), u)
		}
		return nil
	},
}

var ledgerContainsCmd = &cobra.Command{
	Use:   "contains <url>",
	Short: "Report whether a URL was published",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, closeFn, err := openLedger(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		ok, err := ledger.Contains(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ok)
		return nil
	},
}

var ledgerAddCmd = &cobra.Command{
	Use:   "add <url>...",
	Short: "Record URLs as published without posting them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, closeFn, err := openLedger(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		for _, u := range args {
			seen, err := ledger.Contains(cmd.Context(), u)
			if err != nil {
				return err
			}
			if seen {
				continue
			}
			if err := ledger.Add(cmd.Context(), u); err != nil {
				return err
			}
		}
		return nil
	},
}

// openLedger opens the configured ledger, narrowed to --destination when set.
func openLedger(cmd *cobra.Command) (storage.Ledger, func(), error) {
	ledger, closeFn, err := app.OpenLedger(cmd.Context(), config.LoadLedger())
	if err != nil {
		return nil, nil, err
	}
	if flagDestination == "" {
		return ledger, closeFn, nil
	}
	return ledger.Scope(flagDestination), closeFn, nil
}

func init() {
	ledgerCmd.PersistentFlags().StringVar(&flagDestination, "destination", "", "use the ledger of one destination")
	ledgerListCmd.Flags().IntVar(&flagLimit, "limit", 50, "rows to list from PostgreSQL")
	ledgerCmd.AddCommand(ledgerListCmd, ledgerContainsCmd, ledgerAddCmd)
}
