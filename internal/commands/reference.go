package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/settled-dev/settled/internal/ogm"
	"github.com/settled-dev/settled/internal/store"
)

func newReferenceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reference",
		Short: "Work with structured payment references",
	}
	cmd.AddCommand(newReferenceCheckCommand())
	cmd.AddCommand(newReferenceAccountCommand())
	return cmd
}

func newReferenceCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check <reference>",
		Short: "Validate a structured reference and print its canonical form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			normalized, err := ogm.Normalize(args[0])
			if err != nil {
				return err
			}
			fmt.Println(normalized)
			return nil
		},
	}
}

func newReferenceAccountCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "account <account-id>",
		Short: "Print the payment tracking reference for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid account id %q", args[0])
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			if cfg.Server.DatabaseURL == "" {
				return fmt.Errorf("server.database_url is not configured")
			}

			ctx := cmd.Context()
			st, err := store.NewPostgres(ctx, cfg.Server.DatabaseURL, loc)
			if err != nil {
				return err
			}
			defer st.Close()

			accounts, err := st.ByIDs(ctx, []int64{id})
			if err != nil {
				return err
			}
			if len(accounts) == 0 {
				return fmt.Errorf("account %d not found", id)
			}
			fmt.Println(accounts[0].TrackingNumber(cfg.Ledger.TrackingPrefix))
			return nil
		},
	}
}
