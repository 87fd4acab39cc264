package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/settled-dev/settled/internal/config"
)

func newInitCommand() *cobra.Command {
	var currency string
	var timezone string
	var refundCategory string

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Write a default settled.yaml",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			absDir, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}
			return runInit(absDir, currency, timezone, refundCategory)
		},
	}

	cmd.Flags().StringVar(&currency, "currency", "EUR", "ledger currency")
	cmd.Flags().StringVar(&timezone, "timezone", "Europe/Brussels", "ledger timezone")
	cmd.Flags().StringVar(&refundCategory, "refund-category", "", "debt category for overpayment refunds")

	return cmd
}

func runInit(dir, currency, timezone, refundCategory string) error {
	path := filepath.Join(dir, "settled.yaml")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	cfg := config.Default()
	cfg.Ledger.Currency = currency
	cfg.Ledger.Timezone = timezone
	cfg.Ledger.RefundCategory = refundCategory
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	if err := config.Save(path, cfg); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("Initialized %s\n", path)
	return nil
}
