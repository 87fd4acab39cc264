package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/settled-dev/settled/internal/config"
	"github.com/settled-dev/settled/internal/importer"
	"github.com/settled-dev/settled/internal/ledger"
	"github.com/settled-dev/settled/internal/pipeline"
	"github.com/settled-dev/settled/internal/store"
)

func newImportCommand() *cobra.Command {
	var commit bool
	var format string

	cmd := &cobra.Command{
		Use:   "import <statement.csv>",
		Short: "Apportion a bank statement over outstanding debts",
		Long: `Parses a bank statement, resolves each payment to an account and
apportions it over the account's unpaid debts in chronological order.
Without --commit nothing is persisted; the command prints what a commit
would do.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if format == "" {
				format = cfg.Import.CSVFormat
			}
			return runImport(cmd, cfg, args[0], format, commit)
		},
	}

	cmd.Flags().BoolVar(&commit, "commit", false, "persist payments, splits and refunds")
	cmd.Flags().StringVar(&format, "format", "", "statement format (default from config)")

	return cmd
}

func runImport(cmd *cobra.Command, cfg *config.Config, path, format string, commit bool) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	parser := importer.DefaultRegistry().Get(format)
	if parser == nil {
		return fmt.Errorf("unknown statement format %q", format)
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

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	pl, err := pipeline.FromConfig(cfg, st, log)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening statement: %w", err)
	}
	defer f.Close()

	fb := pl.Feedback()
	raw, err := parser.Parse(f, importer.Options{Currency: cfg.Ledger.Currency, Location: loc}, fb)
	if err != nil {
		return err
	}
	if err := pl.Resolve(ctx, raw); err != nil {
		return err
	}
	if commit {
		err = pl.Commit(ctx)
	} else {
		err = pl.Review(ctx)
	}
	if err != nil {
		return err
	}

	printFeedback(cmd, fb)

	txs := pl.Transactions()
	committable := 0
	for _, tx := range txs {
		if tx.ToCommit() {
			committable++
		}
	}
	if commit {
		fmt.Printf("Committed %d of %d payment(s).\n", committable, len(txs))
	} else {
		fmt.Printf("Review only: %d of %d payment(s) would commit. Re-run with --commit to persist.\n",
			committable, len(txs))
	}
	return nil
}

func printFeedback(cmd *cobra.Command, fb *ledger.Feedback) {
	for _, m := range fb.Errors() {
		fmt.Fprintf(cmd.ErrOrStderr(), "error (line %s): %s\n", joinLines(m.Lines), m.Message)
	}
	for _, m := range fb.Warnings() {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning (line %s): %s\n", joinLines(m.Lines), m.Message)
	}
}

func joinLines(lines []int) string {
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = fmt.Sprint(l)
	}
	return strings.Join(parts, ",")
}
