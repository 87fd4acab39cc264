package commands

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/settled-dev/settled/internal/api"
	"github.com/settled-dev/settled/internal/importer"
	"github.com/settled-dev/settled/internal/store"
)

func newServeCommand() *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the payment pipeline HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
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
			if listenAddr != "" {
				cfg.Server.ListenAddr = listenAddr
			}

			log := slog.New(slog.NewJSONHandler(os.Stderr, nil))
			st, err := store.NewPostgres(cmd.Context(), cfg.Server.DatabaseURL, loc)
			if err != nil {
				return err
			}
			defer st.Close()

			handler, err := api.NewHandler(cfg, st, importer.DefaultRegistry(), log)
			if err != nil {
				return err
			}

			log.Info("server starting", "addr", cfg.Server.ListenAddr)
			return http.ListenAndServe(cfg.Server.ListenAddr, handler.Router())
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (default from config)")

	return cmd
}
