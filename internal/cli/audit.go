package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcoot/islandgame/internal/config"
	"github.com/mcoot/islandgame/internal/factory"
	"github.com/mcoot/islandgame/internal/services/audit"
	"github.com/mcoot/islandgame/internal/services/scoring"
)

func newAuditCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Check stored games for inconsistencies",
		Long: `Open the server's storage directly and re-check every finished game.

Storage is selected the same way the server selects it: the YAML file given
by --config (or $ISLANDGAME_CONFIG) followed by environment overrides such
as STORAGE_TYPE, REDIS_URL and DATABASE_URL. Exits non-zero when issues are
found.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			serverCfg, err := config.Load(configPath, os.Getenv)
			if err != nil {
				return err
			}
			logger, err := serverCfg.Log.NewLogger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			store, err := factory.OpenStorage(factory.ConfigFrom(serverCfg, logger))
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			if closer, ok := store.(io.Closer); ok {
				defer func() { _ = closer.Close() }()
			}

			report, err := audit.New(store, scoring.New(), logger).Run(cmd.Context())
			if err != nil {
				return err
			}

			NewOutput(cfg.Output).Print(report)
			if !report.OK() {
				return fmt.Errorf("%d issues found", len(report.Issues))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Server config file (env: ISLANDGAME_CONFIG)")

	return cmd
}
