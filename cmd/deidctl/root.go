package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/labsight/deidgate/internal/config"
	"github.com/labsight/deidgate/internal/database"
	"github.com/labsight/deidgate/internal/domain"
	"github.com/labsight/deidgate/internal/store"
)

type cli struct {
	configFile string
	logger     *logrus.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{logger: logrus.New()}

	root := &cobra.Command{
		Use:          "deidctl",
		Short:        "Operate the deidgate lab analysis gateway",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&c.configFile, "config", "c", "", "path to a YAML configuration file")

	root.AddCommand(c.migrateCmd())
	root.AddCommand(c.exportCmd())
	root.AddCommand(c.importCmd())
	root.AddCommand(scanCmd())
	root.AddCommand(mcpCmd())

	return root
}

func (c *cli) loadConfig() (*domain.Config, error) {
	m, err := config.NewManager(c.configFile)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	cfg := m.GetConfig()
	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		c.logger.SetLevel(level)
	}
	return cfg, nil
}

// openStore opens the configured result store. The returned func releases
// everything it opened.
func (c *cli) openStore(ctx context.Context, cfg *domain.Config) (store.Store, func(), error) {
	if cfg.Store.Driver == "sqlite" {
		s, err := store.NewSQLiteStore(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	}

	db, err := database.NewConnection(ctx, database.ConfigFrom(cfg.Database), c.logger)
	if err != nil {
		return nil, nil, err
	}
	return store.NewPostgresStore(db.Pool, c.logger), db.Close, nil
}
