package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/agentica-ai/knowledgebase/internal/app"
	"github.com/agentica-ai/knowledgebase/internal/config"
	"github.com/agentica-ai/knowledgebase/internal/logger"
)

var (
	userID  string
	agentID string
)

var rootCmd = &cobra.Command{
	Use:           "kbctl",
	Short:         "Manage an agent's knowledge base",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "", "owner user id")
	rootCmd.PersistentFlags().StringVarP(&agentID, "agent", "a", "", "agent id")
}

// openApp loads configuration and builds the shared components. The caller closes the App.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format)

	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL not set")
	}
	if cfg.AI.APIKey == "" {
		return nil, errors.New("GEMINI_API_KEY not set")
	}
	return app.NewApp(ctx, cfg)
}

func requireFlags(user, agent bool) error {
	if user && userID == "" {
		return errors.New("--user is required")
	}
	if agent && agentID == "" {
		return errors.New("--agent is required")
	}
	return nil
}
