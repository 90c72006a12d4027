package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/calder-analytics/geniebot/internal/backend"
	"github.com/calder-analytics/geniebot/internal/bridge"
	slackadapter "github.com/calder-analytics/geniebot/internal/bridge/slack"
	"github.com/calder-analytics/geniebot/internal/config"
	"github.com/calder-analytics/geniebot/internal/genie"
	"github.com/calder-analytics/geniebot/internal/health"
	"github.com/calder-analytics/geniebot/internal/serving"
	"github.com/calder-analytics/geniebot/internal/store"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot daemon",
		Long:  "Connects to Slack over Socket Mode and answers questions via the configured Databricks backend.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "geniebot.yaml", "path to config file")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	httpClient := databricksClient(cfg)

	querier, feedback, err := createBackend(cfg, httpClient)
	if err != nil {
		return err
	}

	adapter, err := slackadapter.New(slackadapter.AdapterOpts{
		AppToken: cfg.Slack.AppToken,
		BotToken: cfg.Slack.BotToken,
	})
	if err != nil {
		return err
	}

	orchestrator, err := bridge.NewOrchestrator(bridge.OrchestratorOpts{
		Adapter:  adapter,
		Querier:  querier,
		Feedback: feedback,
		Store:    store.NewMemory(),
		Out:      cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}

	daemon, err := bridge.NewDaemon(bridge.DaemonOpts{
		Config:       cfg,
		Adapter:      adapter,
		Orchestrator: orchestrator,
		Out:          cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}

	healthSrv, err := health.New(cfg.Port)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle OS signals for graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	go func() {
		if err := healthSrv.Run(ctx); err != nil {
			log.Printf("health server: %v", err)
		}
	}()

	return daemon.Run(ctx)
}

// databricksClient builds an authenticated HTTP client for the workspace:
// OAuth M2M client credentials when configured, otherwise a static bearer
// token.
func databricksClient(cfg *config.Config) *http.Client {
	db := cfg.Databricks
	if db.ClientID != "" && db.ClientSecret != "" {
		cc := clientcredentials.Config{
			ClientID:     db.ClientID,
			ClientSecret: db.ClientSecret,
			TokenURL:     db.Host + "/oidc/v1/token",
			Scopes:       []string{"all-apis"},
		}
		client := cc.Client(context.Background())
		client.Timeout = 2 * time.Minute
		return client
	}

	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: db.Token})
	return &http.Client{
		Timeout:   2 * time.Minute,
		Transport: &oauth2.Transport{Source: src},
	}
}

// createBackend builds the configured backend variant. Only the Genie
// variant has a feedback surface.
func createBackend(cfg *config.Config, httpClient *http.Client) (backend.Querier, backend.FeedbackSender, error) {
	switch cfg.Backend {
	case config.BackendGenie:
		client, err := genie.New(genie.Opts{
			Host:         cfg.Databricks.Host,
			SpaceID:      cfg.Genie.SpaceID,
			HTTPClient:   httpClient,
			MaxWait:      time.Duration(cfg.Genie.MaxWaitSeconds) * time.Second,
			PollInterval: time.Duration(cfg.Genie.PollIntervalSeconds) * time.Second,
		})
		if err != nil {
			return nil, nil, err
		}
		return client, client, nil

	case config.BackendServing:
		client, err := serving.New(serving.Opts{
			Host:         cfg.Databricks.Host,
			Endpoint:     cfg.Serving.Endpoint,
			HTTPClient:   httpClient,
			SystemPrompt: cfg.Serving.SystemPrompt,
			MaxTokens:    cfg.Serving.MaxTokens,
			Temperature:  cfg.Serving.Temperature,
		})
		if err != nil {
			return nil, nil, err
		}
		return client, nil, nil

	default:
		return nil, nil, fmt.Errorf("unsupported backend %q", cfg.Backend)
	}
}
