package sqlagent

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/igorsilveira/sqlagent/pkg/a2a"
	"github.com/igorsilveira/sqlagent/pkg/chat"
	"github.com/igorsilveira/sqlagent/pkg/config"
	"github.com/igorsilveira/sqlagent/pkg/telemetry"
	"github.com/igorsilveira/sqlagent/pkg/tui"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive TUI chat with an A2A agent server",
	RunE:  runChat,
}

var (
	chatURL      string
	chatAskURL   bool
	chatNoStream bool
)

func init() {
	chatCmd.Flags().StringVar(&chatURL, "url", "", "agent server URL (overrides [client].url)")
	chatCmd.Flags().BoolVar(&chatAskURL, "ask-url", false, "prompt for the agent server URL before starting")
	chatCmd.Flags().BoolVar(&chatNoStream, "no-stream", false, "use tasks/send instead of tasks/sendSubscribe")

	askCmd.Flags().StringVar(&chatURL, "url", "", "agent server URL (overrides [client].url)")
	askCmd.Flags().BoolVar(&chatNoStream, "no-stream", false, "use tasks/send instead of tasks/sendSubscribe")
}

func clientEndpoint(cfg *config.Config) (string, error) {
	endpoint := cfg.Client.URL
	if chatURL != "" {
		endpoint = chatURL
	}
	if err := config.ValidateURL(endpoint); err != nil {
		return "", fmt.Errorf("server url: %w", err)
	}
	return endpoint, nil
}

func clientOptions(cfg *config.Config, extra ...a2a.ClientOption) []a2a.ClientOption {
	opts := []a2a.ClientOption{
		a2a.WithAuthToken(cfg.Client.AuthToken),
		a2a.WithTimeout(cfg.Client.Timeout.Duration),
	}
	return append(opts, extra...)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := config.Current()

	if chatAskURL {
		current := cfg.Client.URL
		if chatURL != "" {
			current = chatURL
		}
		picked, err := tui.PromptURL(current)
		if err != nil {
			return err
		}
		chatURL = picked
	}
	endpoint, err := clientEndpoint(cfg)
	if err != nil {
		return err
	}

	logger, logFile, err := telemetry.SetupFileLogger(cfg.Log.Level, cfg.Log.Format, filepath.Join(config.DataDir(), "chat.log"))
	if err != nil {
		return err
	}
	defer logFile.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = telemetry.WithLogger(ctx, logger)

	progress := &tui.Progress{}
	client := a2a.NewClient(clientOptions(cfg,
		a2a.WithLogger(logger),
		a2a.WithObserver(progress.Observe),
	)...)

	shell := chat.New(client, endpoint,
		chat.WithStream(cfg.Client.Stream && !chatNoStream),
		chat.WithLogger(logger),
	)
	return tui.Run(ctx, shell, progress)
}
