package sqlagent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/igorsilveira/sqlagent/pkg/a2a"
	"github.com/igorsilveira/sqlagent/pkg/config"
	"github.com/spf13/cobra"
)

var cardCmd = &cobra.Command{
	Use:   "card",
	Short: "Fetch and print the agent card of an A2A server",
	RunE:  runCard,
}

func init() {
	cardCmd.Flags().StringVar(&chatURL, "url", "", "agent server URL (overrides [client].url)")
}

func runCard(cmd *cobra.Command, args []string) error {
	cfg := config.Current()
	endpoint, err := clientEndpoint(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	card, err := a2a.NewClient(clientOptions(cfg)...).FetchAgentCard(ctx, endpoint)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(card, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
