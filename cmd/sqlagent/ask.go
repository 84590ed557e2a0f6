package sqlagent

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/igorsilveira/sqlagent/pkg/a2a"
	"github.com/igorsilveira/sqlagent/pkg/chat"
	"github.com/igorsilveira/sqlagent/pkg/config"
	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Send one question to an agent server and print the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg := config.Current()
	endpoint, err := clientEndpoint(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	client := a2a.NewClient(clientOptions(cfg)...)
	shell := chat.New(client, endpoint, chat.WithStream(cfg.Client.Stream && !chatNoStream))

	turn, err := shell.Submit(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	fmt.Println(chat.Describe(turn, nil))
	return nil
}
