package sqlagent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/igorsilveira/sqlagent/pkg/a2a"
	"github.com/igorsilveira/sqlagent/pkg/config"
	"github.com/spf13/cobra"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List tasks recorded by the server's task store",
	RunE:  runTasks,
}

var (
	tasksSessionID string
	tasksLimit     int
	tasksPrune     time.Duration
)

func init() {
	tasksCmd.Flags().StringVar(&tasksSessionID, "session", "", "filter by session ID")
	tasksCmd.Flags().IntVar(&tasksLimit, "limit", 20, "maximum number of tasks")
	tasksCmd.Flags().DurationVar(&tasksPrune, "prune", 0, "delete tasks not updated within this duration (sqlite only)")
}

func runTasks(cmd *cobra.Command, args []string) error {
	cfg := config.Current()
	if cfg.Store.Driver == config.StoreMemory {
		return errors.New("the memory store keeps no tasks between runs")
	}

	ctx := context.Background()
	be, err := openBackend(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() { _ = be.Close() }()

	if tasksPrune > 0 {
		if be.sql == nil {
			return fmt.Errorf("--prune is not supported by the %s store; entries expire after %s", cfg.Store.Driver, cfg.Store.TTL)
		}
		n, err := be.sql.Prune(ctx, time.Now().Add(-tasksPrune))
		if err != nil {
			return fmt.Errorf("pruning tasks: %w", err)
		}
		fmt.Printf("pruned %d tasks\n", n)
		return nil
	}

	tasks, err := be.tasks.List(ctx, a2a.TaskFilter{SessionID: tasksSessionID, Limit: tasksLimit})
	if err != nil {
		return fmt.Errorf("listing tasks: %w", err)
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	for _, t := range tasks {
		ts := t.Status.Timestamp.Local().Format("2006-01-02 15:04:05")
		fmt.Printf("[%s] %-9s task=%s session=%s %s\n",
			ts, t.Status.State, t.ID, t.SessionID, summarize(t.Status.Message.LastText(), 60),
		)
	}
	fmt.Printf("\n%d tasks\n", len(tasks))
	return nil
}

func summarize(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return s
}
