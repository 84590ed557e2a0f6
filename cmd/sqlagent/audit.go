package sqlagent

import (
	"context"
	"fmt"
	"time"

	"github.com/igorsilveira/sqlagent/pkg/audit"
	"github.com/igorsilveira/sqlagent/pkg/config"
	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "View the audit log",
	RunE:  runAudit,
}

var (
	auditEventType string
	auditSessionID string
	auditLimit     int
	auditSince     string
	auditSummary   bool
)

func init() {
	auditCmd.Flags().StringVar(&auditEventType, "type", "", "filter by event type")
	auditCmd.Flags().StringVar(&auditSessionID, "session", "", "filter by session ID")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "maximum number of entries")
	auditCmd.Flags().StringVar(&auditSince, "since", "", "show entries since (e.g. 2024-01-01)")
	auditCmd.Flags().BoolVar(&auditSummary, "summary", false, "print event counts instead of entries")
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg := config.Current()
	if cfg.Store.Driver != config.StoreSQLite {
		return errNoAuditLog
	}

	ctx := context.Background()
	be, err := openBackend(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() { _ = be.Close() }()

	var since time.Time
	if auditSince != "" {
		since, err = time.Parse("2006-01-02", auditSince)
		if err != nil {
			return fmt.Errorf("invalid --since format (use YYYY-MM-DD): %w", err)
		}
	}

	if auditSummary {
		counts, err := be.audit.Summary(ctx, since)
		if err != nil {
			return fmt.Errorf("summarizing audit log: %w", err)
		}
		for _, c := range counts {
			fmt.Printf("%-16s %d\n", c.EventType, c.Count)
		}
		return nil
	}

	entries, err := be.audit.Query(ctx, audit.Filter{
		EventType: auditEventType,
		SessionID: auditSessionID,
		Since:     since,
		Limit:     auditLimit,
	})
	if err != nil {
		return fmt.Errorf("querying audit log: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("No audit entries found.")
		return nil
	}

	for _, e := range entries {
		ts := e.Timestamp.Format("2006-01-02 15:04:05")
		fmt.Printf("[%s] %-15s session=%-10s agent=%-10s actor=%-8s %s\n",
			ts, e.EventType, e.SessionID, e.AgentID, e.Actor, e.Detail,
		)
	}

	fmt.Printf("\n%d entries\n", len(entries))
	return nil
}
