package sqlagent

import (
	"fmt"
	"net/http"
	"time"

	"github.com/igorsilveira/sqlagent/pkg/config"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the health of the local SQL agent server",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg := config.Current()
	client := &http.Client{Timeout: 3 * time.Second}

	for _, probe := range []string{"healthz", "readyz"} {
		url := fmt.Sprintf("http://127.0.0.1:%d/%s", cfg.Server.Port, probe)
		resp, err := client.Get(url)
		if err != nil {
			fmt.Println("status: server is not running")
			return nil
		}
		resp.Body.Close()

		if resp.StatusCode == http.StatusOK {
			fmt.Printf("%s: ok\n", probe)
		} else {
			fmt.Printf("%s: server returned %s\n", probe, resp.Status)
		}
	}
	return nil
}
