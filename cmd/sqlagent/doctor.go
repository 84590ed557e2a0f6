package sqlagent

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/igorsilveira/sqlagent/pkg/config"
	redisstore "github.com/igorsilveira/sqlagent/pkg/store/redis"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose issues with the sqlagent installation",
	RunE:  runDoctor,
}

type checkResult struct {
	name   string
	ok     bool
	detail string
}

func runDoctor(cmd *cobra.Command, args []string) error {
	fmt.Printf("sqlagent doctor v%s\n", version)
	fmt.Printf("Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("Go: %s\n\n", runtime.Version())

	cfg := config.Current()
	checks := []checkResult{
		checkDataDir(),
		checkConfig(),
		checkAPIKey(cfg.Agent),
		checkSchema(cfg.Agent.SchemaPath),
		checkStore(cfg.Store),
		checkServer(cfg.Server.Port),
	}

	passed, failed := 0, 0
	for _, c := range checks {
		status := "✓"
		if !c.ok {
			status = "✗"
			failed++
		} else {
			passed++
		}
		fmt.Printf("  %s %s: %s\n", status, c.name, c.detail)
	}

	fmt.Printf("\n%d passed, %d failed\n", passed, failed)

	if failed > 0 {
		return fmt.Errorf("%d checks failed", failed)
	}
	return nil
}

func checkDataDir() checkResult {
	dir := config.DataDir()
	info, err := os.Stat(dir)
	if err != nil {
		return checkResult{"Data directory", false, fmt.Sprintf("%s does not exist", dir)}
	}
	if !info.IsDir() {
		return checkResult{"Data directory", false, fmt.Sprintf("%s is not a directory", dir)}
	}
	return checkResult{"Data directory", true, dir}
}

func checkConfig() checkResult {
	path := cfgFile
	if path == "" {
		path = config.DefaultConfigPath()
	}
	if _, err := os.Stat(path); err != nil {
		return checkResult{"Config file", true, fmt.Sprintf("%s not found (using defaults)", path)}
	}
	return checkResult{"Config file", true, path}
}

func checkAPIKey(cfg config.AgentConfig) checkResult {
	if cfg.APIKeyEnv == "" {
		return checkResult{"LLM API key", true, fmt.Sprintf("not required by %s", cfg.Provider)}
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return checkResult{"LLM API key", false, fmt.Sprintf("%s not set", cfg.APIKeyEnv)}
	}
	return checkResult{"LLM API key", true, fmt.Sprintf("%s set (%d chars)", cfg.APIKeyEnv, len(key))}
}

func checkSchema(path string) checkResult {
	if path == "" {
		return checkResult{"Schema", true, "built-in sample schema"}
	}
	info, err := os.Stat(path)
	if err != nil {
		return checkResult{"Schema", false, fmt.Sprintf("%s not readable", path)}
	}
	return checkResult{"Schema", true, fmt.Sprintf("%s (%d bytes)", path, info.Size())}
}

func checkStore(cfg config.StoreConfig) checkResult {
	switch cfg.Driver {
	case config.StoreMemory:
		return checkResult{"Task store", true, "in memory (tasks are lost on restart)"}
	case config.StoreRedis:
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		rs, err := redisstore.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.TTL.Duration)
		if err != nil {
			return checkResult{"Task store", false, fmt.Sprintf("redis at %s: %s", cfg.RedisAddr, err)}
		}
		_ = rs.Close()
		return checkResult{"Task store", true, fmt.Sprintf("redis at %s", cfg.RedisAddr)}
	}
	info, err := os.Stat(cfg.DSN)
	if err != nil {
		return checkResult{"Task store", true, fmt.Sprintf("%s not found (will be created on first start)", cfg.DSN)}
	}
	return checkResult{"Task store", true, fmt.Sprintf("%s (%d KB)", cfg.DSN, info.Size()/1024)}
}

func checkServer(port int) checkResult {
	url := fmt.Sprintf("http://127.0.0.1:%d/healthz", port)

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return checkResult{"Server", false, "not running"}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return checkResult{"Server", true, fmt.Sprintf("running at :%d", port)}
	}
	return checkResult{"Server", false, fmt.Sprintf("unhealthy (status %d)", resp.StatusCode)}
}
