package cmd

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ongarde/ongarde/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the OnGarde server is running",
	Long: `Report whether the OnGarde server is running by checking its PID file
and, if alive, querying its /health endpoint.

Examples:
  # Check server status
  ongarde status`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	pidPath := pidFilePath()
	pid := readPIDFile(pidPath)
	if pid == 0 {
		fmt.Println("stopped (no PID file)")
		return nil
	}

	proc, err := os.FindProcess(pid)
	if err != nil || !processIsAlive(proc) {
		fmt.Printf("stopped (stale PID file at %s)\n", pidPath)
		return nil
	}

	fmt.Printf("running (PID %d)\n", pid)

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Println("could not load config to query /health:", err)
		return nil
	}

	if err := printHealth(cfg.Proxy.Host, cfg.Proxy.Port); err != nil {
		fmt.Println("could not reach /health:", err)
	}
	return nil
}

func printHealth(host string, port int) error {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/health", addr))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return err
	}
	for _, key := range []string{"status", "scanner_mode", "deployment_mode", "avg_scan_ms", "queue_depth"} {
		if v, ok := body[key]; ok {
			fmt.Printf("  %s: %v\n", key, v)
		}
	}
	return nil
}
