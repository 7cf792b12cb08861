package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// bridgeStatus is the subset of /status the CLI prints.
type bridgeStatus struct {
	Server struct {
		Version       string  `json:"version"`
		UptimeSeconds float64 `json:"uptime_seconds"`
	} `json:"server"`
	Redis struct {
		Status      string `json:"status"`
		StorageMode string `json:"storage_mode"`
	} `json:"redis"`
	ESP32 struct {
		Status string  `json:"status"`
		IP     *string `json:"ip"`
	} `json:"esp32"`
	WebSocket struct {
		ActiveConnections int `json:"active_connections"`
	} `json:"websocket"`
}

func newStatusCmd() *cobra.Command {
	var (
		baseURL string
		timeout time.Duration
		raw     bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a running bridge",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := http.Client{Timeout: timeout}
			resp, err := client.Get(baseURL + "/status")
			if err != nil {
				return fmt.Errorf("bridge not reachable: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("status request failed: %s", resp.Status)
			}

			var body json.RawMessage
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				return fmt.Errorf("decode status: %w", err)
			}
			out := cmd.OutOrStdout()
			if raw {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(body)
			}

			var st bridgeStatus
			if err := json.Unmarshal(body, &st); err != nil {
				return fmt.Errorf("decode status: %w", err)
			}
			ip := "unknown"
			if st.ESP32.IP != nil {
				ip = *st.ESP32.IP
			}
			_, _ = fmt.Fprintf(out, "version:   %s (up %s)\n", st.Server.Version, (time.Duration(st.Server.UptimeSeconds) * time.Second).String())
			_, _ = fmt.Fprintf(out, "storage:   %s (redis %s)\n", st.Redis.StorageMode, st.Redis.Status)
			_, _ = fmt.Fprintf(out, "esp32:     %s @ %s\n", st.ESP32.Status, ip)
			_, _ = fmt.Fprintf(out, "app conns: %d\n", st.WebSocket.ActiveConnections)
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", defaultBaseURL, "base URL of the bridge")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	cmd.Flags().BoolVar(&raw, "json", false, "print the raw status document")
	return cmd
}
