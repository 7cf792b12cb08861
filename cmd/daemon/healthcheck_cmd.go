package main

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const defaultBaseURL = "http://localhost:8000"

func newHealthcheckCmd() *cobra.Command {
	var (
		mode    string
		baseURL string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Probe a running bridge (for container health checks)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := "/healthz"
			if mode == "ready" {
				path = "/readyz"
			}
			if err := probe(baseURL+path, timeout); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Healthcheck successful (%s)\n", mode)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "ready", "healthcheck mode: ready (default) or live")
	cmd.Flags().StringVar(&baseURL, "url", defaultBaseURL, "base URL of the bridge")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "check timeout")
	return cmd
}

func probe(url string, timeout time.Duration) error {
	client := http.Client{Timeout: timeout}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("healthcheck failed (network): %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck failed (status): %s", strings.TrimSpace(resp.Status))
	}
	return nil
}
