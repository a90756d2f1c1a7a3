package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/kotoba/pkg/models"
)

func newCacheCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the analysis cache of a running server",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := cacheRequest(http.MethodGet, addr, "/api/cache/stats", "")
			if err != nil {
				return err
			}
			var stats models.CacheStats
			if err := json.Unmarshal(body, &stats); err != nil {
				return fmt.Errorf("decode stats: %w", err)
			}
			fmt.Printf("Entries:  %d/%d\nHits:     %d\nMisses:   %d\nHit rate: %.1f%%\n",
				stats.Size, stats.MaxSize, stats.Hits, stats.Misses, stats.HitRate*100)
			return nil
		},
	}

	var apiKey string
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear all cache entries and reset counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := cacheRequest(http.MethodDelete, addr, "/api/cache", apiKey); err != nil {
				return err
			}
			fmt.Println("All cache entries cleared.")
			return nil
		},
	}
	clearCmd.Flags().StringVar(&apiKey, "api-key", "", "client API key, if the server requires one")

	cmd.PersistentFlags().StringVar(&addr, "addr", "http://localhost:8080", "base URL of the running server")
	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}

func cacheRequest(method, addr, path, apiKey string) ([]byte, error) {
	req, err := http.NewRequest(method, strings.TrimRight(addr, "/")+path, nil)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contact server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var env models.Envelope
		if json.Unmarshal(body, &env) == nil && env.Error != nil {
			return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, env.Error.Message)
		}
		return nil, fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return body, nil
}
