// Package main implements the mediactl CLI for manual operations against the
// mediasearchd HTTP server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	httpserver "github.com/fyrsmithlabs/mediasearch/internal/http"
)

var (
	// serverURL is the base URL for the mediasearchd HTTP server
	serverURL string
	// token is the bearer token sent on authenticated requests
	token string
	// tenantSlug selects the tenant for super administrators
	tenantSlug string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mediactl",
	Short: "CLI for mediasearchd HTTP server operations",
	Long: `mediactl is a command-line interface for the mediasearchd HTTP server.
It uploads product media, runs image searches and mints development tokens.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "mediasearchd server URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("MEDIACTL_TOKEN"), "bearer token (default $MEDIACTL_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&tenantSlug, "tenant", "", "tenant slug sent as "+httpserver.HeaderTenantSlug)
	rootCmd.AddCommand(healthCmd)
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check mediasearchd server health",
	Long: `Check the health status of the mediasearchd HTTP server and its
embedding service.

Examples:
  # Check health
  mediactl health

  # Check health on a different server
  mediactl health --server http://localhost:9090`,
	RunE: runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	var health httpserver.HealthResponse
	if err := doJSON(http.MethodGet, "/health", nil, "", &health); err != nil {
		return err
	}

	var search struct {
		Status           string `json:"status"`
		EmbeddingService string `json:"embeddingServiceStatus"`
		ModelLoaded      bool   `json:"modelLoaded"`
	}
	if err := doJSON(http.MethodGet, "/api/v1/search/health", nil, "", &search); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Server Status: %s\n", health.Status)
	for name, state := range health.Checks {
		fmt.Fprintf(out, "  %s: %s\n", name, state)
	}
	fmt.Fprintf(out, "Embedding Service: %s (model loaded: %t)\n", search.EmbeddingService, search.ModelLoaded)
	fmt.Fprintf(out, "Server URL: %s\n", serverURL)
	return nil
}

var client = &http.Client{Timeout: 60 * time.Second}

// doJSON sends a request and decodes a JSON response into out. Non-2xx
// responses become errors carrying the server's message.
func doJSON(method, path string, body io.Reader, contentType string, out any) error {
	url := serverURL + path
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if tenantSlug != "" {
		req.Header.Set(httpserver.HeaderTenantSlug, tenantSlug)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func statusError(status int, body []byte) error {
	var e httpserver.ErrorResponse
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		msg := e.Error
		if e.Message != "" {
			msg += ": " + e.Message
		}
		if e.Reason != "" {
			msg += " (" + e.Reason + ")"
		}
		return fmt.Errorf("server returned status %d: %s", status, msg)
	}
	return fmt.Errorf("server returned status %d: %s", status, bytes.TrimSpace(body))
}

// fileForm builds a multipart body with path as the "file" part.
func fileForm(path string, fields map[string]string) (*bytes.Buffer, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read file %s: %w", path, err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
