package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/mediasearch/internal/asset"
	"github.com/fyrsmithlabs/mediasearch/internal/catalog"
	httpserver "github.com/fyrsmithlabs/mediasearch/internal/http"
	"github.com/fyrsmithlabs/mediasearch/internal/tenant"
)

const testSecret = "cli-test-secret-0123456789abcdefgh"

// execute runs the root command against server and returns its output.
func execute(t *testing.T, server string, args ...string) (string, error) {
	t.Helper()
	serverURL, token, tenantSlug = "", "", ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--server", server}, args...))
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func tempImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chair.jpg")
	require.NoError(t, os.WriteFile(path, []byte{0xFF, 0xD8, 0xFF, 0xE0, 'x'}, 0o600))
	return path
}

func TestHealth(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			writeJSON(w, http.StatusOK, httpserver.HealthResponse{Status: "ok", Checks: map[string]string{"database": "ok"}})
		case "/api/v1/search/health":
			writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "embeddingServiceStatus": "healthy", "modelLoaded": true})
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	out, err := execute(t, ts.URL, "health")
	require.NoError(t, err)
	assert.Contains(t, out, "Server Status: ok")
	assert.Contains(t, out, "database: ok")
	assert.Contains(t, out, "Embedding Service: healthy (model loaded: true)")
}

func TestUpload(t *testing.T) {
	var gotSKU, gotAuth, gotFile string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/media/upload", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotSKU = r.FormValue("sku")
		_, fh, err := r.FormFile("file")
		require.NoError(t, err)
		gotFile = fh.Filename
		writeJSON(w, http.StatusOK, httpserver.UploadResponse{Success: true, MediaID: "m-1", Kind: "image", Status: "pending", Key: "t/SKU/chair.jpg"})
	}))
	defer ts.Close()

	out, err := execute(t, ts.URL, "--token", "tok", "upload", "--sku", "CHAIR-01", tempImage(t))
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "CHAIR-01", gotSKU)
	assert.Equal(t, "chair.jpg", gotFile)
	assert.Contains(t, out, "Media ID: m-1")
	assert.Contains(t, out, "Status:   pending")
}

func TestUpload_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, httpserver.ErrorResponse{Error: "File validation failed", Reason: "unsupported format"})
	}))
	defer ts.Close()

	_, err := execute(t, ts.URL, "upload", "--sku", "X", tempImage(t))
	require.Error(t, err)
	assert.Equal(t, "server returned status 400: File validation failed (unsupported format)", err.Error())
}

func TestLink(t *testing.T) {
	var gotPath string
	var gotBody httpserver.LinkRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		product := "p-2"
		writeJSON(w, http.StatusOK, httpserver.LinkResponse{Success: true, Media: &asset.MediaAsset{ID: "m-1", ProductID: &product}})
	}))
	defer ts.Close()

	linkSKU = ""
	t.Cleanup(func() { linkSKU = "" })
	out, err := execute(t, ts.URL, "link", "--sku", "CHAIR-02", "m-1")
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/media/m-1/link", gotPath)
	assert.Equal(t, "CHAIR-02", gotBody.SKU)
	assert.Contains(t, out, "Linked m-1 to product p-2")
}

func TestLink_ProductMissing(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, httpserver.ErrorResponse{Error: "Product not found for SKU"})
	}))
	defer ts.Close()

	linkSKU = ""
	_, err := execute(t, ts.URL, "link", "m-1")
	require.Error(t, err)
	assert.Equal(t, "server returned status 404: Product not found for SKU", err.Error())
}

func TestSearch(t *testing.T) {
	var gotTenant string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTenant = r.Header.Get(httpserver.HeaderTenantSlug)
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"total":   1,
			"results": []map[string]any{{
				"productId":         "p-1",
				"productName":       "Oak Chair",
				"sku":               "CHAIR-01",
				"similarityPercent": 93,
				"match":             map[string]any{"assetId": "m-1", "type": "image"},
			}},
		})
	}))
	defer ts.Close()

	out, err := execute(t, ts.URL, "--tenant", "acme", "search", tempImage(t))
	require.NoError(t, err)
	assert.Equal(t, "acme", gotTenant)
	assert.Contains(t, out, "SIMILARITY")
	assert.Contains(t, out, "93%")
	assert.Contains(t, out, "CHAIR-01")
	assert.Contains(t, out, "Oak Chair")
}

func TestSearch_NoResults(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "total": 0, "results": []any{}})
	}))
	defer ts.Close()

	out, err := execute(t, ts.URL, "search", tempImage(t))
	require.NoError(t, err)
	assert.Contains(t, out, "No similar products found")
}

func TestSearch_MissingFile(t *testing.T) {
	_, err := execute(t, "http://127.0.0.1:1", "search", filepath.Join(t.TempDir(), "missing.jpg"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read file")
}

func TestToken(t *testing.T) {
	out, err := execute(t, "http://unused", "token",
		"--secret", testSecret, "--role", "manager", "--tenant-id", "t-acme", "--slug", "acme", "--ttl", "1h")
	require.NoError(t, err)

	cat := catalog.NewMemoryCatalog()
	cat.AddTenant(catalog.Tenant{ID: "t-acme", Slug: "acme", Name: "Acme", Active: true})
	resolver, err := tenant.NewResolver(tenant.Config{Secret: []byte(testSecret)}, cat)
	require.NoError(t, err)

	claims, err := resolver.Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, tenant.RoleManager, claims.Role)
	assert.Equal(t, "t-acme", claims.ClientID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func TestToken_Rejections(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"short secret", []string{"--secret", "short"}, "at least 32 bytes"},
		{"unknown role", []string{"--secret", testSecret, "--role", "OWNER", "--tenant-id", "t"}, `unknown role "OWNER"`},
		{"missing tenant", []string{"--secret", testSecret, "--role", "USER", "--tenant-id", ""}, "--tenant-id is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, "http://unused", append([]string{"token"}, tt.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input  string
		maxLen int
		want   string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello world", 8, "hello..."},
		{"hello", 3, "..."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, truncate(tt.input, tt.maxLen))
	}
}
