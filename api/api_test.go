package api_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajshedivy/kubeflow-ppc64le-components/api"
)

func newServer(maxResponseRows int) *api.Server {
	return api.NewServer(api.ServerOptions{
		Port:            "3000",
		Prefork:         false,
		MaxResponseRows: maxResponseRows,
	})
}

// TestHealthEndpoint checks if the /health endpoint returns "OK"
func TestHealthEndpoint(t *testing.T) {
	s := newServer(0)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := s.GetApp().Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "OK", string(body))
}

type versionResponse struct {
	Service string `json:"service"`
	Version string `json:"version"`
	Build   string `json:"build"`
	Time    string `json:"time"`
}

func TestVersionEndpoint(t *testing.T) {
	s := newServer(0)
	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	resp, err := s.GetApp().Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var v versionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))

	assert.Equal(t, "Ingest API", v.Service)
	assert.NotEmpty(t, v.Version)
	assert.NotEmpty(t, v.Build)
	assert.NotEmpty(t, v.Time)
}

func TestFormatsEndpoint(t *testing.T) {
	s := newServer(0)
	resp, err := s.GetApp().Test(httptest.NewRequest(http.MethodGet, "/v1/formats", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Formats []string `json:"formats"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []string{"csv", "df", "feather", "huggingface", "json", "parquet"}, body.Formats)
}

type loadResponse struct {
	Type       string `json:"type"`
	NumRows    int64  `json:"num_rows"`
	NumColumns int64  `json:"num_columns"`
	Schema     []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"schema"`
	Rows      []map[string]any `json:"rows"`
	Truncated bool             `json:"truncated"`
	Error     string           `json:"error"`
}

func postLoad(t *testing.T, s *api.Server, body string) (int, loadResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/load", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.GetApp().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out loadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func writeCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "abc.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n1,x\n2,y\n3,z\n"), 0o644))
	return path
}

func loadBody(t *testing.T, fields map[string]any) string {
	t.Helper()
	data, err := json.Marshal(fields)
	require.NoError(t, err)
	return string(data)
}

func TestLoadEndpoint(t *testing.T) {
	path := writeCSV(t)

	t.Run("max rows", func(t *testing.T) {
		status, out := postLoad(t, newServer(0), loadBody(t, map[string]any{"path": path, "type": "CSV", "max_rows": 2}))
		require.Equal(t, http.StatusOK, status, out.Error)

		assert.Equal(t, "csv", out.Type)
		assert.Equal(t, int64(2), out.NumRows)
		assert.Equal(t, int64(2), out.NumColumns)
		assert.Equal(t, "a", out.Schema[0].Name)
		assert.Equal(t, "int64", out.Schema[0].Type)
		assert.Equal(t, []map[string]any{{"a": 1.0, "b": "x"}, {"a": 2.0, "b": "y"}}, out.Rows)
		assert.False(t, out.Truncated)
	})

	t.Run("limit", func(t *testing.T) {
		status, out := postLoad(t, newServer(0), loadBody(t, map[string]any{"path": path, "type": "csv", "limit": 1}))
		require.Equal(t, http.StatusOK, status, out.Error)
		assert.Equal(t, int64(3), out.NumRows)
		assert.Len(t, out.Rows, 1)
		assert.True(t, out.Truncated)
	})

	t.Run("server cap", func(t *testing.T) {
		status, out := postLoad(t, newServer(2), loadBody(t, map[string]any{"path": path, "type": "csv", "limit": 5}))
		require.Equal(t, http.StatusOK, status, out.Error)
		assert.Len(t, out.Rows, 2)
		assert.True(t, out.Truncated)
	})

	t.Run("options", func(t *testing.T) {
		status, out := postLoad(t, newServer(0), loadBody(t, map[string]any{
			"path": path, "type": "csv", "options": map[string]any{"usecols": []string{"b"}},
		}))
		require.Equal(t, http.StatusOK, status, out.Error)
		assert.Equal(t, int64(1), out.NumColumns)
	})
}

func TestLoadEndpointErrors(t *testing.T) {
	path := writeCSV(t)
	s := newServer(0)

	tests := []struct {
		name   string
		body   string
		status int
		text   string
	}{
		{"unknown type", loadBody(t, map[string]any{"path": path, "type": "xml"}), http.StatusBadRequest, "xml"},
		{"missing path", `{"type": "csv"}`, http.StatusBadRequest, "required"},
		{"bad json", `{"path":`, http.StatusBadRequest, ""},
		{"negative limit", loadBody(t, map[string]any{"path": path, "type": "csv", "limit": -1}), http.StatusBadRequest, "limit"},
		{"missing file", loadBody(t, map[string]any{"path": path + ".missing", "type": "csv"}), http.StatusUnprocessableEntity, "missing"},
		{"unknown option", loadBody(t, map[string]any{"path": path, "type": "csv", "options": map[string]any{"bogus": 1}}), http.StatusUnprocessableEntity, "bogus"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, out := postLoad(t, s, tt.body)
			assert.Equal(t, tt.status, status)
			assert.NotEmpty(t, out.Error)
			assert.Contains(t, out.Error, tt.text)
		})
	}
}

func TestShutdown(t *testing.T) {
	s := newServer(0)
	assert.NoError(t, s.Shutdown(context.Background()))
}
