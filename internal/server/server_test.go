package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/authz-engine/go-core/internal/authorizer"
	"github.com/authz-engine/go-core/internal/config"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func buildServer(t *testing.T, az *authorizer.Authorizer, cfg config.ServerConfig) *Server {
	t.Helper()
	s, err := New(cfg, az, nil)
	require.NoError(t, err)
	return s
}

func tableResourceChain() []ResourceNode {
	return []ResourceNode{
		{Uid: `Server::"srv"`, Attrs: map[string]interface{}{"name": "main"}},
		{Uid: `Project::"p1"`, Attrs: map[string]interface{}{"name": "proj", "server": `Server::"srv"`}, ParentUid: `Server::"srv"`},
		{Uid: `Warehouse::"wh-1"`, Attrs: map[string]interface{}{"name": "wh-1", "project": `Project::"p1"`}, ParentUid: `Project::"p1"`},
		{Uid: `Namespace::"ns1"`, Attrs: map[string]interface{}{"name": "ns1", "warehouse": `Warehouse::"wh-1"`}, ParentUid: `Warehouse::"wh-1"`},
		{Uid: `Table::"wh-1/t1"`, Attrs: map[string]interface{}{"name": "t1", "namespace": `Namespace::"ns1"`, "warehouse": `Warehouse::"wh-1"`}, ParentUid: `Namespace::"ns1"`},
	}
}

func TestCheckHandler_AllowsWhenPolicyMatches(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "p.cedar", `@id("p1") permit (principal, action == "ReadTableData", resource);`)
	cfg := config.Default()
	cfg.PolicySources = config.PolicySources{LocalFiles: []string{dir}}
	cfg.Audit.Enabled = false
	cfg.Metrics.Enabled = false

	az, err := authorizer.New(&cfg, nil, nil, nil)
	require.NoError(t, err)
	s := buildServer(t, az, cfg.Server)

	body := CheckRequestBody{
		Principal:     PrincipalRef{ProviderID: "oidc", Subject: "alice"},
		Action:        "ReadTableData",
		Resource:      `Table::"wh-1/t1"`,
		ResourceChain: tableResourceChain(),
	}
	buf, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/authorization/check", bytes.NewReader(buf))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp CheckResponseBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Allowed)
	require.Contains(t, resp.DeterminingPolicies, "p1")
}

func TestCheckHandler_RejectsMissingFields(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "p.cedar", `@id("p1") permit (principal, action, resource);`)
	cfg := config.Default()
	cfg.PolicySources = config.PolicySources{LocalFiles: []string{dir}}
	cfg.Audit.Enabled = false
	cfg.Metrics.Enabled = false

	az, err := authorizer.New(&cfg, nil, nil, nil)
	require.NoError(t, err)
	s := buildServer(t, az, cfg.Server)

	req := httptest.NewRequest(http.MethodPost, "/v1/authorization/check", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIntrospectHandler_ListsAllowedActions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "p.cedar", `@id("p1") permit (principal, action in TableSelectActions, resource);`)
	cfg := config.Default()
	cfg.PolicySources = config.PolicySources{LocalFiles: []string{dir}}
	cfg.Audit.Enabled = false
	cfg.Metrics.Enabled = false

	az, err := authorizer.New(&cfg, nil, nil, nil)
	require.NoError(t, err)
	s := buildServer(t, az, cfg.Server)

	body := IntrospectRequestBody{
		Principal:     PrincipalRef{ProviderID: "oidc", Subject: "alice"},
		Resource:      `Table::"wh-1/t1"`,
		ResourceChain: tableResourceChain(),
	}
	buf, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/authorization/allowed-actions", bytes.NewReader(buf))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp IntrospectResponseBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Contains(t, resp.AllowedActions, "ReadTableData")
}

func TestHealthEndpoint_ReportsReady(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "p.cedar", `@id("p1") permit (principal, action, resource);`)
	cfg := config.Default()
	cfg.PolicySources = config.PolicySources{LocalFiles: []string{dir}}
	cfg.Audit.Enabled = false
	cfg.Metrics.Enabled = false

	az, err := authorizer.New(&cfg, nil, nil, nil)
	require.NoError(t, err)
	s := buildServer(t, az, cfg.Server)

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusEndpoint_ReturnsVersion(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "p.cedar", `@id("p1") permit (principal, action, resource);`)
	cfg := config.Default()
	cfg.PolicySources = config.PolicySources{LocalFiles: []string{dir}}
	cfg.Audit.Enabled = false
	cfg.Metrics.Enabled = false

	az, err := authorizer.New(&cfg, nil, nil, nil)
	require.NoError(t, err)
	s := buildServer(t, az, cfg.Server)

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.SnapshotHealth)
}
