package reloader

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/authz-engine/go-core/internal/config"
	"github.com/authz-engine/go-core/internal/loader"
	"github.com/authz-engine/go-core/internal/metrics"
	"github.com/authz-engine/go-core/internal/propertyparser"
	"github.com/authz-engine/go-core/internal/schema"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testReloader(t *testing.T, cfg *config.Config) *Reloader {
	t.Helper()
	ld := loader.New(schema.Builtin(), propertyparser.New([]string{"access-", "access_"}, nil, nil), nil, nil)
	r, err := New(ld, cfg, metrics.NewNoOpMetrics(), nil, nil)
	require.NoError(t, err)
	return r
}

func TestNew_LoadsInitialSnapshotSynchronously(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "p.cedar", `@id("p1") permit (principal, action, resource);`)
	cfg := &config.Config{PolicySources: config.PolicySources{LocalFiles: []string{dir}}, RefreshIntervalSecs: 5}

	r := testReloader(t, cfg)
	snap := r.Current()
	require.NotNil(t, snap)
	require.Len(t, snap.Policies.Policies, 1)

	healthy, err := r.Healthy()
	require.True(t, healthy)
	require.NoError(t, err)
}

func TestNew_FailsOnInvalidInitialLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "p.cedar", `permit (principal, action == "NotARealAction", resource);`)
	cfg := &config.Config{PolicySources: config.PolicySources{LocalFiles: []string{dir}}, RefreshIntervalSecs: 5}

	ld := loader.New(schema.Builtin(), propertyparser.New(nil, nil, nil), nil, nil)
	_, err := New(ld, cfg, metrics.NewNoOpMetrics(), nil, nil)
	require.Error(t, err)
}

func TestReloadNow_PicksUpChangedSource(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "p.cedar", `@id("p1") permit (principal, action, resource);`)
	cfg := &config.Config{PolicySources: config.PolicySources{LocalFiles: []string{dir}}, RefreshIntervalSecs: 5}

	r := testReloader(t, cfg)
	v1 := r.Current().Version

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)
	defer r.Stop()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`@id("p1") forbid (principal, action, resource);`), 0o644))

	require.NoError(t, r.ReloadNow(context.Background()))
	require.NotEqual(t, v1, r.Current().Version)
}

func TestAttemptReload_SkipsWhenVersionUnchanged(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "p.cedar", `@id("p1") permit (principal, action, resource);`)
	cfg := &config.Config{PolicySources: config.PolicySources{LocalFiles: []string{dir}}, RefreshIntervalSecs: 5}

	r := testReloader(t, cfg)
	before := r.Current()
	r.attemptReload("test")
	require.Same(t, before, r.Current())
}

func TestReload_KeepsLastGoodSnapshotOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "p.cedar", `@id("p1") permit (principal, action, resource);`)
	cfg := &config.Config{PolicySources: config.PolicySources{LocalFiles: []string{dir}}, RefreshIntervalSecs: 5}

	r := testReloader(t, cfg)
	good := r.Current()

	require.NoError(t, os.WriteFile(path, []byte(`not valid cedar syntax {{{`), 0o644))
	require.Error(t, r.reload("test"))

	require.Same(t, good, r.Current())
	healthy, err := r.Healthy()
	require.False(t, healthy)
	require.Error(t, err)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "p.cedar", `@id("p1") permit (principal, action, resource);`)
	cfg := &config.Config{PolicySources: config.PolicySources{LocalFiles: []string{dir}}, RefreshIntervalSecs: 5}

	r := testReloader(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
