package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateEventID(t *testing.T) {
	id1 := generateEventID()
	id2 := generateEventID()
	assert.NotEmpty(t, id1)
	assert.NotEqual(t, id1, id2)
	assert.Contains(t, id1, "evt-")
}

func TestGetRequestID(t *testing.T) {
	ctx := context.WithValue(context.Background(), "request_id", "req-123")
	assert.Equal(t, "req-123", getRequestID(ctx))
	assert.Empty(t, getRequestID(context.Background()))
	assert.Empty(t, getRequestID(nil))
}

func TestConfigValidate(t *testing.T) {
	t.Run("valid stdout", func(t *testing.T) {
		cfg := Config{Enabled: true, Type: "stdout"}
		require.NoError(t, cfg.Validate())
	})
	t.Run("valid file", func(t *testing.T) {
		cfg := Config{Enabled: true, Type: "file", FilePath: "/tmp/audit.log"}
		require.NoError(t, cfg.Validate())
	})
	t.Run("invalid type", func(t *testing.T) {
		cfg := Config{Enabled: true, Type: "invalid"}
		require.Error(t, cfg.Validate())
	})
	t.Run("file without path", func(t *testing.T) {
		cfg := Config{Enabled: true, Type: "file"}
		require.Error(t, cfg.Validate())
	})
	t.Run("disabled short-circuits", func(t *testing.T) {
		cfg := Config{Enabled: false, Type: "bogus"}
		require.NoError(t, cfg.Validate())
	})
}

func TestNewLoggerDisabledIsNoop(t *testing.T) {
	logger, err := NewLogger(&Config{Enabled: false})
	require.NoError(t, err)
	logger.LogAuthzCheck(context.Background(), &AuthzCheckEvent{})
	require.NoError(t, logger.Close())
}

func TestNewLoggerFileWritesEvent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	logger, err := NewLogger(&Config{
		Enabled: true, Type: "file", FilePath: path,
		BufferSize: 10, FlushInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	logger.LogAuthzCheck(context.Background(), &AuthzCheckEvent{
		Principal: Principal{ID: "User::\"oidc~alice\""},
		Resource:  Resource{Kind: "Table", ID: "wh/tbl"},
		Action:    "ReadTableData",
		Decision:  DecisionAllow,
	})
	require.NoError(t, logger.Flush())
	require.NoError(t, logger.Close())
}

func TestHashChainLinksEvents(t *testing.T) {
	hc := NewHashChain()
	e1 := &AuthzCheckEvent{Timestamp: time.Unix(0, 0), Principal: Principal{ID: "u1"}, Action: "ReadTableData", Resource: Resource{Kind: "Table", ID: "a"}, Decision: DecisionAllow}
	e2 := &AuthzCheckEvent{Timestamp: time.Unix(1, 0), Principal: Principal{ID: "u1"}, Action: "ReadTableData", Resource: Resource{Kind: "Table", ID: "b"}, Decision: DecisionDeny}

	require.NoError(t, hc.Apply(e1))
	require.Empty(t, e1.PrevHash)
	require.NotEmpty(t, e1.Hash)

	require.NoError(t, hc.Apply(e2))
	assert.Equal(t, e1.Hash, e2.PrevHash)

	ok, err := VerifyChain([]*AuthzCheckEvent{e1, e2})
	require.NoError(t, err)
	assert.True(t, ok)

	e2.Decision = DecisionAllow // tamper after hashing
	ok, err = VerifyChain([]*AuthzCheckEvent{e1, e2})
	require.Error(t, err)
	assert.False(t, ok)
}
