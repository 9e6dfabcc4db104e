package audit

import (
	"context"
	"fmt"
	"time"
)

// Logger is the audit sink the Authorizer facade calls once per Check:
// spec.md's "append-only record of every Decision for compliance review".
type Logger interface {
	// LogAuthzCheck records one Check outcome.
	LogAuthzCheck(ctx context.Context, event *AuthzCheckEvent)

	// LogPolicyChange records a Reloader snapshot publish (success or
	// failure).
	LogPolicyChange(ctx context.Context, change *PolicyChange)

	// Flush flushes any buffered events synchronously.
	Flush() error

	// Close flushes and releases the underlying writer.
	Close() error
}

// Config selects and tunes the audit sink.
type Config struct {
	Enabled bool

	// Type: stdout | file | syslog | postgres.
	Type string

	FilePath       string
	FileMaxSize    int // MB
	FileMaxAge     int // Days
	FileMaxBackups int

	SyslogAddr     string
	SyslogProtocol string // tcp, udp, unix

	PostgresDSN string

	BufferSize    int           // ring buffer size (default 1000)
	FlushInterval time.Duration // batch interval (default 100ms)
}

func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		Type:           "stdout",
		BufferSize:     1000,
		FlushInterval:  100 * time.Millisecond,
		FileMaxSize:    100,
		FileMaxAge:     30,
		FileMaxBackups: 10,
	}
}

func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Type {
	case "stdout", "file", "syslog", "postgres":
	case "":
		return fmt.Errorf("audit type is required")
	default:
		return fmt.Errorf("invalid audit type: %s (must be stdout, file, syslog, or postgres)", c.Type)
	}
	if c.Type == "file" && c.FilePath == "" {
		return fmt.Errorf("file path is required for file output")
	}
	if c.Type == "syslog" && c.SyslogAddr == "" {
		return fmt.Errorf("syslog address is required for syslog output")
	}
	if c.Type == "postgres" && c.PostgresDSN == "" {
		return fmt.Errorf("postgres DSN is required for postgres output")
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 100 * time.Millisecond
	}
	return nil
}

// hashingLogger wraps a plain Logger, threading every AuthzCheckEvent through
// a HashChain before it reaches the underlying writer so the resulting log
// is tamper-evident.
type hashingLogger struct {
	inner Logger
	chain *HashChain
}

func (h *hashingLogger) LogAuthzCheck(ctx context.Context, event *AuthzCheckEvent) {
	if err := h.chain.Apply(event); err != nil {
		// Hashing failure must not block authorization; the event is still
		// logged, just without a verifiable chain link.
		event.Metadata = mergeMeta(event.Metadata, "hash_chain_error", err.Error())
	}
	h.inner.LogAuthzCheck(ctx, event)
}

func (h *hashingLogger) LogPolicyChange(ctx context.Context, change *PolicyChange) {
	h.inner.LogPolicyChange(ctx, change)
}

func (h *hashingLogger) Flush() error { return h.inner.Flush() }
func (h *hashingLogger) Close() error { return h.inner.Close() }

func mergeMeta(m map[string]interface{}, k string, v interface{}) map[string]interface{} {
	if m == nil {
		m = make(map[string]interface{}, 1)
	}
	m[k] = v
	return m
}

// NewLogger builds a Logger from cfg. A disabled config returns a no-op
// logger so callers never need a nil check.
func NewLogger(cfg *Config) (Logger, error) {
	if cfg == nil {
		def := DefaultConfig()
		cfg = &def
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if !cfg.Enabled {
		return &noopLogger{}, nil
	}

	var writer Writer
	var err error
	switch cfg.Type {
	case "stdout":
		writer = NewStdoutWriter()
	case "file":
		writer, err = NewFileWriter(cfg.FilePath, cfg.FileMaxSize, cfg.FileMaxAge, cfg.FileMaxBackups)
	case "syslog":
		writer, err = NewSyslogWriter(cfg.SyslogProtocol, cfg.SyslogAddr)
	case "postgres":
		writer, err = NewPostgresWriter(cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unsupported audit type: %s", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s writer: %w", cfg.Type, err)
	}

	base := newAsyncLogger(writer, *cfg)
	return &hashingLogger{inner: base, chain: NewHashChain()}, nil
}

// noopLogger is used when audit logging is disabled.
type noopLogger struct{}

func (n *noopLogger) LogAuthzCheck(ctx context.Context, event *AuthzCheckEvent) {}
func (n *noopLogger) LogPolicyChange(ctx context.Context, change *PolicyChange) {}
func (n *noopLogger) Flush() error                                             { return nil }
func (n *noopLogger) Close() error                                             { return nil }
