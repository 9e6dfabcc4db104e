// Package authorizer wires the engine's pieces — Loader, Reloader,
// RequestBuilder, Evaluator, decision cache, audit log, and metrics — into
// the single facade the surrounding service calls: Check on the request
// hot path, ReloadNow/Health for operability, Introspect for the "what can
// this principal do here" debugging endpoint spec.md §4.9 describes.
package authorizer

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/authz-engine/go-core/internal/audit"
	"github.com/authz-engine/go-core/internal/cache"
	"github.com/authz-engine/go-core/internal/cel"
	"github.com/authz-engine/go-core/internal/config"
	"github.com/authz-engine/go-core/internal/evaluator"
	"github.com/authz-engine/go-core/internal/loader"
	"github.com/authz-engine/go-core/internal/metrics"
	"github.com/authz-engine/go-core/internal/propertyparser"
	"github.com/authz-engine/go-core/internal/reloader"
	"github.com/authz-engine/go-core/internal/requestbuilder"
	"github.com/authz-engine/go-core/internal/schema"
	"github.com/authz-engine/go-core/pkg/types"
)

// CheckRequest is one (principal, action, resource, context) authorization
// question, plus the inputs BuildScope needs to assemble the entity graph
// it is evaluated against.
type CheckRequest struct {
	Identity  requestbuilder.Identity
	Action    string
	Resource  types.EntityUid
	Context   map[string]interface{}
	Resolver  requestbuilder.CatalogResolver

	// WriteProperties, when non-empty, is the proposed raw access-prefixed
	// property values of a create/update/commit operation; ValidateWriteProperties
	// runs against these before BuildScope/Evaluate, per spec.md §4.4/§7.
	WriteProperties   map[string]string
	CurrentProjectID string
}

// Authorizer is the engine's public facade. Safe for concurrent use.
type Authorizer struct {
	config        *config.Config
	reloader      *reloader.Reloader
	requestBuilder *requestbuilder.RequestBuilder
	cel           *cel.Engine
	decisionCache cache.Cache
	audit         audit.Logger
	metrics       metrics.Metrics
	logger        *zap.Logger
}

// New assembles every component from cfg and performs the Reloader's
// initial synchronous Snapshot load, so a successfully constructed
// Authorizer is immediately ready to Check.
func New(cfg *config.Config, policyConfigMaps, entityConfigMaps map[string]loader.ConfigMapSource, logger *zap.Logger) (*Authorizer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	sch := schema.Builtin()
	parser := propertyparser.New(cfg.PropertyParsePrefixes, cfg.IdentityProviders, logger)

	ld := loader.New(sch, parser, policyConfigMaps, entityConfigMaps)

	celEngine, err := cel.NewEngine()
	if err != nil {
		return nil, fmt.Errorf("build CEL engine: %w", err)
	}

	m, err := buildMetrics(cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("build metrics: %w", err)
	}

	auditCfg := audit.Config{
		Enabled:     cfg.Audit.Enabled,
		Type:        cfg.Audit.Type,
		FilePath:    cfg.Audit.FilePath,
		SyslogAddr:  cfg.Audit.SyslogAddr,
		PostgresDSN: cfg.Audit.PostgresDSN,
	}
	auditLogger, err := audit.NewLogger(&auditCfg)
	if err != nil {
		return nil, fmt.Errorf("build audit logger: %w", err)
	}

	rl, err := reloader.New(ld, cfg, m, auditLogger, logger)
	if err != nil {
		return nil, fmt.Errorf("build reloader: %w", err)
	}

	decisionCache, err := buildDecisionCache(cfg.DecisionCache)
	if err != nil {
		return nil, fmt.Errorf("build decision cache: %w", err)
	}

	rb := requestbuilder.New(sch, parser, cfg.ExternallyManagedUserAndRoles, cfg.OpenIDRolesClaim)

	return &Authorizer{
		config:         cfg,
		reloader:       rl,
		requestBuilder: rb,
		cel:            celEngine,
		decisionCache:  decisionCache,
		audit:          auditLogger,
		metrics:        m,
		logger:         logger,
	}, nil
}

// Run starts the Reloader's background refresh loop; callers should start
// this in its own goroutine and cancel ctx on shutdown.
func (a *Authorizer) Run(ctx context.Context) {
	a.reloader.Run(ctx)
}

// Check evaluates one request and returns its Decision. The hot path:
// current Snapshot via atomic load, cache lookup, BuildScope, Evaluate,
// cache fill, audit + metrics emission.
func (a *Authorizer) Check(ctx context.Context, req CheckRequest) (types.Decision, error) {
	start := time.Now()
	a.metrics.IncActiveRequests()
	defer a.metrics.DecActiveRequests()

	if len(req.WriteProperties) > 0 {
		if err := a.requestBuilder.ValidateWriteProperties(req.WriteProperties, req.CurrentProjectID); err != nil {
			a.metrics.RecordAuthError("property_parse")
			return types.Decision{}, err
		}
	}

	snap := a.reloader.Current()
	principalUid := req.Identity.Uid()
	cacheKey := decisionCacheKey(snap.Version, principalUid, req.Action, req.Resource, req.Context)

	if a.decisionCache != nil {
		if cached, ok := a.decisionCache.Get(cacheKey); ok {
			a.metrics.RecordCacheHit()
			decision := cached.(types.Decision)
			a.emitAudit(ctx, req, principalUid, decision, time.Since(start), true)
			return decision, nil
		}
		a.metrics.RecordCacheMiss()
	}

	store, principal, contextFields, err := a.requestBuilder.BuildScope(ctx, snap, req.Identity, req.Action, req.Resource, req.Context, req.Resolver)
	if err != nil {
		a.metrics.RecordAuthError("build_scope")
		return types.Decision{}, err
	}

	ev := evaluator.New(snap.Schema, a.cel)
	decision := ev.Evaluate(principal, req.Action, req.Resource, contextFields, store, snap.Policies)

	if a.decisionCache != nil {
		a.decisionCache.Set(cacheKey, decision)
	}

	duration := time.Since(start)
	a.metrics.RecordCheck(effectLabel(decision), duration)
	a.emitAudit(ctx, req, principal, decision, duration, false)

	return decision, nil
}

// ReloadNow forces an out-of-schedule reload and blocks for its outcome.
func (a *Authorizer) ReloadNow(ctx context.Context) error {
	return a.reloader.ReloadNow(ctx)
}

// MetricsHandler serves the Prometheus scrape endpoint for whichever
// metrics.Metrics implementation this Authorizer was built with.
func (a *Authorizer) MetricsHandler() http.Handler {
	return a.metrics.HTTPHandler()
}

// Health reports the Reloader's current health signal, per spec.md §6.5:
// unhealthy means the last reload attempt failed, even though the engine
// keeps serving the previous Snapshot.
func (a *Authorizer) Health() (bool, string) {
	healthy, err := a.reloader.Healthy()
	if healthy {
		return true, ""
	}
	reason := "unknown reload failure"
	if err != nil {
		reason = err.Error()
	}
	return false, reason
}

// Introspect evaluates every action applicable to resource's kind for
// identity and returns the ones that would be allowed, for the debugging
// endpoint spec.md §4.9 describes. It assembles the entity graph once and
// re-evaluates per candidate action rather than calling Check repeatedly,
// since BuildScope's resource-chain/user assembly does not vary by action.
func (a *Authorizer) Introspect(ctx context.Context, identity requestbuilder.Identity, resource types.EntityUid, resolver requestbuilder.CatalogResolver) ([]string, error) {
	snap := a.reloader.Current()

	store, principal, _, err := a.requestBuilder.BuildScope(ctx, snap, identity, "", resource, nil, resolver)
	if err != nil {
		return nil, err
	}

	ev := evaluator.New(snap.Schema, a.cel)
	var allowed []string
	for name, act := range snap.Schema.Actions {
		if !containsKind(act.ResourceKinds, resource.Kind) {
			continue
		}
		decision := ev.Evaluate(principal, name, resource, nil, store, snap.Policies)
		if decision.Allow {
			allowed = append(allowed, name)
		}
	}
	return allowed, nil
}

func (a *Authorizer) emitAudit(ctx context.Context, req CheckRequest, principal types.EntityUid, decision types.Decision, duration time.Duration, cacheHit bool) {
	if a.audit == nil {
		return
	}
	eventDecision := audit.DecisionDeny
	if decision.Allow {
		eventDecision = audit.DecisionAllow
	}
	a.audit.LogAuthzCheck(ctx, &audit.AuthzCheckEvent{
		Timestamp: time.Now(),
		EventType: audit.EventTypeAuthzCheck,
		Principal: audit.Principal{ID: principal.String()},
		Resource:  audit.Resource{Kind: string(req.Resource.Kind), ID: req.Resource.ID},
		Action:    req.Action,
		Decision:  eventDecision,
		Policies:  policyMatches(decision),
		Performance: audit.Performance{
			DurationUs: duration.Microseconds(),
			CacheHit:   cacheHit,
		},
	})
}

func policyMatches(decision types.Decision) []audit.PolicyMatch {
	out := make([]audit.PolicyMatch, 0, len(decision.DeterminingPolicies))
	for _, id := range decision.DeterminingPolicies {
		out = append(out, audit.PolicyMatch{ID: id, Matched: true})
	}
	return out
}

func effectLabel(d types.Decision) string {
	if d.Allow {
		return "allow"
	}
	return "deny"
}

func containsKind(kinds []types.EntityKind, k types.EntityKind) bool {
	for _, kk := range kinds {
		if kk == k {
			return true
		}
	}
	return false
}

func buildMetrics(cfg config.MetricsConfig) (metrics.Metrics, error) {
	if !cfg.Enabled {
		return metrics.NewNoOpMetrics(), nil
	}
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "lakehouse_authz"
	}
	return metrics.NewPrometheusMetrics(namespace), nil
}

func buildDecisionCache(cfg config.DecisionCacheConfig) (cache.Cache, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 100000
	}
	ttl := cfg.TTL()
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if cfg.RedisAddr == "" {
		return cache.NewLRU(capacity, ttl), nil
	}

	host, portStr, err := net.SplitHostPort(cfg.RedisAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid decision_cache.redis_addr %q: %w", cfg.RedisAddr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid decision_cache.redis_addr port %q: %w", portStr, err)
	}
	redisCfg := cache.DefaultRedisConfig()
	redisCfg.Host = host
	redisCfg.Port = port
	redisCfg.TTL = ttl

	return cache.NewHybridCache(&cache.HybridCacheConfig{
		L1Capacity: capacity,
		L1TTL:      ttl,
		L2Enabled:  true,
		L2Config:   redisCfg,
	})
}
