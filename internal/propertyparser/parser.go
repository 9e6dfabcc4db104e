// Package propertyparser turns access-prefixed resource properties into
// structured principal references (ResourcePropertyValue), with a dual
// error policy depending on whether the request is read-only or a write.
package propertyparser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/authz-engine/go-core/internal/errs"
	"github.com/authz-engine/go-core/pkg/types"
	"go.uber.org/zap"
)

// Mode selects which error policy applies to a parse call.
type Mode int

const (
	// Read is for authorization of read-only operations: per-key parse
	// errors are non-fatal, logged, and the property is still exposed with
	// its raw value and empty roles/users.
	Read Mode = iota
	// Write is for create/update/commit operations: any parse error in an
	// access-prefixed property rejects the whole operation.
	Write
)

var (
	roleShortRe = regexp.MustCompile(`^role:([^/]+)$`)
	roleFullRe  = regexp.MustCompile(`^role-full:(?:([^/]+)/)?([^~]+)~(.+)$`)
	userRe      = regexp.MustCompile(`^user:(.+)$`)
)

// Parser parses access-prefixed resource properties. The default prefix
// list (config.Default) is ["access-", "access_"]; an empty prefix list
// disables parsing entirely.
type Parser struct {
	Prefixes  []string
	Providers []string // configured identity providers, for the role: short form
	Logger    *zap.Logger
}

func New(prefixes, providers []string, logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{Prefixes: prefixes, Providers: providers, Logger: logger}
}

func (p *Parser) hasParsePrefix(key string) bool {
	for _, prefix := range p.Prefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// ParseAll parses every property in props, using currentProjectID to resolve
// the unscoped role-full:<provider>~<source-id> form.
func (p *Parser) ParseAll(props map[string]string, mode Mode, currentProjectID string) (map[string]types.ResourcePropertyValue, error) {
	out := make(map[string]types.ResourcePropertyValue, len(props))
	for key, raw := range props {
		val, err := p.parseOne(key, raw, currentProjectID)
		if err == nil {
			out[key] = val
			continue
		}
		if mode == Write {
			return nil, errs.Wrap(errs.KindPropertyParse, err, "property %q failed to parse on the write path", key)
		}
		p.Logger.Warn("property parse error on read path, exposing raw value",
			zap.String("key", key), zap.Error(err))
		out[key] = types.ResourcePropertyValue{Raw: raw}
	}
	return out, nil
}

func (p *Parser) parseOne(key, raw, currentProjectID string) (types.ResourcePropertyValue, error) {
	if !p.hasParsePrefix(key) {
		return types.ResourcePropertyValue{Raw: raw}, nil
	}

	var entries []string
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return types.ResourcePropertyValue{}, fmt.Errorf("value is not a JSON array of strings: %w", err)
	}

	val := types.ResourcePropertyValue{Raw: raw}
	for _, entry := range entries {
		uid, isRole, err := p.resolveEntry(entry, currentProjectID)
		if err != nil {
			return types.ResourcePropertyValue{}, err
		}
		if isRole {
			val.Roles = append(val.Roles, uid)
		} else {
			val.Users = append(val.Users, uid)
		}
	}
	return val, nil
}

// resolveEntry resolves one array entry to an entity uid and reports
// whether it is a Role (true) or a User (false) reference.
func (p *Parser) resolveEntry(entry, currentProjectID string) (types.EntityUid, bool, error) {
	if m := roleShortRe.FindStringSubmatch(entry); m != nil {
		if len(p.Providers) != 1 {
			return types.EntityUid{}, false, fmt.Errorf("role: short form requires exactly one configured provider, have %d", len(p.Providers))
		}
		roleID := fmt.Sprintf("%s/%s~%s", currentProjectID, p.Providers[0], m[1])
		return types.NewEntityUid(types.KindRole, roleID), true, nil
	}
	if m := roleFullRe.FindStringSubmatch(entry); m != nil {
		project := m[1]
		if project == "" {
			project = currentProjectID
		}
		providerID := m[2]
		if len(p.Providers) > 0 && !containsProvider(p.Providers, providerID) {
			return types.EntityUid{}, false, fmt.Errorf("role-full: references unknown provider %q", providerID)
		}
		roleID := fmt.Sprintf("%s/%s~%s", project, providerID, m[3])
		return types.NewEntityUid(types.KindRole, roleID), true, nil
	}
	if m := userRe.FindStringSubmatch(entry); m != nil {
		return types.NewEntityUid(types.KindUser, m[1]), false, nil
	}
	return types.EntityUid{}, false, fmt.Errorf("unrecognized property entry form %q", entry)
}

func containsProvider(providers []string, id string) bool {
	for _, p := range providers {
		if p == id {
			return true
		}
	}
	return false
}
