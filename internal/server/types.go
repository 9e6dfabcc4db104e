// Package server is the thin HTTP listener in front of the Authorizer
// facade: an authorization-check/introspect/reload contract plus health and
// metrics endpoints. Grounded on the teacher's internal/api/rest package
// (gorilla/mux router, JSON request/response shapes, logging/recovery/CORS
// middleware) — adapted from a policy-management CRUD surface (out of
// scope here per spec.md §1) down to the narrower contract this engine
// actually exposes.
package server

import (
	"encoding/json"
	"net/http"
	"time"
)

// ErrorResponse is the JSON body returned for any 4xx/5xx response.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// EntityRef is an entity uid in the policy grammar's `Kind::"id"` textual
// form, e.g. "Table::\"wh-1/t1\"".
type EntityRef string

// ResourceNode is one entity in a check request's resource ancestor chain:
// the resource itself plus every ancestor up to (and including) the Server
// root. This is how a caller supplies what a live catalog connection would
// otherwise resolve — catalog integration itself is out of scope (spec.md
// §1 names it an external collaborator).
type ResourceNode struct {
	Uid        EntityRef              `json:"uid"`
	Attrs      map[string]interface{} `json:"attrs,omitempty"`
	ParentUid  EntityRef              `json:"parent_uid,omitempty"`
	Properties map[string]string      `json:"properties,omitempty"`
}

// PrincipalRef is the pre-authenticated caller, mirroring
// requestbuilder.Identity's fields plus the catalog-assigned Role uids a
// live catalog would otherwise supply via CatalogResolver.PrincipalRoles.
type PrincipalRef struct {
	ProviderID string                 `json:"provider_id"`
	Subject    string                 `json:"subject"`
	Claims     map[string]interface{} `json:"claims,omitempty"`
	Roles      []EntityRef            `json:"roles,omitempty"`
}

// CheckRequestBody is the JSON body of POST /v1/authorization/check.
type CheckRequestBody struct {
	Principal         PrincipalRef           `json:"principal"`
	Action             string                 `json:"action"`
	Resource           EntityRef              `json:"resource"`
	ResourceChain      []ResourceNode         `json:"resource_chain"`
	Context            map[string]interface{} `json:"context,omitempty"`
	WriteProperties    map[string]string      `json:"write_properties,omitempty"`
	CurrentProjectID   string                 `json:"current_project_id,omitempty"`
}

// CheckResponseBody is the JSON body of a successful check response.
type CheckResponseBody struct {
	Allowed             bool     `json:"allowed"`
	DeterminingPolicies []string `json:"determining_policies,omitempty"`
	ErroringPolicies    []string `json:"erroring_policies,omitempty"`
}

// IntrospectRequestBody is the JSON body of POST /v1/authorization/allowed-actions.
type IntrospectRequestBody struct {
	Principal     PrincipalRef   `json:"principal"`
	Resource      EntityRef      `json:"resource"`
	ResourceChain []ResourceNode `json:"resource_chain"`
}

// IntrospectResponseBody is the JSON body of a successful introspect response.
type IntrospectResponseBody struct {
	AllowedActions []string `json:"allowed_actions"`
}

// StatusResponse is the JSON body of GET /v1/status.
type StatusResponse struct {
	Version        string    `json:"version"`
	Uptime         string    `json:"uptime"`
	Timestamp      time.Time `json:"timestamp"`
	SnapshotHealth bool      `json:"snapshot_health"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func writeError(w http.ResponseWriter, status int, message string, details map[string]interface{}) {
	writeJSON(w, status, ErrorResponse{Error: message, Details: details})
}
