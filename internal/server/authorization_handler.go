package server

import (
	"encoding/json"
	"net/http"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/authz-engine/go-core/internal/authorizer"
	"github.com/authz-engine/go-core/internal/requestbuilder"
	"github.com/authz-engine/go-core/pkg/types"
)

// checkHandler handles POST /v1/authorization/check.
func (s *Server) checkHandler(w http.ResponseWriter, r *http.Request) {
	var body CheckRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", map[string]interface{}{"error": err.Error()})
		return
	}
	if body.Principal.ProviderID == "" || body.Principal.Subject == "" {
		writeError(w, http.StatusBadRequest, "principal.provider_id and principal.subject are required", nil)
		return
	}
	if body.Action == "" {
		writeError(w, http.StatusBadRequest, "action is required", nil)
		return
	}
	if body.Resource == "" {
		writeError(w, http.StatusBadRequest, "resource is required", nil)
		return
	}

	resourceUid, err := types.ParseEntityRef(string(body.Resource))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid resource", map[string]interface{}{"error": err.Error()})
		return
	}

	identity := requestbuilder.Identity{ProviderID: body.Principal.ProviderID, Subject: body.Principal.Subject}
	if len(body.Principal.Claims) > 0 {
		identity.Claims = jwt.MapClaims(body.Principal.Claims)
	}

	resolver, err := buildCatalog(body.ResourceChain)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid resource_chain", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := attachPrincipalRoles(resolver, identity.Uid(), body.Principal.Roles); err != nil {
		writeError(w, http.StatusBadRequest, "invalid principal.roles", map[string]interface{}{"error": err.Error()})
		return
	}

	decision, err := s.authorizer.Check(r.Context(), authorizer.CheckRequest{
		Identity:         identity,
		Action:           body.Action,
		Resource:         resourceUid,
		Context:          body.Context,
		Resolver:         resolver,
		WriteProperties:  body.WriteProperties,
		CurrentProjectID: body.CurrentProjectID,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "authorization check failed", map[string]interface{}{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, CheckResponseBody{
		Allowed:             decision.Allow,
		DeterminingPolicies: decision.DeterminingPolicies,
		ErroringPolicies:    decision.ErroringPolicies,
	})
}

// introspectHandler handles POST /v1/authorization/allowed-actions, the side
// API spec.md §1's non-goals describe as "built on the same evaluator but
// not specified here" — here it is: Authorizer.Introspect, exposed as an
// HTTP endpoint in the teacher's allowedActionsHandler style.
func (s *Server) introspectHandler(w http.ResponseWriter, r *http.Request) {
	var body IntrospectRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", map[string]interface{}{"error": err.Error()})
		return
	}
	if body.Principal.ProviderID == "" || body.Principal.Subject == "" {
		writeError(w, http.StatusBadRequest, "principal.provider_id and principal.subject are required", nil)
		return
	}
	if body.Resource == "" {
		writeError(w, http.StatusBadRequest, "resource is required", nil)
		return
	}

	resourceUid, err := types.ParseEntityRef(string(body.Resource))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid resource", map[string]interface{}{"error": err.Error()})
		return
	}

	identity := requestbuilder.Identity{ProviderID: body.Principal.ProviderID, Subject: body.Principal.Subject}
	resolver, err := buildCatalog(body.ResourceChain)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid resource_chain", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := attachPrincipalRoles(resolver, identity.Uid(), body.Principal.Roles); err != nil {
		writeError(w, http.StatusBadRequest, "invalid principal.roles", map[string]interface{}{"error": err.Error()})
		return
	}

	allowed, err := s.authorizer.Introspect(r.Context(), identity, resourceUid, resolver)
	if err != nil {
		writeError(w, http.StatusBadRequest, "introspection failed", map[string]interface{}{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, IntrospectResponseBody{AllowedActions: allowed})
}

// reloadHandler handles POST /v1/admin/reload, an operator-triggered
// out-of-schedule policy reload.
func (s *Server) reloadHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.authorizer.ReloadNow(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "reload failed", map[string]interface{}{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}
