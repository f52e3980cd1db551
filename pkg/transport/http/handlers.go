package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rhuss/simplecrm/pkg/api"
	"github.com/rhuss/simplecrm/pkg/authz"
	"github.com/rhuss/simplecrm/pkg/chat"
	"github.com/rhuss/simplecrm/pkg/storage"
	"github.com/rhuss/simplecrm/pkg/tenant"
	"github.com/rhuss/simplecrm/pkg/transport"
)

const maxBodySize = 1 << 20

type listResponse[T any] struct {
	Object string `json:"object"`
	Data   []T    `json:"data"`
}

type currentResponse struct {
	Subject     string       `json:"subject"`
	DisplayName string       `json:"display_name"`
	TenantID    string       `json:"tenant_id"`
	Role        storage.Role `json:"role"`
	Scopes      []string     `json:"scopes,omitempty"`
	ExpiresAt   *time.Time   `json:"expires_at,omitempty"`
}

type memberRequest struct {
	Role string `json:"role"`
}

type presenceResponse struct {
	TenantID string        `json:"tenant_id"`
	Members  []chat.Member `json:"members"`
}

// handleListTenants lists the caller's memberships. It needs only an
// identity since it is how a client discovers which tenant to pick.
func (rt *Router) handleListTenants(w http.ResponseWriter, r *http.Request) {
	ac := authz.FromContext(r.Context())
	ms, err := rt.deps.Directory.Memberships(r.Context(), ac.Identity.Subject)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if ms == nil {
		ms = []storage.Membership{}
	}
	transport.WriteJSON(w, http.StatusOK, listResponse[storage.Membership]{Object: "list", Data: ms})
}

func handleCurrent(w http.ResponseWriter, r *http.Request) {
	ac := authz.FromContext(r.Context())
	resp := currentResponse{
		Subject:     ac.Identity.Subject,
		DisplayName: ac.Identity.Name(),
		TenantID:    ac.TenantID,
		Role:        ac.Role,
		Scopes:      ac.Identity.Scopes,
	}
	if !ac.Identity.ExpiresAt.IsZero() {
		exp := ac.Identity.ExpiresAt
		resp.ExpiresAt = &exp
	}
	transport.WriteJSON(w, http.StatusOK, resp)
}

func (rt *Router) handlePutMember(w http.ResponseWriter, r *http.Request) {
	ac := authz.FromContext(r.Context())

	var req memberRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		transport.WriteAPIError(w, api.NewInvalidRequestError("body", "request body must be JSON with a role"))
		return
	}
	role, err := storage.ParseRole(req.Role)
	if err != nil {
		transport.WriteAPIError(w, api.NewInvalidRequestError("role", err.Error()))
		return
	}
	m, err := rt.deps.Directory.AddMember(r.Context(), ac.Role, storage.Membership{
		TenantID: ac.TenantID,
		Subject:  r.PathValue("subject"),
		Role:     role,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	rt.deps.Logger.Info("membership updated",
		"tenant", m.TenantID,
		"subject", m.Subject,
		"role", m.Role,
		"by", ac.Identity.Subject,
	)
	transport.WriteJSON(w, http.StatusOK, m)
}

func (rt *Router) handleDeleteMember(w http.ResponseWriter, r *http.Request) {
	ac := authz.FromContext(r.Context())
	subject := r.PathValue("subject")

	if err := rt.deps.Directory.RemoveMember(r.Context(), ac.Role, ac.TenantID, subject); err != nil {
		writeStoreError(w, err)
		return
	}
	rt.deps.Logger.Info("membership removed",
		"tenant", ac.TenantID,
		"subject", subject,
		"by", ac.Identity.Subject,
	)
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) handlePresence(w http.ResponseWriter, r *http.Request) {
	ac := authz.FromContext(r.Context())
	transport.WriteJSON(w, http.StatusOK, presenceResponse{
		TenantID: ac.TenantID,
		Members:  rt.deps.Hub.Members(ac.TenantID),
	})
}

// writeStoreError maps membership store failures to API errors.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tenant.ErrInvalidMember):
		transport.WriteAPIError(w, api.NewInvalidRequestError("subject", err.Error()))
	case errors.Is(err, tenant.ErrOwnerRequired):
		transport.WriteAPIError(w, api.NewForbiddenError("only owners can grant, change or remove the owner role"))
	case errors.Is(err, tenant.ErrLastOwner):
		transport.WriteAPIError(w, api.NewConflictError(err.Error()))
	case errors.Is(err, storage.ErrNotFound):
		transport.WriteAPIError(w, api.NewNotFoundError("membership not found"))
	case errors.Is(err, storage.ErrUnavailable):
		transport.WriteAPIError(w, api.NewServiceUnavailableError("membership store unavailable"))
	default:
		transport.WriteAPIError(w, api.NewServerError("internal server error"))
	}
}
