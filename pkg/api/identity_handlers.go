package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/platinummonkey/keystone/pkg/authz"
	"github.com/platinummonkey/keystone/pkg/enrollment"
	"github.com/platinummonkey/keystone/pkg/httputil"
	"github.com/platinummonkey/keystone/pkg/models"
)

// identityCreated handles POST /hooks/identity-created. Enrollment
// failures never fail the sign-up; the hook retries in the background.
func (s *Server) identityCreated(w http.ResponseWriter, r *http.Request) {
	var evt enrollment.IdentityEvent
	if !httputil.ParseJSONOrError(w, r, &evt) {
		return
	}
	s.svc.Hook.OnIdentityCreated(context.WithoutCancel(r.Context()), evt)
	httputil.WriteAccepted(w, map[string]string{"status": "accepted"})
}

// getMe handles GET /me
func (s *Server) getMe(w http.ResponseWriter, r *http.Request) {
	caller := authz.CallerFrom(r.Context())
	s.writeGet(w, r, models.TablePrincipals, caller.PrincipalID)
}

// getTenant handles GET /tenants/{id}
func (s *Server) getTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	s.writeGet(w, r, models.TableTenants, id)
}

type transitionFunc func(ctx context.Context, caller authz.Caller, principalID uuid.UUID) (*models.Principal, error)

func (s *Server) transition(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
		if !ok {
			return
		}
		p, err := fn(r.Context(), authz.CallerFrom(r.Context()), id)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		httputil.WriteSuccess(w, p)
	}
}

// approvePrincipal handles POST /principals/{id}/approve
func (s *Server) approvePrincipal(w http.ResponseWriter, r *http.Request) {
	s.transition(s.svc.Enrollment.Approve)(w, r)
}

// rejectPrincipal handles POST /principals/{id}/reject
func (s *Server) rejectPrincipal(w http.ResponseWriter, r *http.Request) {
	s.transition(s.svc.Enrollment.Reject)(w, r)
}

// reopenPrincipal handles POST /principals/{id}/reopen
func (s *Server) reopenPrincipal(w http.ResponseWriter, r *http.Request) {
	s.transition(s.svc.Enrollment.Reopen)(w, r)
}

// deletePrincipal handles DELETE /principals/{id}
func (s *Server) deletePrincipal(w http.ResponseWriter, r *http.Request) {
	s.transition(s.svc.Enrollment.SoftDelete)(w, r)
}

// setPrincipalRole handles PUT /principals/{id}/role
func (s *Server) setPrincipalRole(w http.ResponseWriter, r *http.Request) {
	var req SetRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	s.transition(func(ctx context.Context, caller authz.Caller, id uuid.UUID) (*models.Principal, error) {
		return s.svc.Enrollment.SetRole(ctx, caller, id, req.Role)
	})(w, r)
}
