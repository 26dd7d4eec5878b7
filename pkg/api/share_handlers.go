package api

import (
	"net/http"

	"github.com/platinummonkey/keystone/pkg/apperrors"
	"github.com/platinummonkey/keystone/pkg/authz"
	"github.com/platinummonkey/keystone/pkg/httputil"
)

// createShare handles POST /shares
func (s *Server) createShare(w http.ResponseWriter, r *http.Request) {
	var body CreateShareRequest
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}
	req, err := body.toShareRequest()
	if err != nil {
		httputil.WriteError(w, r, apperrors.Validation("invalid expires_in: %s", body.ExpiresIn))
		return
	}

	share, err := s.svc.Shares.Create(r.Context(), authz.CallerFrom(r.Context()), req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteCreated(w, share)
}

// revokeShare handles DELETE /shares/{id}
func (s *Server) revokeShare(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	share, err := s.svc.Shares.Revoke(r.Context(), authz.CallerFrom(r.Context()), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, share)
}

// resolveShare handles GET /shared/{token}. It needs no identity.
func (s *Server) resolveShare(w http.ResponseWriter, r *http.Request) {
	token, err := httputil.ParsePathString(r, "token")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	resolved, err := s.svc.Shares.Resolve(r.Context(), token)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	resolved.Resource = present(resolved.Resource)
	httputil.WriteSuccess(w, resolved)
}
