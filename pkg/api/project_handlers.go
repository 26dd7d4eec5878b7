package api

import (
	"net/http"

	"github.com/platinummonkey/keystone/pkg/authz"
	"github.com/platinummonkey/keystone/pkg/httputil"
	"github.com/platinummonkey/keystone/pkg/models"
	"github.com/platinummonkey/keystone/pkg/store"
)

// createProject handles POST /projects
func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	s.insert(w, r, &models.Project{})
}

// listProjects handles GET /projects
func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	rows, err := s.session(r).List(r.Context(), models.TableProjects, store.Filter{})
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, presentAll(rows))
}

// getProject handles GET /projects/{id}
func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	s.writeGet(w, r, models.TableProjects, id)
}

// getProjectHealth handles GET /projects/{id}/health. With refresh=true the
// snapshot is recomputed first.
func (s *Server) getProjectHealth(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	refresh, err := httputil.ParseQueryBool(r, "refresh", false)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	caller := authz.CallerFrom(r.Context())
	var snap *models.HealthSnapshot
	if refresh {
		snap, err = s.svc.Health.Compute(r.Context(), caller, id)
	} else {
		snap, err = s.svc.Health.Latest(r.Context(), caller, id)
	}
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, snap)
}

// recalculateProject handles POST /projects/{id}/recalculate
func (s *Server) recalculateProject(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	project, err := s.session(r).RecalculateProjectCost(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, present(project))
}
