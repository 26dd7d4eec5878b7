package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/platinummonkey/keystone/pkg/httputil"
	"github.com/platinummonkey/keystone/pkg/models"
)

// createEquipmentLog handles POST /equipment-logs
func (s *Server) createEquipmentLog(w http.ResponseWriter, r *http.Request) {
	s.insert(w, r, &models.EquipmentLog{})
}

// createCostTransaction handles POST /cost-transactions
func (s *Server) createCostTransaction(w http.ResponseWriter, r *http.Request) {
	s.insert(w, r, &models.CostTransaction{})
}

// createRFI handles POST /rfis
func (s *Server) createRFI(w http.ResponseWriter, r *http.Request) {
	s.insert(w, r, &models.RFI{})
}

// getHistory handles GET /{table}/{id}/history
func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	entries, err := s.session(r).History(r.Context(), models.Table(mux.Vars(r)["table"]), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*models.AuditEntry{}
	}
	httputil.WriteSuccess(w, entries)
}

// insert decodes the body into rec and inserts it. Tenant, project and
// creator fields in the body are ignored.
func (s *Server) insert(w http.ResponseWriter, r *http.Request, rec models.Record) {
	if !httputil.ParseJSONOrError(w, r, rec) {
		return
	}
	out, err := s.session(r).Insert(r.Context(), rec)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteCreated(w, present(out))
}

func (s *Server) writeGet(w http.ResponseWriter, r *http.Request, table models.Table, id uuid.UUID) {
	rec, err := s.session(r).Get(r.Context(), table, id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, present(rec))
}
