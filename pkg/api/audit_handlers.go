package api

import (
	"net/http"

	"github.com/platinummonkey/keystone/pkg/audit"
	"github.com/platinummonkey/keystone/pkg/httputil"
	"github.com/platinummonkey/keystone/pkg/models"
	"github.com/platinummonkey/keystone/pkg/observability"
	"github.com/platinummonkey/keystone/pkg/store"
)

// exportAuditLog handles GET /audit-logs. Callers only receive entries
// their read policy admits, so non-admins get an empty export.
func (s *Server) exportAuditLog(w http.ResponseWriter, r *http.Request) {
	q, err := audit.ParseQuery(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	rows, err := s.session(r).List(r.Context(), models.TableAuditLogs, store.Filter{})
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	entries := make([]*models.AuditEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.(*models.AuditEntry))
	}

	w.Header().Set("Content-Type", q.Format.ContentType())
	w.WriteHeader(http.StatusOK)
	if err := audit.Export(w, q.Apply(entries), q.Format); err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Failed to write audit export")
	}
}
