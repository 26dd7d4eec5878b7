package api

import (
	"net/http"

	"github.com/platinummonkey/keystone/pkg/httputil"
	"github.com/platinummonkey/keystone/pkg/models"
	"github.com/platinummonkey/keystone/pkg/store"
)

// createEstimate handles POST /estimates
func (s *Server) createEstimate(w http.ResponseWriter, r *http.Request) {
	s.insert(w, r, &models.CostEstimate{})
}

// getEstimate handles GET /estimates/{id}
func (s *Server) getEstimate(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	sess := s.session(r)
	rec, err := sess.Get(r.Context(), models.TableEstimates, id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	rows, err := sess.List(r.Context(), models.TableEstimateItems, store.Filter{ParentID: id})
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	resp := EstimateResponse{CostEstimate: present(rec).(*models.CostEstimate), Items: make([]*models.EstimateItem, 0, len(rows))}
	for _, row := range rows {
		resp.Items = append(resp.Items, present(row).(*models.EstimateItem))
	}
	httputil.WriteSuccess(w, resp)
}

// createEstimateItem handles POST /estimates/{id}/items
func (s *Server) createEstimateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	var item models.EstimateItem
	if !httputil.ParseJSONOrError(w, r, &item) {
		return
	}
	item.EstimateID = id

	rec, err := s.session(r).Insert(r.Context(), &item)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteCreated(w, present(rec))
}

// updateEstimateItem handles PUT /estimate-items/{id}
func (s *Server) updateEstimateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	var item models.EstimateItem
	if !httputil.ParseJSONOrError(w, r, &item) {
		return
	}
	item.ID = id

	rec, err := s.session(r).Update(r.Context(), &item)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, present(rec))
}

// deleteEstimateItem handles DELETE /estimate-items/{id}
func (s *Server) deleteEstimateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	if err := s.session(r).Delete(r.Context(), models.TableEstimateItems, id); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// recalculateEstimate handles POST /estimates/{id}/recalculate
func (s *Server) recalculateEstimate(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	estimate, err := s.session(r).RecalculateEstimateTotals(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, present(estimate))
}
