package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/keystone/pkg/models"
	"github.com/platinummonkey/keystone/pkg/shares"
)

// SetRoleRequest is the body of PUT /principals/{id}/role.
type SetRoleRequest struct {
	Role models.Role `json:"role"`
}

// CreateShareRequest is the body of POST /shares. ExpiresIn is a Go
// duration string; empty uses the configured default.
type CreateShareRequest struct {
	ResourceTable models.Table `json:"resource_table"`
	ResourceID    uuid.UUID    `json:"resource_id"`
	ExpiresIn     string       `json:"expires_in,omitempty"`
}

func (r CreateShareRequest) toShareRequest() (shares.ShareRequest, error) {
	req := shares.ShareRequest{ResourceTable: r.ResourceTable, ResourceID: r.ResourceID}
	if r.ExpiresIn != "" {
		ttl, err := time.ParseDuration(r.ExpiresIn)
		if err != nil {
			return req, err
		}
		req.TTL = ttl
	}
	return req, nil
}

// EstimateResponse is an estimate with its live items.
type EstimateResponse struct {
	*models.CostEstimate
	Items []*models.EstimateItem `json:"items"`
}
