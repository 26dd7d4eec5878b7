// Package shares issues and redeems report share tokens: opaque, expirable
// credentials that let someone outside the tenant read one project resource,
// filtered by the project's client portal settings.
package shares

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/keystone/pkg/apperrors"
	"github.com/platinummonkey/keystone/pkg/authz"
	"github.com/platinummonkey/keystone/pkg/events"
	"github.com/platinummonkey/keystone/pkg/models"
	"github.com/platinummonkey/keystone/pkg/observability"
	"github.com/platinummonkey/keystone/pkg/store"
)

// ShareRequest asks for a share of one resource.
type ShareRequest struct {
	ResourceTable models.Table  `json:"resource_table"`
	ResourceID    uuid.UUID     `json:"resource_id"`
	TTL           time.Duration `json:"-"`
}

// Resolved is a redeemed share.
type Resolved struct {
	Share    *models.ReportShare    `json:"share"`
	Resource models.Record          `json:"resource"`
	Settings *models.PortalSettings `json:"settings"`
	// Withheld names the resource fields dropped from the JSON payload.
	Withheld []string `json:"-"`
}

// MarshalJSON renders the share with the withheld resource fields removed.
func (r Resolved) MarshalJSON() ([]byte, error) {
	resource, err := json.Marshal(r.Resource)
	if err != nil {
		return nil, err
	}
	if len(r.Withheld) > 0 {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(resource, &fields); err != nil {
			return nil, fmt.Errorf("failed to redact shared resource: %w", err)
		}
		for _, name := range r.Withheld {
			delete(fields, name)
		}
		if resource, err = json.Marshal(fields); err != nil {
			return nil, err
		}
	}
	return json.Marshal(struct {
		Share    *models.ReportShare    `json:"share"`
		Resource json.RawMessage        `json:"resource"`
		Settings *models.PortalSettings `json:"settings"`
	}{r.Share, resource, r.Settings})
}

// Service manages shares.
type Service struct {
	store      store.Store
	evaluator  *authz.Evaluator
	defaultTTL time.Duration
	clock      func() time.Time
	audit      events.Handler
	metrics    *observability.Metrics
	logger     *observability.Logger
}

// NewService creates a share service. Shares without an explicit TTL expire
// after defaultTTL.
func NewService(s store.Store, evaluator *authz.Evaluator, defaultTTL time.Duration, metrics *observability.Metrics, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Service{
		store:      s,
		evaluator:  evaluator,
		defaultTTL: defaultTTL,
		clock:      models.Now,
		audit:      events.Audit(),
		metrics:    metrics,
		logger:     logger,
	}
}

// Create issues a share for a resource the caller can read.
func (s *Service) Create(ctx context.Context, caller authz.Caller, req ShareRequest) (*models.ReportShare, error) {
	if !Shareable(req.ResourceTable) {
		return nil, apperrors.Validation("%s cannot be shared", req.ResourceTable)
	}
	if req.ResourceID == uuid.Nil {
		return nil, apperrors.Validation("resource_id is required")
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	token, err := NewToken()
	if err != nil {
		return nil, err
	}

	var share *models.ReportShare
	err = s.store.Update(ctx, func(tx store.Tx) error {
		resource, err := tx.Get(ctx, req.ResourceTable, req.ResourceID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && models.IsDeleted(resource)) {
			return apperrors.NotFound("%s %s not found", req.ResourceTable, req.ResourceID)
		}
		if err != nil {
			return err
		}
		if err := s.evaluator.Check(ctx, tx, caller, authz.OpRead, resource, nil); err != nil {
			return err
		}

		now := s.clock()
		expires := now.Add(ttl)
		share = &models.ReportShare{
			ID:            uuid.New(),
			ProjectID:     authz.ProjectKey(resource),
			TenantID:      models.TenantOf(resource),
			Token:         token,
			ResourceTable: req.ResourceTable,
			ResourceID:    req.ResourceID,
			IsPublic:      true,
			ExpiresAt:     &expires,
			CreatedBy:     caller.PrincipalID,
			CreatedAt:     now,
		}
		if err := share.Validate(); err != nil {
			return err
		}
		if err := s.evaluator.Check(ctx, tx, caller, authz.OpInsert, share, nil); err != nil {
			return err
		}
		if err := tx.Insert(ctx, share); err != nil {
			return fmt.Errorf("failed to store share: %w", err)
		}
		return s.audit.Handle(ctx, tx, events.ChangeEvent{Table: models.TableReportShares, Op: events.OpInsert, New: share, Caller: caller, At: now})
	})
	if err != nil {
		return nil, err
	}
	return share, nil
}

// Resolve redeems token. Unknown, revoked, private, expired and malformed
// tokens are all InvalidToken. Each redemption counts a view.
func (s *Service) Resolve(ctx context.Context, token string) (*Resolved, error) {
	ctx, span := observability.Tracer().Start(ctx, "shares.Resolve")
	defer span.End()

	if !WellFormed(token) {
		s.metrics.RecordShareResolution("malformed")
		return nil, apperrors.InvalidToken("malformed share token")
	}

	var out *Resolved
	err := s.store.Update(ctx, func(tx store.Tx) error {
		share, err := tx.GetShareByToken(ctx, token)
		if errors.Is(err, store.ErrNotFound) {
			return apperrors.InvalidToken("unknown share token")
		}
		if err != nil {
			return err
		}
		now := s.clock()
		if !share.Usable(now) {
			return apperrors.InvalidToken("share is revoked or expired")
		}

		resource, err := tx.Get(ctx, share.ResourceTable, share.ResourceID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && models.IsDeleted(resource)) {
			return apperrors.NotFound("shared resource no longer exists")
		}
		if err != nil {
			return err
		}

		settings, err := s.settings(ctx, tx, share)
		if err != nil {
			return err
		}
		if !Visible(share.ResourceTable, settings) {
			return apperrors.NotFound("shared resource is not visible")
		}

		share.ViewCount++
		share.LastViewedAt = &now
		if err := tx.Update(ctx, share); err != nil {
			return fmt.Errorf("failed to record share view: %w", err)
		}

		redacted := share.Clone().(*models.ReportShare)
		redacted.Token = ""
		out = &Resolved{
			Share:    redacted,
			Resource: Redact(resource, settings),
			Settings: settings,
			Withheld: Withheld(resource, settings),
		}
		return nil
	})

	switch {
	case err == nil:
		s.metrics.RecordShareResolution("ok")
	case apperrors.IsInvalidToken(err):
		s.metrics.RecordShareResolution("invalid")
	case apperrors.IsNotFound(err):
		s.metrics.RecordShareResolution("hidden")
	default:
		s.metrics.RecordShareResolution("error")
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) settings(ctx context.Context, tx store.Tx, share *models.ReportShare) (*models.PortalSettings, error) {
	settings, err := store.GetAs[*models.PortalSettings](ctx, tx, models.TablePortalSettings, share.ProjectID)
	if errors.Is(err, store.ErrNotFound) {
		return models.DefaultPortalSettings(share.ProjectID, share.TenantID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load portal settings: %w", err)
	}
	return settings, nil
}

// Revoke disables a share. Project admins and the share's creator may
// revoke it.
func (s *Service) Revoke(ctx context.Context, caller authz.Caller, shareID uuid.UUID) (*models.ReportShare, error) {
	var out *models.ReportShare
	err := s.store.Update(ctx, func(tx store.Tx) error {
		prior, err := store.GetAs[*models.ReportShare](ctx, tx, models.TableReportShares, shareID)
		if errors.Is(err, store.ErrNotFound) {
			return apperrors.NotFound("share %s not found", shareID)
		}
		if err != nil {
			return err
		}
		if err := s.evaluator.Check(ctx, tx, caller, authz.OpRead, prior, nil); err != nil {
			return err
		}
		if prior.RevokedAt != nil {
			out = prior
			return nil
		}

		now := s.clock()
		next := prior.Clone().(*models.ReportShare)
		next.RevokedAt = &now
		if err := s.evaluator.Check(ctx, tx, caller, authz.OpUpdate, next, prior); err != nil {
			return err
		}
		if err := tx.Update(ctx, next); err != nil {
			return fmt.Errorf("failed to revoke share: %w", err)
		}
		out = next
		return s.audit.Handle(ctx, tx, events.ChangeEvent{Table: models.TableReportShares, Op: events.OpUpdate, Old: prior, New: next, Caller: caller, At: now})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
