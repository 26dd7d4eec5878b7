// Package enrollment turns first-seen external identities into principals
// and moves them through the approval state machine:
//
//	unenrolled ──► approved            new tenant, principal becomes owner
//	unenrolled ──► pending ──► approved
//	                   │
//	                   └────► rejected ──► pending   (explicit reopen)
//
// A pending principal is inactive and can read only their own profile and
// their tenant's metadata until an approved owner or admin of the same
// tenant approves them.
package enrollment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/keystone/pkg/apperrors"
	"github.com/platinummonkey/keystone/pkg/authz"
	"github.com/platinummonkey/keystone/pkg/events"
	"github.com/platinummonkey/keystone/pkg/models"
	"github.com/platinummonkey/keystone/pkg/observability"
	"github.com/platinummonkey/keystone/pkg/store"
)

// IdentityEvent is emitted by the identity provider when an identity is
// created.
type IdentityEvent struct {
	Subject     string `json:"subject"`
	Email       string `json:"email"`
	FullName    string `json:"full_name"`
	CompanyName string `json:"company_name"`
}

// Outcome of an enrollment
type Outcome string

const (
	OutcomeOwner      Outcome = "owner"
	OutcomePending    Outcome = "pending"
	OutcomeOnboarding Outcome = "onboarding"
	OutcomeDuplicate  Outcome = "duplicate"
)

// Result describes a completed enrollment.
type Result struct {
	Outcome   Outcome
	Principal *models.Principal
	Tenant    *models.Tenant
}

// errTenantRace signals that another enrollment created the tenant first.
var errTenantRace = errors.New("tenant created concurrently")

// Service runs enrollments and approval transitions.
type Service struct {
	store    store.Store
	resolver *authz.Resolver
	metrics  *observability.Metrics
	logger   *observability.Logger
	clock    func() time.Time
	audit    events.Handler
}

// NewService creates an enrollment service.
func NewService(s store.Store, resolver *authz.Resolver, metrics *observability.Metrics, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Service{
		store:    s,
		resolver: resolver,
		metrics:  metrics,
		logger:   logger,
		clock:    models.Now,
		audit:    events.Audit(),
	}
}

// Enroll creates the principal for evt. Enrolling an identity that already
// has a principal is a ConflictIgnored no-op.
//
// Two first-ever sign-ups naming the same company race on the unique
// normalized tenant name; the loser retries once and joins the winner's
// tenant as pending.
func (s *Service) Enroll(ctx context.Context, evt IdentityEvent) (*Result, error) {
	ctx, span := observability.Tracer().Start(ctx, "enrollment.Enroll")
	defer span.End()

	evt.Subject = strings.TrimSpace(evt.Subject)
	if evt.Subject == "" {
		return nil, apperrors.Validation("identity subject is required")
	}

	var res *Result
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		err = s.store.Update(ctx, func(tx store.Tx) error {
			var err error
			res, err = s.enroll(ctx, tx, evt)
			return err
		})
		if !errors.Is(err, errTenantRace) {
			break
		}
		s.logger.WithField("company", evt.CompanyName).Info("Tenant created concurrently, joining instead")
	}
	if errors.Is(err, errTenantRace) {
		err = fmt.Errorf("failed to enroll %s: %w", evt.Subject, err)
	}

	switch {
	case err == nil:
		s.metrics.RecordEnrollment(string(res.Outcome))
	case apperrors.IsConflictIgnored(err):
		s.metrics.RecordEnrollment(string(OutcomeDuplicate))
	default:
		s.metrics.RecordEnrollment("error")
	}
	return res, err
}

func (s *Service) enroll(ctx context.Context, tx store.Tx, evt IdentityEvent) (*Result, error) {
	if _, err := tx.GetPrincipalByIdentity(ctx, evt.Subject); err == nil {
		return nil, apperrors.ConflictIgnored("identity %s is already enrolled", evt.Subject)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up identity: %w", err)
	}

	now := s.clock()
	p := &models.Principal{
		ID:             uuid.New(),
		IdentityKey:    evt.Subject,
		Email:          evt.Email,
		FullName:       evt.FullName,
		Role:           models.RoleFieldEmployee,
		ApprovalStatus: models.ApprovalPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	res := &Result{Outcome: OutcomeOnboarding, Principal: p}

	normalized := models.NormalizeName(evt.CompanyName)
	if normalized != "" {
		tenant, err := tx.GetTenantByNormalizedName(ctx, normalized)
		switch {
		case err == nil && models.IsDeleted(tenant):
			// The closed company still holds the name and has no one left
			// to approve a joiner.
			s.logger.WithFields(map[string]interface{}{
				"company":   evt.CompanyName,
				"tenant_id": tenant.ID.String(),
			}).Warn("Sign-up names a deleted company, onboarding without a tenant")
			tenant = nil
		case err == nil:
			res.Outcome = OutcomePending
		case errors.Is(err, store.ErrNotFound):
			tenant = &models.Tenant{
				ID:        uuid.New(),
				Name:      strings.TrimSpace(evt.CompanyName),
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := tenant.Validate(); err != nil {
				return nil, err
			}
			if err := tx.Insert(ctx, tenant); err != nil {
				if errors.Is(err, store.ErrDuplicate) {
					return nil, errTenantRace
				}
				return nil, fmt.Errorf("failed to create tenant: %w", err)
			}
			if err := s.record(ctx, tx, events.OpInsert, nil, tenant); err != nil {
				return nil, err
			}

			p.Role = models.RoleOwner
			p.ApprovalStatus = models.ApprovalApproved
			p.IsActive = true
			p.ApprovedAt = &now
			res.Outcome = OutcomeOwner
		default:
			return nil, fmt.Errorf("failed to look up tenant: %w", err)
		}
		if tenant != nil {
			p.TenantID = &tenant.ID
			res.Tenant = tenant
		}
	}

	if err := tx.Insert(ctx, p); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apperrors.ConflictIgnored("identity %s is already enrolled", evt.Subject)
		}
		return nil, fmt.Errorf("failed to create principal: %w", err)
	}
	if err := s.record(ctx, tx, events.OpInsert, nil, p); err != nil {
		return nil, err
	}

	if res.Outcome == OutcomePending {
		if err := s.notifyApprovers(ctx, tx, p); err != nil {
			return nil, err
		}
	}

	s.logger.WithFields(map[string]interface{}{
		"principal_id": p.ID.String(),
		"outcome":      string(res.Outcome),
	}).Info("Identity enrolled")
	return res, nil
}

func (s *Service) record(ctx context.Context, tx store.Tx, op events.Op, old, rec models.Record) error {
	return s.audit.Handle(ctx, tx, events.ChangeEvent{
		Table:  rec.Table(),
		Op:     op,
		Old:    old,
		New:    rec,
		Caller: authz.SystemCaller,
		At:     s.clock(),
	})
}

// notifyApprovers queues an approval request to every approved owner and
// admin of the pending principal's tenant.
func (s *Service) notifyApprovers(ctx context.Context, tx store.Tx, pending *models.Principal) error {
	members, err := store.ListAs[*models.Principal](ctx, tx, models.TablePrincipals, store.Filter{TenantID: pending.TenantRef()})
	if err != nil {
		return fmt.Errorf("failed to list approvers: %w", err)
	}
	for _, m := range members {
		if !authz.AttributesOf(m).ElevatedIn(pending.TenantRef()) {
			continue
		}
		if err := s.notify(ctx, tx, m, models.NotifyApprovalRequested, map[string]interface{}{
			"principal_id": pending.ID,
			"email":        pending.Email,
			"full_name":    pending.FullName,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) notify(ctx context.Context, tx store.Tx, to *models.Principal, kind string, payload map[string]interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode notification payload: %w", err)
	}
	n := &models.Notification{
		ID:          uuid.New(),
		TenantID:    to.TenantRef(),
		PrincipalID: to.ID,
		Kind:        kind,
		Payload:     data,
		Status:      models.NotificationPending,
		CreatedAt:   s.clock(),
	}
	if err := tx.Insert(ctx, n); err != nil {
		return fmt.Errorf("failed to queue notification: %w", err)
	}
	return nil
}
