package enrollment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/platinummonkey/keystone/pkg/apperrors"
	"github.com/platinummonkey/keystone/pkg/authz"
	"github.com/platinummonkey/keystone/pkg/events"
	"github.com/platinummonkey/keystone/pkg/models"
	"github.com/platinummonkey/keystone/pkg/observability"
	"github.com/platinummonkey/keystone/pkg/store"
)

// transition loads the target, checks the actor and applies change inside
// one unit of work, then invalidates the target's cached attributes.
func (s *Service) transition(ctx context.Context, caller authz.Caller, principalID uuid.UUID, name string,
	change func(actor *authz.Attributes, target *models.Principal) error) (*models.Principal, error) {

	ctx, span := observability.Tracer().Start(ctx, "enrollment."+name)
	defer span.End()

	var updated *models.Principal
	err := s.store.Update(ctx, func(tx store.Tx) error {
		actor, err := s.actor(ctx, tx, caller)
		if err != nil {
			return err
		}

		target, err := tx.GetPrincipal(ctx, principalID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && target.DeletedAt != nil) {
			return apperrors.NotFound("principal %s not found", principalID)
		}
		if err != nil {
			return fmt.Errorf("failed to load principal: %w", err)
		}
		if !actor.ElevatedIn(target.TenantRef()) {
			return apperrors.PermissionDenied("%s requires an owner or admin of the principal's company", name)
		}

		prior := target.Clone().(*models.Principal)
		if err := change(actor, target); err != nil {
			return err
		}
		target.UpdatedAt = s.clock()
		if err := tx.Update(ctx, target); err != nil {
			return fmt.Errorf("failed to update principal: %w", err)
		}

		op := events.OpUpdate
		if target.DeletedAt != nil {
			op = events.OpDelete
		}
		if err := s.audit.Handle(ctx, tx, events.ChangeEvent{
			Table:  models.TablePrincipals,
			Op:     op,
			Old:    prior,
			New:    target,
			Caller: caller,
			At:     s.clock(),
		}); err != nil {
			return err
		}
		if prior.ApprovalStatus == models.ApprovalPending && target.ApprovalStatus != models.ApprovalPending {
			if err := s.notify(ctx, tx, target, models.NotifyEnrollmentDecided, map[string]interface{}{
				"approval_status": target.ApprovalStatus,
			}); err != nil {
				return err
			}
		}
		updated = target
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.resolver.Invalidate(ctx, principalID)
	s.metrics.RecordEnrollment(name)
	s.logger.WithFields(map[string]interface{}{
		"principal_id": principalID.String(),
		"actor_id":     caller.PrincipalID.String(),
		"transition":   name,
	}).Info("Principal updated")
	return updated, nil
}

func (s *Service) actor(ctx context.Context, tx store.Tx, caller authz.Caller) (*authz.Attributes, error) {
	if caller.PrincipalID == uuid.Nil {
		return nil, apperrors.Unauthorized("authentication required")
	}
	attrs, err := s.resolver.ResolveFresh(ctx, tx, caller.PrincipalID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.Unauthorized("unknown principal")
	}
	if err != nil {
		return nil, err
	}
	if !attrs.CanWrite() || !attrs.Role.Elevated() {
		return nil, apperrors.PermissionDenied("only approved owners and admins manage principals")
	}
	return attrs, nil
}

// Approve moves a pending principal to approved and activates them.
func (s *Service) Approve(ctx context.Context, caller authz.Caller, principalID uuid.UUID) (*models.Principal, error) {
	return s.transition(ctx, caller, principalID, "approve", func(actor *authz.Attributes, p *models.Principal) error {
		if p.ApprovalStatus != models.ApprovalPending {
			return apperrors.Validation("cannot approve a %s principal", p.ApprovalStatus)
		}
		now := s.clock()
		p.ApprovalStatus = models.ApprovalApproved
		p.IsActive = true
		p.ApprovedAt = &now
		p.ApprovedBy = &actor.PrincipalID
		return nil
	})
}

// Reject moves a pending principal to rejected.
func (s *Service) Reject(ctx context.Context, caller authz.Caller, principalID uuid.UUID) (*models.Principal, error) {
	return s.transition(ctx, caller, principalID, "reject", func(actor *authz.Attributes, p *models.Principal) error {
		if p.ApprovalStatus != models.ApprovalPending {
			return apperrors.Validation("cannot reject a %s principal", p.ApprovalStatus)
		}
		p.ApprovalStatus = models.ApprovalRejected
		p.IsActive = false
		return nil
	})
}

// Reopen returns a rejected principal to pending.
func (s *Service) Reopen(ctx context.Context, caller authz.Caller, principalID uuid.UUID) (*models.Principal, error) {
	return s.transition(ctx, caller, principalID, "reopen", func(actor *authz.Attributes, p *models.Principal) error {
		if p.ApprovalStatus != models.ApprovalRejected {
			return apperrors.Validation("cannot reopen a %s principal", p.ApprovalStatus)
		}
		p.ApprovalStatus = models.ApprovalPending
		p.IsActive = false
		p.ApprovedAt = nil
		p.ApprovedBy = nil
		return nil
	})
}

// SetRole changes a principal's tenant-wide role. Only owners grant or
// revoke the owner role, and nobody changes their own role.
func (s *Service) SetRole(ctx context.Context, caller authz.Caller, principalID uuid.UUID, role models.Role) (*models.Principal, error) {
	if !role.Valid() {
		return nil, apperrors.Validation("invalid role: %q", role)
	}
	return s.transition(ctx, caller, principalID, "set_role", func(actor *authz.Attributes, p *models.Principal) error {
		if p.ID == actor.PrincipalID {
			return apperrors.Validation("cannot change your own role")
		}
		if (role == models.RoleOwner || p.Role == models.RoleOwner) && actor.Role != models.RoleOwner {
			return apperrors.PermissionDenied("only owners grant or revoke the owner role")
		}
		p.Role = role
		return nil
	})
}

// SoftDelete tombstones a principal. Principals are never hard-deleted.
func (s *Service) SoftDelete(ctx context.Context, caller authz.Caller, principalID uuid.UUID) (*models.Principal, error) {
	return s.transition(ctx, caller, principalID, "delete", func(actor *authz.Attributes, p *models.Principal) error {
		if p.ID == actor.PrincipalID {
			return apperrors.Validation("cannot delete yourself")
		}
		if p.Role == models.RoleOwner && actor.Role != models.RoleOwner {
			return apperrors.PermissionDenied("only owners delete owners")
		}
		now := s.clock()
		p.DeletedAt = &now
		p.IsActive = false
		return nil
	})
}
