package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/platinummonkey/keystone/pkg/models"
	"github.com/platinummonkey/keystone/pkg/store"
)

// AutoEnroll makes the creator of a project a project admin with every
// capability.
func AutoEnroll() Handler {
	return HandlerFunc(func(ctx context.Context, tx store.Tx, evt ChangeEvent) error {
		if evt.Table != models.TableProjects || evt.Op != OpInsert {
			return nil
		}
		project, ok := evt.New.(*models.Project)
		if !ok {
			return nil
		}

		creator := evt.Caller.PrincipalID
		if creator == uuid.Nil {
			creator = project.CreatedBy
		}
		if creator == uuid.Nil {
			return nil
		}

		_, err := tx.MembershipFor(ctx, project.ID, creator)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("failed to check creator membership: %w", err)
		}

		m := &models.Membership{
			ID:          uuid.New(),
			ProjectID:   project.ID,
			TenantID:    project.TenantID,
			PrincipalID: creator,
			ProjectRole: models.ProjectRoleAdmin,
			CanEdit:     true,
			CanDelete:   true,
			CanApprove:  true,
			CreatedAt:   evt.At,
		}
		if err := tx.Insert(ctx, m); err != nil {
			return fmt.Errorf("failed to enroll project creator: %w", err)
		}
		return nil
	})
}

// Audit appends an audit entry for every write except to the audit log
// itself.
func Audit() Handler {
	return HandlerFunc(func(ctx context.Context, tx store.Tx, evt ChangeEvent) error {
		if evt.Table == models.TableAuditLogs {
			return nil
		}
		row := evt.Row()
		entry := &models.AuditEntry{
			ID:          uuid.New(),
			TenantID:    models.TenantOf(row),
			PrincipalID: evt.Caller.PrincipalID,
			System:      evt.Caller.System,
			RecordTable: evt.Table,
			RowID:       row.RecordID(),
			Op:          models.AuditOp(evt.Op),
			At:          evt.At,
		}
		if err := tx.Insert(ctx, entry); err != nil {
			return fmt.Errorf("failed to write audit entry: %w", err)
		}
		return nil
	})
}
