package audit

import (
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/keystone/pkg/apperrors"
	"github.com/platinummonkey/keystone/pkg/models"
)

// Query narrows an export.
type Query struct {
	Format      Format
	Since       time.Time
	Until       time.Time
	Table       models.Table
	Op          models.AuditOp
	PrincipalID uuid.UUID
	Limit       int
}

// ParseQuery reads format, since, until, table, op, user_id and limit from
// URL query values. Times are RFC 3339.
func ParseQuery(v url.Values) (Query, error) {
	var q Query
	var err error

	if q.Format, err = ParseFormat(v.Get("format")); err != nil {
		return q, err
	}
	if q.Since, err = parseTime(v, "since"); err != nil {
		return q, err
	}
	if q.Until, err = parseTime(v, "until"); err != nil {
		return q, err
	}
	if !q.Since.IsZero() && !q.Until.IsZero() && q.Until.Before(q.Since) {
		return q, apperrors.Validation("until must not be before since")
	}

	if t := v.Get("table"); t != "" {
		q.Table = models.Table(t)
		if _, ok := models.New(q.Table); !ok {
			return q, apperrors.Validation("unknown table %q", t)
		}
	}
	if op := v.Get("op"); op != "" {
		q.Op = models.AuditOp(op)
		switch q.Op {
		case models.AuditInsert, models.AuditUpdate, models.AuditDelete, models.AuditRestore:
		default:
			return q, apperrors.Validation("unknown op %q", op)
		}
	}
	if id := v.Get("user_id"); id != "" {
		if q.PrincipalID, err = uuid.Parse(id); err != nil {
			return q, apperrors.Validation("invalid user_id")
		}
	}
	if l := v.Get("limit"); l != "" {
		if q.Limit, err = strconv.Atoi(l); err != nil || q.Limit < 0 {
			return q, apperrors.Validation("invalid limit")
		}
	}
	return q, nil
}

func parseTime(v url.Values, key string) (time.Time, error) {
	s := v.Get(key)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, apperrors.Validation("invalid %s: expected RFC 3339 time", key)
	}
	return t, nil
}

// Matches reports whether e passes every set criterion. Since is
// inclusive, Until exclusive.
func (q Query) Matches(e *models.AuditEntry) bool {
	if !q.Since.IsZero() && e.At.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && !e.At.Before(q.Until) {
		return false
	}
	if q.Table != "" && e.RecordTable != q.Table {
		return false
	}
	if q.Op != "" && e.Op != q.Op {
		return false
	}
	if q.PrincipalID != uuid.Nil && e.PrincipalID != q.PrincipalID {
		return false
	}
	return true
}

// Apply returns the matching entries oldest first, capped at Limit.
func (q Query) Apply(entries []*models.AuditEntry) []*models.AuditEntry {
	out := make([]*models.AuditEntry, 0, len(entries))
	for _, e := range entries {
		if q.Matches(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].At.Before(out[j].At)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}
