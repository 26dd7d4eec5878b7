package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/keystone/pkg/apperrors"
	"github.com/platinummonkey/keystone/pkg/models"
)

// Format is an export encoding
type Format string

const (
	FormatJSON   Format = "json"
	FormatNDJSON Format = "ndjson"
	FormatCSV    Format = "csv"
)

// ParseFormat maps a query value to a Format. Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatNDJSON, FormatCSV:
		return f, nil
	}
	return "", apperrors.Validation("unsupported export format %q", s)
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	switch f {
	case FormatNDJSON:
		return "application/x-ndjson"
	case FormatCSV:
		return "text/csv"
	}
	return "application/json"
}

// Export writes entries to w in format f.
func Export(w io.Writer, entries []*models.AuditEntry, f Format) error {
	switch f {
	case FormatJSON, "":
		return exportJSON(w, entries)
	case FormatNDJSON:
		return exportNDJSON(w, entries)
	case FormatCSV:
		return exportCSV(w, entries)
	}
	return apperrors.Validation("unsupported export format %q", f)
}

// exportJSON exports entries as a JSON array
func exportJSON(w io.Writer, entries []*models.AuditEntry) error {
	if entries == nil {
		entries = []*models.AuditEntry{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}

// exportNDJSON exports entries as newline-delimited JSON
func exportNDJSON(w io.Writer, entries []*models.AuditEntry) error {
	enc := json.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("failed to encode entry: %w", err)
		}
	}
	return nil
}

var csvHeader = []string{"ID", "At", "CompanyID", "UserID", "System", "Table", "RecordID", "Op"}

// exportCSV exports entries as CSV
func exportCSV(w io.Writer, entries []*models.AuditEntry) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, e := range entries {
		row := []string{
			e.ID.String(),
			e.At.UTC().Format(time.RFC3339),
			e.TenantID.String(),
			formatUUID(e.PrincipalID),
			strconv.FormatBool(e.System),
			string(e.RecordTable),
			e.RowID.String(),
			string(e.Op),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("CSV writer error: %w", err)
	}
	return nil
}

// formatUUID renders the nil UUID as an empty cell
func formatUUID(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}
