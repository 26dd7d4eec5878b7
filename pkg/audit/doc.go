// Package audit filters and exports the audit trail.
//
// Entries are written by the write pipeline, one per row insert, update,
// delete or restore. This package narrows a set of entries with a Query and
// renders them as JSON, newline-delimited JSON or CSV:
//
//	q, err := audit.ParseQuery(r.URL.Query())
//	entries = q.Apply(entries)
//	err = audit.Export(w, entries, q.Format)
package audit
