// Package dbutil holds the NULL and JSON column helpers shared by the SQL drivers.
package dbutil

import (
	"database/sql"
	"encoding/json"
	"strings"
)

// NullString maps blank strings to NULL.
func NullString(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func NullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func NullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func FloatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func IntPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

// JSONOrNull encodes v, keeping a nil map as NULL.
func JSONOrNull(v map[string]any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func DecodeJSON(n sql.NullString) (map[string]any, error) {
	if !n.Valid || n.String == "" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(n.String), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RowScanner is satisfied by *sql.Row and *sql.Rows.
type RowScanner interface {
	Scan(dest ...any) error
}
