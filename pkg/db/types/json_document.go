package dbtypes

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONDocument stores raw JSON in a jsonb column. It is written as text so the
// same value works over the pgx simple protocol and on SQLite.
type JSONDocument json.RawMessage

// NewJSONDocument marshals v into a JSONDocument.
func NewJSONDocument(v any) (JSONDocument, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return JSONDocument(raw), nil
}

func (d *JSONDocument) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = nil
		return nil
	case string:
		*d = append((*d)[:0], v...)
		return nil
	case []byte:
		*d = append((*d)[:0], v...)
		return nil
	default:
		return fmt.Errorf("JSONDocument: unsupported Scan type %T", src)
	}
}

func (d JSONDocument) Value() (driver.Value, error) {
	if len(d) == 0 {
		return nil, nil
	}
	if !json.Valid(d) {
		return nil, fmt.Errorf("JSONDocument: invalid json")
	}
	return string(d), nil
}

func (d JSONDocument) MarshalJSON() ([]byte, error) {
	if len(bytes.TrimSpace(d)) == 0 {
		return []byte("null"), nil
	}
	return d, nil
}

func (d *JSONDocument) UnmarshalJSON(data []byte) error {
	*d = append((*d)[:0], data...)
	return nil
}

// Decode unmarshals the document into v.
func (d JSONDocument) Decode(v any) error {
	if len(d) == 0 {
		return fmt.Errorf("JSONDocument: empty")
	}
	return json.Unmarshal(d, v)
}

// GormDataType keeps AutoMigrate on SQLite from guessing a blob column.
func (JSONDocument) GormDataType() string {
	return "json"
}
