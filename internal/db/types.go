package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringSlice is a []string that serializes to/from JSON in the database.
// Used for the participations.ip network list.
type StringSlice []string

// Value implements driver.Valuer for database storage.
func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal StringSlice: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner for database retrieval.
func (s *StringSlice) Scan(src any) error {
	if src == nil {
		*s = nil
		return nil
	}

	var data []byte
	switch v := src.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("cannot scan %T into StringSlice", src)
	}

	if len(data) == 0 || string(data) == "[]" {
		*s = nil
		return nil
	}

	return json.Unmarshal(data, s)
}
