package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"sort"
	"strings"
)

// IDSet is a set of identifiers stored as a sorted JSON array in a text
// column, portable across PostgreSQL, MySQL and SQLite.
// The zero value is an empty set.
type IDSet []string

// NewIDSet builds a set from ids, dropping empties and duplicates.
func NewIDSet(ids ...string) IDSet {
	var s IDSet
	for _, id := range ids {
		s = s.Add(id)
	}
	return s
}

func (s IDSet) search(id string) (int, bool) {
	i := sort.SearchStrings(s, id)
	return i, i < len(s) && s[i] == id
}

// Has reports whether id is a member of the set.
func (s IDSet) Has(id string) bool {
	_, ok := s.search(id)
	return ok
}

// Len returns the number of members.
func (s IDSet) Len() int { return len(s) }

// Add returns the set with id inserted. The receiver is not modified.
func (s IDSet) Add(id string) IDSet {
	if id == "" {
		return s
	}
	i, ok := s.search(id)
	if ok {
		return s
	}
	out := make(IDSet, 0, len(s)+1)
	out = append(out, s[:i]...)
	out = append(out, id)
	return append(out, s[i:]...)
}

// Remove returns the set without id. The receiver is not modified.
func (s IDSet) Remove(id string) IDSet {
	i, ok := s.search(id)
	if !ok {
		return s
	}
	out := make(IDSet, 0, len(s)-1)
	out = append(out, s[:i]...)
	return append(out, s[i+1:]...)
}

// Clone returns an independent copy.
func (s IDSet) Clone() IDSet {
	if s == nil {
		return nil
	}
	out := make(IDSet, len(s))
	copy(out, s)
	return out
}

// Scan implements the sql.Scanner interface for reading from the database.
func (s *IDSet) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return s.scanBytes(v)
	case string:
		return s.scanBytes([]byte(v))
	default:
		return errors.New("IDSet: unsupported scan type")
	}
}

func (s *IDSet) scanBytes(data []byte) error {
	str := strings.TrimSpace(string(data))
	if str == "" || str == "null" {
		*s = nil
		return nil
	}

	var ids []string
	if err := json.Unmarshal([]byte(str), &ids); err != nil {
		return err
	}
	// Normalise rows written by other producers.
	*s = NewIDSet(ids...)
	return nil
}

// Value implements the driver.Valuer interface. An empty set is written as
// "[]" so the column is never NULL.
func (s IDSet) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// GormDataType returns the GORM data type hint.
func (IDSet) GormDataType() string {
	return "text"
}
