package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrBadColumn marks a stored seat column that cannot be decoded.  Retrying
// the read will not help.
var ErrBadColumn = errors.New("undecodable seat column")

// SeatMap maps a seat identifier (e.g. "A1") to the id of the user who
// holds or owns it.  It is stored as a JSON object column.
type SeatMap map[string]string

// Value implements driver.Valuer.  A nil map is stored as an empty object
// so the column never holds SQL NULL.
func (m SeatMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]string(m))
}

// Scan implements sql.Scanner for JSON object columns.
func (m *SeatMap) Scan(src any) error {
	out := SeatMap{}
	switch v := src.(type) {
	case nil:
	case []byte:
		if len(v) > 0 {
			if err := json.Unmarshal(v, (*map[string]string)(&out)); err != nil {
				return fmt.Errorf("scan seat map: %w: %v", ErrBadColumn, err)
			}
		}
	case string:
		if v != "" {
			if err := json.Unmarshal([]byte(v), (*map[string]string)(&out)); err != nil {
				return fmt.Errorf("scan seat map: %w: %v", ErrBadColumn, err)
			}
		}
	default:
		return fmt.Errorf("scan seat map: %w: unsupported type %T", ErrBadColumn, src)
	}
	*m = out
	return nil
}

// Release removes the given seats from the map and returns the seats that
// were actually present.  Seats that are already absent are ignored.
func (m SeatMap) Release(seats []string) []string {
	removed := make([]string, 0, len(seats))
	for _, s := range seats {
		if _, ok := m[s]; ok {
			delete(m, s)
			removed = append(removed, s)
		}
	}
	return removed
}

// Holders returns the distinct user ids present in the map, sorted.
func (m SeatMap) Holders() []string {
	seen := make(map[string]struct{}, len(m))
	out := make([]string, 0, len(m))
	for _, uid := range m {
		if uid == "" {
			continue
		}
		if _, ok := seen[uid]; ok {
			continue
		}
		seen[uid] = struct{}{}
		out = append(out, uid)
	}
	sort.Strings(out)
	return out
}

// Seats returns the occupied seat ids, sorted.
func (m SeatMap) Seats() []string {
	out := make([]string, 0, len(m))
	for s := range m {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// SeatList is an ordered list of seat ids stored as a JSON array column.
type SeatList []string

// Value implements driver.Valuer.
func (l SeatList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(l))
}

// Scan implements sql.Scanner for JSON array columns.
func (l *SeatList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = SeatList{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("scan seat list: %w: unsupported type %T", ErrBadColumn, src)
	}
	out := SeatList{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, (*[]string)(&out)); err != nil {
			return fmt.Errorf("scan seat list: %w: %v", ErrBadColumn, err)
		}
	}
	*l = out
	return nil
}
