package core

import "time"

// Filters narrows listing and search operations. The zero value matches
// all memories of a user; UserID itself is carried separately by each
// operation because namespacing is mandatory, not a filter.
type Filters struct {
	AppID      string    `json:"app_id,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	Categories []string  `json:"categories,omitempty"`
	States     []State   `json:"states,omitempty"`
	From       time.Time `json:"from,omitempty"`
	To         time.Time `json:"to,omitempty"`
}

// Match reports whether a memory passes the filters. State filtering
// defaults to "everything visible" when States is empty.
func (f Filters) Match(m *Memory) bool {
	if f.AppID != "" && m.AppID != f.AppID {
		return false
	}
	if f.SessionID != "" && m.SessionID != f.SessionID {
		return false
	}
	if len(f.States) > 0 {
		ok := false
		for _, s := range f.States {
			if m.State == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	} else if !m.Visible() {
		return false
	}
	if len(f.Categories) > 0 {
		have := make(map[string]bool, len(m.Categories))
		for _, c := range m.Categories {
			have[c] = true
		}
		ok := false
		for _, c := range f.Categories {
			if have[c] {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if !f.From.IsZero() && m.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && m.CreatedAt.After(f.To) {
		return false
	}
	return true
}
