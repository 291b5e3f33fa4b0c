package domain

import (
	"encoding/json"
	"slices"
	"time"
)

// PermissionSet is an immutable set of permission keys.
type PermissionSet struct {
	keys map[string]struct{}
}

func NewPermissionSet(keys ...string) PermissionSet {
	s := PermissionSet{keys: make(map[string]struct{}, len(keys))}
	for _, k := range keys {
		if k != "" {
			s.keys[k] = struct{}{}
		}
	}
	return s
}

// ActivePermissions derives the set of keys held through at least one grant
// in force at now. Grants without a joined permission key are skipped.
func ActivePermissions(grants []Grant, now time.Time) PermissionSet {
	s := PermissionSet{keys: make(map[string]struct{}, len(grants))}
	for _, g := range grants {
		if !g.ActiveAt(now) {
			continue
		}
		if g.Permission == nil || g.Permission.Key == "" {
			continue
		}
		s.keys[g.Permission.Key] = struct{}{}
	}
	return s
}

func (s PermissionSet) Has(key string) bool {
	_, ok := s.keys[key]
	return ok
}

func (s PermissionSet) Len() int { return len(s.keys) }

// Keys returns the keys in sorted order.
func (s PermissionSet) Keys() []string {
	out := make([]string, 0, len(s.keys))
	for k := range s.keys {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func (s PermissionSet) Equal(other PermissionSet) bool {
	if len(s.keys) != len(other.keys) {
		return false
	}
	for k := range s.keys {
		if !other.Has(k) {
			return false
		}
	}
	return true
}

func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Keys())
}
