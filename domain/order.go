package domain

import "sort"

// CheckOrder verifies that ids is a permutation of current.
func CheckOrder(current, ids []string) error {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			return NewValidationError("ids", "must not contain empty ids")
		}
		if _, dup := seen[id]; dup {
			return NewValidationError("ids", "contains duplicate id "+id)
		}
		seen[id] = struct{}{}
	}
	owned := make(map[string]struct{}, len(current))
	for _, id := range current {
		owned[id] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := owned[id]; !ok {
			return NewValidationError("ids", "contains unknown id "+id)
		}
	}
	if len(ids) != len(current) {
		return NewValidationError("ids", "must list every item exactly once")
	}
	return nil
}

// SortByPosition orders items ascending by position, breaking ties by id.
func SortByPosition(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Position != items[j].Position {
			return items[i].Position < items[j].Position
		}
		return items[i].ID < items[j].ID
	})
}
