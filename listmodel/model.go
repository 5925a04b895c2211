// Package listmodel derives the rendered views of an owner's dashboard items:
// text search, the pinned/regular split and the layout flags. Everything here
// is a pure function of its inputs.
package listmodel

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"dashboard/domain"
)

// ViewMode selects the layout used to render the item collection.
type ViewMode string

const (
	ViewGrid ViewMode = "grid"
	ViewList ViewMode = "list"
)

// ParseViewMode accepts "grid", "list" or an empty string (grid).
func ParseViewMode(s string) (ViewMode, error) {
	switch ViewMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ViewGrid:
		return ViewGrid, nil
	case ViewList:
		return ViewList, nil
	}
	return "", fmt.Errorf("unknown view mode %q", s)
}

// Filter returns the items whose title, description or type contains query
// under Unicode case folding. An empty query returns items unchanged.
func Filter(items []domain.Item, query string) []domain.Item {
	if query == "" {
		return items
	}
	folder := cases.Fold()
	needle := folder.String(query)
	out := make([]domain.Item, 0, len(items))
	for _, it := range items {
		if matches(folder, it, needle) {
			out = append(out, it)
		}
	}
	return out
}

func matches(folder cases.Caser, it domain.Item, needle string) bool {
	return strings.Contains(folder.String(it.Title), needle) ||
		strings.Contains(folder.String(it.Description), needle) ||
		strings.Contains(folder.String(string(it.Type)), needle)
}

// Partition splits items into pinned and regular, keeping relative order.
func Partition(items []domain.Item) (pinned, regular []domain.Item) {
	pinned = make([]domain.Item, 0, len(items))
	regular = make([]domain.Item, 0, len(items))
	for _, it := range items {
		if it.IsPinned {
			pinned = append(pinned, it)
		} else {
			regular = append(regular, it)
		}
	}
	return pinned, regular
}

// State is the presentation state of one dashboard page.
type State struct {
	Items       []domain.Item
	SearchQuery string
	ViewMode    ViewMode
	ShowAddForm bool
}

// NewState returns the initial state for a freshly fetched collection.
func NewState(items []domain.Item) *State {
	return &State{Items: items, ViewMode: ViewGrid}
}

func (s *State) SetItems(items []domain.Item) { s.Items = items }

func (s *State) SetSearchQuery(q string) { s.SearchQuery = q }

func (s *State) SetViewMode(m ViewMode) { s.ViewMode = m }

// ToggleViewMode flips between grid and list.
func (s *State) ToggleViewMode() {
	if s.ViewMode == ViewList {
		s.ViewMode = ViewGrid
		return
	}
	s.ViewMode = ViewList
}

func (s *State) ToggleAddForm() { s.ShowAddForm = !s.ShowAddForm }

// AddSucceeded installs the refreshed collection and closes the add form.
func (s *State) AddSucceeded(items []domain.Item) {
	s.Items = items
	s.ShowAddForm = false
}

func (s *State) Filtered() []domain.Item { return Filter(s.Items, s.SearchQuery) }

func (s *State) Pinned() []domain.Item {
	pinned, _ := Partition(s.Filtered())
	return pinned
}

func (s *State) Regular() []domain.Item {
	_, regular := Partition(s.Filtered())
	return regular
}

// View is the rendered snapshot of a State.
type View struct {
	Query       string        `json:"query"`
	ViewMode    ViewMode      `json:"view_mode"`
	ShowAddForm bool          `json:"show_add_form"`
	Total       int           `json:"total"`
	Matched     int           `json:"matched"`
	Items       []domain.Item `json:"items"`
	Pinned      []domain.Item `json:"pinned"`
	Regular     []domain.Item `json:"regular"`
}

// View computes the filtered and partitioned snapshot in one pass.
func (s *State) View() View {
	filtered := s.Filtered()
	pinned, regular := Partition(filtered)
	return View{
		Query:       s.SearchQuery,
		ViewMode:    s.ViewMode,
		ShowAddForm: s.ShowAddForm,
		Total:       len(s.Items),
		Matched:     len(filtered),
		Items:       s.Items,
		Pinned:      pinned,
		Regular:     regular,
	}
}
