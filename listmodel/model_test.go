package listmodel

import (
	"fmt"
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"dashboard/domain"
)

func sampleItems() []domain.Item {
	return []domain.Item{
		{ID: "1", Title: "Buy milk", Type: domain.TypeNote, Position: 0},
		{ID: "2", Title: "Call mom", Type: domain.TypeReminder, Position: 1, IsPinned: true},
		{ID: "3", Title: "Docs", Description: "Read the STRASSE guide", Type: domain.TypeLink, Position: 2},
		{ID: "4", Title: "Ship release", Type: domain.TypeTask, Position: 3, IsPinned: true},
	}
}

func ids(items []domain.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func TestFilterSubstringOnTitle(t *testing.T) {
	items := []domain.Item{
		{ID: "a", Title: "Buy milk", Type: domain.TypeNote},
		{ID: "b", Title: "Call mom", Type: domain.TypeReminder},
	}
	got := Filter(items, "mo")
	if !reflect.DeepEqual(ids(got), []string{"b"}) {
		t.Fatalf("unexpected filter result: %v", ids(got))
	}
}

func TestFilterEmptyQueryReturnsItems(t *testing.T) {
	items := sampleItems()
	got := Filter(items, "")
	if !reflect.DeepEqual(got, items) {
		t.Fatalf("expected unfiltered items, got %v", ids(got))
	}
}

func TestFilterMatchesDescriptionTypeAndCase(t *testing.T) {
	tests := []struct {
		query string
		want  []string
	}{
		{query: "BUY", want: []string{"1"}},
		{query: "reminder", want: []string{"2"}},
		{query: "straße", want: []string{"3"}},
		{query: "TASK", want: []string{"4"}},
		{query: "nothing", want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got := ids(Filter(sampleItems(), tt.query))
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Filter(%q) = %v, want %v", tt.query, got, tt.want)
			}
		})
	}
}

func TestFilterIsDeterministic(t *testing.T) {
	items := sampleItems()
	first := Filter(items, "s")
	second := Filter(items, "s")
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("filter not deterministic: %v vs %v", ids(first), ids(second))
	}
}

func TestFilterAndPartitionProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	words := []string{"alpha", "Beta", "gamma", "DELTA", "milk", "Mom", "ÉCOLE", "école"}
	types := []domain.ItemType{domain.TypeNote, domain.TypeTask, domain.TypeLink, domain.TypeReminder}
	for round := 0; round < 200; round++ {
		n := rng.Intn(12)
		items := make([]domain.Item, 0, n)
		for i := 0; i < n; i++ {
			items = append(items, domain.Item{
				ID:          fmt.Sprintf("%d-%d", round, i),
				Title:       words[rng.Intn(len(words))] + " " + words[rng.Intn(len(words))],
				Description: words[rng.Intn(len(words))],
				Type:        types[rng.Intn(len(types))],
				IsPinned:    rng.Intn(2) == 0,
				Position:    i,
			})
		}
		query := words[rng.Intn(len(words))][:2]
		filtered := Filter(items, query)
		for _, it := range filtered {
			hay := strings.ToLower(it.Title + "|" + it.Description + "|" + string(it.Type))
			if !strings.Contains(hay, strings.ToLower(query)) {
				t.Fatalf("round %d: %q does not match %q", round, hay, query)
			}
		}
		pinned, regular := Partition(filtered)
		if len(pinned)+len(regular) != len(filtered) {
			t.Fatalf("round %d: partition lost items", round)
		}
		seen := map[string]bool{}
		for _, it := range pinned {
			if !it.IsPinned {
				t.Fatalf("round %d: regular item in pinned section", round)
			}
			seen[it.ID] = true
		}
		for _, it := range regular {
			if it.IsPinned || seen[it.ID] {
				t.Fatalf("round %d: partition not disjoint", round)
			}
		}
		assertAscending(t, pinned)
		assertAscending(t, regular)
	}
}

func assertAscending(t *testing.T, items []domain.Item) {
	t.Helper()
	for i := 1; i < len(items); i++ {
		if items[i-1].Position >= items[i].Position {
			t.Fatalf("relative order not preserved: %v", ids(items))
		}
	}
}

func TestStateTransitions(t *testing.T) {
	s := NewState(sampleItems())
	if s.ShowAddForm {
		t.Fatalf("add form should start hidden")
	}
	if s.ViewMode != ViewGrid {
		t.Fatalf("expected grid view by default, got %s", s.ViewMode)
	}

	s.SetSearchQuery("s")
	before := ids(s.Filtered())
	s.ToggleViewMode()
	s.ToggleAddForm()
	if s.ViewMode != ViewList || !s.ShowAddForm {
		t.Fatalf("toggles not applied: %+v", s)
	}
	if after := ids(s.Filtered()); !reflect.DeepEqual(before, after) {
		t.Fatalf("layout toggles changed filtering: %v vs %v", before, after)
	}

	refreshed := append(sampleItems(), domain.Item{ID: "5", Title: "New", Type: domain.TypeNote, Position: 4})
	s.AddSucceeded(refreshed)
	if s.ShowAddForm {
		t.Fatalf("successful add should close the form")
	}
	if len(s.Items) != 5 {
		t.Fatalf("expected refreshed items, got %d", len(s.Items))
	}

	s.ToggleViewMode()
	if s.ViewMode != ViewGrid {
		t.Fatalf("expected grid after second toggle, got %s", s.ViewMode)
	}
}

func TestStateView(t *testing.T) {
	s := NewState(sampleItems())
	s.SetSearchQuery("s")
	v := s.View()
	if v.Total != 4 {
		t.Fatalf("unexpected total: %d", v.Total)
	}
	if !reflect.DeepEqual(ids(v.Pinned), []string{"4"}) {
		t.Fatalf("unexpected pinned: %v", ids(v.Pinned))
	}
	if !reflect.DeepEqual(ids(v.Regular), []string{"3"}) {
		t.Fatalf("unexpected regular: %v", ids(v.Regular))
	}
	if v.Matched != len(v.Pinned)+len(v.Regular) {
		t.Fatalf("matched count mismatch: %+v", v)
	}
}

func TestParseViewMode(t *testing.T) {
	for in, want := range map[string]ViewMode{"": ViewGrid, "grid": ViewGrid, "LIST": ViewList, " list ": ViewList} {
		got, err := ParseViewMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseViewMode(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseViewMode("table"); err == nil {
		t.Fatalf("expected error for unknown view mode")
	}
}
