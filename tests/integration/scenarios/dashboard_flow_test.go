package scenarios

import (
	"net/http"
	"slices"
	"testing"

	"dashboard/domain"
)

func TestCreateDeleteReorderFlow(t *testing.T) {
	client := newClient(t)

	a := createItem(t, client, "A")
	b := createItem(t, client, "B")
	c := createItem(t, client, "C")

	if resp, err := client.Delete("/dashboard/items/" + b.ID); err != nil || resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: status %v err %v", status(resp), err)
	}
	view := getView(t, client, "")
	if got := titles(view.Items); !slices.Equal(got, []string{"A", "C"}) {
		t.Fatalf("unexpected items after delete: %v", got)
	}
	for i, it := range view.Items {
		if it.Position != i {
			t.Fatalf("positions not dense: %v at %d", it.Position, i)
		}
	}

	var reordered struct {
		Items []domain.Item `json:"items"`
	}
	resp, err := client.PostJSON("/dashboard/items/reorder", map[string][]string{"ids": {c.ID, a.ID}}, &reordered)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("reorder: status %v err %v", status(resp), err)
	}
	if got := titles(reordered.Items); !slices.Equal(got, []string{"C", "A"}) {
		t.Fatalf("unexpected order: %v", got)
	}

	resp, err = client.PostJSON("/dashboard/items/reorder", map[string][]string{"ids": {a.ID}}, nil)
	if err != nil || resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("partial reorder: status %v err %v", status(resp), err)
	}
}

func TestPinAndSearch(t *testing.T) {
	client := newClient(t)

	createItem(t, client, "Buy milk")
	mom := createItem(t, client, "Call mom")
	createItem(t, client, "Walk dog")

	var pinned domain.Item
	resp, err := client.PostJSON("/dashboard/items/"+mom.ID+"/pin", nil, &pinned)
	if err != nil || resp.StatusCode != http.StatusOK || !pinned.IsPinned {
		t.Fatalf("pin: status %v err %v pinned %v", status(resp), err, pinned.IsPinned)
	}

	view := getView(t, client, "?q=MO")
	if view.Matched != 1 || len(view.Pinned) != 1 || view.Pinned[0].ID != mom.ID {
		t.Fatalf("unexpected search view: %+v", view)
	}
	if len(view.Regular) != 0 {
		t.Fatalf("expected no regular matches, got %v", titles(view.Regular))
	}
}

func TestUpdateValidationAndIsolation(t *testing.T) {
	client := newClient(t)
	other := newClient(t)
	item := createItem(t, client, "Mine")

	title := "Renamed"
	var updated domain.Item
	resp, err := client.PutJSON("/dashboard/items/"+item.ID, domain.ItemPatch{Title: &title}, &updated)
	if err != nil || resp.StatusCode != http.StatusOK || updated.Title != title {
		t.Fatalf("update: status %v err %v title %q", status(resp), err, updated.Title)
	}

	empty := "  "
	if resp, err := client.PutJSON("/dashboard/items/"+item.ID, domain.ItemPatch{Title: &empty}, nil); err != nil || resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("blank title: status %v err %v", status(resp), err)
	}
	if resp, err := other.PutJSON("/dashboard/items/"+item.ID, domain.ItemPatch{Title: &title}, nil); err != nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign update: status %v err %v", status(resp), err)
	}
	if view := getView(t, other, ""); view.Total != 0 {
		t.Fatalf("expected other owner to see nothing, got %d", view.Total)
	}
}

func TestIdempotentCreate(t *testing.T) {
	client := newClient(t)
	in := domain.ItemInput{Title: "once", Type: domain.TypeTask, Color: domain.ColorGreen}

	resp, err := client.PostJSON("/dashboard/items", in, nil, "Idempotency-Key", "create-1")
	if err != nil || resp.StatusCode != http.StatusCreated {
		t.Fatalf("first create: status %v err %v", status(resp), err)
	}
	resp, err = client.PostJSON("/dashboard/items", in, nil, "Idempotency-Key", "create-1")
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	// without Redis the key is ignored and a second item is created
	if resp.StatusCode == http.StatusCreated {
		t.Skip("server runs without a deduper")
	}
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	if view := getView(t, client, ""); view.Total != 1 {
		t.Fatalf("expected one item, got %d", view.Total)
	}
}
