package scenarios

import (
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"dashboard/domain"
	"dashboard/listmodel"
	integration "dashboard/tests/integration"
	"dashboard/tests/integration/internal/httpclient"
)

// newClient returns a client for a fresh owner so scenarios never share
// items. The test is skipped when the API is not running.
func newClient(t *testing.T) *httpclient.Client {
	t.Helper()
	base := os.Getenv("API_BASE")
	if base == "" {
		base = "http://localhost:8080"
	}
	resp, err := http.Get(base + "/healthz")
	if err != nil {
		t.Skipf("skipping, API not reachable: %v", err)
	}
	resp.Body.Close()

	owner := fmt.Sprintf("it-%s-%d", t.Name(), time.Now().UnixNano())
	tok, err := integration.TestToken(owner)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return httpclient.New(base, tok)
}

func createItem(t *testing.T, client *httpclient.Client, title string) domain.Item {
	t.Helper()
	var item domain.Item
	resp, err := client.PostJSON("/dashboard/items", domain.ItemInput{Title: title, Type: domain.TypeNote, Color: domain.ColorBlue}, &item)
	if err != nil || resp.StatusCode != http.StatusCreated {
		t.Fatalf("create %s: status %v err %v", title, status(resp), err)
	}
	return item
}

func getView(t *testing.T, client *httpclient.Client, query string) listmodel.View {
	t.Helper()
	var view listmodel.View
	resp, err := client.GetJSON("/dashboard"+query, &view)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("get dashboard: status %v err %v", status(resp), err)
	}
	return view
}

func titles(items []domain.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Title
	}
	return out
}

func status(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}
