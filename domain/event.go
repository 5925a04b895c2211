package domain

const (
	ItemCreated    = "item-created"
	ItemUpdated    = "item-updated"
	ItemDeleted    = "item-deleted"
	ItemsReordered = "items-reordered"
)

// ItemEvent describes a committed change to an owner's items.
type ItemEvent struct {
	ID        string   `json:"id"`
	Type      string   `json:"type"`
	Owner     string   `json:"owner"`
	ItemID    string   `json:"itemId,omitempty"`
	Item      *Item    `json:"item,omitempty"`
	Order     []string `json:"order,omitempty"`
	Timestamp int64    `json:"timestamp"`
}
