// Package dashboard implements the list controller: it scopes every request
// to an explicit owner, validates input and drives the item store.
package dashboard

import (
	"context"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"dashboard/domain"
)

// Store is the durable item store. Implementations own id and position
// assignment and must apply CreateItem, DeleteItem and ReorderItems
// atomically per owner.
type Store interface {
	ListItems(ctx context.Context, owner string) ([]domain.Item, error)
	GetItem(ctx context.Context, owner, id string) (domain.Item, error)
	CreateItem(ctx context.Context, owner string, in domain.ItemInput) (domain.Item, error)
	UpdateItem(ctx context.Context, owner, id string, patch domain.ItemPatch) (domain.Item, error)
	DeleteItem(ctx context.Context, owner, id string) error
	ReorderItems(ctx context.Context, owner string, ids []string) ([]domain.Item, error)
}

// EventSink receives committed item changes.
type EventSink interface {
	Publish(ctx context.Context, ev domain.ItemEvent) error
}

// Controller is safe for concurrent use.
type Controller struct {
	store  Store
	sinks  []EventSink
	logger *log.Logger
}

// New creates a controller. Nil sinks are ignored.
func New(store Store, logger *log.Logger, sinks ...EventSink) *Controller {
	if store == nil {
		panic("dashboard.New: store is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	c := &Controller{store: store, logger: logger}
	for _, s := range sinks {
		if s != nil {
			c.sinks = append(c.sinks, s)
		}
	}
	return c
}

// List returns the owner's items ordered by position.
func (c *Controller) List(ctx context.Context, owner string) ([]domain.Item, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}
	items, err := c.store.ListItems(ctx, owner)
	if err != nil {
		return nil, domain.Transient("list", err)
	}
	domain.SortByPosition(items)
	return items, nil
}

// Create validates the input and appends a new item at the end of the owner's list.
func (c *Controller) Create(ctx context.Context, owner string, in domain.ItemInput) (domain.Item, error) {
	if err := checkOwner(owner); err != nil {
		return domain.Item{}, err
	}
	if err := in.Validate(); err != nil {
		return domain.Item{}, err
	}
	in.Title = strings.TrimSpace(in.Title)
	item, err := c.store.CreateItem(ctx, owner, in)
	if err != nil {
		return domain.Item{}, domain.Transient("create", err)
	}
	c.publish(ctx, domain.ItemEvent{Type: domain.ItemCreated, Owner: owner, ItemID: item.ID, Item: &item})
	return item, nil
}

// Update applies the supplied fields to one of the owner's items.
func (c *Controller) Update(ctx context.Context, owner, id string, patch domain.ItemPatch) (domain.Item, error) {
	if err := checkOwner(owner); err != nil {
		return domain.Item{}, err
	}
	if id == "" {
		return domain.Item{}, &domain.NotFoundError{ID: id}
	}
	if err := patch.Validate(); err != nil {
		return domain.Item{}, err
	}
	if patch.Empty() {
		item, err := c.store.GetItem(ctx, owner, id)
		if err != nil {
			return domain.Item{}, domain.Transient("get", err)
		}
		return item, nil
	}
	item, err := c.store.UpdateItem(ctx, owner, id, patch)
	if err != nil {
		return domain.Item{}, domain.Transient("update", err)
	}
	c.publish(ctx, domain.ItemEvent{Type: domain.ItemUpdated, Owner: owner, ItemID: item.ID, Item: &item})
	return item, nil
}

// TogglePin flips the pinned flag of one of the owner's items.
func (c *Controller) TogglePin(ctx context.Context, owner, id string) (domain.Item, error) {
	if err := checkOwner(owner); err != nil {
		return domain.Item{}, err
	}
	current, err := c.store.GetItem(ctx, owner, id)
	if err != nil {
		return domain.Item{}, domain.Transient("get", err)
	}
	pinned := !current.IsPinned
	return c.Update(ctx, owner, id, domain.ItemPatch{IsPinned: &pinned})
}

// Delete removes one of the owner's items and closes the gap it leaves.
func (c *Controller) Delete(ctx context.Context, owner, id string) error {
	if err := checkOwner(owner); err != nil {
		return err
	}
	if id == "" {
		return &domain.NotFoundError{ID: id}
	}
	if err := c.store.DeleteItem(ctx, owner, id); err != nil {
		return domain.Transient("delete", err)
	}
	c.publish(ctx, domain.ItemEvent{Type: domain.ItemDeleted, Owner: owner, ItemID: id})
	return nil
}

// Reorder assigns position = index for the full list of the owner's item ids.
func (c *Controller) Reorder(ctx context.Context, owner string, ids []string) ([]domain.Item, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}
	if ids == nil {
		return nil, domain.NewValidationError("ids", "is required")
	}
	items, err := c.store.ReorderItems(ctx, owner, ids)
	if err != nil {
		return nil, domain.Transient("reorder", err)
	}
	domain.SortByPosition(items)
	order := make([]string, len(items))
	for i, it := range items {
		order[i] = it.ID
	}
	c.publish(ctx, domain.ItemEvent{Type: domain.ItemsReordered, Owner: owner, Order: order})
	return items, nil
}

func (c *Controller) publish(ctx context.Context, ev domain.ItemEvent) {
	if len(c.sinks) == 0 {
		return
	}
	ev.ID = uuid.NewString()
	ev.Timestamp = nextTimestamp()
	for _, s := range c.sinks {
		if err := s.Publish(ctx, ev); err != nil {
			c.logger.WithError(err).WithFields(log.Fields{"owner": ev.Owner, "event": ev.Type}).Warn("publish item event failed")
		}
	}
}

func checkOwner(owner string) error {
	if strings.TrimSpace(owner) == "" {
		return domain.NewValidationError("owner", "is required")
	}
	return nil
}
