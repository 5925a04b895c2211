package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"dashboard/domain"
)

// Memory keeps items in process memory. Each owner has its own lock so
// mutations of one owner never interleave and other owners are unaffected.
type Memory struct {
	mu     sync.Mutex
	owners map[string]*ownerItems

	newID func() string
	now   func() time.Time
}

type ownerItems struct {
	mu    sync.RWMutex
	items []domain.Item // position order, positions are indexes
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		owners: make(map[string]*ownerItems),
		newID:  uuid.NewString,
		now:    time.Now,
	}
}

func (m *Memory) bucket(owner string) *ownerItems {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.owners[owner]
	if !ok {
		b = &ownerItems{}
		m.owners[owner] = b
	}
	return b
}

func (m *Memory) ListItems(ctx context.Context, owner string) ([]domain.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := m.bucket(owner)
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.Item, len(b.items))
	copy(out, b.items)
	return out, nil
}

func (m *Memory) GetItem(ctx context.Context, owner, id string) (domain.Item, error) {
	if err := ctx.Err(); err != nil {
		return domain.Item{}, err
	}
	b := m.bucket(owner)
	b.mu.RLock()
	defer b.mu.RUnlock()
	if i := b.index(id); i >= 0 {
		return b.items[i], nil
	}
	return domain.Item{}, &domain.NotFoundError{ID: id}
}

func (m *Memory) CreateItem(ctx context.Context, owner string, in domain.ItemInput) (domain.Item, error) {
	if err := ctx.Err(); err != nil {
		return domain.Item{}, err
	}
	b := m.bucket(owner)
	b.mu.Lock()
	defer b.mu.Unlock()
	now := m.now().UTC()
	item := domain.Item{
		ID:          m.newID(),
		Owner:       owner,
		Title:       in.Title,
		Description: in.Description,
		Type:        in.Type,
		Color:       in.Color,
		Position:    len(b.items),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	b.items = append(b.items, item)
	return item, nil
}

func (m *Memory) UpdateItem(ctx context.Context, owner, id string, patch domain.ItemPatch) (domain.Item, error) {
	if err := ctx.Err(); err != nil {
		return domain.Item{}, err
	}
	b := m.bucket(owner)
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.index(id)
	if i < 0 {
		return domain.Item{}, &domain.NotFoundError{ID: id}
	}
	item := b.items[i]
	patch.Apply(&item)
	item.UpdatedAt = m.now().UTC()
	b.items[i] = item
	return item, nil
}

func (m *Memory) DeleteItem(ctx context.Context, owner, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := m.bucket(owner)
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.index(id)
	if i < 0 {
		return &domain.NotFoundError{ID: id}
	}
	rest := make([]domain.Item, 0, len(b.items)-1)
	rest = append(rest, b.items[:i]...)
	rest = append(rest, b.items[i+1:]...)
	for j := range rest {
		rest[j].Position = j
	}
	b.items = rest
	return nil
}

func (m *Memory) ReorderItems(ctx context.Context, owner string, ids []string) ([]domain.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := m.bucket(owner)
	b.mu.Lock()
	defer b.mu.Unlock()
	current := make([]string, len(b.items))
	byID := make(map[string]domain.Item, len(b.items))
	for i, it := range b.items {
		current[i] = it.ID
		byID[it.ID] = it
	}
	if err := domain.CheckOrder(current, ids); err != nil {
		return nil, err
	}
	next := make([]domain.Item, len(ids))
	for i, id := range ids {
		it := byID[id]
		it.Position = i
		next[i] = it
	}
	b.items = next
	out := make([]domain.Item, len(next))
	copy(out, next)
	return out, nil
}

func (b *ownerItems) index(id string) int {
	for i := range b.items {
		if b.items[i].ID == id {
			return i
		}
	}
	return -1
}
