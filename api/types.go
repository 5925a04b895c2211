package api

import (
	"context"

	"dashboard/domain"
)

// Controller is the dashboard list controller the handlers drive.
type Controller interface {
	List(ctx context.Context, owner string) ([]domain.Item, error)
	Create(ctx context.Context, owner string, in domain.ItemInput) (domain.Item, error)
	Update(ctx context.Context, owner, id string, patch domain.ItemPatch) (domain.Item, error)
	TogglePin(ctx context.Context, owner, id string) (domain.Item, error)
	Delete(ctx context.Context, owner, id string) error
	Reorder(ctx context.Context, owner string, ids []string) ([]domain.Item, error)
}

// Authenticator is implemented by types able to extract owners from headers.
type Authenticator interface {
	OwnerFromAuthHeader(string) (string, error)
}

// Deduper prevents processing of duplicate create requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, owner, key string) (bool, error)
	// Remove deletes a previously added key, used when the create fails.
	Remove(ctx context.Context, owner, key string) error
}

// Notifier signals when an owner's items change.
type Notifier interface {
	Subscribe(owner string) (<-chan struct{}, func())
}
