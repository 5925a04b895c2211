package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"dashboard/domain"
)

const (
	EdmInt32 = "Edm.Int32"
	EdmInt64 = "Edm.Int64"

	metaRowKey = "~meta"

	// An entity group transaction holds at most 100 actions; deleting the
	// first item touches every other item plus the meta row.
	MaxTableItemsPerOwner = 99
)

// itemEntity is the table representation of an item. PartitionKey is the
// owner and RowKey the item id.
type itemEntity struct {
	PartitionKey  string `json:"PartitionKey"`
	RowKey        string `json:"RowKey"`
	ETag          string `json:"odata.etag,omitempty"`
	Title         string `json:"Title"`
	Description   string `json:"Description"`
	Type          string `json:"Type"`
	Color         string `json:"Color"`
	IsPinned      bool   `json:"IsPinned"`
	Position      int    `json:"Position"`
	PositionType  string `json:"Position@odata.type,omitempty"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type,omitempty"`
	UpdatedAt     int64  `json:"UpdatedAt,string"`
	UpdatedAtType string `json:"UpdatedAt@odata.type,omitempty"`
}

// metaEntity tracks the number of items in an owner partition. Every
// mutation that touches positions rewrites it with If-Match, so concurrent
// writers of the same owner conflict instead of interleaving.
type metaEntity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
	ETag         string `json:"odata.etag,omitempty"`
	Count        int    `json:"Count"`
	CountType    string `json:"Count@odata.type,omitempty"`
	Revision     int64  `json:"Revision,string"`
	RevisionType string `json:"Revision@odata.type,omitempty"`
}

type positionUpdate struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
	Position     int    `json:"Position"`
	PositionType string `json:"Position@odata.type"`
}

type keyOnly struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

// tableAPI is the subset of the table client used by Tables.
type tableAPI interface {
	ListPartition(ctx context.Context, partitionKey string) ([][]byte, error)
	GetEntity(ctx context.Context, partitionKey, rowKey string) ([]byte, azcore.ETag, error)
	UpdateEntity(ctx context.Context, entity []byte, etag azcore.ETag) error
	SubmitTransaction(ctx context.Context, actions []aztables.TransactionAction) error
}

// Tables stores items in Azure Table Storage, one partition per owner.
type Tables struct {
	table tableAPI

	newID func() string
	now   func() time.Time
}

// NewTables creates a Tables store from a storage connection string.
func NewTables(connStr, itemsTable string) (*Tables, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return newTables(&azTable{client: svc.NewClient(itemsTable)}), nil
}

func newTables(api tableAPI) *Tables {
	return &Tables{table: api, newID: uuid.NewString, now: time.Now}
}

func (t *Tables) ListItems(ctx context.Context, owner string) ([]domain.Item, error) {
	items, _, err := t.loadPartition(ctx, owner)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Item, len(items))
	for i, ent := range items {
		out[i] = ent.toItem()
	}
	return out, nil
}

func (t *Tables) GetItem(ctx context.Context, owner, id string) (domain.Item, error) {
	ent, err := t.getItem(ctx, owner, id)
	if err != nil {
		return domain.Item{}, err
	}
	return ent.toItem(), nil
}

func (t *Tables) CreateItem(ctx context.Context, owner string, in domain.ItemInput) (domain.Item, error) {
	meta, err := t.getMeta(ctx, owner)
	if err != nil {
		return domain.Item{}, err
	}
	count := 0
	if meta != nil {
		count = meta.Count
	}
	if count >= MaxTableItemsPerOwner {
		return domain.Item{}, domain.NewValidationError("items", fmt.Sprintf("at most %d items are supported", MaxTableItemsPerOwner))
	}

	now := t.now().UTC()
	item := domain.Item{
		ID:          t.newID(),
		Owner:       owner,
		Title:       in.Title,
		Description: in.Description,
		Type:        in.Type,
		Color:       in.Color,
		Position:    count,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	itemPayload, err := sonic.Marshal(newItemEntity(item))
	if err != nil {
		return domain.Item{}, err
	}
	actions := []aztables.TransactionAction{{ActionType: aztables.TransactionTypeAdd, Entity: itemPayload}}
	metaAction, err := metaWrite(owner, meta, count+1)
	if err != nil {
		return domain.Item{}, err
	}
	actions = append(actions, metaAction)
	if err := t.table.SubmitTransaction(ctx, actions); err != nil {
		return domain.Item{}, classifyTableError(err)
	}
	return item, nil
}

func (t *Tables) UpdateItem(ctx context.Context, owner, id string, patch domain.ItemPatch) (domain.Item, error) {
	ent, err := t.getItem(ctx, owner, id)
	if err != nil {
		return domain.Item{}, err
	}
	item := ent.toItem()
	patch.Apply(&item)
	item.UpdatedAt = t.now().UTC()
	next := newItemEntity(item)
	payload, err := sonic.Marshal(next)
	if err != nil {
		return domain.Item{}, err
	}
	if err := t.table.UpdateEntity(ctx, payload, azcore.ETag(ent.ETag)); err != nil {
		return domain.Item{}, classifyTableError(err)
	}
	return item, nil
}

func (t *Tables) DeleteItem(ctx context.Context, owner, id string) error {
	items, meta, err := t.loadPartition(ctx, owner)
	if err != nil {
		return err
	}
	idx := -1
	for i := range items {
		if items[i].RowKey == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return &domain.NotFoundError{ID: id}
	}

	removed := items[idx]
	delPayload, err := sonic.Marshal(keyOnly{PartitionKey: owner, RowKey: id})
	if err != nil {
		return err
	}
	etag := azcore.ETag(removed.ETag)
	actions := []aztables.TransactionAction{{ActionType: aztables.TransactionTypeDelete, Entity: delPayload, IfMatch: &etag}}
	rest := append(append([]itemEntity{}, items[:idx]...), items[idx+1:]...)
	moves, err := positionActions(owner, rest)
	if err != nil {
		return err
	}
	actions = append(actions, moves...)
	metaAction, err := metaWrite(owner, meta, len(rest))
	if err != nil {
		return err
	}
	actions = append(actions, metaAction)
	if err := t.table.SubmitTransaction(ctx, actions); err != nil {
		return classifyTableError(err)
	}
	return nil
}

func (t *Tables) ReorderItems(ctx context.Context, owner string, ids []string) ([]domain.Item, error) {
	items, meta, err := t.loadPartition(ctx, owner)
	if err != nil {
		return nil, err
	}
	current := make([]string, len(items))
	byID := make(map[string]itemEntity, len(items))
	for i, ent := range items {
		current[i] = ent.RowKey
		byID[ent.RowKey] = ent
	}
	if err := domain.CheckOrder(current, ids); err != nil {
		return nil, err
	}
	ordered := make([]itemEntity, len(ids))
	for i, id := range ids {
		ordered[i] = byID[id]
	}
	actions, err := positionActions(owner, ordered)
	if err != nil {
		return nil, err
	}
	if len(items) > 0 {
		metaAction, err := metaWrite(owner, meta, len(items))
		if err != nil {
			return nil, err
		}
		actions = append(actions, metaAction)
		if err := t.table.SubmitTransaction(ctx, actions); err != nil {
			return nil, classifyTableError(err)
		}
	}
	out := make([]domain.Item, len(ordered))
	for i, ent := range ordered {
		ent.Position = i
		out[i] = ent.toItem()
	}
	return out, nil
}

func (t *Tables) loadPartition(ctx context.Context, owner string) ([]itemEntity, *metaEntity, error) {
	raw, err := t.table.ListPartition(ctx, owner)
	if err != nil {
		return nil, nil, err
	}
	items := make([]itemEntity, 0, len(raw))
	var meta *metaEntity
	for _, data := range raw {
		var key keyOnly
		if err := sonic.Unmarshal(data, &key); err != nil {
			return nil, nil, err
		}
		if key.RowKey == metaRowKey {
			var m metaEntity
			if err := sonic.Unmarshal(data, &m); err != nil {
				return nil, nil, err
			}
			meta = &m
			continue
		}
		var ent itemEntity
		if err := sonic.Unmarshal(data, &ent); err != nil {
			return nil, nil, err
		}
		items = append(items, ent)
	}
	sortEntities(items)
	return items, meta, nil
}

func (t *Tables) getItem(ctx context.Context, owner, id string) (itemEntity, error) {
	if id == "" || id == metaRowKey {
		return itemEntity{}, &domain.NotFoundError{ID: id}
	}
	data, etag, err := t.table.GetEntity(ctx, owner, id)
	if err != nil {
		if isStatus(err, 404) {
			return itemEntity{}, &domain.NotFoundError{ID: id}
		}
		return itemEntity{}, err
	}
	var ent itemEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return itemEntity{}, err
	}
	ent.ETag = string(etag)
	return ent, nil
}

func (t *Tables) getMeta(ctx context.Context, owner string) (*metaEntity, error) {
	data, etag, err := t.table.GetEntity(ctx, owner, metaRowKey)
	if err != nil {
		if isStatus(err, 404) {
			return nil, nil
		}
		return nil, err
	}
	var m metaEntity
	if err := sonic.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	m.ETag = string(etag)
	return &m, nil
}

func newItemEntity(it domain.Item) itemEntity {
	return itemEntity{
		PartitionKey:  it.Owner,
		RowKey:        it.ID,
		Title:         it.Title,
		Description:   it.Description,
		Type:          string(it.Type),
		Color:         string(it.Color),
		IsPinned:      it.IsPinned,
		Position:      it.Position,
		PositionType:  EdmInt32,
		CreatedAt:     it.CreatedAt.UnixNano(),
		CreatedAtType: EdmInt64,
		UpdatedAt:     it.UpdatedAt.UnixNano(),
		UpdatedAtType: EdmInt64,
	}
}

func (e itemEntity) toItem() domain.Item {
	return domain.Item{
		ID:          e.RowKey,
		Owner:       e.PartitionKey,
		Title:       e.Title,
		Description: e.Description,
		Type:        domain.ItemType(e.Type),
		Color:       domain.Color(e.Color),
		IsPinned:    e.IsPinned,
		Position:    e.Position,
		CreatedAt:   time.Unix(0, e.CreatedAt).UTC(),
		UpdatedAt:   time.Unix(0, e.UpdatedAt).UTC(),
	}
}

// positionActions emits If-Match position updates for entities whose stored
// position differs from their index in ordered.
func positionActions(owner string, ordered []itemEntity) ([]aztables.TransactionAction, error) {
	var actions []aztables.TransactionAction
	for i, ent := range ordered {
		if ent.Position == i {
			continue
		}
		payload, err := sonic.Marshal(positionUpdate{PartitionKey: owner, RowKey: ent.RowKey, Position: i, PositionType: EdmInt32})
		if err != nil {
			return nil, err
		}
		etag := azcore.ETag(ent.ETag)
		actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeUpdateMerge, Entity: payload, IfMatch: &etag})
	}
	return actions, nil
}

func metaWrite(owner string, meta *metaEntity, count int) (aztables.TransactionAction, error) {
	next := metaEntity{
		PartitionKey: owner,
		RowKey:       metaRowKey,
		Count:        count,
		CountType:    EdmInt32,
		Revision:     1,
		RevisionType: EdmInt64,
	}
	if meta == nil {
		payload, err := sonic.Marshal(next)
		return aztables.TransactionAction{ActionType: aztables.TransactionTypeAdd, Entity: payload}, err
	}
	next.Revision = meta.Revision + 1
	payload, err := sonic.Marshal(next)
	etag := azcore.ETag(meta.ETag)
	return aztables.TransactionAction{ActionType: aztables.TransactionTypeUpdateReplace, Entity: payload, IfMatch: &etag}, err
}

func sortEntities(items []itemEntity) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && lessEntity(items[j], items[j-1]); j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}

func lessEntity(a, b itemEntity) bool {
	if a.Position != b.Position {
		return a.Position < b.Position
	}
	return a.RowKey < b.RowKey
}

func isStatus(err error, code int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}

// classifyTableError maps optimistic concurrency failures to domain.ErrConflict.
func classifyTableError(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch {
		case respErr.StatusCode == 409, respErr.StatusCode == 412,
			respErr.ErrorCode == "UpdateConditionNotSatisfied", respErr.ErrorCode == "EntityAlreadyExists":
			return fmt.Errorf("%w: %s (status %d)", domain.ErrConflict, respErr.ErrorCode, respErr.StatusCode)
		}
	}
	return err
}

// azTable adapts *aztables.Client to tableAPI.
type azTable struct {
	client *aztables.Client
}

func (a *azTable) ListPartition(ctx context.Context, partitionKey string) ([][]byte, error) {
	filter := "PartitionKey eq '" + strings.ReplaceAll(partitionKey, "'", "''") + "'"
	pager := a.client.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	var out [][]byte
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, resp.Entities...)
	}
	return out, nil
}

func (a *azTable) GetEntity(ctx context.Context, partitionKey, rowKey string) ([]byte, azcore.ETag, error) {
	resp, err := a.client.GetEntity(ctx, partitionKey, rowKey, nil)
	if err != nil {
		return nil, "", err
	}
	return resp.Value, resp.ETag, nil
}

func (a *azTable) UpdateEntity(ctx context.Context, entity []byte, etag azcore.ETag) error {
	_, err := a.client.UpdateEntity(ctx, entity, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeReplace})
	return err
}

func (a *azTable) SubmitTransaction(ctx context.Context, actions []aztables.TransactionAction) error {
	_, err := a.client.SubmitTransaction(ctx, actions, nil)
	return err
}
