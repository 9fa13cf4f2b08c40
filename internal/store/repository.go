package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

// Repository gives typed access to the closet collections. Every mutation is
// a read-modify-write of the whole collection, serialized in-process by mu and
// guarded across processes by the document version.
type Repository struct {
	docs  DocumentStore
	mu    sync.Mutex
	now   func() time.Time
	newID func() string
}

func NewRepository(docs DocumentStore) *Repository {
	return &Repository{
		docs:  docs,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

func (r *Repository) Close() error {
	return r.docs.Close()
}

func load[T any](ctx context.Context, docs DocumentStore, name string, dst *T) (int64, error) {
	doc, err := docs.Get(ctx, name)
	if err != nil {
		return 0, err
	}
	if doc == nil || isNull(doc.Data) {
		return 0, nil
	}
	if err := json.Unmarshal(doc.Data, dst); err != nil {
		return 0, fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return doc.Version, nil
}

func save(ctx context.Context, docs DocumentStore, name string, v any, version int64) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	if _, err := docs.Put(ctx, name, data, version); err != nil {
		return err
	}
	return nil
}

// mutate loads collection name into a fresh T, applies fn and writes it back.
func mutate[T any](ctx context.Context, r *Repository, name string, fn func(*T) error) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var v T
	version, err := load(ctx, r.docs, name, &v)
	if err != nil {
		return v, err
	}
	if err := fn(&v); err != nil {
		return v, err
	}
	if err := save(ctx, r.docs, name, v, version); err != nil {
		return v, err
	}
	return v, nil
}

func read[T any](ctx context.Context, r *Repository, name string) (T, error) {
	var v T
	_, err := load(ctx, r.docs, name, &v)
	return v, err
}

// Items

func (r *Repository) Items(ctx context.Context) ([]ClothingItem, error) {
	items, err := read[[]ClothingItem](ctx, r, CollectionItems)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []ClothingItem{}
	}
	return items, nil
}

func (r *Repository) Item(ctx context.Context, id string) (*ClothingItem, error) {
	items, err := r.Items(ctx)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].ID == id {
			return &items[i], nil
		}
	}
	return nil, fmt.Errorf("item %s: %w", id, ErrNotFound)
}

func (r *Repository) AddItem(ctx context.Context, item ClothingItem) (ClothingItem, error) {
	item.ID = r.newID()
	item.CreatedAt = r.now()
	_, err := mutate(ctx, r, CollectionItems, func(items *[]ClothingItem) error {
		*items = append(*items, item)
		return nil
	})
	return item, err
}

// UpdateItem replaces the editable attributes of an item; id and createdAt are kept.
func (r *Repository) UpdateItem(ctx context.Context, id string, updated ClothingItem) (ClothingItem, error) {
	var result ClothingItem
	_, err := mutate(ctx, r, CollectionItems, func(items *[]ClothingItem) error {
		for i := range *items {
			if (*items)[i].ID == id {
				updated.ID = id
				updated.CreatedAt = (*items)[i].CreatedAt
				(*items)[i] = updated
				result = updated
				return nil
			}
		}
		return fmt.Errorf("item %s: %w", id, ErrNotFound)
	})
	return result, err
}

func (r *Repository) DeleteItem(ctx context.Context, id string) error {
	_, err := mutate(ctx, r, CollectionItems, func(items *[]ClothingItem) error {
		return removeByID(items, id, func(it ClothingItem) string { return it.ID }, "item")
	})
	return err
}

func removeByID[T any](list *[]T, id string, key func(T) string, kind string) error {
	filtered := (*list)[:0]
	found := false
	for _, v := range *list {
		if key(v) == id {
			found = true
			continue
		}
		filtered = append(filtered, v)
	}
	if !found {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	*list = filtered
	return nil
}

// Outfits

func (r *Repository) Outfits(ctx context.Context) ([]Outfit, error) {
	outfits, err := read[[]Outfit](ctx, r, CollectionOutfits)
	if err != nil {
		return nil, err
	}
	if outfits == nil {
		outfits = []Outfit{}
	}
	return outfits, nil
}

// AddOutfit saves an outfit, keeping an id and timestamp it was generated with.
func (r *Repository) AddOutfit(ctx context.Context, outfit Outfit) (Outfit, error) {
	if outfit.ID == "" {
		outfit.ID = r.newID()
	}
	if outfit.CreatedAt.IsZero() {
		outfit.CreatedAt = r.now()
	}
	_, err := mutate(ctx, r, CollectionOutfits, func(outfits *[]Outfit) error {
		*outfits = append(*outfits, outfit)
		return nil
	})
	return outfit, err
}

func (r *Repository) DeleteOutfit(ctx context.Context, id string) error {
	_, err := mutate(ctx, r, CollectionOutfits, func(outfits *[]Outfit) error {
		return removeByID(outfits, id, func(o Outfit) string { return o.ID }, "outfit")
	})
	return err
}

// Preferences

func (r *Repository) Preferences(ctx context.Context) (PreferenceState, error) {
	return read[PreferenceState](ctx, r, CollectionPreferences)
}

func (r *Repository) UpdatePreferences(ctx context.Context, fn func(*PreferenceState) error) (PreferenceState, error) {
	return mutate(ctx, r, CollectionPreferences, fn)
}

func (r *Repository) ClearPreferences(ctx context.Context) error {
	_, err := mutate(ctx, r, CollectionPreferences, func(p *PreferenceState) error {
		*p = PreferenceState{}
		return nil
	})
	return err
}

// Events

func (r *Repository) Events(ctx context.Context) ([]CalendarEvent, error) {
	events, err := read[[]CalendarEvent](ctx, r, CollectionEvents)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []CalendarEvent{}
	}
	return events, nil
}

// AddEvent inserts the event and keeps the collection sorted by date.
func (r *Repository) AddEvent(ctx context.Context, event CalendarEvent) (CalendarEvent, error) {
	if _, err := time.Parse(DateLayout, event.Date); err != nil {
		return event, fmt.Errorf("invalid event date %q: %w", event.Date, err)
	}
	event.ID = r.newID()
	_, err := mutate(ctx, r, CollectionEvents, func(events *[]CalendarEvent) error {
		*events = append(*events, event)
		sort.SliceStable(*events, func(i, j int) bool {
			return (*events)[i].Date < (*events)[j].Date
		})
		return nil
	})
	return event, err
}

func (r *Repository) DeleteEvent(ctx context.Context, id string) error {
	_, err := mutate(ctx, r, CollectionEvents, func(events *[]CalendarEvent) error {
		return removeByID(events, id, func(e CalendarEvent) string { return e.ID }, "event")
	})
	return err
}

// Vision boards

func (r *Repository) VisionBoards(ctx context.Context) ([]VisionBoard, error) {
	boards, err := read[[]VisionBoard](ctx, r, CollectionVisionBoards)
	if err != nil {
		return nil, err
	}
	if boards == nil {
		boards = []VisionBoard{}
	}
	return boards, nil
}

func (r *Repository) AddVisionBoard(ctx context.Context, board VisionBoard) (VisionBoard, error) {
	board.ID = r.newID()
	board.CreatedAt = r.now()
	_, err := mutate(ctx, r, CollectionVisionBoards, func(boards *[]VisionBoard) error {
		*boards = append(*boards, board)
		return nil
	})
	return board, err
}

func (r *Repository) DeleteVisionBoard(ctx context.Context, id string) error {
	_, err := mutate(ctx, r, CollectionVisionBoards, func(boards *[]VisionBoard) error {
		return removeByID(boards, id, func(b VisionBoard) string { return b.ID }, "vision board")
	})
	return err
}

// Settings

// Settings returns the stored settings and whether any were ever saved.
func (r *Repository) Settings(ctx context.Context) (Settings, bool, error) {
	var s Settings
	version, err := load(ctx, r.docs, CollectionSettings, &s)
	return s, version > 0, err
}

func (r *Repository) SaveSettings(ctx context.Context, s Settings) error {
	_, err := mutate(ctx, r, CollectionSettings, func(cur *Settings) error {
		*cur = s
		return nil
	})
	return err
}

// Export / import

func (r *Repository) ExportAll(ctx context.Context) (map[string]json.RawMessage, error) {
	return r.docs.ExportAll(ctx)
}

// ImportAll decodes every collection into its typed form before handing the
// documents to the store, so a malformed backup is rejected as a whole.
func (r *Repository) ImportAll(ctx context.Context, docs map[string]json.RawMessage) error {
	for name, data := range docs {
		if !isCollection(name) || isNull(data) {
			continue
		}
		if err := decodeCollection(name, data); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.docs.ImportAll(ctx, docs)
}

func decodeCollection(name string, data json.RawMessage) error {
	var target any
	switch name {
	case CollectionItems:
		target = &[]ClothingItem{}
	case CollectionOutfits:
		target = &[]Outfit{}
	case CollectionPreferences:
		target = &PreferenceState{}
	case CollectionEvents:
		target = &[]CalendarEvent{}
	case CollectionVisionBoards:
		target = &[]VisionBoard{}
	case CollectionSettings:
		target = &Settings{}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %s collection: %v", ErrInvalidDocument, name, err)
	}
	return nil
}

func (r *Repository) ClearAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.docs.ClearAll(ctx)
}
