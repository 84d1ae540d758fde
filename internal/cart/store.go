package cart

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"usada-checkout/internal/logger"
	"usada-checkout/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	cartStorageKey       = "cart"
	checkoutTimestampKey = "last_checkout"
)

// Store owns the shopping cart: line items, durable persistence and a
// change-notification channel. All mutations are serialized behind one
// mutex; persistence is optimistic, a failed write never rolls back
// the in-memory state.
type Store struct {
	mu    sync.Mutex
	items []*CartItem

	store storage.Store

	subMu   sync.Mutex
	subs    map[int]chan struct{}
	nextSub int
}

// NewStore loads the persisted cart and returns a ready store. Loading
// is best effort: a corrupt blob is discarded and the cart starts empty
// rather than failing startup.
func NewStore(ctx context.Context, st storage.Store) *Store {
	s := &Store{
		store: st,
		subs:  make(map[int]chan struct{}),
	}
	s.load(ctx)
	return s
}

// persistedItem tolerates legacy cart blobs: entries written before the
// variant migration carry no product_variant_id, and old ids were plain
// numbers rather than UUIDs.
type persistedItem struct {
	ID        json.RawMessage `json:"id"`
	ProductID uint            `json:"product_id"`
	VariantID uint            `json:"product_variant_id"`
	Name      string          `json:"name"`
	UnitPrice float64         `json:"price"`
	Quantity  int             `json:"quantity"`
	ImageURL  string          `json:"images"`
	Category  *Category       `json:"category,omitempty"`
}

func (s *Store) load(ctx context.Context) {
	log := logger.FromCtx(ctx).With(zap.String("store", "Cart"))

	data, err := s.store.Read(ctx, cartStorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		log.Error("failed to load cart, starting empty", zap.Error(err))
		return
	}

	var raw []persistedItem
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Warn("invalid cart data in storage, resetting cart", zap.Error(err))
		if err := s.store.Delete(ctx, cartStorageKey); err != nil {
			log.Error("failed to wipe corrupt cart blob", zap.Error(err))
		}
		return
	}

	items := make([]*CartItem, 0, len(raw))
	migrated := false
	for _, p := range raw {
		if p.ProductID == 0 || p.Quantity < 1 {
			migrated = true
			continue
		}

		item := &CartItem{
			ProductID: p.ProductID,
			VariantID: p.VariantID,
			Name:      p.Name,
			UnitPrice: p.UnitPrice,
			Quantity:  p.Quantity,
			ImageURL:  p.ImageURL,
			Category:  p.Category,
		}

		var id uuid.UUID
		if err := json.Unmarshal(p.ID, &id); err != nil || id == uuid.Nil {
			// Legacy numeric id.
			id = uuid.New()
			migrated = true
		}
		item.ID = id

		if item.VariantID == 0 {
			// Entries older than the variant migration sold the base
			// product directly.
			item.VariantID = item.ProductID
			migrated = true
		}

		items = append(items, item)
	}

	s.items = items

	if migrated {
		log.Info("migrated legacy cart entries", zap.Int("item_count", len(items)))
		s.persist(ctx)
	}
}

// persist writes the current items to storage. Callers must hold s.mu.
func (s *Store) persist(ctx context.Context) {
	data, err := json.Marshal(s.items)
	if err != nil {
		logger.FromCtx(ctx).Error("failed to marshal cart", zap.Error(err))
		return
	}
	if err := s.store.Write(ctx, cartStorageKey, data); err != nil {
		logger.FromCtx(ctx).Error("failed to persist cart", zap.Error(err))
	}
}

// Add puts a product in the cart. If the product is already present its
// quantity is incremented; duplicates are never created.
func (s *Store) Add(ctx context.Context, p Product, qty int) (*CartItem, error) {
	if qty < 1 {
		return nil, ErrInvalidQuantity
	}
	if p.ID == 0 {
		return nil, ErrInvalidProduct
	}

	s.mu.Lock()
	var item *CartItem
	for _, it := range s.items {
		if it.ProductID == p.ID {
			it.Quantity += qty
			item = it
			break
		}
	}
	if item == nil {
		variantID := p.VariantID
		if variantID == 0 {
			variantID = p.ID
		}
		item = &CartItem{
			ID:        uuid.New(),
			ProductID: p.ID,
			VariantID: variantID,
			Name:      p.Name,
			UnitPrice: p.Price,
			Quantity:  qty,
			ImageURL:  p.ImageURL,
			Category:  p.Category,
		}
		s.items = append(s.items, item)
	}
	out := *item
	s.persist(ctx)
	s.mu.Unlock()

	s.notify()
	return &out, nil
}

// UpdateQuantity sets the quantity of a product. Zero or negative
// removes the line.
func (s *Store) UpdateQuantity(ctx context.Context, productID uint, qty int) error {
	if qty <= 0 {
		return s.Remove(ctx, productID)
	}

	s.mu.Lock()
	found := false
	for _, it := range s.items {
		if it.ProductID == productID {
			it.Quantity = qty
			found = true
			break
		}
	}
	if !found {
		s.mu.Unlock()
		return ErrCartItemNotFound
	}
	s.persist(ctx)
	s.mu.Unlock()

	s.notify()
	return nil
}

// Remove deletes a product's line from the cart.
func (s *Store) Remove(ctx context.Context, productID uint) error {
	s.mu.Lock()
	idx := -1
	for i, it := range s.items {
		if it.ProductID == productID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return ErrCartItemNotFound
	}
	s.items = append(s.items[:idx], s.items[idx+1:]...)
	s.persist(ctx)
	s.mu.Unlock()

	s.notify()
	return nil
}

// Clear empties the cart and wipes the persisted slot.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.items = nil
	err := s.store.Delete(ctx, cartStorageKey)
	s.mu.Unlock()

	if err != nil {
		logger.FromCtx(ctx).Error("failed to wipe persisted cart", zap.Error(err))
	}

	s.notify()
	return err
}

// CompleteCheckout clears the cart after a successful payment and
// records when checkout happened.
func (s *Store) CompleteCheckout(ctx context.Context) error {
	if err := s.Clear(ctx); err != nil {
		return err
	}

	ts, _ := json.Marshal(time.Now().UTC().Format(time.RFC3339))
	if err := s.store.Write(ctx, checkoutTimestampKey, ts); err != nil {
		logger.FromCtx(ctx).Error("failed to record checkout timestamp", zap.Error(err))
	}
	return nil
}

// Items returns a copy of the current lines.
func (s *Store) Items() []CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]CartItem, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, *it)
	}
	return out
}

// Get returns the line for a product, if present.
func (s *Store) Get(productID uint) (*CartItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, it := range s.items {
		if it.ProductID == productID {
			out := *it
			return &out, true
		}
	}
	return nil, false
}

// TotalItems is the sum of all quantities.
func (s *Store) TotalItems() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, it := range s.items {
		n += it.Quantity
	}
	return n
}

// TotalAmount is the sum of unit price times quantity over all lines.
func (s *Store) TotalAmount() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sum float64
	for _, it := range s.items {
		sum += it.UnitPrice * float64(it.Quantity)
	}
	return sum
}

// SnapshotForCheckout returns the copy-on-read projection the order
// builder consumes. The slice is detached from the live cart.
func (s *Store) SnapshotForCheckout() []CheckoutLine {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := make([]CheckoutLine, 0, len(s.items))
	for _, it := range s.items {
		lines = append(lines, CheckoutLine{
			VariantID: it.VariantID,
			Quantity:  it.Quantity,
		})
	}
	return lines
}

// Subscribe registers a change listener. The channel carries no payload,
// only a signal to re-read the current snapshot. The returned func
// unsubscribes; it is safe to call more than once.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSub
	s.nextSub++

	ch := make(chan struct{}, 1)
	s.subs[id] = ch

	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

// notify signals all subscribers. Sends are coalesced: a subscriber
// that has not drained its pending signal does not get another.
func (s *Store) notify() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
