package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	product "github.com/angelmondragon/packfinderz-storefront/internal/products"
	pkgerrors "github.com/angelmondragon/packfinderz-storefront/pkg/errors"
	"github.com/angelmondragon/packfinderz-storefront/pkg/logger"
	"github.com/angelmondragon/packfinderz-storefront/pkg/metrics"
	"github.com/angelmondragon/packfinderz-storefront/pkg/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	DefaultPersistKey     = "@cart_storage"
	DefaultRecentLimit    = 5
	defaultPersistTimeout = 2 * time.Second
)

// Params bundles the dependencies required to build a cart Store.
type Params struct {
	// Storage receives snapshots. A nil Storage keeps the cart in memory only.
	Storage        storage.KV
	PersistKey     string
	PersistTimeout time.Duration
	RecentLimit    int
	Logger         *logger.Logger
	Metrics        *metrics.ClientMetrics
	Now            func() time.Time
	NewID          func() string
}

// Store is the authoritative client-side cart. Every mutation holds the lock
// for its whole duration and ends with a full recompute of the aggregates.
type Store struct {
	mu         sync.RWMutex
	items      []Item
	totalItems int
	totalPrice decimal.Decimal

	recentLimit int
	now         func() time.Time
	newID       func() string
	logg        *logger.Logger
	persister   *persister
}

func New(params Params) *Store {
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	newID := params.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	recent := params.RecentLimit
	if recent <= 0 {
		recent = DefaultRecentLimit
	}

	s := &Store{
		recentLimit: recent,
		now:         now,
		newID:       newID,
		logg:        logg,
		totalPrice:  decimal.Zero,
	}
	if params.Storage != nil {
		key := strings.TrimSpace(params.PersistKey)
		if key == "" {
			key = DefaultPersistKey
		}
		timeout := params.PersistTimeout
		if timeout <= 0 {
			timeout = defaultPersistTimeout
		}
		s.persister = newPersister(params.Storage, key, timeout, logg, params.Metrics)
	}
	return s
}

// AddToCart adds quantity of p. An existing line for the same product keeps its
// id and addedAt and has quantity added to it; a resulting quantity of zero or
// less removes the line.
func (s *Store) AddToCart(p product.Product, quantity int) {
	s.mutate(func() {
		if idx := s.indexOf(p.ID); idx >= 0 {
			next := s.items[idx].Quantity + quantity
			if next <= 0 {
				s.removeAt(idx)
				return
			}
			s.items[idx].Quantity = next
			return
		}
		if quantity <= 0 {
			return
		}
		s.items = append(s.items, Item{
			ID:       s.newID(),
			Product:  cloneProduct(p),
			Quantity: quantity,
			AddedAt:  s.now(),
		})
	})
}

func (s *Store) RemoveFromCart(productID string) {
	s.mutate(func() {
		if idx := s.indexOf(productID); idx >= 0 {
			s.removeAt(idx)
		}
	})
}

// UpdateQuantity sets the absolute quantity of a line. Zero or less removes it.
func (s *Store) UpdateQuantity(productID string, quantity int) {
	s.mutate(func() {
		idx := s.indexOf(productID)
		if idx < 0 {
			return
		}
		if quantity <= 0 {
			s.removeAt(idx)
			return
		}
		s.items[idx].Quantity = quantity
	})
}

func (s *Store) ClearCart() {
	s.mutate(func() {
		s.items = nil
	})
}

func (s *Store) GetCartItem(productID string) (Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if idx := s.indexOf(productID); idx >= 0 {
		return cloneItem(s.items[idx]), true
	}
	return Item{}, false
}

func (s *Store) IsInCart(productID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexOf(productID) >= 0
}

func (s *Store) GetCartSummary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	summary := Summary{
		ItemCount:     len(s.items),
		TotalQuantity: s.totalItems,
		TotalPrice:    s.totalPrice.InexactFloat64(),
	}
	if summary.ItemCount > 0 {
		summary.AverageItemPrice = s.totalPrice.Div(decimal.NewFromInt(int64(summary.ItemCount))).InexactFloat64()
	}
	return summary
}

// GetRecentItems returns up to limit lines, most recently added first. A limit
// of zero or less means "use the default" (Params.RecentLimit), not an empty result.
func (s *Store) GetRecentItems(limit int) []Item {
	if limit <= 0 {
		limit = s.recentLimit
	}
	s.mu.RLock()
	items := make([]Item, 0, len(s.items))
	for i := len(s.items) - 1; i >= 0; i-- {
		items = append(items, cloneItem(s.items[i]))
	}
	s.mu.RUnlock()

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].AddedAt.After(items[j].AddedAt)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

// Items returns a copy of the lines in insertion order.
func (s *Store) Items() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Item, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, cloneItem(item))
	}
	return items
}

func (s *Store) TotalItems() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalItems
}

func (s *Store) TotalPrice() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalPrice.InexactFloat64()
}

// Load replaces the in-memory cart with the persisted snapshot. A missing
// snapshot leaves the cart empty. Stored aggregates are ignored and recomputed.
func (s *Store) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	raw, err := s.persister.kv.Get(ctx, s.persister.key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStorage, err, "load cart")
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDecode, err, "decode cart snapshot")
	}

	items := make([]Item, 0, len(snap.Items))
	seen := make(map[string]struct{}, len(snap.Items))
	for _, item := range snap.Items {
		if item.Quantity <= 0 || item.Product.ID == "" {
			continue
		}
		if _, dup := seen[item.Product.ID]; dup {
			continue
		}
		seen[item.Product.ID] = struct{}{}
		if item.ID == "" {
			item.ID = s.newID()
		}
		items = append(items, item)
	}

	s.mu.Lock()
	s.items = items
	s.recompute()
	count := len(s.items)
	s.mu.Unlock()

	s.logg.Debug(s.logg.WithField(ctx, "lines", count), "cart restored")
	return nil
}

// Close writes the latest pending snapshot and stops the background writer.
// Mutations after Close are kept in memory only.
func (s *Store) Close(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	return s.persister.close(ctx)
}

func (s *Store) mutate(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
	s.recompute()
	if s.persister != nil {
		s.persister.schedule(s.snapshotLocked())
	}
}

func (s *Store) recompute() {
	totalItems := 0
	totalPrice := decimal.Zero
	for _, item := range s.items {
		totalItems += item.Quantity
		totalPrice = totalPrice.Add(decimal.NewFromFloat(item.Product.Price).Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	s.totalItems = totalItems
	s.totalPrice = totalPrice
}

func (s *Store) snapshotLocked() Snapshot {
	items := make([]Item, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, cloneItem(item))
	}
	return Snapshot{
		Items:      items,
		TotalItems: s.totalItems,
		TotalPrice: s.totalPrice.InexactFloat64(),
	}
}

func (s *Store) indexOf(productID string) int {
	for i, item := range s.items {
		if item.Product.ID == productID {
			return i
		}
	}
	return -1
}

func (s *Store) removeAt(idx int) {
	s.items = append(s.items[:idx], s.items[idx+1:]...)
}

func cloneItem(item Item) Item {
	item.Product = cloneProduct(item.Product)
	return item
}

func cloneProduct(p product.Product) product.Product {
	if p.Images != nil {
		p.Images = append([]product.Image(nil), p.Images...)
	}
	if p.Location != nil {
		loc := *p.Location
		p.Location = &loc
	}
	return p
}

func (s Summary) String() string {
	return fmt.Sprintf("%d lines, %d items, total %.2f", s.ItemCount, s.TotalQuantity, s.TotalPrice)
}
