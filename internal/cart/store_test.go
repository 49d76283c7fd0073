package cart

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	product "github.com/angelmondragon/packfinderz-storefront/internal/products"
	"github.com/angelmondragon/packfinderz-storefront/pkg/logger"
	"github.com/angelmondragon/packfinderz-storefront/pkg/metrics"
	"github.com/angelmondragon/packfinderz-storefront/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func sequentialIDs() func() string {
	var n atomic.Int32
	return func() string { return fmt.Sprintf("line-%d", n.Add(1)) }
}

func newTestStore(kv storage.KV) *Store {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(Params{Storage: kv, Now: clock.Now, NewID: sequentialIDs()})
}

func prod(id string, price float64) product.Product {
	return product.Product{ID: id, Title: "product " + id, Price: price}
}

func assertConsistent(t *testing.T, s *Store) {
	t.Helper()
	qty := 0
	var price float64
	for _, item := range s.Items() {
		require.Positive(t, item.Quantity)
		qty += item.Quantity
		price += item.Product.Price * float64(item.Quantity)
	}
	assert.Equal(t, qty, s.TotalItems())
	assert.InDelta(t, price, s.TotalPrice(), 1e-9)
}

func TestAddSameProductMergesLines(t *testing.T) {
	s := newTestStore(nil)

	s.AddToCart(prod("p1", 29.99), 2)
	s.AddToCart(prod("p1", 29.99), 1)

	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 3, items[0].Quantity)
	assert.Equal(t, "line-1", items[0].ID)
	assert.Equal(t, 3, s.TotalItems())
	assert.Equal(t, 89.97, s.TotalPrice())
}

func TestAddKeepsLineIdentityAndAddedAt(t *testing.T) {
	s := newTestStore(nil)
	s.AddToCart(prod("p1", 10), 1)
	first, ok := s.GetCartItem("p1")
	require.True(t, ok)

	s.AddToCart(prod("p1", 10), 4)
	second, ok := s.GetCartItem("p1")
	require.True(t, ok)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.AddedAt, second.AddedAt)
	assert.Equal(t, 5, second.Quantity)
}

func TestRemoveRecomputesTotals(t *testing.T) {
	s := newTestStore(nil)
	s.AddToCart(prod("p1", 29.99), 3)
	s.AddToCart(prod("p2", 49.99), 2)

	s.RemoveFromCart("p1")

	assert.Equal(t, 99.98, s.TotalPrice())
	assert.Equal(t, 2, s.TotalItems())
	assert.False(t, s.IsInCart("p1"))
	assert.True(t, s.IsInCart("p2"))
}

func TestRemoveAbsentIsNoop(t *testing.T) {
	s := newTestStore(nil)
	s.AddToCart(prod("p1", 5), 2)
	before := s.Items()

	s.RemoveFromCart("missing")

	assert.Equal(t, before, s.Items())
	assert.Equal(t, 2, s.TotalItems())
	assert.Equal(t, 10.0, s.TotalPrice())
}

func TestUpdateQuantity(t *testing.T) {
	s := newTestStore(nil)
	s.AddToCart(prod("p1", 2.5), 1)
	s.AddToCart(prod("p2", 4), 1)

	s.UpdateQuantity("p1", 4)
	item, _ := s.GetCartItem("p1")
	assert.Equal(t, 4, item.Quantity, "update sets an absolute quantity")
	assert.Equal(t, 14.0, s.TotalPrice())

	s.UpdateQuantity("missing", 3)
	assert.Len(t, s.Items(), 2)

	s.UpdateQuantity("p1", 0)
	assert.False(t, s.IsInCart("p1"))
	s.UpdateQuantity("p2", -5)
	assert.False(t, s.IsInCart("p2"))
	assert.Zero(t, s.TotalItems())
	assert.Zero(t, s.TotalPrice())
}

func TestNegativeAddNeverLeavesNonPositiveLine(t *testing.T) {
	s := newTestStore(nil)
	s.AddToCart(prod("p1", 3), 2)

	s.AddToCart(prod("p1", 3), -1)
	item, ok := s.GetCartItem("p1")
	require.True(t, ok)
	assert.Equal(t, 1, item.Quantity)

	s.AddToCart(prod("p1", 3), -5)
	assert.False(t, s.IsInCart("p1"))

	s.AddToCart(prod("p2", 3), 0)
	s.AddToCart(prod("p3", 3), -2)
	assert.Empty(t, s.Items())
	assertConsistent(t, s)
}

func TestClearCartIsIdempotent(t *testing.T) {
	s := newTestStore(nil)
	s.AddToCart(prod("p1", 1), 1)
	s.ClearCart()
	s.ClearCart()
	assert.Empty(t, s.Items())
	assert.Equal(t, Summary{}, s.GetCartSummary())
}

func TestSummary(t *testing.T) {
	s := newTestStore(nil)
	assert.Equal(t, Summary{}, s.GetCartSummary(), "empty cart must not divide by zero")

	s.AddToCart(prod("p1", 29.99), 3)
	s.AddToCart(prod("p2", 49.99), 2)
	summary := s.GetCartSummary()
	assert.Equal(t, 2, summary.ItemCount)
	assert.Equal(t, 5, summary.TotalQuantity)
	assert.Equal(t, 189.95, summary.TotalPrice)
	assert.Equal(t, 94.975, summary.AverageItemPrice)
	assert.Equal(t, "2 lines, 5 items, total 189.95", summary.String())
}

func TestRecentItemsOrdering(t *testing.T) {
	s := newTestStore(nil)
	for i := 1; i <= 7; i++ {
		s.AddToCart(prod(fmt.Sprintf("p%d", i), 1), 1)
	}

	recent := s.GetRecentItems(3)
	require.Len(t, recent, 3)
	assert.Equal(t, []string{"p7", "p6", "p5"}, productIDs(recent))

	assert.Len(t, s.GetRecentItems(0), DefaultRecentLimit)
	assert.Len(t, s.GetRecentItems(-1), DefaultRecentLimit)
	assert.Len(t, s.GetRecentItems(100), 7)

	// incrementing an old line does not make it recent
	s.AddToCart(prod("p1", 1), 1)
	assert.Equal(t, "p7", s.GetRecentItems(1)[0].Product.ID)
}

func TestRecentItemsZeroLimitUsesConfiguredDefault(t *testing.T) {
	s := New(Params{RecentLimit: 2})
	for i := 1; i <= 4; i++ {
		s.AddToCart(prod(fmt.Sprintf("p%d", i), 1), 1)
	}
	assert.Len(t, s.GetRecentItems(0), 2)
}

func TestRecentItemsTieBreaksOnInsertion(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(Params{Now: func() time.Time { return fixed }})
	s.AddToCart(prod("a", 1), 1)
	s.AddToCart(prod("b", 1), 1)
	assert.Equal(t, []string{"b", "a"}, productIDs(s.GetRecentItems(2)))
}

func TestReturnedItemsAreCopies(t *testing.T) {
	s := newTestStore(nil)
	s.AddToCart(product.Product{ID: "p1", Price: 1, Images: []product.Image{{URL: "a"}}}, 1)

	items := s.Items()
	items[0].Quantity = 99
	items[0].Product.Images[0].URL = "mutated"

	item, _ := s.GetCartItem("p1")
	assert.Equal(t, 1, item.Quantity)
	assert.Equal(t, "a", item.Product.Images[0].URL)
}

func TestAggregatesStayConsistentUnderConcurrentMutations(t *testing.T) {
	s := newTestStore(storage.NewMemoryKV())
	defer s.Close(context.Background())

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := fmt.Sprintf("p%d", (w+i)%5)
				switch i % 4 {
				case 0, 1:
					s.AddToCart(prod(id, 1.25), 1)
				case 2:
					s.UpdateQuantity(id, i%3)
				default:
					s.RemoveFromCart(fmt.Sprintf("p%d", i%7))
				}
			}
		}(w)
	}
	wg.Wait()
	assertConsistent(t, s)
}

func TestPersistsSnapshotAsynchronously(t *testing.T) {
	kv := storage.NewMemoryKV()
	s := newTestStore(kv)

	s.AddToCart(prod("p1", 29.99), 3)
	s.AddToCart(prod("p2", 49.99), 2)
	s.RemoveFromCart("p1")
	require.NoError(t, s.Close(context.Background()))

	raw, err := kv.Get(context.Background(), DefaultPersistKey)
	require.NoError(t, err)

	var snap Snapshot
	require.NoError(t, json.Unmarshal([]byte(raw), &snap))
	assert.Equal(t, 2, snap.TotalItems)
	assert.Equal(t, 99.98, snap.TotalPrice)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "p2", snap.Items[0].Product.ID)

	var shape map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &shape))
	assert.Len(t, shape, 3, "only items and both aggregates are persisted")
}

func TestLoadRestoresAndRecomputes(t *testing.T) {
	kv := storage.NewMemoryKV()
	stored := Snapshot{
		Items: []Item{
			{ID: "a", Product: prod("p1", 29.99), Quantity: 3, AddedAt: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
			{ID: "b", Product: prod("p2", 49.99), Quantity: 0},
			{ID: "c", Product: prod("p1", 29.99), Quantity: 1},
		},
		TotalItems: 999,
		TotalPrice: 1,
	}
	raw, err := json.Marshal(stored)
	require.NoError(t, err)
	require.NoError(t, kv.Set(context.Background(), DefaultPersistKey, string(raw)))

	s := newTestStore(kv)
	defer s.Close(context.Background())
	require.NoError(t, s.Load(context.Background()))

	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "a", items[0].ID)
	assert.Equal(t, 3, s.TotalItems())
	assert.Equal(t, 89.97, s.TotalPrice())
}

func TestLoadWithoutSnapshotOrStorage(t *testing.T) {
	s := newTestStore(storage.NewMemoryKV())
	defer s.Close(context.Background())
	require.NoError(t, s.Load(context.Background()))
	assert.Empty(t, s.Items())

	require.NoError(t, newTestStore(nil).Load(context.Background()))
}

func TestLoadRejectsCorruptSnapshot(t *testing.T) {
	kv := storage.NewMemoryKV()
	require.NoError(t, kv.Set(context.Background(), DefaultPersistKey, "{not json"))

	s := newTestStore(kv)
	defer s.Close(context.Background())
	require.Error(t, s.Load(context.Background()))
	assert.Empty(t, s.Items())
}

type failingKV struct {
	storage.KV
	sets atomic.Int32
}

func (f *failingKV) Set(context.Context, string, string) error {
	f.sets.Add(1)
	return errors.New("disk full")
}

func TestPersistenceFailureDoesNotFailMutation(t *testing.T) {
	reg := prometheus.NewRegistry()
	kv := &failingKV{KV: storage.NewMemoryKV()}
	logs := &bytes.Buffer{}
	s := New(Params{
		Storage: kv,
		Metrics: metrics.NewClientMetrics(reg),
		Logger:  logger.New(logger.Options{ServiceName: "test", Output: logs}),
	})

	s.AddToCart(prod("p1", 29.99), 2)
	require.NoError(t, s.Close(context.Background()))

	assert.Equal(t, 2, s.TotalItems())
	assert.Equal(t, 59.98, s.TotalPrice())
	assert.GreaterOrEqual(t, kv.sets.Load(), int32(1))

	families, err := reg.Gather()
	require.NoError(t, err)
	var failures float64
	for _, mf := range families {
		if mf.GetName() == "storefront_cart_persist_failures_total" {
			failures = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.GreaterOrEqual(t, failures, 1.0)

	assert.Contains(t, logs.String(), `"message":"failed to persist cart"`)
	assert.Contains(t, logs.String(), `"error_code":"STORAGE_ERROR"`)
	assert.Contains(t, logs.String(), `"key":"`+DefaultPersistKey+`"`)
	assert.Contains(t, logs.String(), "disk full")
}

func TestCloseHonorsContext(t *testing.T) {
	block := make(chan struct{})
	kv := &blockingKV{KV: storage.NewMemoryKV(), release: block}
	s := New(Params{Storage: kv})
	s.AddToCart(prod("p1", 1), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Close(ctx), context.DeadlineExceeded)

	close(block)
	require.NoError(t, s.Close(context.Background()))
}

type blockingKV struct {
	storage.KV
	release chan struct{}
}

func (b *blockingKV) Set(ctx context.Context, key, value string) error {
	<-b.release
	return b.KV.Set(ctx, key, value)
}

func productIDs(items []Item) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.Product.ID)
	}
	return ids
}
