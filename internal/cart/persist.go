package cart

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	pkgerrors "github.com/angelmondragon/packfinderz-storefront/pkg/errors"
	"github.com/angelmondragon/packfinderz-storefront/pkg/logger"
	"github.com/angelmondragon/packfinderz-storefront/pkg/metrics"
	"github.com/angelmondragon/packfinderz-storefront/pkg/storage"
)

// persister writes cart snapshots from a single goroutine. Only the newest
// pending snapshot is kept; intermediate states are skipped.
type persister struct {
	kv      storage.KV
	key     string
	timeout time.Duration
	logg    *logger.Logger
	metrics *metrics.ClientMetrics

	mu     sync.Mutex
	latest *Snapshot

	wake      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newPersister(kv storage.KV, key string, timeout time.Duration, logg *logger.Logger, m *metrics.ClientMetrics) *persister {
	p := &persister{
		kv:      kv,
		key:     key,
		timeout: timeout,
		logg:    logg,
		metrics: m,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// schedule never blocks.
func (p *persister) schedule(snap Snapshot) {
	p.mu.Lock()
	p.latest = &snap
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *persister) run() {
	defer close(p.done)
	for {
		select {
		case <-p.wake:
			p.flush()
		case <-p.stop:
			p.flush()
			return
		}
	}
}

func (p *persister) flush() {
	p.mu.Lock()
	snap := p.latest
	p.latest = nil
	p.mu.Unlock()
	if snap == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.write(ctx, *snap); err != nil {
		p.metrics.IncPersistFailure()
		logCtx := p.logg.WithFields(ctx, pkgerrors.Dump(err).Fields())
		p.logg.Error(p.logg.WithField(logCtx, "key", p.key), "failed to persist cart", err)
	}
}

func (p *persister) write(ctx context.Context, snap Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode cart snapshot")
	}
	if err := p.kv.Set(ctx, p.key, string(raw)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStorage, err, "write cart snapshot")
	}
	return nil
}

func (p *persister) close(ctx context.Context) error {
	p.closeOnce.Do(func() { close(p.stop) })
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
