package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"patrol-hub/core/store"
	"patrol-hub/core/utils"
)

// PeerChangeFunc runs when another session has written a newer revision to
// the shared store. Implementations reload their full view; there is no
// incremental merge, so convergence is last-writer-wins.
type PeerChangeFunc func(ctx context.Context)

// NewSessionToken mints the writer identity for one attached session.
func NewSessionToken() string {
	return uuid.Must(uuid.NewV4()).String()
}

// Broadcaster is the change-notification side of the shared store: a watcher
// goroutine polls the store's revision counter and wakes this session when a
// peer (any writer token other than our own) lands a newer revision. Writes
// themselves happen through the sync store; this component only observes.
//
// Watch errors are logged and skipped: an unavailable store degrades to "this
// session never learns about peers", never to a failure.
type Broadcaster struct {
	store    store.SyncStore
	token    string
	interval time.Duration
	logger   *utils.Logger

	mu       sync.Mutex
	onPeer   PeerChangeFunc
	lastSeen int64
	cancel   context.CancelFunc
	running  bool
	wg       sync.WaitGroup
}

func NewBroadcaster(st store.SyncStore, token string, interval time.Duration, logger *utils.Logger) *Broadcaster {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &Broadcaster{
		store:    st,
		token:    token,
		interval: interval,
		logger:   logger,
	}
}

func (b *Broadcaster) Token() string {
	return b.token
}

func (b *Broadcaster) OnPeerChange(fn PeerChangeFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onPeer = fn
}

func (b *Broadcaster) Start() {
	b.StartWithContext(context.Background())
}

func (b *Broadcaster) StartWithContext(ctx context.Context) {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.running = true
	b.wg.Add(1)
	b.mu.Unlock()
	// Prime on the current revision so the session's own initial load does
	// not come back to it as a phantom peer change.
	if rev, _, err := b.store.CurrentRevision(ctx); err == nil {
		b.mu.Lock()
		b.lastSeen = rev
		b.mu.Unlock()
	}
	go b.loop(runCtx)
}

func (b *Broadcaster) Stop() {
	_ = b.StopWithContext(context.Background())
}

func (b *Broadcaster) StopWithContext(ctx context.Context) error {
	b.mu.Lock()
	if b.cancel == nil || !b.running {
		b.mu.Unlock()
		return nil
	}
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()
	cancel()
	waitDone := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Broadcaster) loop(ctx context.Context) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.checkOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (b *Broadcaster) checkOnce(ctx context.Context) {
	rev, writer, err := b.store.CurrentRevision(ctx)
	if err != nil {
		b.logger.Debugf("broadcast: revision check: %v", err)
		return
	}
	b.mu.Lock()
	if rev <= b.lastSeen {
		b.mu.Unlock()
		return
	}
	b.lastSeen = rev
	onPeer := b.onPeer
	own := writer == b.token
	b.mu.Unlock()
	if own || onPeer == nil {
		return
	}
	if ctx.Err() != nil {
		return
	}
	onPeer(ctx)
}
