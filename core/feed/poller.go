package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"patrol-hub/config"
	"patrol-hub/core/incident"
	"patrol-hub/core/utils"
)

// Subscriber receives each successfully polled working set, newest first.
type Subscriber func(records []incident.Record)

// Status is a point-in-time view of the polling loop for the API layer.
type Status struct {
	Running       bool      `json:"running"`
	Cycles        int64     `json:"cycles"`
	LastSuccessAt time.Time `json:"last_success_at"`
	LastError     string    `json:"last_error,omitempty"`
	LastCount     int       `json:"last_count"`
}

// Poller fetches the full incident collection on a fixed interval, normalizes
// it at the boundary and hands the bounded, ordered working set to
// subscribers. It holds no authoritative state beyond the last good list:
// a failed cycle is logged and skipped, never surfaced.
type Poller struct {
	url      string
	interval time.Duration
	limit    int
	client   *http.Client
	logger   *utils.Logger

	mu      sync.Mutex
	subs    []Subscriber
	last    []incident.Record
	status  Status
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

func NewPoller(cfg config.FeedConfig, logger *utils.Logger) *Poller {
	return &Poller{
		url:      cfg.URL,
		interval: cfg.Interval(),
		limit:    cfg.Limit(),
		client:   &http.Client{Timeout: cfg.Timeout()},
		logger:   logger,
	}
}

// Subscribe registers fn for every successful cycle. Register before Start;
// subscribers run in registration order on the poll goroutine, so mutations
// downstream stay strictly ordered.
func (p *Poller) Subscribe(fn Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs = append(p.subs, fn)
}

func (p *Poller) Start() {
	p.StartWithContext(context.Background())
}

func (p *Poller) StartWithContext(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.status.Running = true
	p.wg.Add(1)
	p.mu.Unlock()
	go p.loop(runCtx)
}

func (p *Poller) Stop() {
	_ = p.StopWithContext(context.Background())
}

func (p *Poller) StopWithContext(ctx context.Context) error {
	p.mu.Lock()
	if p.cancel == nil || !p.running {
		p.mu.Unlock()
		return nil
	}
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	cancel()
	waitDone := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
		p.mu.Lock()
		p.running = false
		p.status.Running = false
		p.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Last returns a copy of the most recent successfully parsed working set.
func (p *Poller) Last() []incident.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]incident.Record, len(p.last))
	copy(out, p.last)
	return out
}

func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()
	// Run one cycle immediately so a fresh session is not blind for a full
	// interval, then settle into the fixed-delay tick.
	p.runCycle(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.runCycle(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Poller) runCycle(ctx context.Context) {
	records, err := p.fetch(ctx)
	// A response that lands after Stop must not mutate state or wake
	// subscribers.
	if ctx.Err() != nil {
		return
	}
	p.mu.Lock()
	p.status.Cycles++
	if err != nil {
		p.status.LastError = err.Error()
		p.mu.Unlock()
		p.logger.Warnf("feed: poll cycle skipped: %v", err)
		return
	}
	records = SortWorkingSet(records, p.limit)
	p.last = records
	p.status.LastError = ""
	p.status.LastSuccessAt = time.Now().UTC()
	p.status.LastCount = len(records)
	subs := make([]Subscriber, len(p.subs))
	copy(subs, p.subs)
	p.mu.Unlock()
	for _, fn := range subs {
		fn(records)
	}
}

func (p *Poller) fetch(ctx context.Context) ([]incident.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("feed status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return incident.DecodeCollection(body)
}

// SortWorkingSet orders records newest first (remote-key ascending on ties,
// for determinism) and truncates to the working-set bound.
func SortWorkingSet(records []incident.Record, limit int) []incident.Record {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].OccurredAt != records[j].OccurredAt {
			return records[i].OccurredAt > records[j].OccurredAt
		}
		return records[i].RemoteKey < records[j].RemoteKey
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records
}
