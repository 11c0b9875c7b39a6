package identity

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"patrol-hub/core/incident"
	"patrol-hub/core/store"
	"patrol-hub/core/utils"
)

const fallbackDate = "19700101"

// Assigner owns the remote-key to display-id mapping and the global sequence
// counter. Construct one per process and inject it; GetOrAssign and
// ProcessBatch are its only mutators.
//
// Assignment never fails from the caller's point of view: when the store is
// unavailable the assigner keeps handing out ids from its in-memory counter
// and logs the lost persistence.
type Assigner struct {
	store  store.IdentityStore
	logger *utils.Logger
	format string

	mu     sync.Mutex
	loaded bool
	cache  map[string]string
	seq    int64
}

func NewAssigner(format string, st store.IdentityStore, logger *utils.Logger) *Assigner {
	return &Assigner{
		store:  st,
		logger: logger,
		format: format,
		cache:  map[string]string{},
	}
}

// GetOrAssign returns the stable display id for remoteKey, assigning one on
// first sight. The calendar date inside the id comes from the incident's own
// timestamp, not from assignment time.
func (a *Assigner) GetOrAssign(ctx context.Context, remoteKey string, occurredAtMillis int64) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ensureLoaded(ctx)
	if id, ok := a.cache[remoteKey]; ok {
		return id
	}
	build := func(seq int64) string {
		return buildDisplayID(a.format, dateString(occurredAtMillis), seq)
	}
	if a.store != nil {
		id, seq, err := a.store.AssignDisplayID(ctx, remoteKey, build)
		if err == nil {
			if seq > a.seq {
				a.seq = seq
			}
			a.cache[remoteKey] = id
			return id
		}
		a.logger.Warnf("identity: persist assignment for %s: %v (continuing in memory)", remoteKey, err)
	}
	a.seq++
	id := build(a.seq)
	a.cache[remoteKey] = id
	return id
}

// ProcessBatch attaches display ids to every record, assigning new ids in
// ascending occurredAt order so sequence numbers follow chronology even
// though the poller delivers newest-first. Records come back in input order.
func (a *Assigner) ProcessBatch(ctx context.Context, records []incident.Record) []incident.Record {
	order := make([]int, len(records))
	for i := range order {
		order[i] = i
	}
	sortByOccurrence(order, records)
	for _, idx := range order {
		records[idx].DisplayID = a.GetOrAssign(ctx, records[idx].RemoteKey, records[idx].OccurredAt)
	}
	return records
}

func (a *Assigner) ensureLoaded(ctx context.Context) {
	if a.loaded || a.store == nil {
		a.loaded = true
		return
	}
	mapping, seq, err := a.store.LoadAll(ctx)
	if err != nil {
		a.logger.Warnf("identity: load persisted map: %v", err)
		return
	}
	for key, id := range mapping {
		a.cache[key] = id
	}
	if seq > a.seq {
		a.seq = seq
	}
	a.loaded = true
}

func sortByOccurrence(order []int, records []incident.Record) {
	sort.SliceStable(order, func(i, j int) bool {
		a, b := records[order[i]], records[order[j]]
		if a.OccurredAt != b.OccurredAt {
			return a.OccurredAt < b.OccurredAt
		}
		return a.RemoteKey < b.RemoteKey
	})
}

func dateString(occurredAtMillis int64) string {
	if occurredAtMillis <= 0 {
		return fallbackDate
	}
	return time.UnixMilli(occurredAtMillis).Local().Format("20060102")
}

var seqToken = regexp.MustCompile(`\{seq(?::(\d+))?\}`)

func buildDisplayID(format, date string, seq int64) string {
	if format == "" {
		format = "INC-{date}-{seq:03}"
	}
	out := format
	out = seqToken.ReplaceAllStringFunc(out, func(token string) string {
		m := seqToken.FindStringSubmatch(token)
		if len(m) == 2 && m[1] != "" {
			width := 0
			fmt.Sscanf(m[1], "%d", &width)
			if width > 0 {
				return fmt.Sprintf("%0*d", width, seq)
			}
		}
		return fmt.Sprintf("%d", seq)
	})
	return strings.ReplaceAll(out, "{date}", date)
}
