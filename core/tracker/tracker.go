package tracker

import (
	"context"
	"sort"
	"sync"
	"time"

	"patrol-hub/core/incident"
	"patrol-hub/core/store"
	"patrol-hub/core/utils"
)

// ChangeListener fires whenever the unviewed set changes, with the current
// ordered list (newest first) and its size.
type ChangeListener func(unviewed []incident.Record, count int)

// CueListener fires when genuinely new incidents are first observed: at most
// once per batch, with the records that were added. UI layers hang their
// sound/badge cue off this.
type CueListener func(added []incident.Record)

// Tracker maintains the set of incidents the local operator has not yet
// acknowledged. Per identifier the states are unseen, unviewed, viewed; the
// pre-cleared set suppresses re-notification of records the feed re-sends
// after a clear-all. All mutations persist as a single revision through the
// sync store; when the store is unavailable the tracker keeps working in
// isolation and logs the loss.
type Tracker struct {
	store  store.SyncStore
	logger *utils.Logger
	token  string

	mu         sync.Mutex
	unviewed   map[string]incident.Record
	precleared map[string]struct{}
	lastClear  int64
	revision   int64
	changeSubs []ChangeListener
	cueSubs    []CueListener
}

// NewTracker builds a tracker for one session. token identifies this session
// as a writer so its own persisted revisions do not self-notify. The
// persisted state, if any, is loaded immediately.
func NewTracker(st store.SyncStore, token string, logger *utils.Logger) *Tracker {
	t := &Tracker{
		store:      st,
		logger:     logger,
		token:      token,
		unviewed:   map[string]incident.Record{},
		precleared: map[string]struct{}{},
	}
	t.Reload(context.Background())
	return t
}

func (t *Tracker) OnUnviewedChanged(fn ChangeListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.changeSubs = append(t.changeSubs, fn)
}

func (t *Tracker) OnNewIncident(fn CueListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cueSubs = append(t.cueSubs, fn)
}

// AddIncident inserts one record unless it is already unviewed or
// pre-cleared. Returns whether it was newly added.
func (t *Tracker) AddIncident(ctx context.Context, rec incident.Record) bool {
	return len(t.AddIncidents(ctx, []incident.Record{rec})) > 0
}

// AddIncidents is the batch form: the new-incident cue fires at most once per
// batch no matter how many records were added. Records already unviewed have
// their stored snapshot refreshed when the payload changed; that counts as a
// change but not as a new incident.
func (t *Tracker) AddIncidents(ctx context.Context, records []incident.Record) []incident.Record {
	t.mu.Lock()
	added, changed := t.addLocked(records)
	return t.finishMutationLocked(ctx, added, changed)
}

// CheckForNewIncidents is the poller integration point and the authoritative
// boundary between "the feed re-sent a record" and "a genuinely new incident
// arrived". The poller delivers the full working set every cycle, so an
// unviewed or pre-cleared key absent from records has rolled out of the feed
// and is dropped first; the unviewed set can therefore never outgrow the
// working set.
func (t *Tracker) CheckForNewIncidents(ctx context.Context, records []incident.Record) []incident.Record {
	present := make(map[string]struct{}, len(records))
	for _, rec := range records {
		present[rec.RemoteKey] = struct{}{}
	}
	t.mu.Lock()
	changed := false
	for key := range t.unviewed {
		if _, ok := present[key]; !ok {
			delete(t.unviewed, key)
			changed = true
		}
	}
	for key := range t.precleared {
		if _, ok := present[key]; !ok {
			delete(t.precleared, key)
			changed = true
		}
	}
	added, addChanged := t.addLocked(records)
	return t.finishMutationLocked(ctx, added, changed || addChanged)
}

func (t *Tracker) addLocked(records []incident.Record) ([]incident.Record, bool) {
	var added []incident.Record
	changed := false
	for _, rec := range records {
		if existing, ok := t.unviewed[rec.RemoteKey]; ok {
			if existing.Fingerprint != rec.Fingerprint {
				t.unviewed[rec.RemoteKey] = rec
				changed = true
			}
			continue
		}
		if _, ok := t.precleared[rec.RemoteKey]; ok {
			continue
		}
		t.unviewed[rec.RemoteKey] = rec
		added = append(added, rec)
		changed = true
	}
	return added, changed
}

// finishMutationLocked persists and notifies; the caller holds the lock, it
// is released here.
func (t *Tracker) finishMutationLocked(ctx context.Context, added []incident.Record, changed bool) []incident.Record {
	if !changed {
		t.mu.Unlock()
		return nil
	}
	t.persistLocked(ctx)
	list, count, changeSubs, cueSubs := t.snapshotLocked()
	t.mu.Unlock()
	if len(added) > 0 {
		for _, fn := range cueSubs {
			fn(added)
		}
	}
	for _, fn := range changeSubs {
		fn(list, count)
	}
	return added
}

// MarkViewed acknowledges a single incident. Marking an identifier that was
// never unviewed is a safe no-op. Deliberately does not touch the pre-cleared
// set: only clear-all suppresses resends.
func (t *Tracker) MarkViewed(ctx context.Context, remoteKey string) bool {
	t.mu.Lock()
	if _, ok := t.unviewed[remoteKey]; !ok {
		t.mu.Unlock()
		return false
	}
	delete(t.unviewed, remoteKey)
	t.persistLocked(ctx)
	list, count, changeSubs, _ := t.snapshotLocked()
	t.mu.Unlock()
	for _, fn := range changeSubs {
		fn(list, count)
	}
	return true
}

// ClearAll acknowledges everything currently unviewed and remembers those
// identifiers so the feed re-sending the same records does not resurface
// them. A fresh clear replaces the previous pre-cleared set. No-op when
// nothing is unviewed.
func (t *Tracker) ClearAll(ctx context.Context) bool {
	t.mu.Lock()
	if len(t.unviewed) == 0 {
		t.mu.Unlock()
		return false
	}
	t.precleared = make(map[string]struct{}, len(t.unviewed))
	for key := range t.unviewed {
		t.precleared[key] = struct{}{}
	}
	t.unviewed = map[string]incident.Record{}
	t.lastClear = time.Now().UnixMilli()
	t.persistLocked(ctx)
	list, count, changeSubs, _ := t.snapshotLocked()
	t.mu.Unlock()
	for _, fn := range changeSubs {
		fn(list, count)
	}
	return true
}

// Unviewed returns the current unviewed incidents, newest first.
func (t *Tracker) Unviewed() []incident.Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return sortedUnviewed(t.unviewed)
}

func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.unviewed)
}

func (t *Tracker) LastClearAt() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastClear
}

func (t *Tracker) IsPreCleared(remoteKey string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.precleared[remoteKey]
	return ok
}

// Reload replaces the in-memory view with the store's current revision.
// The broadcaster calls this when a peer session writes; it is a full
// replace, never an incremental merge, so the converged state is whatever
// the last writer persisted.
func (t *Tracker) Reload(ctx context.Context) {
	if t.store == nil {
		return
	}
	st, err := t.store.LoadState(ctx)
	if err != nil {
		t.logger.Warnf("tracker: reload state: %v", err)
		return
	}
	t.mu.Lock()
	if st.Revision == t.revision && t.revision != 0 {
		t.mu.Unlock()
		return
	}
	t.revision = st.Revision
	t.lastClear = st.LastClearAt
	t.unviewed = make(map[string]incident.Record, len(st.Unviewed))
	for _, rec := range st.Unviewed {
		t.unviewed[rec.RemoteKey] = rec
	}
	t.precleared = make(map[string]struct{}, len(st.PreCleared))
	for _, key := range st.PreCleared {
		t.precleared[key] = struct{}{}
	}
	list, count, changeSubs, _ := t.snapshotLocked()
	t.mu.Unlock()
	for _, fn := range changeSubs {
		fn(list, count)
	}
}

func (t *Tracker) persistLocked(ctx context.Context) {
	if t.store == nil {
		return
	}
	st := &store.TrackerState{
		Unviewed:    sortedUnviewed(t.unviewed),
		PreCleared:  make([]string, 0, len(t.precleared)),
		LastClearAt: t.lastClear,
	}
	for key := range t.precleared {
		st.PreCleared = append(st.PreCleared, key)
	}
	rev, err := t.store.SaveState(ctx, st, t.token)
	if err != nil {
		// Degraded mode: this session keeps its in-memory state, peers just
		// never hear about it.
		t.logger.Warnf("tracker: persist state: %v", err)
		return
	}
	t.revision = rev
}

func (t *Tracker) snapshotLocked() ([]incident.Record, int, []ChangeListener, []CueListener) {
	list := sortedUnviewed(t.unviewed)
	changeSubs := make([]ChangeListener, len(t.changeSubs))
	copy(changeSubs, t.changeSubs)
	cueSubs := make([]CueListener, len(t.cueSubs))
	copy(cueSubs, t.cueSubs)
	return list, len(list), changeSubs, cueSubs
}

func sortedUnviewed(m map[string]incident.Record) []incident.Record {
	out := make([]incident.Record, 0, len(m))
	for _, rec := range m {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OccurredAt != out[j].OccurredAt {
			return out[i].OccurredAt > out[j].OccurredAt
		}
		return out[i].RemoteKey < out[j].RemoteKey
	})
	return out
}
