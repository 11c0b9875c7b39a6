package appbootstrap

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/robfig/cron/v3"

	"patrol-hub/api"
	"patrol-hub/config"
	"patrol-hub/core/broadcast"
	"patrol-hub/core/feed"
	"patrol-hub/core/identity"
	"patrol-hub/core/incident"
	"patrol-hub/core/store"
	"patrol-hub/core/tracker"
	"patrol-hub/core/utils"
)

// App is one fully wired dashboard session: poller, assigner, tracker,
// broadcaster and the HTTP surface, all sharing the local store.
type App struct {
	cfg     *config.AppConfig
	logger  *utils.Logger
	db      *sql.DB
	poller  *feed.Poller
	tracker *tracker.Tracker
	caster  *broadcast.Broadcaster
	cron    *cron.Cron
	handler http.Handler
}

func Compose(ctx context.Context, cfg *config.AppConfig, logger *utils.Logger) (*App, error) {
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := store.ApplyMigrations(ctx, db, logger); err != nil {
		_ = db.Close()
		return nil, err
	}

	identityStore := store.NewIdentityStore(db)
	syncStore := store.NewSyncStore(db)

	token := broadcast.NewSessionToken()
	assigner := identity.NewAssigner(cfg.Incidents.DisplayIDFormat, identityStore, logger)
	trk := tracker.NewTracker(syncStore, token, logger)
	caster := broadcast.NewBroadcaster(syncStore, token, cfg.Sync.WatchInterval(), logger)
	caster.OnPeerChange(func(ctx context.Context) {
		trk.Reload(ctx)
	})

	events := api.NewEventHub()
	trk.OnUnviewedChanged(func(unviewed []incident.Record, count int) {
		events.Publish(api.Event{Kind: api.EventUnviewedChanged, Unviewed: unviewed, Count: count})
	})
	trk.OnNewIncident(func(added []incident.Record) {
		events.Publish(api.Event{Kind: api.EventNewIncident, Added: added, Count: trk.Count()})
		logger.Infof("tracker: %d new incident(s), first %s", len(added), added[0].DisplayID)
	})

	// Feed pipeline: attach stable ids oldest-first, then let the tracker
	// decide what is genuinely new.
	poller := feed.NewPoller(cfg.Feed, logger)
	poller.Subscribe(func(records []incident.Record) {
		records = assigner.ProcessBatch(ctx, records)
		trk.CheckForNewIncidents(ctx, records)
	})

	session := broadcast.NewSessionState()

	cr := cron.New()
	keep := cfg.Retention.EnvelopeKeep
	if _, err := cr.AddFunc(cfg.Retention.Schedule, func() {
		pruned, err := syncStore.PruneEnvelopes(context.Background(), keep)
		if err != nil {
			logger.Warnf("retention: prune envelopes: %v", err)
			return
		}
		if pruned > 0 {
			logger.Infof("retention: pruned %d envelope revisions", pruned)
		}
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	handler := api.NewRouter(api.ServerDeps{
		Poller:    poller,
		Assigner:  assigner,
		Tracker:   trk,
		Session:   session,
		SyncStore: syncStore,
		Events:    events,
		Logger:    logger,
	})

	return &App{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		poller:  poller,
		tracker: trk,
		caster:  caster,
		cron:    cr,
		handler: handler,
	}, nil
}
