package appbootstrap

import (
	"context"
	"errors"
	"net/http"
	"time"

	"patrol-hub/config"
	"patrol-hub/core/utils"
)

func Run(ctx context.Context, cfg *config.AppConfig, logger *utils.Logger) error {
	app, err := Compose(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return app.Run(ctx)
}

// Run starts the background workers and serves the API until ctx is
// cancelled, then shuts everything down in reverse order.
func (a *App) Run(ctx context.Context) error {
	a.caster.StartWithContext(ctx)
	a.poller.StartWithContext(ctx)
	a.cron.Start()

	srv := &http.Server{Addr: a.cfg.ListenAddr, Handler: a.handler}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	a.logger.Infof("patrol-hub listening on %s", a.cfg.ListenAddr)

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutCtx)
	_ = a.poller.StopWithContext(shutCtx)
	_ = a.caster.StopWithContext(shutCtx)
	<-a.cron.Stop().Done()
	_ = a.db.Close()
	a.logger.Infof("patrol-hub stopped")
	return serveErr
}
