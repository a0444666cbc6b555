package app

import (
	"context"
	"time"

	"github.com/tphakala/dipper-go/internal/buildinfo"
	"github.com/tphakala/dipper-go/internal/errors"
	"github.com/tphakala/dipper-go/internal/logger"
)

const shutdownTimeout = 15 * time.Second

// Serve runs the scheduler and the HTTP server, whichever are enabled, until
// ctx is cancelled or the HTTP server fails.
func (a *App) Serve(ctx context.Context, build *buildinfo.Context) error {
	s := a.Settings
	if !s.Schedule.Enabled && !s.WebServer.Enabled {
		return errors.Newf("nothing to serve, enable schedule or webserver").
			Component("app").
			Category(errors.CategoryConfiguration).
			Build()
	}

	a.log.Info("starting dipper",
		logger.String("version", build.GetVersion()),
		logger.Bool("scheduler", s.Schedule.Enabled),
		logger.Bool("webserver", s.WebServer.Enabled))

	if s.Schedule.Enabled {
		scheduler, err := a.NewScheduler()
		if err != nil {
			return err
		}
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	var serverErrs <-chan error
	if s.WebServer.Enabled {
		server, err := a.NewServer(build)
		if err != nil {
			return err
		}
		server.Start()
		serverErrs = server.Errors()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				a.log.Warn("http server shutdown failed", logger.Error(err))
			}
		}()
	}

	select {
	case <-ctx.Done():
		a.log.Info("shutting down")
		return nil
	case err := <-serverErrs:
		return err
	}
}
