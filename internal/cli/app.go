package cli

import (
	"github.com/roach88/coach/internal/anomaly"
	"github.com/roach88/coach/internal/config"
	"github.com/roach88/coach/internal/doctor"
	"github.com/roach88/coach/internal/guard"
	"github.com/roach88/coach/internal/ledger"
	"github.com/roach88/coach/internal/rollback"
	"github.com/roach88/coach/internal/storage"
)

// app wires the full component stack over one open store. Every
// command except init goes through here, so a missing database fails
// consistently before any work starts.
type app struct {
	cfg   config.Config
	store *storage.Store
	led   *ledger.Ledger
	det   *anomaly.Detector
	coord *guard.Coordinator
	doc   *doctor.Doctor
	eng   *rollback.Engine
}

func openApp(opts *RootOptions) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	store, err := storage.OpenExisting(cfg.DBPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	led := ledger.New(store)
	det := anomaly.New(store, led)
	coord := guard.New(store, cfg.GuardOptions()...)
	return &app{
		cfg:   cfg,
		store: store,
		led:   led,
		det:   det,
		coord: coord,
		doc:   doctor.New(store, led, det, coord),
		eng:   rollback.New(led),
	}, nil
}

func (a *app) Close() {
	a.store.Close()
}
