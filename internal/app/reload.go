package app

import (
	"context"
	"strings"

	"netmon/internal/config"
	logx "netmon/pkg/logx"
)

// configWatcher follows the config file. Logging changes apply immediately;
// every other section is reported and waits for a restart.
type configWatcher struct {
	app *App
}

func (w *configWatcher) Name() string { return "config.watch" }

func (w *configWatcher) Run(ctx context.Context) error {
	a := w.app
	sub := a.cfgm.Subscribe(1)
	defer a.cfgm.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Watch retries its own failures with backoff and logs them.
		if err := a.cfgm.Watch(ctx); err != nil {
			a.log.Debug("config watch ended", logx.Err(err))
		}
	}()
	defer func() { <-done }()

	current := a.cfg
	for {
		select {
		case <-ctx.Done():
			return nil
		case next, ok := <-sub:
			if !ok {
				return nil
			}
			current = a.applyReload(current, next)
		}
	}
}

// applyReload returns the config that is now in effect.
func (a *App) applyReload(current, next *config.Config) *config.Config {
	if next == nil {
		return current
	}
	if a.overrides != nil {
		cp := *next
		a.overrides(&cp)
		next = &cp
	}
	ch := config.SummarizeConfigChange(current, next)
	if ch.Empty() {
		a.log.Debug("config reload: no effective change")
		return current
	}
	a.log.Info("config changed", append([]logx.Field{logx.String("sections", strings.Join(ch.Sections, ","))}, ch.Attrs...)...)

	for _, s := range ch.LiveSections {
		if s == "logging" {
			a.logs.Apply(mapLogConfig(next))
			a.log.Info("logging config applied", logx.String("level", next.Logging.Level))
		}
	}
	if len(ch.RestartSections) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(ch.RestartSections, ",")))
	}
	return next
}
