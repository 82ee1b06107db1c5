// Package app wires configuration, transport, scheduler, notifier and router
// together and owns the process lifecycle.
package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"respbot/internal/claims/scheduler"
	"respbot/internal/config"
	"respbot/internal/eventbus"
	"respbot/internal/notifier"
	"respbot/internal/render"
	"respbot/internal/router"
	rtsup "respbot/internal/runtime/supervisor"
	"respbot/internal/storage"
	kit "respbot/internal/transport"
	telegram "respbot/internal/transport/telegram"
	logx "respbot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	gw   storage.Store

	adapter *telegram.Adapter
	sched   *scheduler.Service
	notif   *notifier.Service
	rtr     *router.Router

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	gw, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage ready", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		_ = gw.Close()
		return nil, err
	}
	sched := scheduler.New(schedCfg, log, bus, gw)

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		_ = gw.Close()
		return nil, err
	}
	notif := notifier.New(ncfg, ad, log, bus)

	rtr := router.New(mapRouterConfig(cfg, ad.BotName(), schedCfg.Location), sched, log)

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		gw:      gw,
		adapter: ad,
		sched:   sched,
		notif:   notif,
		rtr:     rtr,
		updates: make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// Boot order matters: restore state before anything can mutate or read it.
	if err := a.sched.Load(a.sup.Context()); err != nil {
		return err
	}
	seeds, err := mapSlotSeeds(a.cfgm.Get())
	if err != nil {
		return err
	}
	if err := a.sched.Seed(a.sup.Context(), seeds); err != nil {
		return err
	}

	// Reject bad hot-reloads before they are committed or fanned out.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
			return err
		}
		if _, err := mapSchedulerConfig(cfg); err != nil {
			return err
		}
		if _, err := mapNotifierConfig(cfg); err != nil {
			return err
		}
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapSlotSeeds(cfg); err != nil {
			return err
		}
		return nil
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}
	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go0("commands.dispatch", func(c context.Context) {
		a.dispatchLoop(c)
	})

	// Scheduler events that concern a user who did not type the triggering
	// command go out as direct messages.
	alerts, unsubAlerts := a.bus.Subscribe(128)
	a.sup.Go0("alerts.bridge", func(c context.Context) {
		defer unsubAlerts()
		a.alertLoop(c, alerts)
	})

	// Hot reload fan-out.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-a.updates:
			if !ok {
				return
			}
			if up.Message == nil {
				continue
			}
			msg := *up.Message
			reply, handled := a.rtr.Handle(ctx, msg)
			if !handled || reply == "" {
				continue
			}
			sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			_, err := a.adapter.SendText(sendCtx,
				kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
				reply,
				&kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
			cancel()
			if err != nil {
				a.log.Warn("reply failed",
					logx.Int64("chat", msg.ChatID),
					logx.Err(err))
			}
		}
	}
}

func (a *App) alertLoop(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			loc := time.Local
			groupLog := int64(0)
			if cfg := a.cfgm.Get(); cfg != nil {
				if sc, err := mapSchedulerConfig(cfg); err == nil {
					loc = sc.Location
				}
				if raw := strings.TrimSpace(cfg.Telegram.GroupLog); raw != "" {
					if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
						groupLog = id
					}
				}
			}
			if al, ok := render.AlertFor(ev, loc); ok {
				err := a.notif.Notify(ctx, kit.Notification{
					Channel:  "claims",
					Priority: al.Priority,
					Target:   kit.ChatTarget{ChatID: al.UserID},
					Text:     al.Text,
					Options:  &kit.SendOptions{ParseMode: "HTML", DisablePreview: true},
				})
				if err != nil && err != notifier.ErrDisabled {
					a.log.Warn("alert dropped", logx.String("event", ev.Type), logx.Err(err))
				}
			}
			if groupLog != 0 {
				if line, ok := render.GroupLine(ev, loc); ok {
					err := a.notif.Notify(ctx, kit.Notification{
						Channel:  "grouplog",
						Priority: 3,
						Target:   kit.ChatTarget{ChatID: groupLog},
						Text:     line,
						Options:  &kit.SendOptions{ParseMode: "HTML", DisablePreview: true},
					})
					if err != nil && err != notifier.ErrDisabled {
						a.log.Debug("group feed line dropped", logx.String("event", ev.Type), logx.Err(err))
					}
				}
			}
		}
	}
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			sections := config.ChangedSections(last, newCfg)
			last = newCfg
			if len(sections) == 0 {
				a.log.Debug("config reload received, no effective changes")
				continue
			}

			for _, s := range sections {
				if s == "storage" {
					a.log.Warn("storage config changed; restart required to take effect")
				}
			}

			a.logs.Apply(logx.Config{
				Level:   newCfg.Logging.Level,
				Console: newCfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: newCfg.Logging.File.Enabled,
					Path:    newCfg.Logging.File.Path,
				},
			})

			loc := time.Local
			if schedCfg, err := mapSchedulerConfig(newCfg); err != nil {
				a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
			} else {
				loc = schedCfg.Location
				if err := a.sched.Apply(schedCfg); err != nil {
					a.log.Warn("scheduler reconfigure failed", logx.Err(err))
				}
			}

			a.rtr.Apply(mapRouterConfig(newCfg, a.adapter.BotName(), loc))

			if seeds, err := mapSlotSeeds(newCfg); err != nil {
				a.log.Warn("invalid slot seeds; keeping previous", logx.Err(err))
			} else if err := a.sched.Seed(ctx, seeds); err != nil {
				a.log.Warn("slot seeding failed", logx.Err(err))
			}

			if ncfg, err := mapNotifierConfig(newCfg); err != nil {
				a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
			} else {
				prev := a.notif.Enabled()
				a.notif.Apply(ncfg)
				if prev && !ncfg.Enabled {
					stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
					a.notif.Stop(stopCtx)
					cancel()
				} else if !prev && ncfg.Enabled {
					a.notif.Start(ctx)
				}
			}

			a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Bound each shutdown step so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name))
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", 1*time.Second, func(c context.Context) error { return a.gw.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
