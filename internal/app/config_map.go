package app

import (
	"fmt"
	"strings"
	"time"

	"respbot/internal/claims/scheduler"
	"respbot/internal/config"
	"respbot/internal/notifier"
	"respbot/internal/router"
	"respbot/internal/slots"
	"respbot/internal/storage"
)

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	tick, err := config.ParseDurationOrDefault("scheduler.tick_interval", cfg.Scheduler.TickInterval, scheduler.DefaultTickInterval)
	if err != nil {
		return scheduler.Config{}, err
	}
	window, err := config.ParseDurationOrDefault("scheduler.offer_window", cfg.Scheduler.OfferWindow, scheduler.DefaultOfferWindow)
	if err != nil {
		return scheduler.Config{}, err
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return scheduler.Config{}, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	if tick < time.Second {
		return scheduler.Config{}, fmt.Errorf("scheduler.tick_interval: %s is below 1s", tick)
	}
	if window < time.Minute {
		return scheduler.Config{}, fmt.Errorf("scheduler.offer_window: %s is below 1m", window)
	}
	return scheduler.Config{TickInterval: tick, OfferWindow: window, Location: loc}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := storage.Config{Driver: "file", Path: "./data/respbot.json"}
	if cfg.Storage == nil {
		return sc, nil
	}
	if strings.TrimSpace(cfg.Storage.Driver) != "" {
		sc.Driver = cfg.Storage.Driver
	}
	if strings.TrimSpace(cfg.Storage.Path) != "" {
		sc.Path = cfg.Storage.Path
	}
	bt, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return storage.Config{}, err
	}
	sc.BusyTimeout = bt
	return sc, nil
}

// mapNotifierConfig defaults to an enabled notifier; the bot is not much use
// if nobody learns their slot came up.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	if cfg.Notifier == nil {
		return notifier.Config{Enabled: true}, nil
	}
	n := cfg.Notifier
	base, err := config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, 0)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, 0)
	if err != nil {
		return notifier.Config{}, err
	}
	dedup, err := config.ParseDurationOrDefault("notifier.dedup_window", n.DedupWindow, 0)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		RetryBase:       base,
		RetryMaxDelay:   maxDelay,
		DedupWindow:     dedup,
		DedupMaxEntries: n.DedupMaxEntries,
	}, nil
}

func mapRouterConfig(cfg *config.Config, botName string, loc *time.Location) router.Config {
	return router.Config{
		BotName:  botName,
		Owners:   append([]int64(nil), cfg.Telegram.OwnerUserIDs...),
		Location: loc,
	}
}

func mapSlotSeeds(cfg *config.Config) ([]slots.Slot, error) {
	seen := map[string]struct{}{}
	out := make([]slots.Slot, 0, len(cfg.Slots))
	for i, s := range cfg.Slots {
		code := slots.Normalize(s.Code)
		if code == "" {
			return nil, fmt.Errorf("slots[%d]: code is required", i)
		}
		if _, dup := seen[code]; dup {
			return nil, fmt.Errorf("slots[%d]: duplicate code %q", i, code)
		}
		seen[code] = struct{}{}
		tier := s.Tier
		if tier == 0 {
			tier = 1
		}
		out = append(out, slots.Slot{Code: code, Name: s.Name, Tier: tier})
	}
	return out, nil
}
