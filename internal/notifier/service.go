// Package notifier delivers scheduler alerts to users. Sends are queued and
// worked off by a small pool behind a shared rate limiter, with bounded retry
// and a short dedup window so a flapping transition does not spam anyone.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"respbot/internal/eventbus"
	rtsup "respbot/internal/runtime/supervisor"
	kit "respbot/internal/transport"
	logx "respbot/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

type job struct {
	n kit.Notification
	// dedupKey is computed at enqueue time for cheap per-worker processing.
	dedupKey string
}

// Service is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	adapter kit.Adapter
	bus     eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	// In-memory dedup cache: key -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		adapter: adapter,
		log:     log.With(logx.String("comp", "notifier")),
		bus:     bus,
		dedup:   map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}

	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	// If stopping, wait for it to finish before restarting.
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers

	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// Alert failures must not take down the scheduler; best-effort only.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	q := s.queue
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart(fmt.Sprintf("worker.%d", idx), func(c context.Context) error {
			s.workerLoop(c, q)
			// Clean exits happen on shutdown (queue close).
			s.mu.Lock()
			stopping := s.stopDone != nil
			s.mu.Unlock()
			if stopping {
				return context.Canceled
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("notifier worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
}

// Stop stops intake and drains the queue best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	q := s.queue
	sup := s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}

	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	// Shutdown happens asynchronously so callers can time out without leaking state.
	go func() {
		defer close(done)
		// Wait for in-flight enqueues to finish, then close the queue so workers can drain.
		s.sendWG.Wait()
		func() {
			defer func() { _ = recover() }()
			close(q)
		}()
		if sup != nil {
			_ = sup.Wait(context.Background())
		}

		s.mu.Lock()
		s.queue = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if sup != nil {
			sup.Cancel()
		}
	}
}

// Notify queues a notification. It never blocks on delivery; a full queue is
// reported to the caller and on the bus.
func (s *Service) Notify(ctx context.Context, n kit.Notification) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	dedupWindow := s.cfg.DedupWindow
	dedupMax := s.cfg.DedupMaxEntries
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	key := dedupKey(n)
	if dedupWindow > 0 && key != "" {
		if !s.dedupAllow(key, dedupWindow, dedupMax) {
			s.event("notifier.deduped", n, key, nil)
			return nil
		}
	}

	s.event("notifier.queued", n, key, nil)

	select {
	case q <- job{n: n, dedupKey: key}:
		return nil
	default:
		s.event("notifier.dropped", n, key, ErrQueueFull)
		return ErrQueueFull
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, j)
		}
	}
}

func (s *Service) sendWithRetry(runCtx context.Context, j job) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	ad := s.adapter
	log := s.log
	s.mu.Unlock()

	if ad == nil {
		return
	}

	text := prefixForPriority(j.n.Priority) + j.n.Text
	if text == "" {
		return
	}

	maxAttempts := 1 + cfg.RetryMax

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lim != nil {
			if err := lim.Wait(runCtx); err != nil {
				return
			}
		}

		// Bound per-send call. Keep tight to avoid hanging workers.
		callCtx, cancel := context.WithTimeout(runCtx, 10*time.Second)
		_, err := ad.SendText(callCtx, j.n.Target, text, j.n.Options)
		cancel()
		if err == nil {
			s.event("notifier.sent", j.n, j.dedupKey, nil)
			return
		}
		lastErr = err
		log.Debug("notify send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if attempt >= maxAttempts {
			break
		}

		delay := retryDelay(cfg, attempt)
		if delay <= 0 {
			continue
		}
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-runCtx.Done():
			if !t.Stop() {
				<-t.C
			}
			return
		}
	}

	if lastErr != nil {
		s.event("notifier.failed", j.n, j.dedupKey, lastErr)
	}
}

func (s *Service) event(typ string, n kit.Notification, key string, err error) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	data := NotificationEvent{Channel: n.Channel, ChatID: n.Target.ChatID, ThreadID: n.Target.ThreadID, Key: key, At: now}
	if err != nil {
		data.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: data})
}

func prefixForPriority(p int) string {
	switch {
	case p >= 9:
		return "🚨 "
	case p >= 7:
		return "⚠️ "
	case p >= 5:
		return "ℹ️ "
	default:
		return ""
	}
}

func dedupKey(n kit.Notification) string {
	// If no channel, don't dedup.
	if n.Channel == "" {
		return ""
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(n.Channel))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(fmt.Sprintf("%d:%d:%d|", n.Target.ChatID, n.Target.ThreadID, n.Priority)))
	_, _ = h.Write([]byte(n.Text))
	return fmt.Sprintf("%x", h.Sum64())
}

func (s *Service) dedupAllow(key string, window time.Duration, max int) bool {
	now := time.Now()

	s.dmu.Lock()
	defer s.dmu.Unlock()
	if s.dedup == nil {
		s.dedup = map[string]time.Time{}
	}
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	s.dedup[key] = now.Add(window)

	// Prune expired and cap.
	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	for max > 0 && len(s.dedup) > max {
		var (
			minKey string
			minT   time.Time
			set    bool
		)
		for k, t := range s.dedup {
			if !set || t.Before(minT) {
				minKey, minT, set = k, t, true
			}
		}
		if minKey == "" {
			break
		}
		delete(s.dedup, minKey)
	}
	return true
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1 (first attempt), delay is for the NEXT attempt.
	base := cfg.RetryBase
	maxD := cfg.RetryMaxDelay
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxD {
			d = maxD
			break
		}
	}
	// Jitter 0.7..1.3
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	j := 0.7 + rng.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	if d > maxD {
		d = maxD
	}
	return d
}
