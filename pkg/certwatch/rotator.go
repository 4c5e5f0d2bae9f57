package certwatch

import (
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"time"
)

// Defaults for the rotation window and the file poll.
const (
	DefaultMinInterval  = 7 * 24 * time.Hour
	DefaultMaxInterval  = 30 * 24 * time.Hour
	DefaultPollInterval = 5 * time.Minute
)

// RestartFunc is called when the broker should reload its TLS material.
type RestartFunc func() error

// Rotator triggers broker restarts so TLS material is re-read from disk.
// Two timers run on one goroutine: a jittered next-rotation timer and a
// periodic mtime poll over the watched files.
type Rotator struct {
	restart RestartFunc
	files   []string
	logger  *slog.Logger

	minInterval  time.Duration
	maxInterval  time.Duration
	pollInterval time.Duration

	mu      sync.Mutex
	mtimes  map[string]time.Time
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// NewRotator creates a rotator over the given files. Zero durations fall
// back to the defaults; min and max may be equal for a fixed schedule.
func NewRotator(restart RestartFunc, files []string, logger *slog.Logger, minInterval, maxInterval, pollInterval time.Duration) *Rotator {
	if logger == nil {
		logger = slog.Default()
	}
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	if maxInterval < minInterval {
		maxInterval = DefaultMaxInterval
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Rotator{
		restart:      restart,
		files:        files,
		logger:       logger,
		minInterval:  minInterval,
		maxInterval:  maxInterval,
		pollInterval: pollInterval,
	}
}

// NextRotationDelay draws the jittered delay for the next rotation,
// uniform over [min, max]. Equal bounds produce exactly min.
func (r *Rotator) NextRotationDelay() time.Duration {
	span := int64(r.maxInterval - r.minInterval)
	if span <= 0 {
		return r.minInterval
	}
	jitter := rand.Int63()
	if jitter < 0 {
		jitter = -jitter
	}
	return r.minInterval + time.Duration(jitter%(span+1))
}

// Start records the current file mtimes and launches the schedule loop.
// Idempotent.
func (r *Rotator) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.mtimes = r.snapshot()
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.run(r.stop, r.done)
}

// Stop signals the loop and waits up to 5 seconds for it to exit.
func (r *Rotator) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stop)
	done := r.done
	r.mu.Unlock()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		r.logger.Warn("cert rotator did not stop in time")
	}
}

func (r *Rotator) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	delay := r.NextRotationDelay()
	r.logger.Info("next certificate rotation scheduled",
		"delay_hours", delay.Hours())
	rotation := time.NewTimer(delay)
	defer rotation.Stop()

	poll := time.NewTicker(r.pollInterval)
	defer poll.Stop()

	for {
		select {
		case <-stop:
			return
		case <-rotation.C:
			r.logger.Info("scheduled certificate rotation")
			r.fireRestart()
			delay = r.NextRotationDelay()
			r.logger.Info("next certificate rotation scheduled",
				"delay_hours", delay.Hours())
			rotation.Reset(delay)
		case <-poll.C:
			if changed := r.changedFiles(); len(changed) > 0 {
				r.logger.Info("certificate material changed on disk",
					"files", changed)
				r.fireRestart()
			}
		}
	}
}

func (r *Rotator) fireRestart() {
	if err := r.restart(); err != nil {
		r.logger.Error("broker restart failed", "err", err)
		return
	}
	r.mu.Lock()
	r.mtimes = r.snapshot()
	r.mu.Unlock()
}

// changedFiles compares current mtimes against the recorded snapshot.
func (r *Rotator) changedFiles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var changed []string
	for _, f := range r.files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		if prev, ok := r.mtimes[f]; ok && !info.ModTime().Equal(prev) {
			changed = append(changed, f)
		}
	}
	return changed
}

func (r *Rotator) snapshot() map[string]time.Time {
	m := make(map[string]time.Time, len(r.files))
	for _, f := range r.files {
		if info, err := os.Stat(f); err == nil {
			m[f] = info.ModTime()
		}
	}
	return m
}
