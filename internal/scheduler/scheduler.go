// Package scheduler implements a cancelable periodic advert sender and a
// fed/timeout watchdog that restarts the transport engine on starvation.
package scheduler

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/taedryn/mesh-citadel/internal/radio"
)

// AdvertScheduler sends a periodic send_advert(flood=...) on an interval,
// stoppable without waiting out the current interval.
type AdvertScheduler struct {
	Device   radio.Device
	Interval time.Duration
	Flood    bool

	stop chan struct{}
}

func NewAdvertScheduler(device radio.Device, interval time.Duration, flood bool) *AdvertScheduler {
	return &AdvertScheduler{Device: device, Interval: interval, Flood: flood, stop: make(chan struct{})}
}

// Run sends one advert immediately, then one every Interval, until Stop is
// called or ctx is canceled.
func (a *AdvertScheduler) Run(ctx context.Context) {
	defer log.Info("scheduler: advert scheduler shutdown complete")

	for {
		log.Infof("scheduler: sending advert (flood=%v)", a.Flood)
		if result := a.Device.SendAdvert(ctx, a.Flood); result.Failed() {
			log.Errorf("scheduler: advert send failed: %v", result.Err)
		}

		timer := time.NewTimer(a.Interval)
		select {
		case <-timer.C:
		case <-a.stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// Stop cancels the scheduler; safe to call at most once.
func (a *AdvertScheduler) Stop() {
	close(a.stop)
}

// FeedFunc signals the watchdog that the engine is still making progress.
// Feed points are explicit and called at most once per ingress, never
// looped, to avoid a starvation loop masquerading as liveness.
type FeedFunc func()

// RestartFunc is invoked when the watchdog times out waiting for a feed.
type RestartFunc func(ctx context.Context) error

// Watchdog waits on a fed signal with a timeout; on miss it invokes a
// restart callback and resumes waiting.
type Watchdog struct {
	Timeout time.Duration
	Restart RestartFunc

	fed  chan struct{}
	done chan struct{}
}

func NewWatchdog(timeout time.Duration, restart RestartFunc) *Watchdog {
	return &Watchdog{
		Timeout: timeout,
		Restart: restart,
		fed:     make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Feed returns the callback engine components invoke to signal liveness.
func (w *Watchdog) Feed() FeedFunc {
	return func() {
		select {
		case w.fed <- struct{}{}:
		default:
		}
	}
}

// Run blocks, resetting the timeout on every feed and invoking Restart on
// expiry, until ctx is canceled or Stop is called.
func (w *Watchdog) Run(ctx context.Context) {
	defer log.Info("scheduler: watchdog shutdown complete")

	for {
		timer := time.NewTimer(w.Timeout)
		select {
		case <-w.fed:
			timer.Stop()
			log.Debug("scheduler: watchdog fed, resetting")

		case <-timer.C:
			log.Error("scheduler: watchdog timed out, restarting engine")
			if w.Restart != nil {
				if err := w.Restart(ctx); err != nil {
					log.Errorf("scheduler: watchdog restart failed: %v", err)
				}
			}

		case <-w.done:
			timer.Stop()
			return

		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// Stop cancels the watchdog; safe to call at most once.
func (w *Watchdog) Stop() {
	close(w.done)
}
