package roommap

import (
	"context"
	"time"

	"github.com/kwv/roomdash/logger"
)

// StatusSource reports the robot's current status.
type StatusSource interface {
	Status(ctx context.Context) (RobotStatus, error)
}

// StatusObserver receives statuses; LiveEngine implements it.
type StatusObserver interface {
	ObserveStatus(status RobotStatus)
	Active() bool
}

// WatchStatus polls src every interval while the observer is idle and feeds
// changes into it. It is the fallback trigger when no MQTT status feed is
// configured; once the observer is active its own loop takes over. It
// returns when ctx is done.
func WatchStatus(ctx context.Context, src StatusSource, obs StatusObserver, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultStatusInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last RobotStatus
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if obs.Active() {
			last = ""
			continue
		}
		status, err := src.Status(ctx)
		if err != nil {
			logger.Log.WithError(err).Debug("status watch: robot unreachable")
			continue
		}
		if status != last {
			logger.Log.WithField("status", status).Debug("status watch: status changed")
		}
		last = status
		obs.ObserveStatus(status)
	}
}
