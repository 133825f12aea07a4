package metrics

import (
	"context"
	"time"
)

// Sizers is the subset of BufferManager/MediaCache/SessionSupervisor/WsHub
// the gauge poller samples on a tick. All four are optional; a nil sizer is
// skipped.
type Sizers struct {
	BufferedChats   func() int
	CachedMediaRefs func() int
	RunningSessions func() int
	WsConnections   func() int
}

// RunGaugePoller samples Sizers into the registry's gauges every interval
// until ctx is cancelled. BufferManager, MediaCache, SessionSupervisor, and
// WsHub all expose point-in-time sizes rather than emitting their own
// counter events, so the registry polls them rather than being pushed to.
func (r *Registry) RunGaugePoller(ctx context.Context, interval time.Duration, s Sizers) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if s.BufferedChats != nil {
				r.SetBufferedChats(s.BufferedChats())
			}
			if s.CachedMediaRefs != nil {
				r.SetCachedMediaRefs(s.CachedMediaRefs())
			}
			if s.RunningSessions != nil {
				r.SetRunningSessions(s.RunningSessions())
			}
			if s.WsConnections != nil {
				r.SetWsConnections(s.WsConnections())
			}
		case <-ctx.Done():
			return
		}
	}
}
