package binance

import (
	"context"
	"log"
	"sync"
	"time"
)

// timeSync keeps the local clock aligned with Binance's server clock so
// signed requests don't get rejected for a stale timestamp.
type timeSync struct {
	getServerTime func(context.Context) (int64, error)
	offset        int64 // milliseconds, server - local
	lastSync      time.Time
	syncInterval  time.Duration
	mu            sync.RWMutex
}

func newTimeSync(getServerTime func(context.Context) (int64, error)) *timeSync {
	return &timeSync{
		getServerTime: getServerTime,
		syncInterval:  30 * time.Minute,
	}
}

// start performs an initial sync and then resyncs periodically until ctx
// is cancelled.
func (ts *timeSync) start(ctx context.Context) {
	if err := ts.sync(ctx); err != nil {
		log.Printf("⚠️ initial time sync failed: %v", err)
	}

	go func() {
		ticker := time.NewTicker(ts.syncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ts.sync(ctx); err != nil {
					log.Printf("⚠️ time sync failed: %v", err)
				}
			}
		}
	}()
}

func (ts *timeSync) sync(ctx context.Context) error {
	localBefore := time.Now().UnixMilli()
	serverTime, err := ts.getServerTime(ctx)
	if err != nil {
		return err
	}
	localAfter := time.Now().UnixMilli()

	networkLatency := (localAfter - localBefore) / 2
	localTime := localBefore + networkLatency

	ts.mu.Lock()
	ts.offset = serverTime - localTime
	ts.lastSync = time.Now()
	ts.mu.Unlock()
	return nil
}

// now returns the current time adjusted by the measured server offset.
func (ts *timeSync) now() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return time.Now().UnixMilli() + ts.offset
}

func (ts *timeSync) offsetMs() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.offset
}
