package indengine

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"demandindex-plus/internal/indicator"
)

// snapshotLoop periodically saves engine state to every snapshot store.
func (svc *Service) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(svc.cfg.SnapshotInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := svc.saveSnapshot(streamMarker(time.Now())); err != nil {
				svc.log.Error("snapshot", "error", err)
			}
		}
	}
}

// saveSnapshot captures the engine and writes it to every store. A failing
// store is logged and counted; the others still receive the snapshot.
func (svc *Service) saveSnapshot(streamID string) error {
	svc.mu.Lock()
	if svc.engine == nil {
		svc.mu.Unlock()
		return errNoEngine
	}
	snap, err := indicator.SnapshotEngine(svc.engine, streamID)
	svc.mu.Unlock()
	if err != nil {
		svc.prom.SnapshotErrors.Inc()
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		svc.prom.SnapshotErrors.Inc()
		return err
	}

	for _, s := range svc.snapshots {
		if err := s.SaveSnapshotJSON(data); err != nil {
			svc.prom.SnapshotErrors.Inc()
			svc.log.Error("snapshot write", "store", s.name, "error", err)
			continue
		}
		svc.prom.SnapshotSaves.WithLabelValues(s.name).Inc()
	}
	svc.log.Debug("checkpoint saved", "symbols", len(snap.Symbols), "bytes", len(data))
	return nil
}

// streamMarker returns a time-based stream ID marker for snapshots.
func streamMarker(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10) + "-0"
}
