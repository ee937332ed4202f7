package buffer

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Writer periodically drains dirty buffers to the Pool's Sink (the
// journal), clearing the dirty bit once the journal has accepted the
// page. It never writes the volume file directly; that is the
// exclusive job of recovery/checkpoint rollover.
type Writer struct {
	pool     *Pool
	interval time.Duration
	log      zerolog.Logger
}

func NewWriter(pool *Pool, interval time.Duration, log zerolog.Logger) *Writer {
	return &Writer{pool: pool, interval: interval, log: log.With().Str("component", "buffer.writer").Logger()}
}

// Run drains dirty buffers every interval until ctx is cancelled, and
// performs one final drain on the way out so a clean shutdown leaves
// no dirty buffer unjournaled.
func (w *Writer) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.drainOnce()
			return
		case <-ticker.C:
			w.drainOnce()
		}
	}
}

func (w *Writer) drainOnce() {
	for _, b := range w.pool.DirtyBuffers() {
		if !b.claim.tryLockShared() {
			continue // claimed exclusively right now; catch it next pass
		}
		data := append([]byte(nil), b.Data...)
		volumeID, addr := b.Key.VolumeID, b.Key.Addr
		stillDirty := b.dirty
		b.claim.unlockShared()
		if !stillDirty {
			continue
		}
		if err := w.pool.sink.WritePage(volumeID, addr, data); err != nil {
			w.log.Error().Err(err).Uint64("volume", volumeID).Uint64("addr", uint64(addr)).Msg("page write failed, will retry")
			continue
		}
		if b.claim.tryLockExclusive(-1) {
			if b.dirty {
				b.dirty = false
			}
			b.claim.unlockExclusive()
		}
	}
}
