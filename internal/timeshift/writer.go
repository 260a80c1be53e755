package timeshift

import (
	"log/slog"

	"github.com/tvshift/tvshift/internal/protocol"
)

// queueEntry is one produced packet waiting to be persisted. Created by
// Enqueue, consumed by the writer. The content kind and presentation
// timestamp travel beside the packet so the writer can maintain the
// key-frame index without inspecting the payload.
type queueEntry struct {
	p    *protocol.Packet
	kind protocol.ContentKind
	pts  int64
}

// writerLoop is the single background worker draining the producer
// queue into the store, in FIFO order. It blocks on the queue channel
// when idle and exits as soon as the stop channel closes.
func (q *LiveQueue) writerLoop() {
	defer close(q.done)

	for {
		// Stop takes priority over further drains.
		select {
		case <-q.stop:
			return
		default:
		}

		select {
		case e := <-q.queue:
			q.persist(e)
		case <-q.stop:
			return
		}
	}
}

// persist serializes one entry into the store and keeps the key-frame
// index and start watermark consistent with it. Storage failures are
// logged and counted but non-fatal; the packet is considered consumed
// either way.
func (q *LiveQueue) persist(e queueEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	if q.startMs == 0 {
		q.startMs = now
	}

	pos, evicted, err := q.store.write(e.p)
	if evicted > 0 {
		q.evicted.Add(uint64(evicted))
		q.logger.Debug("evicted oldest packets ahead of write cursor",
			slog.Int("count", evicted),
		)
	}
	if err != nil {
		q.writeErrors.Add(1)
		q.logger.Error("unable to write packet into timeshift ring buffer",
			slog.String("error", err.Error()),
		)
		return
	}

	end := pos + e.p.EncodedLen()
	if startMs, ok := q.index.trim(end, q.store.writeGen); ok {
		q.startMs = startMs
	}

	if e.kind == protocol.KindVideo && e.p.IsKeyFrame() {
		q.index.record(pos, now, e.pts, q.store.writeGen)
	}

	q.written.Add(1)
	q.bytes.Add(uint64(e.p.EncodedLen()))
}
