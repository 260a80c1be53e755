// Package timeshift implements the disk-backed circular buffer that lets
// one consumer replay a continuously written live stream from any point
// in the recent past, seeking by wall-clock time and key-frame boundaries.
package timeshift

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tvshift/tvshift/internal/protocol"
)

// FilePrefix names per-session ring buffer files inside the timeshift
// directory. The orphan sweep matches on it.
const FilePrefix = "tvshift-ringbuffer-"

// Config holds per-session buffer settings. Dir and BufferSize are
// process-wide and read at session creation time.
type Config struct {
	// Dir is the directory holding the backing files.
	Dir string
	// BufferSize is the ring buffer capacity in bytes.
	BufferSize int64
	// QueueDepth bounds the writer queue; excess packets are dropped.
	QueueDepth int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Dir:        os.TempDir(),
		BufferSize: 1024 * 1024 * 1024, // 1GB
		QueueDepth: 400,
	}
}

// LiveQueue owns one session's time-shift buffer: the file-backed store,
// the key-frame index, and the background writer draining the producer
// queue. It serves exactly one consumer.
//
// Two synchronization domains keep the producer decoupled from disk
// latency: the store lock (mu) serializes reads, seeks, pause state and
// the writer's store access, while the buffered channel is the writer
// queue. Enqueue never blocks on storage I/O.
type LiveQueue struct {
	sessionID string
	path      string
	logger    *slog.Logger
	now       func() int64 // wall clock in unix milliseconds

	mu      sync.Mutex // store lock
	store   *store
	index   keyFrameIndex
	paused  bool
	startMs int64 // timeshift start watermark

	queue chan queueEntry
	stop  chan struct{}
	done  chan struct{}

	closed      atomic.Bool
	written     atomic.Uint64
	bytes       atomic.Uint64
	dropped     atomic.Uint64
	evicted     atomic.Uint64
	writeErrors atomic.Uint64
}

// Stats is a point-in-time snapshot of one queue, exposed through the
// admin status API.
type Stats struct {
	SessionID       string `json:"session_id"`
	Paused          bool   `json:"paused"`
	QueueLen        int    `json:"queue_len"`
	QueueCap        int    `json:"queue_cap"`
	PacketsWritten  uint64 `json:"packets_written"`
	BytesWritten    uint64 `json:"bytes_written"`
	PacketsDropped  uint64 `json:"packets_dropped"`
	PacketsEvicted  uint64 `json:"packets_evicted"`
	WriteErrors     uint64 `json:"write_errors"`
	WrapGeneration  uint64 `json:"wrap_generation"`
	KeyFrames       int    `json:"key_frames"`
	StartPositionMs int64  `json:"start_position_ms"`
}

// Open allocates a fresh backing store for the session and starts the
// writer. Failure to create the backing file is fatal for the session.
func Open(cfg Config, sessionID string, logger *slog.Logger) (*LiveQueue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("session_id", sessionID))

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating timeshift directory: %w", err)
	}

	path := filepath.Join(cfg.Dir, FilePrefix+sessionID+".data")
	st, err := newStore(path, cfg.BufferSize, logger)
	if err != nil {
		return nil, err
	}

	q := &LiveQueue{
		sessionID: sessionID,
		path:      path,
		logger:    logger,
		now:       func() int64 { return time.Now().UnixMilli() },
		store:     st,
		queue:     make(chan queueEntry, cfg.QueueDepth),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	go q.writerLoop()

	logger.Info("timeshift buffer opened",
		slog.String("path", path),
		slog.Int64("capacity_bytes", cfg.BufferSize),
	)
	return q, nil
}

// SessionID returns the owning session's identifier.
func (q *LiveQueue) SessionID() string {
	return q.sessionID
}

// Path returns the backing file path.
func (q *LiveQueue) Path() string {
	return q.path
}

// Enqueue hands a produced packet to the writer queue. It never blocks:
// when the queue is full the newest packet is dropped, favoring liveness
// over completeness of the timeshift record. The packet is owned by the
// queue after this call.
func (q *LiveQueue) Enqueue(p *protocol.Packet, kind protocol.ContentKind, pts int64) {
	if q.closed.Load() {
		return
	}

	select {
	case q.queue <- queueEntry{p: p, kind: kind, pts: pts}:
	default:
		q.dropped.Add(1)
	}
}

// Read returns the next packet at the read cursor, or ErrNoData when
// paused or when no unread data is available. In keyFrameMode the read
// cursor first advances to the next key-frame boundary.
func (q *LiveQueue) Read(keyFrameMode bool) (*protocol.Packet, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed.Load() {
		return nil, ErrClosed
	}
	if q.paused {
		return nil, ErrNoData
	}

	if keyFrameMode {
		if pos, ok := q.index.nextKeyFrame(q.store.readPos); ok {
			q.store.readPos = pos
		}
	}

	return q.store.readNext()
}

// Seek repositions the read cursor at the most recent key frame at or
// before the target wall-clock time, clamped to the buffered range, and
// returns that key frame's presentation timestamp.
func (q *LiveQueue) Seek(wallclockMs int64) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed.Load() {
		return 0, ErrClosed
	}

	entry, err := q.index.seekByWallClock(wallclockMs)
	if err != nil {
		q.logger.Error("unable to seek: empty timeshift index")
		return 0, err
	}

	q.store.seekTo(entry.pos, entry.gen)

	q.logger.Info("seek",
		slog.Int64("target_ms", wallclockMs),
		slog.Int64("offset", entry.pos),
		slog.Int64("pts", entry.pts),
	)
	return entry.pts, nil
}

// Pause toggles the pause state. It returns false when the state was
// already as requested. While paused, reads return ErrNoData without
// consulting the store; writes continue in the background.
func (q *LiveQueue) Pause(on bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.paused == on {
		return false
	}
	q.paused = on
	return true
}

// IsPaused reports the current pause state.
func (q *LiveQueue) IsPaused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// TimeshiftStartPosition returns the wall-clock watermark of the oldest
// retained data, in unix milliseconds. Zero until the first packet has
// been persisted.
func (q *LiveQueue) TimeshiftStartPosition() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.startMs
}

// Stats returns a snapshot of the queue's counters.
func (q *LiveQueue) Stats() Stats {
	q.mu.Lock()
	paused := q.paused
	startMs := q.startMs
	keyFrames := q.index.len()
	wrapGen := q.store.writeGen
	q.mu.Unlock()

	return Stats{
		SessionID:       q.sessionID,
		Paused:          paused,
		QueueLen:        len(q.queue),
		QueueCap:        cap(q.queue),
		PacketsWritten:  q.written.Load(),
		BytesWritten:    q.bytes.Load(),
		PacketsDropped:  q.dropped.Load(),
		PacketsEvicted:  q.evicted.Load(),
		WriteErrors:     q.writeErrors.Load(),
		WrapGeneration:  wrapGen,
		KeyFrames:       keyFrames,
		StartPositionMs: startMs,
	}
}

// Close stops the writer, discards anything still queued, and deletes
// the backing file. Safe to call more than once.
func (q *LiveQueue) Close() error {
	if !q.closed.CompareAndSwap(false, true) {
		return nil
	}

	close(q.stop)
	<-q.done

	// Shutdown does not persist: queued packets are discarded.
	discarded := 0
	for {
		select {
		case <-q.queue:
			discarded++
			continue
		default:
		}
		break
	}

	q.mu.Lock()
	err := q.store.close()
	q.mu.Unlock()

	q.logger.Info("live queue terminated", slog.Int("discarded", discarded))
	return err
}
