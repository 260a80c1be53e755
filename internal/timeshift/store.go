package timeshift

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/tvshift/tvshift/internal/protocol"
)

// Sentinel errors for the read/seek hot path. None of these tear down a
// session; callers translate them into empty/zero responses.
var (
	// ErrNoData is returned when the read cursor has caught up with the
	// write cursor, or when the queue is paused.
	ErrNoData = errors.New("timeshift: no data available")

	// ErrIndexEmpty is returned when a seek is requested before any
	// video key frame has been recorded.
	ErrIndexEmpty = errors.New("timeshift: key frame index is empty")

	// ErrClosed is returned for operations on a closed queue.
	ErrClosed = errors.New("timeshift: queue closed")
)

// store is a fixed-capacity circular byte region backed by one file.
// Cursors are kept in memory and always satisfy 0 <= pos < capacity;
// each cursor carries a wrap generation so "ahead" and "behind" stay
// unambiguous after the region wraps. The file is only ever touched
// through ReadAt/WriteAt at explicit offsets.
//
// store is not safe for concurrent use; LiveQueue serializes access
// through its store lock.
type store struct {
	f        *os.File
	path     string
	capacity int64

	writePos int64
	readPos  int64
	writeGen uint64
	readGen  uint64

	// prevEnd is the end of valid data in generation writeGen-1. The
	// writer wraps before a packet that would exceed capacity, so the
	// reader must wrap at the same early boundary, not at capacity.
	prevEnd int64

	logger *slog.Logger
}

// newStore creates the backing file, truncating any previous content.
func newStore(path string, capacity int64, logger *slog.Logger) (*store, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating ring buffer file: %w", err)
	}

	return &store{
		f:        f,
		path:     path,
		capacity: capacity,
		logger:   logger,
	}, nil
}

// hasUnread reports whether the read cursor is behind the write cursor.
// The reader is behind iff it is in an earlier generation, or in the
// same generation at a lower offset.
func (s *store) hasUnread() bool {
	return s.readGen < s.writeGen || s.readPos < s.writePos
}

// write serializes one packet at the write cursor. It wraps the cursor
// first if the packet would not fit, and evicts the oldest unread
// packets when the write would otherwise overtake a lapped reader.
// Returns the packet's storage offset and the number of evictions.
// On an I/O error the cursor does not advance and the caller treats the
// packet as consumed.
func (s *store) write(p *protocol.Packet) (pos int64, evicted int, err error) {
	size := p.EncodedLen()
	end := s.writePos + size

	if end > s.capacity {
		s.prevEnd = s.writePos
		s.writePos = 0
		s.writeGen++
		end = size
		s.logger.Debug("write cursor wrapped", slog.Uint64("generation", s.writeGen))
	}

	// Overwrite protection: the reader is a lap behind and this write
	// would reach it, so discard its oldest packets until it is clear.
	// The comparison is inclusive: a reader sitting exactly on the write
	// end would otherwise be left a full lap behind at the boundary.
	for s.readGen < s.writeGen && end >= s.readPos {
		if _, rerr := s.readNext(); rerr != nil {
			if errors.Is(rerr, ErrNoData) {
				// The reader wrapped and caught up; the region is clear.
				break
			}
			// The write must not land on a region the reader still
			// points into.
			return 0, evicted, fmt.Errorf("evicting packet ahead of write: %w", rerr)
		}
		evicted++
	}

	pos = s.writePos
	if _, err = p.WriteAt(s.f, pos); err != nil {
		return pos, evicted, fmt.Errorf("writing packet at %d: %w", pos, err)
	}

	s.writePos = end
	return pos, evicted, nil
}

// readNext reads one packet at the read cursor and advances it.
// Returns ErrNoData when the reader has caught up with the writer.
func (s *store) readNext() (*protocol.Packet, error) {
	// Wrap the reader once it reaches the end of the previous
	// generation's valid data.
	if s.readGen < s.writeGen && s.readPos >= s.prevEnd {
		s.readPos = 0
		s.readGen++
		s.logger.Debug("read cursor wrapped", slog.Uint64("generation", s.readGen))
	}

	if !s.hasUnread() {
		return nil, ErrNoData
	}

	p, err := protocol.ReadPacketAt(s.f, s.readPos)
	if err != nil {
		return nil, fmt.Errorf("reading packet at %d: %w", s.readPos, err)
	}

	s.readPos += p.EncodedLen()
	return p, nil
}

// seekTo repositions the read cursor to a known packet boundary.
func (s *store) seekTo(pos int64, gen uint64) {
	s.readPos = pos
	s.readGen = gen
}

// close releases the file descriptor and deletes the backing file.
func (s *store) close() error {
	closeErr := s.f.Close()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return closeErr
}
