package timeshift

// indexEntry marks one video key frame in the store.
type indexEntry struct {
	pos         int64  // storage offset of the packet
	wallclockMs int64  // arrival wall-clock time, unix milliseconds
	pts         int64  // presentation timestamp
	gen         uint64 // store wrap generation at record time
}

// keyFrameIndex is an ordered sequence of key-frame positions, used to
// resolve wall-clock seeks and key-frame-aligned reads. Entries are
// appended at the back in write order and trimmed from the front once
// the store has physically overwritten them in a later generation.
type keyFrameIndex struct {
	entries []indexEntry
}

// record appends an entry. Called only for video key frames.
func (x *keyFrameIndex) record(pos, wallclockMs, pts int64, gen uint64) {
	x.entries = append(x.entries, indexEntry{pos: pos, wallclockMs: wallclockMs, pts: pts, gen: gen})
}

// trim drops every entry whose position has been overwritten by the
// write ending at end in generation gen. A single write can cover
// several smaller packets from the previous lap, so all qualifying
// front entries go at once; an entry left behind would seek into bytes
// that no longer hold its packet. The surviving oldest entry is the
// timeshift start watermark; its wall-clock time is returned.
func (x *keyFrameIndex) trim(end int64, gen uint64) (startMs int64, ok bool) {
	for len(x.entries) > 0 {
		front := x.entries[0]
		if front.pos >= end || front.gen >= gen {
			break
		}
		x.entries = x.entries[1:]
	}

	if len(x.entries) == 0 {
		return 0, false
	}
	return x.entries[0].wallclockMs, true
}

// seekByWallClock resolves a target wall-clock time to the most recent
// key frame at or before it. Targets outside the buffered range clamp
// to the oldest or newest entry.
func (x *keyFrameIndex) seekByWallClock(targetMs int64) (indexEntry, error) {
	if len(x.entries) == 0 {
		return indexEntry{}, ErrIndexEmpty
	}

	newest := x.entries[len(x.entries)-1]
	if targetMs >= newest.wallclockMs {
		return newest, nil
	}

	oldest := x.entries[0]
	if targetMs <= oldest.wallclockMs {
		return oldest, nil
	}

	for i := len(x.entries) - 1; i >= 0; i-- {
		if x.entries[i].wallclockMs <= targetMs {
			return x.entries[i], nil
		}
	}

	// Unreachable: the oldest entry clamps all earlier targets.
	return oldest, nil
}

// nextKeyFrame returns the offset of the first key frame strictly after
// the bracket containing cur. Returns ok=false when cur is already at
// or beyond the newest key frame, in which case the position is left
// unchanged by the caller.
func (x *keyFrameIndex) nextKeyFrame(cur int64) (int64, bool) {
	for i := 0; i+1 < len(x.entries); i++ {
		if x.entries[i].pos < cur && cur <= x.entries[i+1].pos {
			return x.entries[i+1].pos, true
		}
	}
	return cur, false
}

// oldest returns the front entry's wall-clock time.
func (x *keyFrameIndex) oldest() (int64, bool) {
	if len(x.entries) == 0 {
		return 0, false
	}
	return x.entries[0].wallclockMs, true
}

func (x *keyFrameIndex) len() int {
	return len(x.entries)
}
