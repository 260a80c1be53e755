// Package protocol implements the framed packet format shared by the
// session wire protocol and the on-disk time-shift ring buffer.
//
// A frame is a fixed 16-byte big-endian header followed by the payload:
//
//	offset 0  uint16  message type
//	offset 2  uint8   content kind
//	offset 3  uint8   frame type
//	offset 4  int64   presentation timestamp (90kHz ticks)
//	offset 12 uint32  payload length
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderLen is the fixed encoded header size in bytes.
const HeaderLen = 16

// MaxPayload bounds a single frame's payload. Live TS packets are far
// smaller; anything above this indicates a corrupt or misaligned read.
const MaxPayload = 16 * 1024 * 1024

// ErrPayloadTooLarge is returned when a frame declares a payload above MaxPayload.
var ErrPayloadTooLarge = errors.New("protocol: payload exceeds maximum frame size")

// MessageType identifies the purpose of a frame on the wire.
type MessageType uint16

const (
	// MsgStreamData carries stream content; the only type persisted to the ring buffer.
	MsgStreamData MessageType = iota + 1

	// Session requests.
	MsgOpen
	MsgRead
	MsgSeek
	MsgPause
	MsgStartPosition
	MsgClose

	// Session responses.
	MsgEmpty
	MsgSeekResult
	MsgAck
	MsgError
)

// ContentKind classifies the elementary stream a packet belongs to.
type ContentKind uint8

const (
	KindOther ContentKind = iota
	KindVideo
	KindAudio
	KindSubtitle
)

// FrameType marks video random-access points.
type FrameType uint8

const (
	FrameUnknown FrameType = iota
	FrameKey
	FrameDelta
)

// Packet is one framed unit. It is owned by exactly one component at a
// time (producer, writer queue, store, or reader) and never shared.
type Packet struct {
	Type  MessageType
	Kind  ContentKind
	Frame FrameType
	PTS   int64
	Data  []byte
}

// NewStreamData builds a stream content packet.
func NewStreamData(kind ContentKind, frame FrameType, pts int64, data []byte) *Packet {
	return &Packet{
		Type:  MsgStreamData,
		Kind:  kind,
		Frame: frame,
		PTS:   pts,
		Data:  data,
	}
}

// IsKeyFrame reports whether the packet is marked as a video random-access point.
func (p *Packet) IsKeyFrame() bool {
	return p.Frame == FrameKey
}

// EncodedLen returns the full on-disk/wire size of the packet.
func (p *Packet) EncodedLen() int64 {
	return HeaderLen + int64(len(p.Data))
}

func (p *Packet) encode() ([]byte, error) {
	if len(p.Data) > MaxPayload {
		return nil, ErrPayloadTooLarge
	}

	buf := make([]byte, HeaderLen+len(p.Data))
	binary.BigEndian.PutUint16(buf[0:2], uint16(p.Type))
	buf[2] = byte(p.Kind)
	buf[3] = byte(p.Frame)
	binary.BigEndian.PutUint64(buf[4:12], uint64(p.PTS))
	binary.BigEndian.PutUint32(buf[12:16], uint32(len(p.Data)))
	copy(buf[HeaderLen:], p.Data)
	return buf, nil
}

// WriteTo serializes the packet to w. It implements io.WriterTo.
func (p *Packet) WriteTo(w io.Writer) (int64, error) {
	buf, err := p.encode()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(buf)
	return int64(n), err
}

// WriteAt serializes the packet into a random-access byte store at off.
func (p *Packet) WriteAt(w io.WriterAt, off int64) (int, error) {
	buf, err := p.encode()
	if err != nil {
		return 0, err
	}
	return w.WriteAt(buf, off)
}

func decodeHeader(hdr []byte) (*Packet, uint32, error) {
	length := binary.BigEndian.Uint32(hdr[12:16])
	if length > MaxPayload {
		return nil, 0, ErrPayloadTooLarge
	}

	p := &Packet{
		Type:  MessageType(binary.BigEndian.Uint16(hdr[0:2])),
		Kind:  ContentKind(hdr[2]),
		Frame: FrameType(hdr[3]),
		PTS:   int64(binary.BigEndian.Uint64(hdr[4:12])),
	}
	return p, length, nil
}

// ReadPacket deserializes one packet from a stream.
func ReadPacket(r io.Reader) (*Packet, error) {
	hdr := make([]byte, HeaderLen)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, err
	}

	p, length, err := decodeHeader(hdr)
	if err != nil {
		return nil, err
	}

	if length > 0 {
		p.Data = make([]byte, length)
		if _, err := io.ReadFull(r, p.Data); err != nil {
			return nil, fmt.Errorf("protocol: reading payload: %w", err)
		}
	}
	return p, nil
}

// ReadPacketAt deserializes one packet from a random-access byte store at off.
func ReadPacketAt(r io.ReaderAt, off int64) (*Packet, error) {
	hdr := make([]byte, HeaderLen)
	if _, err := r.ReadAt(hdr, off); err != nil {
		return nil, err
	}

	p, length, err := decodeHeader(hdr)
	if err != nil {
		return nil, err
	}

	if length > 0 {
		p.Data = make([]byte, length)
		if _, err := r.ReadAt(p.Data, off+HeaderLen); err != nil {
			return nil, fmt.Errorf("protocol: reading payload: %w", err)
		}
	}
	return p, nil
}
