package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	HeaderLen            = 8
	TagLen               = 4
	MaxPacketSize uint32 = 1024 * 1024
	MaxPayloadLen        = int(MaxPacketSize) - HeaderLen
)

var (
	ErrShortHeader    = errors.New("frame: short packet header")
	ErrPacketTooSmall = errors.New("frame: total_length smaller than header")
	ErrPacketTooLarge = errors.New("frame: packet too large")
	ErrInvalidTag     = errors.New("frame: invalid type tag")
)

// Tag is the fixed-width ASCII packet type, NUL padded.
type Tag [TagLen]byte

// TagCommand marks packets carrying a command envelope.
var TagCommand = MustTag("NET")

func NewTag(s string) (Tag, error) {
	var t Tag
	if len(s) == 0 || len(s) >= TagLen {
		return t, fmt.Errorf("%w: %q", ErrInvalidTag, s)
	}
	copy(t[:], s)
	return t, nil
}

func MustTag(s string) Tag {
	t, err := NewTag(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t Tag) String() string {
	n := 0
	for n < TagLen && t[n] != 0 {
		n++
	}
	return string(t[:n])
}

// Is compares the three significant tag bytes.
func (t Tag) Is(other Tag) bool {
	return t[0] == other[0] && t[1] == other[1] && t[2] == other[2]
}

// Packet is one length-framed unit on the wire.
type Packet struct {
	Tag     Tag
	Payload []byte
}

// Header is the fixed 8-byte prefix of every packet.
type Header struct {
	Length uint32
	Tag    Tag
}

// Limits constrains the accepted total_length of a packet.
type Limits struct {
	MaxPacketSize uint32
}

func DefaultLimits() Limits {
	return Limits{MaxPacketSize: MaxPacketSize}
}

func (l Limits) max() uint32 {
	if l.MaxPacketSize == 0 || l.MaxPacketSize > MaxPacketSize {
		return MaxPacketSize
	}
	return l.MaxPacketSize
}

// Check validates a total_length read off the wire.
func (l Limits) Check(length uint32) error {
	if length < HeaderLen {
		return fmt.Errorf("%w: %d", ErrPacketTooSmall, length)
	}
	if length > l.max() {
		return fmt.Errorf("%w: %d > %d", ErrPacketTooLarge, length, l.max())
	}
	return nil
}

// New builds a packet and enforces the size cap.
func New(tag Tag, payload []byte) (Packet, error) {
	if len(payload) > MaxPayloadLen {
		return Packet{}, fmt.Errorf("%w: payload %d bytes", ErrPacketTooLarge, len(payload))
	}
	return Packet{Tag: tag, Payload: payload}, nil
}

// Len returns total_length as carried on the wire.
func (p Packet) Len() uint32 {
	return uint32(HeaderLen + len(p.Payload))
}

func (p Packet) Header() Header {
	return Header{Length: p.Len(), Tag: p.Tag}
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Length)
	copy(buf[4:8], h.Tag[:])
	return buf
}

// DecodeHeader parses the prefix without validating length.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, ErrShortHeader
	}
	var h Header
	h.Length = binary.BigEndian.Uint32(b[0:4])
	copy(h.Tag[:], b[4:8])
	return h, nil
}

// Encode returns the full wire bytes for p.
func Encode(p Packet) ([]byte, error) {
	if len(p.Payload) > MaxPayloadLen {
		return nil, fmt.Errorf("%w: payload %d bytes", ErrPacketTooLarge, len(p.Payload))
	}
	buf := make([]byte, HeaderLen+len(p.Payload))
	binary.BigEndian.PutUint32(buf[0:4], p.Len())
	copy(buf[4:8], p.Tag[:])
	copy(buf[HeaderLen:], p.Payload)
	return buf, nil
}

// Decode parses exactly one packet from b.
func Decode(b []byte, limits Limits) (Packet, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return Packet{}, err
	}
	if err := limits.Check(h.Length); err != nil {
		return Packet{}, err
	}
	if uint32(len(b)) != h.Length {
		return Packet{}, fmt.Errorf("frame: length mismatch: header=%d buffer=%d", h.Length, len(b))
	}
	payload := make([]byte, len(b)-HeaderLen)
	copy(payload, b[HeaderLen:])
	return Packet{Tag: h.Tag, Payload: payload}, nil
}

func ReadPacket(r io.Reader, limits Limits) (Packet, error) {
	var fixed [HeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Packet{}, ErrShortHeader
		}
		return Packet{}, err
	}
	h, _ := DecodeHeader(fixed[:])
	if err := limits.Check(h.Length); err != nil {
		return Packet{}, err
	}
	payload := make([]byte, h.Length-HeaderLen)
	if len(payload) > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Packet{}, err
		}
	}
	return Packet{Tag: h.Tag, Payload: payload}, nil
}

func WritePacket(w io.Writer, p Packet) error {
	b, err := Encode(p)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}
