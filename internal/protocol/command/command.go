package command

import (
	"errors"
	"fmt"

	"github.com/danmuck/wrtctl/internal/protocol/frame"
	"github.com/danmuck/wrtctl/internal/protocol/tlv"
)

// Envelope field ids.
const (
	FieldID        uint16 = 1
	FieldSubsystem uint16 = 2
	FieldValue     uint16 = 3
)

var (
	ErrMalformedPayload = errors.New("command: malformed payload")
	ErrNotCommand       = errors.New("command: packet is not a command")
)

// Command is the decoded (id, subsystem, value) envelope. Value is only
// meaningful when HasValue is set; an empty Value with HasValue is the
// empty string, not absence.
type Command struct {
	ID        uint16
	Subsystem string
	Value     string
	HasValue  bool
}

func New(id uint16, subsystem string) Command {
	return Command{ID: id, Subsystem: subsystem}
}

func WithValue(id uint16, subsystem, value string) Command {
	return Command{ID: id, Subsystem: subsystem, Value: value, HasValue: true}
}

// Response builds a reply envelope; an empty text is sent as absent.
func Response(code uint16, subsystem, text string) Command {
	if text == "" {
		return New(code, subsystem)
	}
	return WithValue(code, subsystem, text)
}

// SubsystemTag returns the routing tag formed by the first three bytes.
func (c Command) SubsystemTag() frame.Tag {
	var t frame.Tag
	copy(t[:3], c.Subsystem)
	return t
}

func (c Command) String() string {
	if !c.HasValue {
		return fmt.Sprintf("%s/%d", c.Subsystem, c.ID)
	}
	return fmt.Sprintf("%s/%d %q", c.Subsystem, c.ID, c.Value)
}

func Marshal(c Command) []byte {
	fields := []tlv.Field{
		tlv.U16(FieldID, c.ID),
		tlv.String(FieldSubsystem, c.Subsystem),
	}
	if c.HasValue {
		fields = append(fields, tlv.String(FieldValue, c.Value))
	}
	return tlv.EncodeFields(fields)
}

// Encode wraps c in a command packet.
func Encode(c Command) (frame.Packet, error) {
	return frame.New(frame.TagCommand, Marshal(c))
}

func Unmarshal(payload []byte) (Command, error) {
	fields, err := tlv.DecodeFields(payload)
	if err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	var c Command
	f, ok := tlv.GetField(fields, FieldID)
	if !ok {
		return Command{}, fmt.Errorf("%w: missing id", ErrMalformedPayload)
	}
	if c.ID, err = tlv.AsU16(f); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	f, ok = tlv.GetField(fields, FieldSubsystem)
	if !ok {
		return Command{}, fmt.Errorf("%w: missing subsystem", ErrMalformedPayload)
	}
	if c.Subsystem, err = tlv.AsString(f); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if f, ok = tlv.GetField(fields, FieldValue); ok {
		if c.Value, err = tlv.AsString(f); err != nil {
			return Command{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		c.HasValue = true
	}
	return c, nil
}

// Decode unpacks a command packet.
func Decode(p frame.Packet) (Command, error) {
	if !p.Tag.Is(frame.TagCommand) {
		return Command{}, fmt.Errorf("%w: tag %q", ErrNotCommand, p.Tag.String())
	}
	return Unmarshal(p.Payload)
}
