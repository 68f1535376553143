package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/wrtctl/internal/logging"
	"github.com/danmuck/wrtctl/internal/protocol/command"
	"github.com/danmuck/wrtctl/internal/protocol/frame"
	"github.com/rs/zerolog"
)

var (
	ErrHandlerNil = errors.New("handlers: handler is nil")
	ErrInvalidTag = errors.New("handlers: tag must be 3 characters")
	ErrInitFailed = errors.New("handlers: init failed")
)

// Registry is the ordered handler table. Registration order is the routing
// order: the first handler whose tag matches wins, with no duplicate
// detection. It is built before serving starts and is read-only afterwards.
type Registry struct {
	entries []entry
	log     zerolog.Logger
}

type entry struct {
	h   Handler
	tag frame.Tag
}

func NewRegistry() *Registry {
	return &Registry{log: logging.Component("registry")}
}

// Register initializes h and appends it to the table.
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return ErrHandlerNil
	}
	if len(h.Tag()) != 3 {
		return fmt.Errorf("%w: %q", ErrInvalidTag, h.Tag())
	}
	tag, err := frame.NewTag(h.Tag())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTag, err)
	}
	if err := h.Init(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInitFailed, h.Name(), err)
	}
	r.entries = append(r.entries, entry{h: h, tag: tag})
	r.log.Info().
		Str("handler", h.Name()).
		Str("tag", h.Tag()).
		Int("version", h.Version()).
		Int("position", len(r.entries)).
		Msg("handler registered")
	return nil
}

// Lookup returns the first handler bound to tag.
func (r *Registry) Lookup(tag frame.Tag) (Handler, bool) {
	for _, e := range r.entries {
		if e.tag.Is(tag) {
			return e.h, true
		}
	}
	return nil, false
}

// Dispatch routes cmd to its handler. handled is false when no tag
// matched; err is the handler's failure, in which case no packet is sent.
func (r *Registry) Dispatch(ctx context.Context, cmd command.Command) (resp frame.Packet, handled bool, err error) {
	h, ok := r.Lookup(cmd.SubsystemTag())
	if !ok {
		return frame.Packet{}, false, nil
	}
	resp, err = h.Handle(ctx, cmd)
	if err != nil {
		return frame.Packet{}, true, fmt.Errorf("%s: %w", h.Name(), err)
	}
	return resp, true, nil
}

func (r *Registry) Len() int {
	return len(r.entries)
}

// List returns handler identities in routing order.
func (r *Registry) List() []Info {
	out := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, InfoOf(e.h))
	}
	return out
}

// Close destroys handlers in reverse registration order.
func (r *Registry) Close() error {
	var errs []error
	for i := len(r.entries) - 1; i >= 0; i-- {
		h := r.entries[i].h
		if err := h.Destroy(); err != nil {
			r.log.Error().Err(err).Str("handler", h.Name()).Msg("handler destroy failed")
			errs = append(errs, fmt.Errorf("%s: %w", h.Name(), err))
		}
	}
	r.entries = nil
	return errors.Join(errs...)
}
