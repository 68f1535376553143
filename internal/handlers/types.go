package handlers

import (
	"context"

	"github.com/danmuck/wrtctl/internal/protocol/command"
	"github.com/danmuck/wrtctl/internal/protocol/frame"
)

// Info identifies a registered handler.
type Info struct {
	Name    string `json:"name"`
	Tag     string `json:"tag"`
	Version int    `json:"version"`
}

// Handler is one subsystem's command implementation. Init runs once at
// registration and Destroy once at registry close. Handle runs on the
// reactor goroutine and must return either a response packet or an error;
// an error means no response is sent.
type Handler interface {
	Name() string
	Tag() string
	Version() int
	Init() error
	Destroy() error
	Handle(ctx context.Context, cmd command.Command) (frame.Packet, error)
}

func InfoOf(h Handler) Info {
	return Info{Name: h.Name(), Tag: h.Tag(), Version: h.Version()}
}

// Reply encodes a response envelope for subsystem.
func Reply(subsystem string, code uint16, text string) (frame.Packet, error) {
	return command.Encode(command.Response(code, subsystem, text))
}

// Lifecycle is the slice of the server a handler may drive.
type Lifecycle interface {
	RequestShutdown()
}

type lifecycleKey struct{}
type peerKey struct{}

func WithLifecycle(ctx context.Context, l Lifecycle) context.Context {
	return context.WithValue(ctx, lifecycleKey{}, l)
}

// LifecycleFrom returns the server lifecycle bound to ctx, if any.
func LifecycleFrom(ctx context.Context) (Lifecycle, bool) {
	l, ok := ctx.Value(lifecycleKey{}).(Lifecycle)
	return l, ok && l != nil
}

func WithPeer(ctx context.Context, peer string) context.Context {
	return context.WithValue(ctx, peerKey{}, peer)
}

func PeerFrom(ctx context.Context) string {
	p, _ := ctx.Value(peerKey{}).(string)
	return p
}
