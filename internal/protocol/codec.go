package protocol

import (
	"sync"

	"github.com/danmuck/wifikey/internal/protocol/event"
	"github.com/danmuck/wifikey/internal/protocol/frame"
)

// Codec encodes event records into frames. It is safe for concurrent use; the
// sequence counter advances once per successfully built frame and wraps at 65536.
type Codec struct {
	opts Options

	mu  sync.Mutex
	seq uint16
}

func NewCodec(opts Options) *Codec {
	return &Codec{opts: opts}
}

func (c *Codec) Options() Options {
	return c.opts
}

// Sequence returns the number the next frame will carry.
func (c *Codec) Sequence() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Encode validates ev and returns one complete frame.
func (c *Codec) Encode(ev event.Event) ([]byte, error) {
	if err := event.Validate(ev); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t, payload, err := encodePayload(ev, c.seq)
	if err != nil {
		return nil, err
	}
	out := frame.Build(t, payload, c.opts.frameOptions())
	c.seq++
	return out, nil
}

func (c *Codec) buildBatch(events []event.Event, seq uint16) ([]byte, error) {
	payload, err := batchPayload(events, seq)
	if err != nil {
		return nil, err
	}
	return frame.Build(frame.TypeBatch, payload, c.opts.frameOptions()), nil
}
