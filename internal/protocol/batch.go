package protocol

import (
	"fmt"

	"github.com/danmuck/wifikey/internal/protocol/event"
)

// BatchEvents greedily packs events, in order, into batch frames no larger than
// maxSize bytes each. An event is never split; one that does not fit in a batch
// of its own fails the whole call and no sequence numbers are consumed.
// maxSize <= 0 selects the codec's MaxPacketSize.
func (c *Codec) BatchEvents(events []event.Event, maxSize int) ([][]byte, error) {
	if maxSize <= 0 {
		maxSize = c.opts.MaxPacketSize
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxPacketSize
	}
	if len(events) == 0 {
		return nil, nil
	}
	if err := event.Validate(event.Batch{Events: events}); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	seq := c.seq
	var (
		out     [][]byte
		pending []event.Event
		current []byte
	)
	for i, ev := range events {
		candidate := append(pending[:len(pending):len(pending)], ev)
		b, err := c.buildBatch(candidate, seq)
		if err != nil {
			return nil, err
		}
		if len(b) <= maxSize {
			pending, current = candidate, b
			continue
		}
		if len(pending) == 0 {
			return nil, fmt.Errorf("%w: event %d needs %d bytes, limit %d", ErrEventTooLarge, i, len(b), maxSize)
		}

		out = append(out, current)
		seq++
		pending = []event.Event{ev}
		b, err = c.buildBatch(pending, seq)
		if err != nil {
			return nil, err
		}
		if len(b) > maxSize {
			return nil, fmt.Errorf("%w: event %d needs %d bytes, limit %d", ErrEventTooLarge, i, len(b), maxSize)
		}
		current = b
	}
	out = append(out, current)
	seq++
	c.seq = seq
	return out, nil
}
