package protocol

import (
	"github.com/danmuck/wifikey/internal/protocol/event"
	"github.com/danmuck/wifikey/internal/protocol/frame"
)

const DefaultMaxPacketSize = 1024

// Options configures a Codec.
type Options struct {
	Compression       bool
	CompressThreshold int
	CompressLevel     int
	// MaxPacketSize is the batch size used when BatchEvents is given no limit.
	MaxPacketSize int
}

func DefaultOptions() Options {
	return Options{
		Compression:       true,
		CompressThreshold: frame.DefaultCompressThreshold,
		CompressLevel:     frame.DefaultCompressLevel,
		MaxPacketSize:     DefaultMaxPacketSize,
	}
}

func (o Options) frameOptions() frame.Options {
	return frame.Options{
		Compression:       o.Compression,
		CompressThreshold: o.CompressThreshold,
		CompressLevel:     o.CompressLevel,
	}
}

// Decoded is one accepted frame and the event it carried.
type Decoded struct {
	Seq        uint16
	Type       frame.Type
	Compressed bool
	Event      event.Event
}
