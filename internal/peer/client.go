package peer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/wifikey/internal/protocol"
	"github.com/danmuck/wifikey/internal/protocol/event"
	"github.com/danmuck/wifikey/internal/protocol/frame"
	"github.com/danmuck/wifikey/internal/protocol/session"
)

var (
	ErrHostAddressRequired = errors.New("peer: host address required")
	ErrClosed              = errors.New("peer: client closed")
)

// Config controls how a Client reaches the host.
type Config struct {
	Address    string
	DeviceName string
	Session    session.Config
	Codec      protocol.Options

	// MaxConnectAttempts bounds Run's consecutive failed dials. Zero retries forever.
	MaxConnectAttempts int
}

func DefaultConfig() Config {
	return Config{
		DeviceName: "wifikey-peer",
		Session:    session.DefaultConfig(),
		Codec:      protocol.DefaultOptions(),
	}
}

// Message is one unit read from the host. Exactly one of Control, Frame or Raw
// is set, according to Kind.
type Message struct {
	Kind    frame.MessageKind
	Control session.Control
	Frame   protocol.Decoded
	Raw     []byte
}

// Client is one handshaken connection to the host.
type Client struct {
	conn      net.Conn
	reader    *frame.Reader
	codec     *protocol.Codec
	handshake session.Handshake
	timeout   time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// Dial connects to the host at addr and answers its handshake as name.
func Dial(ctx context.Context, addr, name string) (*Client, error) {
	cfg := DefaultConfig()
	cfg.Address = addr
	cfg.DeviceName = name
	return DialConfig(ctx, cfg)
}

// DialConfig makes one connection attempt with cfg.
func DialConfig(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, ErrHostAddressRequired
	}
	dialer := net.Dialer{Timeout: cfg.Session.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, err
	}
	c, err := handshake(conn, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

func handshake(conn net.Conn, cfg Config) (*Client, error) {
	if cfg.Session.HandshakeTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(cfg.Session.HandshakeTimeout))
	}
	br := bufio.NewReaderSize(conn, frame.DefaultReaderBufferSize)
	hs, err := session.ReadHandshake(br)
	if err != nil {
		return nil, fmt.Errorf("peer: read handshake: %w", err)
	}
	if err := session.WriteHandshakeResponse(conn, session.NewHandshakeResponse(cfg.DeviceName)); err != nil {
		return nil, fmt.Errorf("peer: write handshake response: %w", err)
	}
	_ = conn.SetDeadline(time.Time{})
	return &Client{
		conn:      conn,
		reader:    frame.NewReader(br),
		codec:     protocol.NewCodec(cfg.Codec),
		handshake: hs,
		timeout:   cfg.Session.WriteTimeout,
	}, nil
}

// Handshake returns the handshake the host opened the session with.
func (c *Client) Handshake() session.Handshake {
	return c.handshake
}

func (c *Client) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Next blocks for the next message from the host. Errors wrapping
// protocol.ErrProtocol or session.ErrInvalidControl reject a single message and
// leave the client usable; any other error ends the session.
func (c *Client) Next() (Message, error) {
	msg, err := c.reader.Next()
	if err != nil {
		return Message{}, err
	}
	switch msg.Kind {
	case frame.MessageJSON:
		ctl, err := session.ParseControl(msg.Data)
		if err != nil {
			return Message{}, err
		}
		return Message{Kind: msg.Kind, Control: ctl}, nil
	case frame.MessageFrame:
		d, err := protocol.Decode(msg.Data)
		if err != nil {
			return Message{}, err
		}
		return Message{Kind: msg.Kind, Frame: d}, nil
	default:
		return Message{Kind: msg.Kind, Raw: msg.Data}, nil
	}
}

// SendStatus sends a status line the host logs verbatim.
func (c *Client) SendStatus(message string) error {
	b, err := session.EncodeControl(session.StatusMessage(message))
	if err != nil {
		return err
	}
	return c.write(b)
}

// ReturnControl tells the host the device has handed input back.
func (c *Client) ReturnControl() error {
	b, err := session.EncodeControl(session.ControlReturn())
	if err != nil {
		return err
	}
	return c.write(b)
}

// SendEvent encodes ev with the client's own codec and writes the frame.
func (c *Client) SendEvent(ev event.Event) error {
	b, err := c.codec.Encode(ev)
	if err != nil {
		return err
	}
	return c.write(b)
}

func (c *Client) write(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.timeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	if _, err := c.conn.Write(b); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		return err
	}
	return nil
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
