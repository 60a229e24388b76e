package host

import (
	"net"
	"sync"
	"time"

	"github.com/danmuck/wifikey/internal/protocol/frame"
)

// peerConn is one handshaken connection. Identity matters: the manager only
// clears its current session when the caller still holds the same pointer.
type peerConn struct {
	id          string
	conn        net.Conn
	addr        string
	deviceName  string
	connectedAt time.Time
	reader      *frame.Reader

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (p *peerConn) write(b []byte, timeout time.Duration) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if timeout > 0 {
		_ = p.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	_, err := p.conn.Write(b)
	return err
}

func (p *peerConn) close() {
	p.closeOnce.Do(func() {
		_ = p.conn.Close()
	})
}
