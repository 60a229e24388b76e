package feed

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// Handler upgrades requests to websocket feed clients. With no allowed origins
// only loopback and same-host origins are accepted.
func (b *Broadcaster) Handler(allowedOrigins []string) http.Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = true
		}
	}
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return checkOrigin(r, allowed) },
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			b.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("feed.Handler upgrade failed")
			return
		}
		c, err := b.AddClient(conn)
		if err != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error())
			_ = conn.WriteMessage(websocket.CloseMessage, msg)
			_ = conn.Close()
			if !errors.Is(err, ErrTooManyClients) {
				b.logger.Warn().Err(err).Msg("feed.Handler add client failed")
			}
			return
		}
		b.logger.Debug().Str("remote", r.RemoteAddr).Msg("feed.Handler client connected")

		go func() {
			defer b.RemoveClient(c)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	})
}

func checkOrigin(r *http.Request, allowed map[string]bool) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(allowed) > 0 {
		return allowed[origin] || allowed["*"]
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if u.Host == r.Host {
		return true
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
