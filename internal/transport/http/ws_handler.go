package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"
	"net/url"
	"slices"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay/internal/config"
	"github.com/vovakirdan/wirerelay/internal/core"
	"github.com/vovakirdan/wirerelay/internal/proto"
)

// WSHandler upgrades HTTP connections and bridges them to a core.Session.
type WSHandler struct {
	registry *core.Registry
	rec      core.Recorder
	cfg      *config.Config
	log      *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler. rec may be nil.
func NewWSHandler(registry *core.Registry, rec core.Recorder, cfg *config.Config, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{registry: registry, rec: rec, cfg: cfg, log: logger}
}

// aliasPattern is the short route; its room must not be the signaling prefix itself.
const (
	aliasPattern     = "GET /ws/{room}"
	signalingSegment = "signaling"
)

// ServeHTTP serves one signaling connection for the room named in the path.
func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	room := r.PathValue("room")
	if r.Pattern == aliasPattern && room == signalingSegment {
		room = ""
	}

	session, err := core.NewSession(room, h.registry, core.SessionOptions{
		OutboundBuffer: h.cfg.OutboundBuffer,
		ParseErrorAck:  h.cfg.ParseErrorAck,
		Recorder:       h.rec,
		Logger:         h.log,
	})
	if err != nil {
		h.log.Debug().Err(err).Msg("rejecting ws connection")
		writeError(w, stdhttp.StatusBadRequest, err.Error())
		return
	}

	conn, err := websocket.Accept(w, r, h.acceptOptions())
	if err != nil {
		h.log.Error().Err(err).Str("room", room).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")
	conn.SetReadLimit(h.cfg.MaxMessageBytes)

	session.Join()
	defer session.Close()

	h.log.Info().
		Str("session_id", session.ID()).
		Str("room", room).
		Str("peer", PeerFromContext(r.Context())).
		Str("remote_addr", r.RemoteAddr).
		Msg("ws connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, session)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, session)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("session_id", session.ID()).Msg("ws connection closed with error")
		}
	}

	h.log.Info().Str("session_id", session.ID()).Str("room", room).Msg("ws disconnected")
	conn.Close(status, truncateReason(reason))
}

func (h *WSHandler) acceptOptions() *websocket.AcceptOptions {
	if allowsAnyOrigin(h.cfg.AllowedOrigins) {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	return &websocket.AcceptOptions{OriginPatterns: originPatterns(h.cfg.AllowedOrigins)}
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, session *core.Session) error {
	limiter := newRateLimiter(h.cfg.RateLimitPerMinute)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		if !limiter.allow() {
			h.log.Debug().Str("session_id", session.ID()).Msg("rate limit exceeded")
			session.RejectRateLimited()
			continue
		}

		if err := session.HandleInbound(data); err != nil {
			if errors.Is(err, core.ErrParse) {
				h.log.Warn().Err(err).Str("session_id", session.ID()).Msg("dropping malformed message")
				continue
			}
			return err
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, session *core.Session) error {
	var ping <-chan time.Time
	if h.cfg.PingInterval > 0 {
		ticker := time.NewTicker(h.cfg.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case env := <-session.Outbound():
			data, err := proto.Encode(env.Payload)
			if err != nil {
				h.log.Error().Err(err).Str("session_id", session.ID()).Msg("encode outbound payload")
				continue
			}
			if err := h.write(ctx, conn, data); err != nil {
				h.log.Error().Err(err).Str("session_id", session.ID()).Msg("write ws message")
				return err
			}
		case <-ping:
			pctx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	wctx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}

func allowsAnyOrigin(origins []string) bool {
	return len(origins) == 0 || slices.Contains(origins, "*")
}

// originPatterns turns configured origins into host patterns. Full URLs are
// reduced to their host.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
			continue
		}
		patterns = append(patterns, o)
	}
	return patterns
}

// close reasons are limited to 123 bytes by the protocol
func truncateReason(reason string) string {
	if len(reason) > 123 {
		return reason[:123]
	}
	return reason
}
