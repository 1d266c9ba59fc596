package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay/internal/auth"
)

var errAuthHeaderFormat = errors.New("invalid authorization header format")

type peerKey struct{}

func withPeer(ctx context.Context, peer string) context.Context {
	return context.WithValue(ctx, peerKey{}, peer)
}

// PeerFromContext returns the token subject stored by the auth middleware.
func PeerFromContext(ctx context.Context) string {
	peer, _ := ctx.Value(peerKey{}).(string)
	return peer
}

// authenticate validates a JWT from the Authorization header or the token query
// parameter. Browsers can not set headers on a WebSocket handshake, hence the latter.
func authenticate(cfg *auth.JWTConfig, r *http.Request) (*auth.Claims, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return auth.ValidateToken(cfg, r.URL.Query().Get("token"))
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, errAuthHeaderFormat
	}
	return auth.ValidateToken(cfg, strings.TrimSpace(parts[1]))
}

// AuthMiddleware rejects API requests without a valid token.
func AuthMiddleware(cfg *auth.JWTConfig, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := authenticate(cfg, c.Request)
		if err != nil {
			logger.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("invalid token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: err.Error()})
			return
		}

		c.Request = c.Request.WithContext(withPeer(c.Request.Context(), claims.Subject))
		c.Next()
	}
}

// RequireToken is AuthMiddleware for plain handlers. The WebSocket routes need it
// because the upgrade must hijack the raw ResponseWriter.
func RequireToken(cfg *auth.JWTConfig, logger *zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := authenticate(cfg, r)
		if err != nil {
			logger.Debug().Err(err).Str("path", r.URL.Path).Msg("invalid token")
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(withPeer(r.Context(), claims.Subject)))
	})
}

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start))
		if peer := PeerFromContext(c.Request.Context()); peer != "" {
			event = event.Str("peer", peer)
		}
		event.Msg("http request")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: msg})
}
