package realtime

import (
	"errors"
	"net/http"
	"strings"

	"github.com/maelcorre/fleetdesk/internal/auth"
	apperrors "github.com/maelcorre/fleetdesk/pkg/errors"
)

// DefaultChannelPath is where the notification channel is mounted unless
// configured otherwise.
const DefaultChannelPath = "/ws/notifications"

// TokenQueryParam names the query parameter that carries the credential on
// upgrade requests. Browsers cannot attach headers to a WebSocket handshake,
// so the channel path is the only place this parameter is honoured.
const TokenQueryParam = "access_token"

// Authenticator gates the notification channel: it validates the credential
// presented at upgrade time and yields the caller identity, or rejects the
// upgrade before any connection is registered.
type Authenticator struct {
	jwt         *auth.JWTService
	channelPath string
}

// NewAuthenticator constructs an Authenticator for the supplied channel path.
func NewAuthenticator(jwt *auth.JWTService, channelPath string) (*Authenticator, error) {
	if jwt == nil {
		return nil, errors.New("realtime: jwt service is required")
	}
	channelPath = strings.TrimSpace(channelPath)
	if channelPath == "" {
		channelPath = DefaultChannelPath
	}
	return &Authenticator{jwt: jwt, channelPath: channelPath}, nil
}

// ChannelPath returns the path the authenticator accepts upgrades on.
func (a *Authenticator) ChannelPath() string {
	return a.channelPath
}

// Authenticate validates the upgrade request and extracts the caller identity.
// Requests for any other path are rejected without even reading the token.
func (a *Authenticator) Authenticate(r *http.Request) (*auth.Claims, error) {
	if r == nil || r.URL == nil {
		return nil, apperrors.ErrBadRequest
	}

	if r.URL.Path != a.channelPath {
		return nil, apperrors.ErrNotFound
	}

	token := strings.TrimSpace(r.URL.Query().Get(TokenQueryParam))
	if token == "" {
		return nil, apperrors.ErrUnauthorized
	}

	claims, err := a.jwt.ValidateAccessToken(token)
	if err != nil {
		return nil, apperrors.ErrUnauthorized.WithInternal(err)
	}

	return claims, nil
}
