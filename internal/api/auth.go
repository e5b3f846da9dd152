package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"messhall/internal/config"
	"messhall/internal/domain"
	"messhall/internal/models"
	"messhall/internal/service"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

const (
	apiKeyHeaderDefault   = "x-api-key"
	apiExtraHeaderDefault = "x-api-extra"
	clientKeyUnknown      = "unknown"
)

var (
	errMissingCredentials = errors.New("missing credentials")
	errInvalidToken       = errors.New("invalid token")
	errInvalidAPIKey      = errors.New("invalid api key")
	errUnknownUser        = errors.New("unknown user")
)

// Claims is the JWT payload identifying a user.
type Claims struct {
	UserID int64       `json:"user_id"`
	Role   models.Role `json:"role"`
	jwtlib.RegisteredClaims
}

// TokenService issues and verifies HS256 user tokens.
type TokenService struct {
	secret []byte
	issuer string
}

func NewTokenService(secret, issuer string) *TokenService {
	return &TokenService{secret: []byte(secret), issuer: issuer}
}

func (s *TokenService) Issue(userID int64, role models.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    s.issuer,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *TokenService) Parse(tokenStr string) (*Claims, error) {
	opts := []jwtlib.ParserOption{jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()})}
	if s.issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(s.issuer))
	}

	token, err := jwtlib.ParseWithClaims(tokenStr, &Claims{}, func(*jwtlib.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, errInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || claims.UserID <= 0 {
		return nil, errInvalidToken
	}
	return claims, nil
}

// principal is an authenticated caller plus the key its requests are rate limited by.
type principal struct {
	actor  service.Actor
	client *config.APIClientKey
	key    string
}

// Authenticator resolves bearer tokens and API keys into actors.
type Authenticator struct {
	tokens      *TokenService
	users       domain.UserStore
	clients     map[string]config.APIClientKey
	apiKeyHdr   string
	apiExtraHdr string
}

func NewAuthenticator(cfg config.APIAuthConfig, users domain.UserStore) *Authenticator {
	m := make(map[string]config.APIClientKey, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		m[k.Key] = k
	}

	apiKeyHdr := strings.ToLower(strings.TrimSpace(cfg.HeaderAPIKey))
	if apiKeyHdr == "" {
		apiKeyHdr = apiKeyHeaderDefault
	}
	extraHdr := strings.ToLower(strings.TrimSpace(cfg.HeaderExtra))
	if extraHdr == "" {
		extraHdr = apiExtraHeaderDefault
	}

	return &Authenticator{
		tokens:      NewTokenService(cfg.JWTSecret, cfg.JWTIssuer),
		users:       users,
		clients:     m,
		apiKeyHdr:   apiKeyHdr,
		apiExtraHdr: extraHdr,
	}
}

// identify authenticates an HTTP request. Bearer tokens win over API keys.
// The user's role is read from storage so promotions apply without a new token.
func (a *Authenticator) identify(r *http.Request) (*principal, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		raw, ok := strings.CutPrefix(h, "Bearer ")
		if !ok {
			return nil, errInvalidToken
		}
		claims, err := a.tokens.Parse(strings.TrimSpace(raw))
		if err != nil {
			return nil, err
		}
		return a.userPrincipal(r.Context(), claims)
	}

	apiKey := strings.TrimSpace(r.Header.Get(a.apiKeyHdr))
	extra := strings.TrimSpace(r.Header.Get(a.apiExtraHdr))
	if apiKey == "" {
		return nil, errMissingCredentials
	}
	return a.clientPrincipal(apiKey, extra)
}

func (a *Authenticator) userPrincipal(ctx context.Context, claims *Claims) (*principal, error) {
	user, err := a.users.GetUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, errUnknownUser
		}
		return nil, err
	}
	return &principal{
		actor: service.Actor{UserID: user.ID, Role: user.Role},
		key:   fmt.Sprintf("user:%d", user.ID),
	}, nil
}

func (a *Authenticator) clientPrincipal(apiKey, extra string) (*principal, error) {
	client, ok := a.clients[apiKey]
	if !ok {
		return nil, errInvalidAPIKey
	}
	if subtle.ConstantTimeCompare([]byte(client.Extra), []byte(extra)) != 1 {
		return nil, errInvalidAPIKey
	}
	return &principal{
		actor:  service.Actor{Role: models.RoleService},
		client: &client,
		key:    "client:" + apiKey,
	}, nil
}

// permits reports whether an API-key client may call op. An empty
// permission list allows everything its role allows.
func (p *principal) permits(op string) bool {
	if p.client == nil || len(p.client.Permissions) == 0 {
		return true
	}
	for _, perm := range p.client.Permissions {
		if strings.TrimSpace(perm) == op {
			return true
		}
	}
	return false
}

func remoteKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}
