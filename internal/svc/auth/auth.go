package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/seventv/presence/internal/svc/presences"
	"go.uber.org/zap"
)

var _ presences.Authenticator = (*Authorizer)(nil)

type Options struct {
	// JWTSecret is the HMAC secret tokens are signed with.
	JWTSecret string
	// Token identifies the actor this process runs for.
	Token string
}

type JWTClaimUser struct {
	UserID string `json:"u"`

	jwt.RegisteredClaims
}

// Authorizer resolves the current identity from a signed access token.
type Authorizer struct {
	secret string
	token  string
}

func New(opt Options) *Authorizer {
	return &Authorizer{
		secret: opt.JWTSecret,
		token:  opt.Token,
	}
}

// CurrentIdentity implements presences.Authenticator
func (a *Authorizer) CurrentIdentity() (presences.Identity, bool) {
	if a.token == "" {
		return "", false
	}

	claims := &JWTClaimUser{}
	if _, err := a.VerifyJWT(a.token, claims); err != nil {
		zap.S().Warnw("auth, rejected access token",
			"error", err,
		)

		return "", false
	}

	id := claims.UserID
	if id == "" {
		id = claims.Subject
	}

	if id == "" {
		zap.S().Warnw("auth, access token has no subject")

		return "", false
	}

	return presences.Identity(id), true
}

func (a *Authorizer) SignJWT(claim jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claim)

	return token.SignedString([]byte(a.secret))
}

// CreateAccessToken signs a token for userID, valid for ttl.
func (a *Authorizer) CreateAccessToken(userID string, ttl time.Duration) (string, error) {
	now := time.Now()

	return a.SignJWT(&JWTClaimUser{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
}

func (a *Authorizer) VerifyJWT(token string, out jwt.Claims) (*jwt.Token, error) {
	return jwt.ParseWithClaims(
		token,
		out,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("bad jwt signing method, expected HMAC but got %v", t.Header["alg"])
			}

			return []byte(a.secret), nil
		},
	)
}
