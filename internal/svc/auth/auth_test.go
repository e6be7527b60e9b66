package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/seventv/presence/internal/svc/presences"
	"github.com/seventv/presence/internal/testutil"
)

const secret = "test-secret"

func TestCurrentIdentity(t *testing.T) {
	t.Parallel()

	token, err := New(Options{JWTSecret: secret}).CreateAccessToken("u1", time.Hour)
	testutil.IsNil(t, err, "sign")

	id, ok := New(Options{JWTSecret: secret, Token: token}).CurrentIdentity()
	testutil.Assert(t, true, ok, "identity present")
	testutil.Assert(t, presences.Identity("u1"), id, "identity")
}

func TestCurrentIdentitySubjectFallback(t *testing.T) {
	t.Parallel()

	a := New(Options{JWTSecret: secret})
	token, err := a.SignJWT(&jwt.RegisteredClaims{Subject: "u2"})
	testutil.IsNil(t, err, "sign")

	id, ok := New(Options{JWTSecret: secret, Token: token}).CurrentIdentity()
	testutil.Assert(t, true, ok, "identity present")
	testutil.Assert(t, presences.Identity("u2"), id, "identity")
}

func TestCurrentIdentityAbsent(t *testing.T) {
	t.Parallel()

	signer := New(Options{JWTSecret: secret})

	expired, err := signer.CreateAccessToken("u1", -time.Minute)
	testutil.IsNil(t, err, "sign expired")

	noSubject, err := signer.SignJWT(&jwt.RegisteredClaims{})
	testutil.IsNil(t, err, "sign empty")

	foreign, err := New(Options{JWTSecret: "other"}).CreateAccessToken("u1", time.Hour)
	testutil.IsNil(t, err, "sign foreign")

	for name, token := range map[string]string{
		"empty":      "",
		"malformed":  "not.a.jwt",
		"expired":    expired,
		"no subject": noSubject,
		"bad secret": foreign,
	} {
		_, ok := New(Options{JWTSecret: secret, Token: token}).CurrentIdentity()
		testutil.Assert(t, false, ok, name)
	}
}

func TestVerifyRejectsNonHMAC(t *testing.T) {
	t.Parallel()

	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, &JWTClaimUser{UserID: "u1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	testutil.IsNil(t, err, "sign none")

	_, ok := New(Options{JWTSecret: secret, Token: token}).CurrentIdentity()
	testutil.Assert(t, false, ok, "none algorithm rejected")
}
