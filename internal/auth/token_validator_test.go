package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/chronoflow/timetracker/internal/idp"
)

const testIssuer = "https://idp.example.com"

// fakeIdPClient serves a fixed key set and counts fetches.
type fakeIdPClient struct {
	jwks       *idp.JWKS
	fetchCount int
	fetchErr   error
}

func (f *fakeIdPClient) FetchSigningKeys(ctx context.Context) (*idp.JWKS, error) {
	f.fetchCount++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.jwks, nil
}

func (f *fakeIdPClient) UpdateCredential(ctx context.Context, userID, currentPassword, newPassword string) error {
	return nil
}

func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}
	return key
}

func jwkFor(kid string, pub *rsa.PublicKey) idp.JWK {
	return idp.JWK{
		Kid: kid,
		Kty: "RSA",
		Alg: "RS256",
		Use: "sig",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims *IdentityClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func defaultClaims(subject string) *IdentityClaims {
	now := time.Now()
	return &IdentityClaims{
		Email: "user@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    testIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
}

func newTestValidator(t *testing.T, fetcher idp.Client) (*TokenValidator, *KeyCache) {
	t.Helper()
	cache := NewKeyCache(fetcher, 10*time.Minute, 5, nil)
	t.Cleanup(cache.Close)
	return NewTokenValidator(cache, testIssuer, nil), cache
}

func TestValidate_ValidToken(t *testing.T) {
	key := generateTestKey(t)
	fetcher := &fakeIdPClient{jwks: &idp.JWKS{Keys: []idp.JWK{jwkFor("key-1", &key.PublicKey)}}}
	validator, _ := newTestValidator(t, fetcher)

	token := signToken(t, key, "key-1", defaultClaims("user-42"))

	claims, err := validator.Validate(context.Background(), token)
	if err != nil {
		t.Fatalf("expected valid token, got error: %v", err)
	}
	if claims.UserID() != "user-42" {
		t.Errorf("expected subject user-42, got %q", claims.UserID())
	}
	if claims.Email != "user@example.com" {
		t.Errorf("expected email claim, got %q", claims.Email)
	}
}

func TestValidate_EmptyToken(t *testing.T) {
	fetcher := &fakeIdPClient{jwks: &idp.JWKS{}}
	validator, _ := newTestValidator(t, fetcher)

	if _, err := validator.Validate(context.Background(), ""); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestValidate_WrongIssuer(t *testing.T) {
	key := generateTestKey(t)
	fetcher := &fakeIdPClient{jwks: &idp.JWKS{Keys: []idp.JWK{jwkFor("key-1", &key.PublicKey)}}}
	validator, _ := newTestValidator(t, fetcher)

	claims := defaultClaims("user-42")
	claims.Issuer = "https://rogue.example.com"
	token := signToken(t, key, "key-1", claims)

	if _, err := validator.Validate(context.Background(), token); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("expected ErrTokenInvalid for wrong issuer, got %v", err)
	}
}

func TestValidate_ExpiredToken(t *testing.T) {
	key := generateTestKey(t)
	fetcher := &fakeIdPClient{jwks: &idp.JWKS{Keys: []idp.JWK{jwkFor("key-1", &key.PublicKey)}}}
	validator, _ := newTestValidator(t, fetcher)

	claims := defaultClaims("user-42")
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	token := signToken(t, key, "key-1", claims)

	if _, err := validator.Validate(context.Background(), token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestValidate_MissingExpiry(t *testing.T) {
	key := generateTestKey(t)
	fetcher := &fakeIdPClient{jwks: &idp.JWKS{Keys: []idp.JWK{jwkFor("key-1", &key.PublicKey)}}}
	validator, _ := newTestValidator(t, fetcher)

	claims := defaultClaims("user-42")
	claims.ExpiresAt = nil
	token := signToken(t, key, "key-1", claims)

	if _, err := validator.Validate(context.Background(), token); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("expected ErrTokenInvalid for missing expiry, got %v", err)
	}
}

func TestValidate_MissingSubject(t *testing.T) {
	key := generateTestKey(t)
	fetcher := &fakeIdPClient{jwks: &idp.JWKS{Keys: []idp.JWK{jwkFor("key-1", &key.PublicKey)}}}
	validator, _ := newTestValidator(t, fetcher)

	token := signToken(t, key, "key-1", defaultClaims(""))

	if _, err := validator.Validate(context.Background(), token); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("expected ErrTokenInvalid for missing subject, got %v", err)
	}
}

func TestValidate_RejectsNonRS256(t *testing.T) {
	fetcher := &fakeIdPClient{jwks: &idp.JWKS{}}
	validator, _ := newTestValidator(t, fetcher)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, defaultClaims("user-42"))
	token.Header["kid"] = "key-1"
	signed, err := token.SignedString([]byte("shared-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	if _, err := validator.Validate(context.Background(), signed); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("expected ErrTokenInvalid for HS256 token, got %v", err)
	}
}

func TestValidate_UnknownKeyID(t *testing.T) {
	key := generateTestKey(t)
	fetcher := &fakeIdPClient{jwks: &idp.JWKS{Keys: []idp.JWK{jwkFor("key-1", &key.PublicKey)}}}
	validator, _ := newTestValidator(t, fetcher)

	token := signToken(t, key, "key-unknown", defaultClaims("user-42"))

	if _, err := validator.Validate(context.Background(), token); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("expected ErrTokenInvalid for unknown kid, got %v", err)
	}
}

func TestValidate_WrongSigningKey(t *testing.T) {
	published := generateTestKey(t)
	attacker := generateTestKey(t)
	fetcher := &fakeIdPClient{jwks: &idp.JWKS{Keys: []idp.JWK{jwkFor("key-1", &published.PublicKey)}}}
	validator, _ := newTestValidator(t, fetcher)

	token := signToken(t, attacker, "key-1", defaultClaims("user-42"))

	if _, err := validator.Validate(context.Background(), token); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("expected ErrTokenInvalid for wrong signing key, got %v", err)
	}
}

func TestKeyCache_FetchesOncePerKeySet(t *testing.T) {
	key := generateTestKey(t)
	fetcher := &fakeIdPClient{jwks: &idp.JWKS{Keys: []idp.JWK{jwkFor("key-1", &key.PublicKey)}}}
	validator, _ := newTestValidator(t, fetcher)

	token := signToken(t, key, "key-1", defaultClaims("user-42"))

	for i := 0; i < 3; i++ {
		if _, err := validator.Validate(context.Background(), token); err != nil {
			t.Fatalf("validate %d failed: %v", i, err)
		}
	}

	if fetcher.fetchCount != 1 {
		t.Errorf("expected exactly 1 key fetch, got %d", fetcher.fetchCount)
	}
}

func TestKeyCache_PopulatesAllKeysFromSet(t *testing.T) {
	key1 := generateTestKey(t)
	key2 := generateTestKey(t)
	fetcher := &fakeIdPClient{jwks: &idp.JWKS{Keys: []idp.JWK{
		jwkFor("key-1", &key1.PublicKey),
		jwkFor("key-2", &key2.PublicKey),
	}}}
	cache := NewKeyCache(fetcher, 10*time.Minute, 5, nil)
	t.Cleanup(cache.Close)

	if _, err := cache.Get(context.Background(), "key-1"); err != nil {
		t.Fatalf("get key-1 failed: %v", err)
	}
	if _, err := cache.Get(context.Background(), "key-2"); err != nil {
		t.Fatalf("get key-2 failed: %v", err)
	}

	if fetcher.fetchCount != 1 {
		t.Errorf("expected 1 fetch to populate both keys, got %d", fetcher.fetchCount)
	}
	if cache.Len() != 2 {
		t.Errorf("expected 2 cached keys, got %d", cache.Len())
	}
}

func TestKeyCache_FetchErrorFailsClosed(t *testing.T) {
	fetcher := &fakeIdPClient{fetchErr: errors.New("provider unreachable")}
	cache := NewKeyCache(fetcher, 10*time.Minute, 5, nil)
	t.Cleanup(cache.Close)

	if _, err := cache.Get(context.Background(), "key-1"); err == nil {
		t.Error("expected error when key fetch fails")
	}
}

func TestKeyCache_ExpiredEntryRefetches(t *testing.T) {
	key := generateTestKey(t)
	fetcher := &fakeIdPClient{jwks: &idp.JWKS{Keys: []idp.JWK{jwkFor("key-1", &key.PublicKey)}}}
	cache := NewKeyCache(fetcher, 50*time.Millisecond, 5, nil)
	t.Cleanup(cache.Close)

	if _, err := cache.Get(context.Background(), "key-1"); err != nil {
		t.Fatalf("initial get failed: %v", err)
	}
	time.Sleep(120 * time.Millisecond)
	if _, err := cache.Get(context.Background(), "key-1"); err != nil {
		t.Fatalf("get after expiry failed: %v", err)
	}

	if fetcher.fetchCount != 2 {
		t.Errorf("expected refetch after TTL, got %d fetches", fetcher.fetchCount)
	}
}
