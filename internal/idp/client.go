// Package idp talks to the external identity provider: it fetches the
// provider's published signature-verification keys and forwards
// credential-update requests. The provider itself (token issuance, signing)
// is outside this service.
package idp

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"
)

// Client errors
var (
	// ErrInvalidCurrentPassword is returned when the provider rejects the
	// caller's current credential during an update.
	ErrInvalidCurrentPassword = errors.New("current password rejected by identity provider")
	// ErrWeakPassword is returned when the provider rejects the new credential.
	ErrWeakPassword = errors.New("new password rejected by identity provider")
)

// JWKS is the provider's published key set.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK represents one public key in JWK format.
type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
}

// RSAPublicKey decodes the JWK's modulus and exponent into an rsa.PublicKey.
func (k JWK) RSAPublicKey() (*rsa.PublicKey, error) {
	if k.Kty != "RSA" {
		return nil, fmt.Errorf("unsupported key type %q", k.Kty)
	}

	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}

	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	if e <= 0 {
		return nil, errors.New("invalid exponent")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}

// Client is the identity-provider collaborator interface.
type Client interface {
	// FetchSigningKeys retrieves the provider's current key set.
	FetchSigningKeys(ctx context.Context) (*JWKS, error)
	// UpdateCredential asks the provider to replace a user's credential after
	// verifying the current one.
	UpdateCredential(ctx context.Context, userID, currentPassword, newPassword string) error
}

// HTTPClient implements Client against the provider's HTTP endpoints.
type HTTPClient struct {
	jwksURL       string
	credentialURL string
	httpClient    *http.Client
}

// NewHTTPClient creates a new HTTPClient instance
func NewHTTPClient(jwksURL, credentialURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		jwksURL:       jwksURL,
		credentialURL: credentialURL,
		httpClient:    &http.Client{Timeout: timeout},
	}
}

// FetchSigningKeys retrieves and decodes the provider's JWKS document
func (c *HTTPClient) FetchSigningKeys(ctx context.Context) (*JWKS, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build jwks request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch jwks: unexpected status %d", resp.StatusCode)
	}

	var jwks JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}
	if len(jwks.Keys) == 0 {
		return nil, errors.New("jwks document contains no keys")
	}
	return &jwks, nil
}

// credentialUpdateRequest is the provider's credential-update payload
type credentialUpdateRequest struct {
	UserID          string `json:"user_id"`
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// UpdateCredential forwards a credential update to the provider
func (c *HTTPClient) UpdateCredential(ctx context.Context, userID, currentPassword, newPassword string) error {
	payload, err := json.Marshal(credentialUpdateRequest{
		UserID:          userID,
		CurrentPassword: currentPassword,
		NewPassword:     newPassword,
	})
	if err != nil {
		return fmt.Errorf("encode credential update: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.credentialURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build credential update request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("credential update: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrInvalidCurrentPassword
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrWeakPassword
	default:
		return fmt.Errorf("credential update: unexpected status %d", resp.StatusCode)
	}
}
