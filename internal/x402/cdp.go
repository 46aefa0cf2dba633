package x402

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// cdpAuth signs short-lived bearer tokens for the hosted Coinbase
// facilitator. EC keys arrive as PEM and sign ES256; Ed25519 keys arrive
// base64-encoded and sign EdDSA.
type cdpAuth struct {
	keyID  string
	method jwt.SigningMethod
	key    any
}

func newCDPAuth(keyID, secret string) (*cdpAuth, error) {
	if keyID == "" || secret == "" {
		return nil, errors.New("cdp key id and secret required")
	}

	if block, _ := pem.Decode([]byte(secret)); block != nil {
		key, err := parseECKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		return &cdpAuth{keyID: keyID, method: jwt.SigningMethodES256, key: key}, nil
	}

	raw, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("decode cdp secret: %w", err)
	}
	switch len(raw) {
	case ed25519.PrivateKeySize:
		return &cdpAuth{keyID: keyID, method: jwt.SigningMethodEdDSA, key: ed25519.PrivateKey(raw)}, nil
	case ed25519.SeedSize:
		return &cdpAuth{keyID: keyID, method: jwt.SigningMethodEdDSA, key: ed25519.NewKeyFromSeed(raw)}, nil
	default:
		return nil, fmt.Errorf("cdp secret has unexpected length %d", len(raw))
	}
}

func parseECKey(der []byte) (*ecdsa.PrivateKey, error) {
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse cdp EC key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("cdp PEM key is not an EC key")
	}
	return key, nil
}

// bearer builds a JWT scoped to a single method+URL pair, valid for two
// minutes.
func (a *cdpAuth) bearer(method, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss":  "cdp",
		"sub":  a.keyID,
		"nbf":  now.Unix(),
		"exp":  now.Add(2 * time.Minute).Unix(),
		"uris": []string{method + " " + u.Host + u.Path},
	}
	token := jwt.NewWithClaims(a.method, claims)
	token.Header["kid"] = a.keyID
	token.Header["nonce"] = hex.EncodeToString(nonce)
	return token.SignedString(a.key)
}
