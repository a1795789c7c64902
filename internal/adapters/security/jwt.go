package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/RayanAndish/GoldACC-sub003/internal/ports"
)

// JWTSigner signs license status tokens with RS256. Clients verify them offline
// against the key published by PublicJWKs.
type JWTSigner struct {
	kid        string
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
}

// NewJWTSigner builds a signer from configured PEM keys.
func NewJWTSigner(kid, privateKeyPEM, publicKeyPEM string) (*JWTSigner, error) {
	if kid == "" {
		return nil, errors.New("jwt key id (kid) is required")
	}
	if privateKeyPEM == "" || publicKeyPEM == "" {
		return nil, errors.New("jwt private/public keys are required")
	}

	priv, err := parseRSAPrivate(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	pub, err := parseRSAPublic(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	return &JWTSigner{
		kid:        kid,
		privateKey: priv,
		publicKey:  pub,
	}, nil
}

// NewEphemeralJWTSigner creates an in-memory keypair for local/dev use.
// Tokens it signs stop verifying after a restart.
func NewEphemeralJWTSigner(kid string) (*JWTSigner, error) {
	if kid == "" {
		kid = "ephemeral-key-1"
	}
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	return &JWTSigner{
		kid:        kid,
		privateKey: privateKey,
		publicKey:  &privateKey.PublicKey,
	}, nil
}

type statusJWTClaims struct {
	LicenseID   string   `json:"license_id"`
	SystemID    string   `json:"system_id"`
	Status      string   `json:"status"`
	LicenseType string   `json:"license_type"`
	Features    []string `json:"features"`
	jwt.RegisteredClaims
}

func (s *JWTSigner) Sign(claims ports.StatusClaims) (string, error) {
	features := claims.Features
	if features == nil {
		features = []string{}
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, statusJWTClaims{
		LicenseID:   claims.LicenseID.String(),
		SystemID:    claims.SystemID.String(),
		Status:      claims.Status,
		LicenseType: claims.LicenseType,
		Features:    features,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.LicenseID.String(),
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
	})
	token.Header["kid"] = s.kid
	return token.SignedString(s.privateKey)
}

func (s *JWTSigner) ParseAndValidate(raw string) (ports.StatusClaims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &statusJWTClaims{}, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
		}
		return s.publicKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}), jwt.WithLeeway(30*time.Second))
	if err != nil {
		return ports.StatusClaims{}, err
	}
	claims, ok := parsed.Claims.(*statusJWTClaims)
	if !ok || !parsed.Valid {
		return ports.StatusClaims{}, errors.New("invalid token claims")
	}

	licenseID, err := uuid.Parse(claims.LicenseID)
	if err != nil {
		return ports.StatusClaims{}, fmt.Errorf("parse license_id: %w", err)
	}
	systemID, err := uuid.Parse(claims.SystemID)
	if err != nil {
		return ports.StatusClaims{}, fmt.Errorf("parse system_id: %w", err)
	}
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return ports.StatusClaims{}, errors.New("token is missing iat or exp")
	}

	kid, _ := parsed.Header["kid"].(string)

	return ports.StatusClaims{
		LicenseID:   licenseID,
		SystemID:    systemID,
		Status:      claims.Status,
		LicenseType: claims.LicenseType,
		Features:    claims.Features,
		IssuedAt:    claims.IssuedAt.Time.UTC(),
		ExpiresAt:   claims.ExpiresAt.Time.UTC(),
		KeyID:       kid,
	}, nil
}

func (s *JWTSigner) PublicJWKs() ([]map[string]any, error) {
	e := big.NewInt(int64(s.publicKey.E)).Bytes()
	n := s.publicKey.N.Bytes()

	return []map[string]any{
		{
			"kid": s.kid,
			"kty": "RSA",
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(n),
			"e":   base64.RawURLEncoding.EncodeToString(e),
		},
	}, nil
}

func parseRSAPrivate(raw string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, errors.New("invalid private PEM")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	keyAny, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := keyAny.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return key, nil
}

func parseRSAPublic(raw string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, errors.New("invalid public PEM")
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	keyAny, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := keyAny.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return key, nil
}
