package security

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"filippo.io/age"
	"github.com/RayanAndish/GoldACC-sub003/internal/ports"
	"github.com/RayanAndish/GoldACC-sub003/internal/secure"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretStoreDefaults(t *testing.T) {
	_, err := NewSecretStore("", 1000)
	require.Error(t, err)

	store, err := NewSecretStore("s3cret", 0)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", store.ProcessSecret())
	assert.Equal(t, secure.DefaultIterations, store.Iterations())
}

func TestLoadVaultSecretReadsKVv2Field(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/secret/data/license-activation" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("X-Vault-Token") != "root-token" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"errors":["permission denied"]}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"data":     map[string]any{"handshake_secret": "from-vault"},
				"metadata": map[string]any{"version": 3},
			},
		})
	}))
	defer srv.Close()

	cfg := VaultConfig{Address: srv.URL, Token: "root-token", Path: "secret/data/license-activation"}
	value, err := LoadVaultSecret(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "from-vault", value)

	cfg.Field = "missing"
	_, err = LoadVaultSecret(context.Background(), cfg)
	assert.Error(t, err)

	cfg.Field = ""
	cfg.Token = "wrong"
	_, err = LoadVaultSecret(context.Background(), cfg)
	assert.Error(t, err)

	cfg.Token = "root-token"
	cfg.Path = "secret/data/other"
	_, err = LoadVaultSecret(context.Background(), cfg)
	assert.Error(t, err)

	_, err = LoadVaultSecret(context.Background(), VaultConfig{})
	assert.Error(t, err)
}

func TestAgeSealerRoundTrip(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	sealer, err := NewAgeSealer(identity.String())
	require.NoError(t, err)

	sealed, err := sealer.Seal("api-secret-value")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "api-secret-value")

	opened, err := sealer.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "api-secret-value", opened)

	other, err := NewEphemeralAgeSealer()
	require.NoError(t, err)
	_, err = other.Open(sealed)
	assert.Error(t, err)

	_, err = sealer.Open("not base64!")
	assert.Error(t, err)
	_, err = NewAgeSealer("")
	assert.Error(t, err)
	_, err = NewAgeSealer("AGE-SECRET-KEY-INVALID")
	assert.Error(t, err)
}

func statusClaims(now time.Time) ports.StatusClaims {
	return ports.StatusClaims{
		LicenseID:   uuid.New(),
		SystemID:    uuid.New(),
		Status:      "active",
		LicenseType: "standard",
		Features:    []string{"inventory", "reports"},
		IssuedAt:    now,
		ExpiresAt:   now.Add(time.Hour),
	}
}

func TestJWTSignerRoundTrip(t *testing.T) {
	signer, err := NewEphemeralJWTSigner("status-key-1")
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	claims := statusClaims(now)
	token, err := signer.Sign(claims)
	require.NoError(t, err)

	parsed, err := signer.ParseAndValidate(token)
	require.NoError(t, err)
	assert.Equal(t, claims.LicenseID, parsed.LicenseID)
	assert.Equal(t, claims.SystemID, parsed.SystemID)
	assert.Equal(t, claims.Features, parsed.Features)
	assert.Equal(t, "standard", parsed.LicenseType)
	assert.Equal(t, "status-key-1", parsed.KeyID)
	assert.True(t, parsed.ExpiresAt.Equal(claims.ExpiresAt))

	jwks, err := signer.PublicJWKs()
	require.NoError(t, err)
	require.Len(t, jwks, 1)
	assert.Equal(t, "status-key-1", jwks[0]["kid"])
	assert.Equal(t, "RS256", jwks[0]["alg"])
}

func TestJWTSignerRejectsExpiredAndForeignTokens(t *testing.T) {
	signer, err := NewEphemeralJWTSigner("")
	require.NoError(t, err)
	other, err := NewEphemeralJWTSigner("other")
	require.NoError(t, err)

	expired := statusClaims(time.Now().UTC().Add(-2 * time.Hour))
	token, err := signer.Sign(expired)
	require.NoError(t, err)
	_, err = signer.ParseAndValidate(token)
	assert.Error(t, err)

	foreign, err := other.Sign(statusClaims(time.Now().UTC()))
	require.NoError(t, err)
	_, err = signer.ParseAndValidate(foreign)
	assert.Error(t, err)
}

func TestNewJWTSignerFromPEM(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	signer, err := NewJWTSigner("k1", string(privPEM), string(pubPEM))
	require.NoError(t, err)
	token, err := signer.Sign(statusClaims(time.Now().UTC()))
	require.NoError(t, err)
	_, err = signer.ParseAndValidate(token)
	require.NoError(t, err)

	_, err = NewJWTSigner("", string(privPEM), string(pubPEM))
	assert.Error(t, err)
	_, err = NewJWTSigner("k1", "garbage", string(pubPEM))
	assert.Error(t, err)
}
