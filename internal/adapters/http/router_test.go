package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strconv"
	"testing"
	"time"

	"github.com/RayanAndish/GoldACC-sub003/internal/adapters/memory"
	"github.com/RayanAndish/GoldACC-sub003/internal/adapters/security"
	"github.com/RayanAndish/GoldACC-sub003/internal/application"
	"github.com/RayanAndish/GoldACC-sub003/internal/domain"
	"github.com/RayanAndish/GoldACC-sub003/internal/secure"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "http-test-secret"

type testServer struct {
	router  http.Handler
	service *application.Service
	signer  *security.JWTSigner
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	secrets, err := security.NewSecretStore(testSecret, 1000)
	require.NoError(t, err)
	sealer, err := security.NewEphemeralAgeSealer()
	require.NoError(t, err)
	signer, err := security.NewEphemeralJWTSigner("test-key")
	require.NoError(t, err)

	store := memory.NewStore()
	svc := application.NewService(application.Dependencies{
		Config:       application.DefaultConfig(),
		Systems:      store.Systems(),
		Licenses:     store.Licenses(),
		Challenges:   memory.NewChallengeStore(nil),
		Abuse:        memory.NewAbuseStore(nil),
		Secrets:      secrets,
		Sealer:       sealer,
		StatusSigner: signer,
	})
	return &testServer{router: NewRouter(NewHandler(svc, opts)), service: svc, signer: signer}
}

func (s *testServer) do(t *testing.T, method, path, ip string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var raw []byte
	switch v := body.(type) {
	case nil:
	case string:
		raw = []byte(v)
	default:
		var err error
		raw, err = json.Marshal(v)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if ip != "" {
		req.RemoteAddr = net.JoinHostPort(ip, "40000")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type creds struct {
	systemID  uuid.UUID
	apiKey    string
	apiSecret string
	hmacSalt  string
}

func (s *testServer) register(t *testing.T, domainName, hardwareID, ip string) creds {
	t.Helper()
	clientNonce := "client-nonce-" + uuid.NewString()
	rec := s.do(t, http.MethodPost, "/handshake/nonce", ip, map[string]string{
		"domain": domainName, "hardwareId": hardwareID, "clientNonce": clientNonce,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	nonce := decode[application.HandshakeNonceResponse](t, rec)

	rec = s.do(t, http.MethodPost, "/handshake/initiate", ip, map[string]string{
		"domain":      domainName,
		"hardwareId":  hardwareID,
		"clientNonce": clientNonce,
		"serverNonce": nonce.ServerNonce,
		"challenge":   secure.HMACSHA3512(clientNonce+nonce.ServerNonce, testSecret),
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	resp := decode[application.HandshakeResponse](t, rec)
	part := func(name string) string {
		seg := resp.HandshakeMap[name]
		return resp.HandshakeString[seg.Offset : seg.Offset+seg.Length]
	}
	return creds{systemID: resp.SystemID, apiKey: part("apiKey"), apiSecret: part("apiSecret"), hmacSalt: part("hmacSalt")}
}

func signedHeaders(c creds, method, path string, body []byte) map[string]string {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	return map[string]string{
		headerAPIKey:    c.apiKey,
		headerTimestamp: ts,
		headerSignature: secure.RequestSignature(method, path, ts, body, c.hmacSalt, c.apiSecret),
	}
}

func (s *testServer) signed(t *testing.T, c creds, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}
	headers := signedHeaders(c, method, path, raw)
	headers[headerClientVersion] = "2.4.1"
	if raw == nil {
		return s.do(t, method, path, "", nil, headers)
	}
	return s.do(t, method, path, "", string(raw), headers)
}

func (s *testServer) issue(t *testing.T, systemID *uuid.UUID) application.IssueLicenseResponse {
	t.Helper()
	resp, err := s.service.IssueLicense(context.Background(), application.IssueLicenseRequest{
		CustomerID:  "customer-1",
		SystemID:    systemID,
		LicenseType: "standard",
		Features:    []string{"inventory"},
	})
	require.NoError(t, err)
	return resp
}

func TestPrimaryActivationFlowOverHTTP(t *testing.T) {
	s := newTestServer(t, Options{})
	const ip = "198.51.100.10"
	c := s.register(t, "https://www.shop.example/", "hw-1", ip)
	lic := s.issue(t, &c.systemID)

	rec := s.signed(t, c, http.MethodGet, "/license/status", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	status := decode[application.StatusResponse](t, rec)
	assert.True(t, status.IsActive)

	rayID := "ray-" + uuid.NewString()
	rec = s.do(t, http.MethodPost, "/activation/initiate", ip, map[string]string{"domain": "shop.example", "rayId": rayID}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	init := decode[application.ActivationInitiateResponse](t, rec)

	complete := map[string]string{
		"hardwareId":  "hw-1",
		"domain":      "shop.example",
		"serverNonce": init.ServerNonce,
		"requestCode": secure.HMACSHA256("hw-1"+"shop.example"+init.ServerNonce, init.RequestCodeSalt),
		"rayId":       rayID,
		"licenseKey":  lic.LicenseKey,
	}
	rec = s.do(t, http.MethodPost, "/activation/complete", ip, complete, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	activated := decode[application.ActivationResponse](t, rec)
	assert.Equal(t, lic.LicenseKeyDisplay, activated.LicenseKeyDisplay)
	assert.Equal(t, []string{"inventory"}, activated.Features)

	rec = s.do(t, http.MethodPost, "/activation/complete", ip, complete, nil)
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, "CHALLENGE_EXPIRED", decode[apiError](t, rec).Code)

	rec = s.signed(t, c, http.MethodGet, "/license/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status = decode[application.StatusResponse](t, rec)
	assert.Equal(t, "active", status.Status)
	require.NotEmpty(t, status.Token)
	claims, err := s.signer.ParseAndValidate(status.Token)
	require.NoError(t, err)
	assert.Equal(t, c.systemID, claims.SystemID)
	assert.Equal(t, lic.LicenseID, claims.LicenseID)
}

func TestAlternateActivationFlowOverHTTP(t *testing.T) {
	s := newTestServer(t, Options{})
	c := s.register(t, "alt.example", "hw-alt", "198.51.100.20")
	lic := s.issue(t, nil)

	rec := s.signed(t, c, http.MethodGet, "/license/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.StatusUnlicensed, decode[application.StatusResponse](t, rec).Status)

	rec = s.signed(t, c, http.MethodPost, "/license/request-code", map[string]string{"hardwareId": "hw-other"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.signed(t, c, http.MethodPost, "/license/request-code", map[string]string{"hardwareId": "hw-alt"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	code := decode[application.RequestCodeResponse](t, rec)

	rec = s.signed(t, c, http.MethodPost, "/license/activate", map[string]string{
		"licenseKey":  lic.LicenseKey,
		"requestCode": code.RequestCode,
		"hardwareId":  "hw-alt",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, c.systemID, decode[application.ActivationResponse](t, rec).SystemID)
}

func TestSignedRoutesRejectBadSignatures(t *testing.T) {
	s := newTestServer(t, Options{})
	c := s.register(t, "auth.example", "hw-auth", "198.51.100.30")

	rec := s.do(t, http.MethodGet, "/license/status", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	headers := signedHeaders(c, http.MethodGet, "/license/status", nil)
	headers[headerSignature] = secure.HMACSHA256("forged", "key")
	rec = s.do(t, http.MethodGet, "/license/status", "", nil, headers)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decode[apiError](t, rec).Code)

	headers = signedHeaders(c, http.MethodPost, "/license/request-code", []byte(`{"hardwareId":"hw-auth"}`))
	rec = s.do(t, http.MethodPost, "/license/request-code", "", `{"hardwareId":"tampered"}`, headers)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	stale := strconv.FormatInt(time.Now().Add(-10*time.Minute).Unix(), 10)
	rec = s.do(t, http.MethodGet, "/license/status", "", nil, map[string]string{
		headerAPIKey:    c.apiKey,
		headerTimestamp: stale,
		headerSignature: secure.RequestSignature(http.MethodGet, "/license/status", stale, nil, c.hmacSalt, c.apiSecret),
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtocolErrorsMapToStatusCodes(t *testing.T) {
	s := newTestServer(t, Options{})

	rec := s.do(t, http.MethodPost, "/activation/initiate", "198.51.100.40", map[string]string{"domain": "unknown.example", "rayId": "ray-12345678"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "DOMAIN_NOT_REGISTERED", decode[apiError](t, rec).Code)

	rec = s.do(t, http.MethodPost, "/activation/initiate", "198.51.100.40", `{"domain":`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode[apiError](t, rec)
	assert.Equal(t, "error", body.Status)
	assert.Equal(t, "VALIDATION_ERROR", body.Code)

	rec = s.do(t, http.MethodPost, "/activation/initiate", "198.51.100.40", map[string]string{"domain": "x.example"}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(t, http.MethodPost, "/handshake/initiate", "198.51.100.41", map[string]string{
		"domain": "x.example", "hardwareId": "hw", "clientNonce": "never-issued-nonce-1",
		"serverNonce": "s", "challenge": "abcd",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "CHALLENGE_INVALID", decode[apiError](t, rec).Code)
}

func TestPerIPRateLimitReturns429(t *testing.T) {
	s := newTestServer(t, Options{})
	const ip = "198.51.100.50"
	for i := 0; i < 5; i++ {
		rec := s.do(t, http.MethodPost, "/activation/initiate", ip, map[string]string{"domain": "none.example", "rayId": fmt.Sprintf("ray-%08d", i)}, nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	}
	rec := s.do(t, http.MethodPost, "/activation/initiate", ip, map[string]string{"domain": "none.example", "rayId": "ray-00000099"}, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", decode[apiError](t, rec).Code)
}

func TestRateLimitIgnoresReportedAddresses(t *testing.T) {
	s := newTestServer(t, Options{})
	const peer = "198.51.100.51"
	for i := 0; i < 5; i++ {
		spoofed := fmt.Sprintf("192.0.2.%d", i+10)
		rec := s.do(t, http.MethodPost, "/activation/initiate", peer,
			map[string]string{"domain": "none.example", "ip": spoofed, "rayId": fmt.Sprintf("ray-%08d", i)},
			map[string]string{"X-Forwarded-For": spoofed})
		require.Equal(t, http.StatusNotFound, rec.Code)
	}
	rec := s.do(t, http.MethodPost, "/activation/initiate", peer,
		map[string]string{"domain": "none.example", "ip": "192.0.2.99", "rayId": "ray-00000099"},
		map[string]string{"X-Forwarded-For": "192.0.2.99"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestFailedCompletionsFlagConnectionAddress(t *testing.T) {
	s := newTestServer(t, Options{})
	c := s.register(t, "guard.example", "hw-guard", "198.51.100.80")
	lic := s.issue(t, &c.systemID)

	const peer = "198.51.100.81"
	rayID := "ray-" + uuid.NewString()
	rec := s.do(t, http.MethodPost, "/activation/initiate", peer,
		map[string]string{"domain": "guard.example", "ip": "192.0.2.1", "rayId": rayID},
		map[string]string{"X-Forwarded-For": "192.0.2.1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	init := decode[application.ActivationInitiateResponse](t, rec)

	bad := map[string]string{
		"hardwareId":  "hw-guard",
		"domain":      "guard.example",
		"serverNonce": init.ServerNonce,
		"requestCode": secure.HMACSHA256("wrong", "salt"),
		"rayId":       rayID,
		"licenseKey":  lic.LicenseKey,
	}
	for i := 0; i < 6; i++ {
		rec = s.do(t, http.MethodPost, "/activation/complete", peer, bad,
			map[string]string{"X-Forwarded-For": fmt.Sprintf("192.0.2.%d", i+20)})
		require.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d", i)
	}

	withIP := map[string]string{"ip": "192.0.2.50"}
	for k, v := range bad {
		withIP[k] = v
	}
	rec = s.do(t, http.MethodPost, "/activation/complete", peer, withIP, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(t, http.MethodPost, "/activation/initiate", peer,
		map[string]string{"domain": "guard.example", "ip": "192.0.2.60", "rayId": "ray-" + uuid.NewString()},
		map[string]string{"X-Forwarded-For": "192.0.2.60"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", decode[apiError](t, rec).Code)
}

func TestClientAddrHonoursOnlyTrustedProxies(t *testing.T) {
	h := NewHandler(nil, Options{TrustedProxies: []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}})
	cases := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{"direct peer ignores header", "198.51.100.90:5000", "203.0.113.9", "198.51.100.90"},
		{"trusted proxy forwards client", "10.0.0.5:5000", "203.0.113.9", "203.0.113.9"},
		{"spoofed leftmost hop is skipped", "10.0.0.5:5000", "1.1.1.1, 203.0.113.9, 10.0.0.7", "203.0.113.9"},
		{"garbage hop stops the walk", "10.0.0.5:5000", "203.0.113.9, not-an-ip", "10.0.0.5"},
		{"trusted proxy without header", "10.0.0.5:5000", "", "10.0.0.5"},
		{"ipv6 peer", "[2001:db8::1]:443", "203.0.113.9", "2001:db8::1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			assert.Equal(t, tc.want, h.clientAddr(req))
		})
	}
}

func TestGlobalLimiterShedsLoad(t *testing.T) {
	s := newTestServer(t, Options{GlobalRPS: 0.001, GlobalBurst: 1})
	first := s.do(t, http.MethodPost, "/activation/initiate", "198.51.100.60", map[string]string{"domain": "none.example", "rayId": "ray-00000001"}, nil)
	assert.Equal(t, http.StatusNotFound, first.Code)
	second := s.do(t, http.MethodPost, "/activation/initiate", "198.51.100.61", map[string]string{"domain": "none.example", "rayId": "ray-00000002"}, nil)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)

	health := s.do(t, http.MethodGet, "/healthz", "", nil, nil)
	assert.Equal(t, http.StatusOK, health.Code)
}

func TestOperationalEndpoints(t *testing.T) {
	s := newTestServer(t, Options{Ready: func(context.Context) error { return errors.New("redis down") }})

	rec := s.do(t, http.MethodGet, "/healthz", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = s.do(t, http.MethodGet, "/readyz", "", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = s.do(t, http.MethodGet, "/.well-known/jwks.json", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	jwks := decode[map[string][]map[string]any](t, rec)
	require.Len(t, jwks["keys"], 1)
	assert.Equal(t, "test-key", jwks["keys"][0]["kid"])

	rec = s.do(t, http.MethodGet, "/docs/openapi.yaml", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/activation/complete")
	rec = s.do(t, http.MethodGet, "/docs", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), docsDocumentPath)

	s.do(t, http.MethodPost, "/activation/initiate", "198.51.100.70", map[string]string{"domain": "none.example", "rayId": "ray-00000001"}, nil)
	rec = s.do(t, http.MethodGet, "/metrics", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `license_activation_protocol_outcomes_total{code="DOMAIN_NOT_REGISTERED",operation="activation_initiate"} 1`)
	assert.Contains(t, rec.Body.String(), `route="/activation/initiate"`)
}

func TestMapDomainError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: field domain", domain.ErrInvalidInput), http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{domain.ErrChallengeInvalid, http.StatusUnauthorized, "CHALLENGE_INVALID"},
		{domain.ErrChallengeExpired, http.StatusGone, "CHALLENGE_EXPIRED"},
		{domain.ErrIdentityMismatch, http.StatusForbidden, "IDENTITY_MISMATCH"},
		{domain.ErrDomainMismatch, http.StatusForbidden, "DOMAIN_MISMATCH"},
		{domain.ErrInvalidRequestCode, http.StatusUnauthorized, "INVALID_REQUEST_CODE"},
		{domain.ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED"},
		{domain.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
		{domain.ErrDomainNotRegistered, http.StatusNotFound, "DOMAIN_NOT_REGISTERED"},
		{domain.ErrLicenseNotFound, http.StatusNotFound, "LICENSE_NOT_FOUND"},
		{domain.ErrAlreadyActivated, http.StatusConflict, "ALREADY_ACTIVATED"},
		{domain.ErrLicenseExpired, http.StatusForbidden, "LICENSE_EXPIRED"},
		{domain.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED"},
		{domain.ErrConflict, http.StatusConflict, "CONFLICT"},
		{fmt.Errorf("%w: db down", domain.ErrInternal), http.StatusInternalServerError, "INTERNAL_ERROR"},
		{errors.New("unexpected"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tc := range cases {
		status, code, _ := mapDomainError(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}
