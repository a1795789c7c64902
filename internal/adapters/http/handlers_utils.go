package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

const maxBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON value")
	}
	return nil
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(remoteAddr))
	if err != nil {
		return strings.Trim(strings.TrimSpace(remoteAddr), "[]")
	}
	return host
}

func (h *Handler) trustedProxy(addr string) bool {
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return false
	}
	ip = ip.Unmap()
	for _, prefix := range h.trustedProxies {
		if prefix.Contains(ip) {
			return true
		}
	}
	return false
}

// clientAddr is the address the abuse guard keys on. X-Forwarded-For is read
// only when the peer is a trusted proxy, and then the rightmost untrusted hop
// is the client. Body-reported addresses never reach this value.
func (h *Handler) clientAddr(r *http.Request) string {
	addr := remoteHost(r.RemoteAddr)
	if !h.trustedProxy(addr) {
		return addr
	}
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if _, err := netip.ParseAddr(hop); err != nil {
			return addr
		}
		if !h.trustedProxy(hop) {
			return hop
		}
		addr = hop
	}
	return addr
}

// reportedIP keeps the body address as a stored attribute and falls back to
// the connection address when the client sent none.
func reportedIP(reported, clientAddr string) string {
	if strings.TrimSpace(reported) != "" {
		return reported
	}
	return clientAddr
}

func (h *Handler) writeMappedError(ctx context.Context, w http.ResponseWriter, r *http.Request, operation string, err error) {
	status, code, msg := mapDomainError(err)
	h.metrics.observeOutcome(operation, code)
	logRejection(ctx, operation, status, code, err)
	writeError(w, r, status, code, msg)
}

func (h *Handler) writeValidationError(ctx context.Context, w http.ResponseWriter, r *http.Request, operation string, err error) {
	code := "VALIDATION_ERROR"
	msg := err.Error()
	h.metrics.observeOutcome(operation, code)
	logRejection(ctx, operation, http.StatusUnprocessableEntity, code, err)
	writeError(w, r, http.StatusUnprocessableEntity, code, msg)
}

func (h *Handler) writeSuccess(w http.ResponseWriter, r *http.Request, operation string, statusCode int, payload any) {
	h.metrics.observeOutcome(operation, "SUCCESS")
	writeJSON(w, r, statusCode, payload)
}
