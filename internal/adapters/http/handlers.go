package http

import (
	"net/http"
)

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeMessage(w, r, http.StatusOK, "ok")
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			logRejection(r.Context(), "readyz", http.StatusServiceUnavailable, "NOT_READY", err)
			writeError(w, r, http.StatusServiceUnavailable, "NOT_READY", "dependency unavailable")
			return
		}
	}
	writeMessage(w, r, http.StatusOK, "ready")
}

func (h *Handler) jwks(w http.ResponseWriter, r *http.Request) {
	signer := h.service.StatusSigner()
	if signer == nil {
		writeJSON(w, r, http.StatusOK, map[string]any{"keys": []any{}})
		return
	}
	keys, err := signer.PublicJWKs()
	if err != nil {
		h.writeMappedError(r.Context(), w, r, "jwks", err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, r, http.StatusOK, map[string]any{"keys": keys})
}
