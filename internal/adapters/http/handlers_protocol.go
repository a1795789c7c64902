package http

import (
	"net/http"

	"github.com/RayanAndish/GoldACC-sub003/internal/application"
)

func (h *Handler) handshakeNonce(w http.ResponseWriter, r *http.Request) {
	const op = "handshake_nonce"
	var req application.HandshakeNonceRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeValidationError(r.Context(), w, r, op, err)
		return
	}
	req.ClientAddr = h.clientAddr(r)
	req.IP = reportedIP(req.IP, req.ClientAddr)
	resp, err := h.service.IssueHandshakeNonce(r.Context(), req)
	if err != nil {
		h.writeMappedError(r.Context(), w, r, op, err)
		return
	}
	h.writeSuccess(w, r, op, http.StatusOK, resp)
}

func (h *Handler) handshakeInitiate(w http.ResponseWriter, r *http.Request) {
	const op = "handshake_initiate"
	var req application.HandshakeRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeValidationError(r.Context(), w, r, op, err)
		return
	}
	req.ClientAddr = h.clientAddr(r)
	req.IP = reportedIP(req.IP, req.ClientAddr)
	resp, err := h.service.InitiateHandshake(r.Context(), req)
	if err != nil {
		h.writeMappedError(r.Context(), w, r, op, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	h.writeSuccess(w, r, op, http.StatusCreated, resp)
}

func (h *Handler) activationInitiate(w http.ResponseWriter, r *http.Request) {
	const op = "activation_initiate"
	var req application.ActivationInitiateRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeValidationError(r.Context(), w, r, op, err)
		return
	}
	req.ClientAddr = h.clientAddr(r)
	req.IP = reportedIP(req.IP, req.ClientAddr)
	resp, err := h.service.InitiateActivation(r.Context(), req)
	if err != nil {
		h.writeMappedError(r.Context(), w, r, op, err)
		return
	}
	h.writeSuccess(w, r, op, http.StatusOK, resp)
}

func (h *Handler) activationComplete(w http.ResponseWriter, r *http.Request) {
	const op = "activation_complete"
	var req application.ActivationCompleteRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeValidationError(r.Context(), w, r, op, err)
		return
	}
	req.ClientAddr = h.clientAddr(r)
	resp, err := h.service.CompleteActivation(r.Context(), req)
	if err != nil {
		h.writeMappedError(r.Context(), w, r, op, err)
		return
	}
	h.writeSuccess(w, r, op, http.StatusOK, resp)
}

func (h *Handler) licenseStatus(w http.ResponseWriter, r *http.Request) {
	const op = "license_status"
	system, ok := systemFromContext(r.Context())
	if !ok {
		h.writeMappedError(r.Context(), w, r, op, errMissingSystem)
		return
	}
	resp, err := h.service.GetStatus(r.Context(), system, r.Header.Get(headerClientVersion))
	if err != nil {
		h.writeMappedError(r.Context(), w, r, op, err)
		return
	}
	h.writeSuccess(w, r, op, http.StatusOK, resp)
}

func (h *Handler) requestCode(w http.ResponseWriter, r *http.Request) {
	const op = "license_request_code"
	system, ok := systemFromContext(r.Context())
	if !ok {
		h.writeMappedError(r.Context(), w, r, op, errMissingSystem)
		return
	}
	var req application.RequestCodeRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeValidationError(r.Context(), w, r, op, err)
		return
	}
	resp, err := h.service.IssueRequestCode(r.Context(), system, req)
	if err != nil {
		h.writeMappedError(r.Context(), w, r, op, err)
		return
	}
	h.writeSuccess(w, r, op, http.StatusOK, resp)
}

func (h *Handler) licenseActivate(w http.ResponseWriter, r *http.Request) {
	const op = "license_activate"
	system, ok := systemFromContext(r.Context())
	if !ok {
		h.writeMappedError(r.Context(), w, r, op, errMissingSystem)
		return
	}
	var req application.ActivateLicenseRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeValidationError(r.Context(), w, r, op, err)
		return
	}
	req.ClientAddr = h.clientAddr(r)
	resp, err := h.service.ActivateLicense(r.Context(), system, req)
	if err != nil {
		h.writeMappedError(r.Context(), w, r, op, err)
		return
	}
	h.writeSuccess(w, r, op, http.StatusOK, resp)
}
