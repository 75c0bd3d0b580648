package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

// Error codes surfaced to clients. Credential and token failures share one
// status so callers cannot distinguish unknown emails from wrong passwords.
const (
	codeInvalidCredentials = "INVALID_CREDENTIALS"
	codeInvalidToken       = "INVALID_TOKEN"
	codeNoRefresh          = "NO_REFRESH"
	codeTokenReuse         = "TOKEN_REUSE"
	codeNotAMember         = "NOT_A_MEMBER"
	codeEntitlementDenied  = "ENTITLEMENT_DENIED"
	codeLimitExceeded      = "LIMIT_EXCEEDED"
	codeAlreadyInitialized = "ALREADY_INITIALIZED"
	codeBadRequest         = "BAD_REQUEST"
	codeRateLimited        = "RATE_LIMITED"
	codeInternal           = "INTERNAL"
	codeTransientStorage   = "TRANSIENT_STORAGE_FAILURE"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	payload := map[string]any{
		"error": msg,
		"code":  code,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, status, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, codeBadRequest, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
