// pkg/faults/faults.go
package faults

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable identifier for a failure cause. Codes are part of the API
// surface: clients and tests match on them, so they never change meaning.
type Code string

const (
	InputInvalid    Code = "input_invalid"
	AuthMissing     Code = "auth_missing"
	AuthInvalid     Code = "auth_invalid"
	RoleDenied      Code = "role_denied"
	TenantUnknown   Code = "tenant_unknown"
	NoKnowledge     Code = "knowledge_missing"
	EndpointMissing Code = "endpoint_missing"
	DecisionParse   Code = "decision_unparseable"
	AudienceBad     Code = "audience_mismatch"
	Internal        Code = "internal"
)

var statusByCode = map[Code]int{
	InputInvalid:    http.StatusBadRequest,
	AuthMissing:     http.StatusUnauthorized,
	AuthInvalid:     http.StatusUnauthorized,
	RoleDenied:      http.StatusForbidden,
	TenantUnknown:   http.StatusNotFound,
	NoKnowledge:     http.StatusNotFound,
	EndpointMissing: http.StatusBadRequest,
	DecisionParse:   http.StatusBadGateway,
	AudienceBad:     http.StatusUnauthorized,
	Internal:        http.StatusInternalServerError,
}

// Fault is an error with a stable code and a caller-safe message.
// Wrapped causes are for operator logs only and are never serialized.
type Fault struct {
	Code    Code
	Message string
	cause   error
}

func (f *Fault) Error() string {
	if f.cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Code, f.Message, f.cause)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

func (f *Fault) Unwrap() error { return f.cause }

// New builds a fault with a caller-safe message.
func New(code Code, msg string) *Fault { return &Fault{Code: code, Message: msg} }

// Wrap attaches an underlying cause. The cause stays out of the HTTP envelope.
func Wrap(code Code, msg string, cause error) *Fault {
	return &Fault{Code: code, Message: msg, cause: cause}
}

// CodeOf extracts the fault code from err, or Internal for unanticipated errors.
func CodeOf(err error) Code {
	var f *Fault
	if errors.As(err, &f) {
		return f.Code
	}
	return Internal
}

// StatusOf maps err to its HTTP status.
func StatusOf(err error) int {
	if s, ok := statusByCode[CodeOf(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

type envelope struct {
	Status string `json:"status"`
	Code   Code   `json:"code"`
	Error  string `json:"error"`
}

// WriteHTTP renders err as the uniform envelope {"status":"failed","error":...}.
// Internal faults leak no detail to the caller.
func WriteHTTP(w http.ResponseWriter, err error) {
	code := CodeOf(err)
	msg := "internal error"
	var f *Fault
	if errors.As(err, &f) && code != Internal {
		msg = f.Message
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusOf(err))
	_ = json.NewEncoder(w).Encode(envelope{Status: "failed", Code: code, Error: msg})
}
