package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sanitized error codes surfaced to callers.
const (
	CodeTimeout    = "TIMEOUT"
	CodeNotFound   = "404"
	CodeBadRequest = "400"
)

// Error is the backend error shape. Code carries either the original backend
// code or one of the sanitized codes above.
type Error struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Details  string `json:"details,omitempty"`
	Hint     string `json:"hint,omitempty"`
	Original string `json:"original_code,omitempty"`
	Status   int    `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return "backend: <nil>"
	}
	if e.Original != "" && e.Original != e.Code {
		return fmt.Sprintf("backend: %s (%s): %s", e.Code, e.Original, e.Message)
	}
	return fmt.Sprintf("backend: %s: %s", e.Code, e.Message)
}

// Codes that mean the function or relation does not exist.
var notFoundCodes = map[string]struct{}{
	"PGRST202": {},
	"PGRST205": {},
	"42883":    {},
	"42P01":    {},
}

// Codes that mean the call does not match the backend schema.
var badRequestCodes = map[string]struct{}{
	"PGRST100": {},
	"PGRST200": {},
	"PGRST204": {},
	"42703":    {},
	"42804":    {},
	"22P02":    {},
}

// Sanitize collapses known backend codes into the generic 404/400/TIMEOUT
// shape. Unknown errors pass through unchanged.
func Sanitize(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: CodeTimeout, Message: "request timed out", Status: http.StatusGatewayTimeout}
	}
	var be *Error
	if !errors.As(err, &be) {
		return err
	}
	switch be.Code {
	case CodeTimeout, CodeNotFound, CodeBadRequest:
		return be
	}
	if _, ok := notFoundCodes[be.Code]; ok {
		return &Error{Code: CodeNotFound, Message: be.Message, Details: be.Details, Hint: be.Hint, Original: be.Code, Status: http.StatusNotFound}
	}
	if _, ok := badRequestCodes[be.Code]; ok {
		return &Error{Code: CodeBadRequest, Message: be.Message, Details: be.Details, Hint: be.Hint, Original: be.Code, Status: http.StatusBadRequest}
	}
	if be.Code == "" && be.Status == http.StatusNotFound {
		return &Error{Code: CodeNotFound, Message: be.Message, Status: http.StatusNotFound}
	}
	return be
}

// IsNotFound reports whether err is a sanitized not-found error.
func IsNotFound(err error) bool {
	return CodeOf(err) == CodeNotFound
}

// IsTimeout reports whether err is a sanitized timeout.
func IsTimeout(err error) bool {
	return CodeOf(err) == CodeTimeout
}

// IsBadRequest reports whether err is a sanitized schema mismatch.
func IsBadRequest(err error) bool {
	return CodeOf(err) == CodeBadRequest
}

// CodeOf returns the backend code carried by err, or "".
func CodeOf(err error) string {
	var be *Error
	if errors.As(err, &be) && be != nil {
		return be.Code
	}
	return ""
}

func parseError(body []byte, status int) error {
	var payload struct {
		Code             json.RawMessage `json:"code"`
		Message          string          `json:"message"`
		Details          string          `json:"details"`
		Hint             string          `json:"hint"`
		Error            string          `json:"error"`
		ErrorDescription string          `json:"error_description"`
		Msg              string          `json:"msg"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return &Error{Code: "", Message: strings.TrimSpace(string(body)), Status: status}
	}
	msg := payload.Message
	for _, alt := range []string{payload.Msg, payload.ErrorDescription, payload.Error} {
		if msg == "" {
			msg = alt
		}
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	code := strings.Trim(string(payload.Code), `"`)
	if code == "null" {
		code = ""
	}
	return &Error{
		Code:    code,
		Message: msg,
		Details: payload.Details,
		Hint:    payload.Hint,
		Status:  status,
	}
}
