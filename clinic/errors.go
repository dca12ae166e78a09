package clinic

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Category classifies a failed call for presentation.
type Category int

const (
	CategoryUnknown Category = iota
	// CategoryCredential is a 401 from the login endpoint.
	CategoryCredential
	// CategoryValidation is any other 4xx.
	CategoryValidation
	// CategoryServer is a 5xx.
	CategoryServer
	// CategoryNetwork means no response was received.
	CategoryNetwork
	// CategorySessionExpired is a 401 on an authenticated call that the
	// refresh flow could not recover.
	CategorySessionExpired
)

func (c Category) String() string {
	switch c {
	case CategoryCredential:
		return "credential"
	case CategoryValidation:
		return "validation"
	case CategoryServer:
		return "server"
	case CategoryNetwork:
		return "network"
	case CategorySessionExpired:
		return "session_expired"
	default:
		return "unknown"
	}
}

// Sentinel errors matched by errors.Is against an *APIError of the
// corresponding category.
var (
	ErrInvalidCredentials = errors.New("invalid phone number or password")
	ErrValidation         = errors.New("request rejected by clinic API")
	ErrServer             = errors.New("clinic API server error")
	ErrNetwork            = errors.New("clinic API unreachable")
	ErrSessionExpired     = errors.New("session expired")
	ErrUnknown            = errors.New("clinic API call failed")
)

// Refresh refusals. Both are treated as a failed refresh.
var (
	ErrRefreshCooldown  = errors.New("token refresh attempted too soon")
	ErrRefreshExhausted = errors.New("token refresh attempts exhausted")
)

const (
	msgCredential     = "Invalid phone number or password."
	msgValidation     = "Please check your input and try again."
	msgServer         = "Server error, please try again later."
	msgNetwork        = "Please check your internet connection."
	msgSessionExpired = "Your session has expired, please log in again."
	msgUnknown        = "Something went wrong, please try again."

	// maxServerMessageLen bounds server-provided messages shown to users.
	maxServerMessageLen = 120
)

// APIError describes a failed clinic API call.
type APIError struct {
	Category Category
	// Op is "METHOD /path".
	Op string
	// Status is the HTTP status, zero when no response arrived.
	Status int
	// Message is the server-provided message, if any.
	Message string
	Err     error
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString("clinic: ")
	b.WriteString(e.Op)
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	switch {
	case e.Message != "":
		b.WriteString(": ")
		b.WriteString(e.Message)
	case e.Err != nil:
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *APIError) Unwrap() error { return e.Err }

func (e *APIError) Is(target error) bool {
	return target == e.Category.sentinel()
}

func (c Category) sentinel() error {
	switch c {
	case CategoryCredential:
		return ErrInvalidCredentials
	case CategoryValidation:
		return ErrValidation
	case CategoryServer:
		return ErrServer
	case CategoryNetwork:
		return ErrNetwork
	case CategorySessionExpired:
		return ErrSessionExpired
	default:
		return ErrUnknown
	}
}

// UserMessage is the text a form should display for this error.
func (e *APIError) UserMessage() string {
	switch e.Category {
	case CategoryCredential:
		return msgCredential
	case CategoryValidation:
		if m := strings.TrimSpace(e.Message); m != "" && len(m) <= maxServerMessageLen {
			return m
		}
		return msgValidation
	case CategoryServer:
		return msgServer
	case CategoryNetwork:
		return msgNetwork
	case CategorySessionExpired:
		return msgSessionExpired
	default:
		return msgUnknown
	}
}

// UserMessage returns a user-legible message for any error returned by this
// package or by the session controller.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.UserMessage()
	}
	if errors.Is(err, ErrRefreshCooldown) || errors.Is(err, ErrRefreshExhausted) || errors.Is(err, ErrSessionExpired) {
		return msgSessionExpired
	}
	return msgUnknown
}

// statusCategory maps an HTTP error status to a Category. credentialOp is
// true for the login endpoint, where 401 means bad credentials.
func statusCategory(status int, credentialOp bool) Category {
	switch {
	case status == 401 && credentialOp:
		return CategoryCredential
	case status == 401:
		return CategorySessionExpired
	case status >= 400 && status < 500:
		return CategoryValidation
	case status >= 500:
		return CategoryServer
	default:
		return CategoryUnknown
	}
}

// serverMessage extracts {"message": ...} or {"error": ...} from an error body.
func serverMessage(body []byte) string {
	var eb struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &eb); err != nil {
		return ""
	}
	if eb.Message != "" {
		return eb.Message
	}
	return eb.Error
}
