package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"bunnyup/forms"

	"github.com/samber/lo"
)

// Error is a failure reported by the hosted backend. PostgREST fills Code,
// Message, Details and Hint; the auth API reports msg/error_description which
// end up in Message.
type Error struct {
	Status  int
	Code    string
	Message string
	Details string
	Hint    string
}

// errorBody covers both the PostgREST and the auth API error shapes. The auth
// API sends a numeric code.
type errorBody struct {
	Code             json.RawMessage `json:"code"`
	ErrorCode        string          `json:"error_code"`
	Message          string          `json:"message"`
	Details          string          `json:"details"`
	Hint             string          `json:"hint"`
	Msg              string          `json:"msg"`
	ErrorDescription string          `json:"error_description"`
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("backend error %d (%s): %s", e.Status, e.Code, msg)
	}
	return fmt.Sprintf("backend error %d: %s", e.Status, msg)
}

// codeNoRows is returned when a single-row lookup matches nothing
const codeNoRows = "PGRST116"

// IsNotFound reports whether err is a single-row lookup that matched nothing
func IsNotFound(err error) bool {
	var berr *Error
	if !errors.As(err, &berr) {
		return false
	}
	return berr.Code == codeNoRows || berr.Status == http.StatusNotFound
}

func decodeError(status int, body []byte) *Error {
	e := &Error{Status: status}

	var wire errorBody
	if err := json.Unmarshal(body, &wire); err != nil {
		e.Message = strings.TrimSpace(string(body))
		return e
	}

	e.Code = wire.ErrorCode
	if e.Code == "" && len(wire.Code) > 0 {
		var code string
		if json.Unmarshal(wire.Code, &code) == nil {
			e.Code = code
		}
	}
	e.Message = lo.CoalesceOrEmpty(wire.Message, wire.Msg, wire.ErrorDescription)
	e.Details = wire.Details
	e.Hint = wire.Hint
	return e
}

// UserMessage returns the text to show for a failed operation: the backend's
// own message or the validation failure when there is one, fallback otherwise
func UserMessage(err error, fallback string) string {
	if err == nil {
		return ""
	}
	var verr *forms.ValidationError
	if errors.As(err, &verr) {
		return verr.Error()
	}
	var berr *Error
	if errors.As(err, &berr) && berr.Message != "" {
		return berr.Message
	}
	return fallback
}
