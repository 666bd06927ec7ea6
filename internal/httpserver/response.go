package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/WeWatchWall/stark/internal/errkind"
)

// Respond writes v as a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("encoding JSON response", "error", err)
	}
}

// ErrorResponse is the standard JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RespondError writes a JSON error envelope with the given status code.
func RespondError(w http.ResponseWriter, status int, errStr, message string) {
	Respond(w, status, ErrorResponse{Error: errStr, Message: message})
}

// RespondErr writes a JSON error envelope, deriving the status code and the
// error token from err's errkind.Kind (defaulting to 500/internal when err
// wasn't classified by the component that returned it).
func RespondErr(w http.ResponseWriter, err error) {
	kind := errkind.KindOf(err)
	RespondError(w, errkind.HTTPStatus(kind), string(kind), err.Error())
}
