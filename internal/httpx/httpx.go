// Package httpx holds the JSON request and response helpers shared by the
// API handlers and middleware.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"dodns/internal/apperr"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error   string   `json:"error"`
	Partial bool     `json:"partial,omitempty"`
	Applied []string `json:"applied,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError renders err as the {"error": ...} envelope. Causes are logged,
// never sent to the client.
func WriteError(w http.ResponseWriter, log *logrus.Entry, err error) {
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Internal("Internal server error", err)
	}
	status := e.HTTPStatus()

	entry := log.WithFields(logrus.Fields{"kind": e.Kind.String(), "status": status})
	if e.Err != nil {
		entry = entry.WithError(e.Err)
	}
	switch {
	case status >= http.StatusInternalServerError:
		entry.Error(e.Message)
	case e.Kind == apperr.KindRateLimited:
		entry.Warn(e.Message)
	default:
		entry.Debug(e.Message)
	}

	body := errorBody{Error: e.Message}
	if e.Kind == apperr.KindPartial {
		body.Partial = true
		body.Applied = e.Applied
		if body.Applied == nil {
			body.Applied = []string{}
		}
	}
	WriteJSON(w, status, body)
}

// DecodeJSON reads a JSON body into v. An empty body leaves v untouched.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperr.Validation("Invalid JSON body: %v", err)
	}
	return nil
}

// NotFound is the JSON fallback for unknown API routes.
func NotFound(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, errorBody{Error: "Not found: " + r.URL.Path})
}
