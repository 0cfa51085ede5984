package httpx

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/forgeline/forgeline/internal/shared"
)

// ActorFrom returns the caller identity placed in context by the identity
// middleware.
func ActorFrom(r *http.Request) (shared.Actor, error) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok || !actor.Valid() {
		return shared.Actor{}, ErrUnauthorized
	}
	return actor, nil
}

// IDParam parses a positive int64 URL parameter.
func IDParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.Validation("invalid %s %q", name, raw)
	}
	return id, nil
}

// Decode reads a JSON body into target, reporting malformed payloads as
// validation failures.
func Decode(r *http.Request, target any) error {
	if err := DecodeJSON(r, target); err != nil {
		if errors.Is(err, io.EOF) {
			return shared.Validation("request body is required")
		}
		return shared.Validation("malformed request body: %v", err)
	}
	return nil
}

// QueryInt returns a positive integer query parameter or def.
func QueryInt(r *http.Request, name string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
