package server

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"log"
	"net/http"

	"github.com/pkg/errors"

	"github.com/ndlib/repod/repo"
)

// statusFor maps engine error kinds to status codes. Anything that is
// not a typed engine error is a server fault.
func statusFor(err error) int {
	var e *repo.Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case repo.KindNotFound:
		return http.StatusNotFound
	case repo.KindAlreadyExists,
		repo.KindConflict,
		repo.KindChecksumMismatch,
		repo.KindReferencedEntityNotFound:
		return http.StatusConflict
	case repo.KindInvalidArgument,
		repo.KindUnsupportedStorageClass:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Println("server error:", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, val interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(val)
}

// decodeJSON reads an optional JSON request body into v. An empty body
// leaves v untouched.
func decodeJSON(r *http.Request, v interface{}) error {
	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return repo.InvalidArgumentf("bad request body: %s", err)
	}
	return nil
}
