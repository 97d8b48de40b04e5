package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 1 << 20

// errorBody is the JSON shape of every failed API response
type errorBody struct {
	StatusCode int    `json:"statusCode"`
	Status     string `json:"status"`
	Error      string `json:"error"`
}

// statusRecorder remembers the status code a handler wrote
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// statusClass buckets a status code into a low cardinality metric label
func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}

// writeJSON encodes v with the given status
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Warn("Failed to encode response")
	}
}

// decodeBody reads a JSON request body into v
func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// errorResponse returns a formatted error response
func (s *Server) errorResponse(w http.ResponseWriter, statusCode int, errorMsg string) {
	s.log.WithField("status", statusCode).Warn(errorMsg)

	writeJSON(w, statusCode, errorBody{
		StatusCode: statusCode,
		Status:     "error",
		Error:      errorMsg,
	})
}
