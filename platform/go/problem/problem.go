// Package problem renders RFC 7807 problem documents, the error shape every
// HTTP handler in this codebase responds with.
package problem

import (
	"encoding/json"
	"net/http"
)

// Details is an RFC 7807 problem document.
type Details struct {
	Type   string              `json:"type,omitempty"`
	Title  string              `json:"title"`
	Status int                 `json:"status"`
	Detail string              `json:"detail,omitempty"`
	Errors map[string][]string `json:"errors,omitempty"`
}

// Write renders the document with the problem+json content type. The encode
// error is unrecoverable after the header is written, so it is dropped.
func Write(w http.ResponseWriter, p Details) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}
