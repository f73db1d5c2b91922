// Package request decodes HTTP request bodies and query parameters
package request

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// DefaultMaxBodySize bounds request bodies at 10MB
const DefaultMaxBodySize int64 = 10 << 20

// Parser handles parsing of HTTP request bodies
type Parser struct {
	maxBodySize int64
	strict      bool
}

// NewParser creates a parser. When strict is set, unknown JSON fields are rejected.
func NewParser(maxBodySize int64, strict bool) *Parser {
	if maxBodySize <= 0 {
		maxBodySize = DefaultMaxBodySize
	}
	return &Parser{maxBodySize: maxBodySize, strict: strict}
}

// ParseJSON parses a single JSON document from the request body
func (p *Parser) ParseJSON(w http.ResponseWriter, r *http.Request, target interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, p.maxBodySize)
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if p.strict {
		decoder.DisallowUnknownFields()
	}

	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is empty")
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if decoder.More() {
		return fmt.Errorf("request body contains multiple JSON objects")
	}
	return nil
}

// GetQueryParamInt gets a query parameter as integer
func GetQueryParamInt(r *http.Request, name string, defaultValue int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return i
}

// GetQueryParamBool gets a query parameter as boolean
func GetQueryParamBool(r *http.Request, name string, defaultValue bool) bool {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultValue
	}
	return b
}
