package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/gofiber/fiber/v2"
	"github.com/poiesic/boardmax/query"
)

type statusResponse struct {
	Status string `json:"status"`
	System string `json:"system"`
}

type healthResponse struct {
	Status    string   `json:"status"`
	Service   string   `json:"service"`
	Endpoints []string `json:"endpoints"`
	Subjects  []string `json:"subjects"`
}

func (s *Server) handleRoot(c *fiber.Ctx) error {
	return c.JSON(statusResponse{Status: "online", System: systemName})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(healthResponse{
		Status:    "healthy",
		Service:   serviceName,
		Endpoints: []string{"/api/ask", "/api/health"},
		Subjects:  s.asker.Subjects(),
	})
}

func (s *Server) handleAsk(c *fiber.Ctx) error {
	in, err := decodeInput(c.Body())
	if err != nil {
		return err
	}

	answer, err := s.asker.Ask(c.UserContext(), in)
	if err != nil {
		return err
	}
	return c.JSON(answer)
}

// decodeInput strictly decodes a request body: unknown fields, trailing
// data and non-object bodies are rejected.
func decodeInput(body []byte) (*query.Input, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &badRequestError{detail: "request body is required"}
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()

	var in query.Input
	if err := dec.Decode(&in); err != nil {
		return nil, &badRequestError{detail: describeDecodeError(err)}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &badRequestError{detail: "request body must contain a single JSON object"}
	}
	return &in, nil
}

func describeDecodeError(err error) string {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &syntaxErr):
		return fmt.Sprintf("malformed JSON at offset %d", syntaxErr.Offset)
	case errors.As(err, &typeErr):
		if typeErr.Field != "" {
			return fmt.Sprintf("field %q must be a %s", typeErr.Field, typeErr.Type)
		}
		return "request body must be a JSON object"
	case errors.Is(err, io.ErrUnexpectedEOF):
		return "malformed JSON: unexpected end of input"
	}
	// DisallowUnknownFields reports `json: unknown field "x"`
	return fmt.Sprintf("invalid request: %s", bytes.TrimPrefix([]byte(err.Error()), []byte("json: ")))
}
