package api

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/poiesic/boardmax/query"
)

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Detail string `json:"detail"`
}

// badRequestError reports a body that could not be decoded into a request.
type badRequestError struct {
	detail string
}

func (e *badRequestError) Error() string {
	return e.detail
}

// statusFor maps an error to its HTTP status and the detail shown to the client.
// 5xx details are generic and never carry the underlying error text.
func statusFor(err error) (int, string) {
	var (
		validationErr *query.ValidationError
		retrievalErr  *query.RetrievalError
		generationErr *query.GenerationError
		badRequest    *badRequestError
		fiberErr      *fiber.Error
	)

	switch {
	case errors.As(err, &validationErr):
		return fiber.StatusUnprocessableEntity, validationErr.Message
	case errors.As(err, &badRequest):
		return fiber.StatusBadRequest, badRequest.detail
	case errors.As(err, &retrievalErr):
		return fiber.StatusServiceUnavailable, retrievalErr.UserMessage()
	case errors.As(err, &generationErr):
		return fiber.StatusBadGateway, generationErr.UserMessage()
	case errors.As(err, &fiberErr) && fiberErr.Code < fiber.StatusInternalServerError:
		return fiberErr.Code, fiberErr.Message
	}
	return fiber.StatusInternalServerError, query.MsgInternal
}

// errorHandler is the fiber error handler. It writes {detail} bodies and logs
// server-side faults with their full error.
func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	status, detail := statusFor(err)

	level := slog.LevelInfo
	if status >= fiber.StatusInternalServerError {
		level = slog.LevelError
	}
	s.logger.Log(c.UserContext(), level, "request failed",
		"status", status,
		"method", c.Method(),
		"path", c.Path(),
		"request_id", requestID(c),
		"err", err)

	return c.Status(status).JSON(errorResponse{Detail: detail})
}
