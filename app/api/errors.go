package api

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"docrag/types"
)

func ErrorHandler(c *fiber.Ctx, err error) error {
	var (
		apiErr   Error
		valErr   ValidationError
		fiberErr *fiber.Error
	)
	switch {
	case errors.As(err, &valErr):
		return c.Status(valErr.Status).JSON(valErr)
	case errors.As(err, &apiErr):
	case errors.As(err, &fiberErr):
		apiErr = NewError(fiberErr.Code, fiberErr.Message)
	default:
		apiErr = FromError(err)
	}

	if apiErr.Code >= fiber.StatusInternalServerError {
		slog.Error("request failed",
			"method", c.Method(),
			"path", c.Path(),
			"code", apiErr.Code,
			"error", err)
	}
	return c.Status(apiErr.Code).JSON(apiErr)
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
}

type ValidationError struct {
	Status int               `json:"status"`
	Errors map[string]string `json:"errors"`
}

func (e ValidationError) Error() string {
	return "validation failed"
}

func NewValidationError(errors map[string]string) ValidationError {
	return ValidationError{
		Status: fiber.StatusUnprocessableEntity,
		Errors: errors,
	}
}

// Error implements the Error interface
func (e Error) Error() string {
	return e.Message
}

func NewError(code int, err string) Error {
	return Error{
		Code:    code,
		Message: err,
	}
}

func ErrBadRequest() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "invalid JSON request",
	}
}

func ErrNotReady() Error {
	return Error{
		Code:    fiber.StatusServiceUnavailable,
		Message: "RAG pipeline is not ready yet",
	}
}

// FromError maps pipeline errors to HTTP errors. Unknown errors become a
// 500 without leaking their text.
func FromError(err error) Error {
	switch {
	case errors.Is(err, types.ErrNotReady),
		errors.Is(err, types.ErrIndexNotFound),
		errors.Is(err, types.ErrIndexUnavailable):
		return ErrNotReady()
	case errors.Is(err, types.ErrGenerationTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return NewError(fiber.StatusGatewayTimeout, "answer generation timed out")
	case errors.Is(err, types.ErrGenerationFailed):
		return NewError(fiber.StatusBadGateway, "answer generation failed")
	case errors.Is(err, types.ErrEmbeddingMismatch):
		return NewError(fiber.StatusConflict, "index was built with a different embedding configuration")
	default:
		return NewError(fiber.StatusInternalServerError, "internal server error")
	}
}
