package engine

import (
	"errors"
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"

	"filterspec/internal/convert"
	"filterspec/internal/rule"
	"filterspec/internal/source"
	"filterspec/internal/store"
)

type AppError struct {
	Code    string        `json:"code"`
	Status  int           `json:"-"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

// HTTPStatus lets middleware see the status before the error handler runs.
func (e *AppError) HTTPStatus() int {
	return e.Status
}

type ErrorResponse struct {
	Error *AppError `json:"error"`
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

func BadRequestError(code, msg string) *AppError {
	return &AppError{Code: code, Status: 400, Message: msg}
}

func UnauthorizedError(msg string) *AppError {
	return &AppError{Code: "UNAUTHORIZED", Status: 401, Message: msg}
}

func ForbiddenError(msg string) *AppError {
	return &AppError{Code: "FORBIDDEN", Status: 403, Message: msg}
}

// filterError maps a resolution failure to a client error. Anything that is
// not the request's fault is returned unchanged.
func filterError(err error) error {
	var mismatch *convert.MismatchError
	if errors.As(err, &mismatch) {
		return &AppError{
			Code:    "INVALID_FILTER_VALUE",
			Status:  400,
			Message: err.Error(),
			Details: []ErrorDetail{{Rule: mismatch.Type.String(), Message: mismatch.Error()}},
		}
	}
	if errors.Is(err, source.ErrMalformedBody) || errors.Is(err, source.ErrCompositeValue) {
		return BadRequestError("INVALID_PAYLOAD", err.Error())
	}
	var cfgErr *rule.ConfigError
	if errors.As(err, &cfgErr) {
		return BadRequestError("INVALID_FILTER", err.Error())
	}
	return err
}

// queryError maps a store failure.
func queryError(s *store.Store, op string, err error) error {
	err = store.MapError(s.Dialect, err)
	if errors.Is(err, store.ErrUnknownRelation) {
		log.Printf("ERROR: %s: %v", op, err)
		return NewAppError("SCHEMA_MISMATCH", 500, "Filter definitions do not match the database schema")
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorHandler renders AppErrors as JSON and hides everything else behind a
// generic 500.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(ErrorResponse{
			Error: &AppError{Code: "HTTP_ERROR", Message: fiberErr.Message},
		})
	}

	log.Printf("ERROR: %v", err)
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
		Error: &AppError{
			Code:    "INTERNAL_ERROR",
			Message: "Internal server error",
		},
	})
}
