package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rbaliyan/mailroute"
)

// ApiError is the body of every error response.
type ApiError struct {
	// Code is the HTTP status code
	Code int `json:"code"`
	// Message is the error message
	Message string `json:"message"`
}

// ApiErrorf aborts the request with code and a formatted message.
func ApiErrorf(c *gin.Context, code int, format string, args ...any) ApiError {
	ar := ApiError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
	c.AbortWithStatusJSON(code, ar)
	return ar
}

// ValidatorErrorToUser turns struct validation failures into one message.
func ValidatorErrorToUser(err validator.ValidationErrors) string {
	var errorMessages []string
	for _, err := range err {
		switch err.Tag() {
		case "required":
			errorMessages = append(errorMessages, fmt.Sprintf("%s is required", err.Field()))
		case "email":
			errorMessages = append(errorMessages, fmt.Sprintf("%s is not a valid email", err.Field()))
		case "gt":
			errorMessages = append(errorMessages, fmt.Sprintf("%s must be positive", err.Field()))
		case "gte":
			errorMessages = append(errorMessages, fmt.Sprintf("%s must not be negative", err.Field()))
		case "verdict":
			errorMessages = append(errorMessages, fmt.Sprintf("%s must be stage-priority or discard", err.Field()))
		default:
			errorMessages = append(errorMessages, fmt.Sprintf("validation failed on field %s", err.Field()))
		}
	}
	return strings.Join(errorMessages, ". ")
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	var pe *mailroute.PluginError
	switch {
	case errors.Is(err, mailroute.ErrInvalidMessage),
		errors.Is(err, mailroute.ErrInvalidUser),
		errors.Is(err, mailroute.ErrInvalidID):
		return http.StatusBadRequest
	case errors.Is(err, mailroute.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, mailroute.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, mailroute.ErrDuplicateEntry):
		return http.StatusConflict
	case errors.Is(err, mailroute.ErrUnknownUser), errors.As(err, &pe):
		return http.StatusUnprocessableEntity
	case errors.Is(err, mailroute.ErrArchiveFailed):
		return http.StatusBadGateway
	case errors.Is(err, mailroute.ErrNotConnected):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// engineError aborts the request with the status matching err. Server
// errors are logged and their details withheld.
func (s *Server) engineError(c *gin.Context, op string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", "op", op, "path", c.FullPath(), "error", err)
		ApiErrorf(c, code, "%s failed", op)
		return
	}
	ApiErrorf(c, code, "%s", err.Error())
}
