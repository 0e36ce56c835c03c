package response

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response is the JSON envelope every API endpoint returns.
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// AppError carries the HTTP status and envelope code for a failure.
type AppError struct {
	HTTPStatus int
	Code       int
	Message    string
	Err        error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

func newAppError(status int, msg string) *AppError {
	return &AppError{HTTPStatus: status, Code: status, Message: msg}
}

func NewBadRequest(msg string) *AppError {
	return newAppError(http.StatusBadRequest, msg)
}

func NewNotFound(msg string) *AppError {
	return newAppError(http.StatusNotFound, msg)
}

func NewConflict(msg string) *AppError {
	return newAppError(http.StatusConflict, msg)
}

func NewTooManyRequests(msg string) *AppError {
	return newAppError(http.StatusTooManyRequests, msg)
}

// NewServerError wraps err; only msg is sent to the client.
func NewServerError(msg string, err error) *AppError {
	e := newAppError(http.StatusInternalServerError, msg)
	e.Err = err
	return e
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Code: 0, Message: "ok", Data: data})
}

// Accepted reports work that was queued rather than completed.
func Accepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, Response{Code: 0, Message: "accepted", Data: data})
}

// Error writes err as an envelope. Errors that are not *AppError become
// a generic 500 without leaking their text.
func Error(c *gin.Context, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.HTTPStatus, Response{Code: appErr.Code, Message: appErr.Message})
		return
	}
	c.JSON(http.StatusInternalServerError, Response{Code: 500, Message: "internal server error"})
}

func BadRequest(c *gin.Context, msg string) {
	Error(c, NewBadRequest(msg))
}

func NotFound(c *gin.Context, msg string) {
	Error(c, NewNotFound(msg))
}

func Conflict(c *gin.Context, msg string) {
	Error(c, NewConflict(msg))
}

func TooManyRequests(c *gin.Context, msg string) {
	Error(c, NewTooManyRequests(msg))
}

func ServerError(c *gin.Context, msg string) {
	c.JSON(http.StatusInternalServerError, Response{Code: 500, Message: msg})
}
