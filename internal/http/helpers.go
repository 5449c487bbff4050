package http

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/studysync/internal/actions"
	"github.com/mrlokans/studysync/internal/database"
	"github.com/mrlokans/studysync/internal/database/syncqueue"
)

// --- Response Types ---

// ErrorResponse is the standard error response format for all API errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"` // machine-readable error code
}

// SuccessResponse is a standard success response with optional data.
type SuccessResponse struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Machine-readable error codes.
const (
	CodeInvalidAction      = "invalid_action"
	CodeStorageFull        = "storage_full"
	CodeStorageUnavailable = "storage_unavailable"
	CodeDuplicateEntry     = "duplicate_entry"
	CodeNotCached          = "not_cached"
	CodeOffline            = "offline"
)

// --- Error Response Helpers ---

// respondBadRequest sends a 400 Bad Request response.
func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: message})
}

// respondNotFound sends a 404 Not Found response.
func respondNotFound(c *gin.Context, resource string) {
	c.JSON(http.StatusNotFound, ErrorResponse{Error: resource + " not found"})
}

// respondInternalError logs the error and sends a 500 Internal Server Error response.
// The actual error is logged but not exposed to the client.
func respondInternalError(c *gin.Context, err error, context string) {
	log.Printf("Internal error (%s): %v", context, err)
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
}

// respondError sends an error response with the given status code.
func respondError(c *gin.Context, status int, message, code string) {
	c.JSON(status, ErrorResponse{Error: message, Code: code})
}

// respondActionError maps the errors a recorded action can fail with.
func respondActionError(c *gin.Context, err error, context string) {
	switch {
	case errors.Is(err, actions.ErrInvalidAction):
		respondError(c, http.StatusUnprocessableEntity, err.Error(), CodeInvalidAction)
	case errors.Is(err, database.ErrStorageFull):
		respondError(c, http.StatusInsufficientStorage, "local storage is full", CodeStorageFull)
	case errors.Is(err, database.ErrStorageUnavailable):
		respondError(c, http.StatusServiceUnavailable, "local storage is unavailable", CodeStorageUnavailable)
	case errors.Is(err, syncqueue.ErrDuplicateEntry):
		respondError(c, http.StatusConflict, err.Error(), CodeDuplicateEntry)
	default:
		respondInternalError(c, err, context)
	}
}

// --- Success Response Helpers ---

// respondSuccess sends a 200 OK response with a message.
func respondSuccess(c *gin.Context, message string) {
	c.JSON(http.StatusOK, SuccessResponse{Message: message})
}

// respondCreated sends a 201 Created response with data.
func respondCreated(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, data)
}

// respondAccepted sends a 202 Accepted response (for async operations).
func respondAccepted(c *gin.Context, message string, data any) {
	c.JSON(http.StatusAccepted, SuccessResponse{Message: message, Data: data})
}

// --- Parameter Parsing ---

// parseLimitQuery reads an optional non-negative limit query parameter.
// Returns the parsed value or responds with a 400 error and returns 0, false.
func parseLimitQuery(c *gin.Context, def int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return def, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		respondBadRequest(c, "invalid limit")
		return 0, false
	}
	return limit, true
}
