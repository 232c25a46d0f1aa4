// Package validation provides input validation middleware for the API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 10000

// MaxCreditUIDLength bounds the :credit_uid URL parameter
const MaxCreditUIDLength = 128

// creditUIDRegex validates credit identifiers (document ids from the
// originating credit store: letters, digits, dash, underscore)
var creditUIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidCreditUID checks if a string is a well-formed credit identifier
func IsValidCreditUID(uid string) bool {
	if uid == "" || len(uid) > MaxCreditUIDLength {
		return false
	}
	return creditUIDRegex.MatchString(uid)
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	// Trim whitespace
	s = strings.TrimSpace(s)

	// Limit length
	if len(s) > maxLen {
		s = s[:maxLen]
	}

	// Remove null bytes
	s = strings.ReplaceAll(s, "\x00", "")

	return s
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// CreditUIDParamMiddleware validates the :credit_uid URL parameter on routes
// that use it. Rejects malformed identifiers before any upstream lookup.
func CreditUIDParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.Param("credit_uid")
		if uid != "" && !IsValidCreditUID(uid) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_credit_uid",
				"message": "credit_uid must be 1-128 characters of [A-Za-z0-9_-]",
			})
			return
		}
		c.Next()
	}
}
