package shopify

import (
	"fmt"
	"strings"
)

// UserError is a business-level error returned inside a mutation payload.
type UserError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
	Code    string   `json:"code"`
}

// UserErrorsError wraps a non-empty userErrors array. It is recoverable at
// the item level; callers record it and continue with the next item.
type UserErrorsError struct {
	Errors []UserError
}

func (e *UserErrorsError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, ue := range e.Errors {
		if len(ue.Field) > 0 {
			parts = append(parts, fmt.Sprintf("%s: %s", strings.Join(ue.Field, "."), ue.Message))
		} else {
			parts = append(parts, ue.Message)
		}
	}
	return strings.Join(parts, "; ")
}

// IsDuplicate reports whether the failure means the resource already exists
// on the destination shop. The code check is authoritative; the message
// substrings cover older API versions that return no code.
func (e *UserErrorsError) IsDuplicate() bool {
	for _, ue := range e.Errors {
		switch strings.ToUpper(ue.Code) {
		case "TAKEN", "FILENAME_ALREADY_EXISTS", "KEY_TAKEN", "TYPE_TAKEN":
			return true
		}
		msg := strings.ToLower(ue.Message)
		if strings.Contains(msg, "already exists") ||
			strings.Contains(msg, "already in use") ||
			strings.Contains(msg, "has already been taken") ||
			strings.Contains(msg, "must be unique") {
			return true
		}
	}
	return false
}

// UserErrorsToError converts a userErrors array into an error, or nil when
// the array is empty.
func UserErrorsToError(errs []UserError) error {
	if len(errs) == 0 {
		return nil
	}
	return &UserErrorsError{Errors: errs}
}

// GraphQLError carries top-level errors from the response envelope. These are
// transport or query-validation failures and abort the current item.
type GraphQLError struct {
	Errors []ResponseError
}

func (e *GraphQLError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, re := range e.Errors {
		parts = append(parts, re.Message)
	}
	return "graphql: " + strings.Join(parts, "; ")
}

// AuthError means the access token was rejected by the shop. It is fatal for
// the whole run and must surface with a re-authentication hint.
type AuthError struct {
	Shop       string
	StatusCode int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("access token for %s rejected (HTTP %d), please re-enter credentials", e.Shop, e.StatusCode)
}
