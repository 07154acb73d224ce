package scan

import (
	"errors"
	"strings"
)

// Category classifies scan errors for callers that map them onto transport
// status codes. Error messages never contain credentials or payload bytes.
type Category string

const (
	CategoryInvalidRequest Category = "INVALID_REQUEST"
	CategoryAuth           Category = "AUTH_ERROR"
	CategoryConnect        Category = "CONNECT_ERROR"
	CategorySearch         Category = "SEARCH_ERROR"
	CategoryFetch          Category = "FETCH_ERROR"
	CategoryNotFound       Category = "NOT_FOUND"
	CategoryDownload       Category = "DOWNLOAD_FAILED"
	CategoryInternal       Category = "INTERNAL_ERROR"
)

// Error is a categorized scan error.
type Error struct {
	Category Category
	Message  string
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a categorized error without a cause.
func NewError(category Category, message string) *Error {
	return &Error{Category: category, Message: message}
}

// WrapError creates a categorized error wrapping a cause.
func WrapError(category Category, message string, err error) *Error {
	return &Error{Category: category, Message: message, Err: err}
}

// CategoryOf extracts the category of an error, or CategoryInternal when the
// error carries none.
func CategoryOf(err error) Category {
	var scanErr *Error
	if errors.As(err, &scanErr) {
		return scanErr.Category
	}
	return CategoryInternal
}

// authFailureMarkers are substrings that identify a rejected credential (or a
// required app-specific password) in server failure text. Matching is
// case-insensitive.
var authFailureMarkers = []string{
	"authenticationfailed",
	"authentication failed",
	"invalid credentials",
	"login failed",
	"application-specific password",
	"app password",
	"username and password not accepted",
}

// ClassifyLoginError distinguishes a credential rejection from a transport
// failure by inspecting the underlying failure text.
func ClassifyLoginError(err error) *Error {
	text := strings.ToLower(err.Error())
	for _, marker := range authFailureMarkers {
		if strings.Contains(text, marker) {
			return WrapError(CategoryAuth, "mail server rejected the credentials", err)
		}
	}
	return WrapError(CategoryConnect, "login did not complete", err)
}
