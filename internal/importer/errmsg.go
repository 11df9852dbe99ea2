// Package importer error message mapping.
//
// # Error Codes Reference
//
// Row failures and batch failures carry short codes users can quote to
// support staff:
//
//	DB001 - Duplicate: a language with this name or ISO code already exists
//	DB002 - Missing reference: a referenced record does not exist
//	DB003 - Connection: the data store could not be reached
//	DB004 - Timeout: the operation took too long
//	VAL001 - Single-value taxonomy mapped to multiple values
//	FILE001 - File too large
//	FILE002 - Missing required columns
//	FILE003 - Empty file
//	IMP001 - City not found
//	IMP002 - Too many concurrent imports
//	ERR000 - Unknown error (check server logs)
//
// Typed sentinel errors are matched first with errors.Is; free-text patterns
// are a fallback for driver errors that were not classified upstream.
package importer

import (
	"errors"
	"strings"
)

// UserMessage is a user-facing error with a support code.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

type sentinelMessage struct {
	err error
	msg UserMessage
}

var sentinelMessages = []sentinelMessage{
	{ErrDuplicate, UserMessage{
		Message: "A language with this name or ISO code already exists",
		Action:  "Remove the duplicate row or enable update-existing",
		Code:    "DB001",
	}},
	{ErrForeignKey, UserMessage{
		Message: "A referenced record does not exist",
		Action:  "Check the taxonomy mappings for this column",
		Code:    "DB002",
	}},
	{ErrCityNotFound, UserMessage{
		Message: "The target city no longer exists",
		Action:  "Reload the page and pick a city",
		Code:    "IMP001",
	}},
	{ErrTooManyImports, UserMessage{
		Message: "Too many imports are running right now",
		Action:  "Please wait a moment and try again",
		Code:    "IMP002",
	}},
	{ErrFileTooLarge, UserMessage{
		Message: "The file exceeds the size limit",
		Action:  "Split the file into smaller chunks",
		Code:    "FILE001",
	}},
	{ErrMissingColumns, UserMessage{
		Message: "Required columns are missing from the CSV header",
		Action:  "Download the template and match its headers",
		Code:    "FILE002",
	}},
	{ErrEmptyFile, UserMessage{
		Message: "The uploaded file is empty",
		Action:  "Upload a CSV file with data rows",
		Code:    "FILE003",
	}},
}

type patternMessage struct {
	pattern string
	msg     UserMessage
}

// Patterns are matched case-insensitively, first match wins; keep specific
// before general.
var patternMessages = []patternMessage{
	{"duplicate key", UserMessage{
		Message: "A record with this value already exists",
		Action:  "Check for duplicate entries in your CSV",
		Code:    "DB001",
	}},
	{"unique constraint", UserMessage{
		Message: "This value must be unique but already exists",
		Action:  "Check for duplicate entries in your CSV",
		Code:    "DB001",
	}},
	{"foreign key", UserMessage{
		Message: "A referenced record does not exist",
		Action:  "Check the taxonomy mappings for this column",
		Code:    "DB002",
	}},
	{"connection refused", UserMessage{
		Message: "Unable to reach the data store",
		Action:  "Please try again in a few moments",
		Code:    "DB003",
	}},
	{"connection reset", UserMessage{
		Message: "The data store connection was interrupted",
		Action:  "Please try again",
		Code:    "DB003",
	}},
	{"timeout", UserMessage{
		Message: "The operation timed out",
		Action:  "Try a smaller file or try again later",
		Code:    "DB004",
	}},
	{"context deadline exceeded", UserMessage{
		Message: "The operation timed out",
		Action:  "Try a smaller file or try again later",
		Code:    "DB004",
	}},
	{"allows a single value", UserMessage{
		Message: "A single-value taxonomy received more than one value",
		Action:  "Map only one column to this taxonomy type",
		Code:    "VAL001",
	}},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-facing message, preferring
// typed sentinels over pattern matching.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.err) {
			return sm.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, pm := range patternMessages {
		if strings.Contains(errStr, pm.pattern) {
			return pm.msg
		}
	}

	return defaultMessage
}

// FriendlyError formats an error for direct display:
// "Message (Code: XXX). Action".
func FriendlyError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return msg.Message + " (Code: " + msg.Code + "). " + msg.Action
}
