// Package core provides the import and reconciliation engine.
//
// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support reference.
// An import summary never lists per-row errors; when a whole import fails the
// user sees one of these messages and can quote the code to support staff.
//
// Error codes are grouped by category:
//
// # Source Errors (SRC001-SRC099)
//
// Errors raised while obtaining the row set. Any of these aborts the import
// and nothing is merged:
//
//	SRC001 - File too large: File exceeds the maximum upload size
//	         Action: Split the file into smaller chunks
//	         Patterns: "file too large"
//
//	SRC002 - No file: No file was selected
//	         Action: Please select a CSV or XLSX file to import
//	         Patterns: "no file provided"
//
//	SRC003 - Empty file: The file has no header row
//	         Action: Please upload a file with a header row and data rows
//	         Patterns: "empty file"
//
//	SRC004 - Unsupported file: The file type is not supported
//	         Action: Save the file as .csv or .xlsx
//	         Patterns: "unsupported file type"
//
//	SRC005 - Invalid CSV: File is not a valid CSV
//	         Action: Ensure file is comma-separated with consistent quoting
//	         Patterns: "invalid csv"
//
//	SRC006 - Invalid workbook: The spreadsheet could not be opened
//	         Action: Re-save the workbook and try again
//	         Patterns: "invalid workbook"
//
//	SRC007 - Remote list error: The remote list could not be read
//	         Action: Check the list address and try again
//	         Patterns: "remote list"
//
//	SRC008 - Source unavailable: The rows could not be read
//	         Action: Check the file or connection and try again
//	         Patterns: "source unavailable"
//
// # Sink Errors (SINK001-SINK099)
//
// Errors raised while writing reconciled records. Writes already made are
// kept:
//
//	SINK001 - Connection refused: Unable to connect to the record store
//	          Action: Please try again in a few moments
//	          Patterns: "connection refused"
//
//	SINK002 - Deadlock: The record store was busy with conflicting operations
//	          Action: Please try again
//	          Patterns: "deadlock"
//
//	SINK003 - Sink unavailable: Some records could not be saved
//	          Action: Re-run the import; saved records will be updated, not duplicated
//	          Patterns: "sink unavailable"
//
// # Mapping Errors (MAP001-MAP099)
//
//	MAP001 - Mapping not found: No saved column mapping for this source
//	         Action: Run auto-map or save a mapping first
//	         Patterns: "mapping not found"
//
//	MAP002 - Unknown field: The mapping names a field this kind does not have
//	         Action: Check the field names in the mapping
//	         Patterns: "unknown field"
//
//	MAP003 - Row unmappable: A row could not be turned into a record
//	         Action: Check that the name or title column is mapped
//	         Patterns: "row unmappable"
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - Unknown kind: The record kind is not supported
//	         Action: Use one of: project, ticket, lead, purchase
//	         Patterns: "unknown kind"
//
//	IMP002 - Import running: Another import of this kind is in progress
//	         Action: Wait for it to finish and try again
//	         Patterns: "import already running"
//
// # Upload Errors (UPL001-UPL099)
//
//	UPL001 - System busy: Too many imports in progress
//	         Action: Please wait a moment and try again
//	         Patterns: "too many concurrent imports"
//
//	UPL002 - Request cancelled: Request was cancelled
//	         Action: Please try again
//	         Patterns: "context canceled"
//
//	UPL003 - Request timeout: Request timed out
//	         Action: Try importing a smaller file or check your connection
//	         Patterns: "context deadline exceeded", "timeout"
//
//	UPL004 - Rate limited: Too many requests
//	         Action: Please wait a moment before trying again
//	         Patterns: "rate limit"
//
//	REQ001 - Invalid request: The request could not be read
//	         Action: Check the request fields and try again
//	         Patterns: "invalid request"
//
// # Default Error (ERR000)
//
// Fallback when no specific pattern matches:
//
//	ERR000 - Unknown error: An unexpected error occurred
//	         Action: Please try again or contact support
//
// # Pattern Matching
//
// Error patterns are matched case-insensitively using strings.Contains.
// The first matching pattern wins, so more specific patterns are defined
// before general ones. A SourceError reads "source unavailable: <name>: <cause>",
// so a specific cause such as "empty file" is reported ahead of SRC008.
package core

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
// The first matching pattern wins, so order matters.
var errorPatterns = []errorPattern{
	// =========================================================================
	// Source Errors (SRC001-SRC008)
	// =========================================================================
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds the maximum upload size",
			Action:  "Split the file into smaller chunks",
			Code:    "SRC001",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a CSV or XLSX file to import",
			Code:    "SRC002",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The file has no header row",
			Action:  "Please upload a file with a header row and data rows",
			Code:    "SRC003",
		},
	},
	{
		pattern: "unsupported file type",
		msg: UserMessage{
			Message: "The file type is not supported",
			Action:  "Save the file as .csv or .xlsx",
			Code:    "SRC004",
		},
	},
	{
		pattern: "invalid csv",
		msg: UserMessage{
			Message: "File is not a valid CSV",
			Action:  "Ensure file is comma-separated with consistent quoting",
			Code:    "SRC005",
		},
	},
	{
		pattern: "invalid workbook",
		msg: UserMessage{
			Message: "The spreadsheet could not be opened",
			Action:  "Re-save the workbook and try again",
			Code:    "SRC006",
		},
	},
	{
		pattern: "remote list",
		msg: UserMessage{
			Message: "The remote list could not be read",
			Action:  "Check the list address and try again",
			Code:    "SRC007",
		},
	},
	{
		pattern: "source unavailable",
		msg: UserMessage{
			Message: "The rows could not be read",
			Action:  "Check the file or connection and try again",
			Code:    "SRC008",
		},
	},

	// =========================================================================
	// Sink Errors (SINK001-SINK003)
	// =========================================================================
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to the record store",
			Action:  "Please try again in a few moments",
			Code:    "SINK001",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "The record store was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "SINK002",
		},
	},
	{
		pattern: "sink unavailable",
		msg: UserMessage{
			Message: "Some records could not be saved",
			Action:  "Re-run the import; saved records will be updated, not duplicated",
			Code:    "SINK003",
		},
	},

	// =========================================================================
	// Mapping Errors (MAP001-MAP003)
	// =========================================================================
	{
		pattern: "mapping not found",
		msg: UserMessage{
			Message: "No saved column mapping for this source",
			Action:  "Run auto-map or save a mapping first",
			Code:    "MAP001",
		},
	},
	{
		pattern: "unknown field",
		msg: UserMessage{
			Message: "The mapping names a field this kind does not have",
			Action:  "Check the field names in the mapping",
			Code:    "MAP002",
		},
	},
	{
		pattern: "row unmappable",
		msg: UserMessage{
			Message: "A row could not be turned into a record",
			Action:  "Check that the name or title column is mapped",
			Code:    "MAP003",
		},
	},

	// =========================================================================
	// Import Errors (IMP001-IMP002)
	// =========================================================================
	{
		pattern: "unknown kind",
		msg: UserMessage{
			Message: "The record kind is not supported",
			Action:  "Use one of: project, ticket, lead, purchase",
			Code:    "IMP001",
		},
	},
	{
		pattern: "import already running",
		msg: UserMessage{
			Message: "Another import of this kind is in progress",
			Action:  "Wait for it to finish and try again",
			Code:    "IMP002",
		},
	},

	// =========================================================================
	// Upload Errors (UPL001-UPL004)
	// =========================================================================
	{
		pattern: "too many concurrent imports",
		msg: UserMessage{
			Message: "System is busy processing other imports",
			Action:  "Please wait a moment and try again",
			Code:    "UPL001",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "UPL002",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try importing a smaller file or check your connection",
			Code:    "UPL003",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try importing a smaller file or check your connection",
			Code:    "UPL003",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "UPL004",
		},
	},
	{
		pattern: "invalid request",
		msg: UserMessage{
			Message: "The request could not be read",
			Action:  "Check the request fields and try again",
			Code:    "REQ001",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
// Support staff should check application logs for the original technical
// error when users report ERR000.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// It searches through known error patterns (case-insensitive) and returns
// the first match. If no pattern matches, a generic fallback message with
// code ERR000 is returned.
//
// Example:
//
//	err := &SourceError{Source: "orders.csv", Err: ErrEmptySource}
//	msg := MapError(err)
//	// msg.Code == "SRC003"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a specific pattern rather than
// the generic ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-friendly message.
// The original error is preserved for logging.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps a technical error to a UserError.
// Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
