package core

// error_messages.go maps errors to user-friendly messages with codes for
// support reference. Users can quote the code to support staff.
//
// # CSV Errors (CSV001-CSV099)
//
//	CSV001 - Invalid CSV: The file contains malformed records
//	         Action: Fix unbalanced quotes in the listed rows and load again
//	         Matches: *LoadRejectedError, "invalid csv"
//
//	CSV002 - File too large: The file exceeds the size limit
//	         Action: Split the file into smaller files
//	         Matches: ErrFileTooLarge, "file too large"
//
//	CSV003 - No file: No file was provided
//	         Action: Choose a CSV file to load
//	         Matches: "no file provided"
//
// # Storage Errors (IO001-IO099)
//
//	IO001 - Permission denied: Access to the storage location was refused
//	        Action: Grant access to the folder and try again
//	        Matches: ErrPermissionDenied, "permission denied"
//
//	IO002 - Read failed: The file could not be read
//	        Action: Check that the file still exists and try again
//	        Matches: ErrReadFailure, "read failure"
//
//	IO003 - Write failed: The file could not be saved
//	        Action: Your edits are kept; try exporting again
//	        Matches: ErrWriteFailure, "write failure"
//
//	IO004 - Invalid handle: The document reference is not valid
//	        Action: Pick the file again from the document list
//	        Matches: ErrInvalidHandle, "invalid document handle"
//
// # Session Errors (SES001-SES099)
//
//	SES001 - Session not found: The editing session does not exist
//	         Action: The session may have expired. Start a new one
//	         Matches: ErrSessionNotFound
//
//	SES002 - No document: This action needs a loaded document
//	         Action: Load a CSV file first
//	         Matches: ErrPrecondition
//
//	SES003 - Busy: Another action on this session is still running
//	         Action: Wait for it to finish and try again
//	         Matches: ErrBusy
//
//	SES004 - Too many sessions: The server has reached its session limit
//	         Action: Close unused sessions or try again later
//	         Matches: ErrTooManySessions
//
//	SES005 - System busy: Too many file operations in progress
//	         Action: Please wait a moment and try again
//	         Matches: ErrTooManyOperations
//
// # Request Errors (UPL001-UPL099)
//
//	UPL001 - Request cancelled: Request was cancelled
//	         Matches: "context canceled"
//
//	UPL002 - Request timeout: Request timed out
//	         Matches: "context deadline exceeded"
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Rate limited: Too many requests
//	          Matches: "rate limit"
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Check the logs for the technical error.
//
// # Matching
//
// Sentinel errors are checked first with errors.Is/As, in the order above.
// Errors from outside the core (HTTP parsing, third-party libraries) fall back
// to case-insensitive substring patterns; the first match wins.

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

var (
	msgInvalidCSV = UserMessage{
		Message: "The file contains malformed records",
		Action:  "Fix unbalanced quotes in the listed rows and load again",
		Code:    "CSV001",
	}
	msgFileTooLarge = UserMessage{
		Message: "The file exceeds the size limit",
		Action:  "Split the file into smaller files",
		Code:    "CSV002",
	}
	msgNoFile = UserMessage{
		Message: "No file was provided",
		Action:  "Choose a CSV file to load",
		Code:    "CSV003",
	}
	msgPermissionDenied = UserMessage{
		Message: "Access to the storage location was refused",
		Action:  "Grant access to the folder and try again",
		Code:    "IO001",
	}
	msgReadFailure = UserMessage{
		Message: "The file could not be read",
		Action:  "Check that the file still exists and try again",
		Code:    "IO002",
	}
	msgWriteFailure = UserMessage{
		Message: "The file could not be saved",
		Action:  "Your edits are kept; try exporting again",
		Code:    "IO003",
	}
	msgInvalidHandle = UserMessage{
		Message: "The document reference is not valid",
		Action:  "Pick the file again from the document list",
		Code:    "IO004",
	}
	msgSessionNotFound = UserMessage{
		Message: "The editing session does not exist",
		Action:  "The session may have expired. Start a new one",
		Code:    "SES001",
	}
	msgPrecondition = UserMessage{
		Message: "This action needs a loaded document",
		Action:  "Load a CSV file first",
		Code:    "SES002",
	}
	msgBusy = UserMessage{
		Message: "Another action on this session is still running",
		Action:  "Wait for it to finish and try again",
		Code:    "SES003",
	}
	msgTooManySessions = UserMessage{
		Message: "The server has reached its session limit",
		Action:  "Close unused sessions or try again later",
		Code:    "SES004",
	}
	msgTooManyOperations = UserMessage{
		Message: "Too many file operations in progress",
		Action:  "Please wait a moment and try again",
		Code:    "SES005",
	}
	msgCancelled = UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "UPL001",
	}
	msgTimeout = UserMessage{
		Message: "Request timed out",
		Action:  "Try a smaller file or check your connection",
		Code:    "UPL002",
	}
	msgRateLimited = UserMessage{
		Message: "Too many requests",
		Action:  "Please wait a moment before trying again",
		Code:    "RATE001",
	}
)

// errorKinds maps sentinel errors to messages. Order matters: a permission
// failure is also a read or write failure, so it is checked first.
var errorKinds = []struct {
	target error
	msg    UserMessage
}{
	{ErrFileTooLarge, msgFileTooLarge},
	{ErrPermissionDenied, msgPermissionDenied},
	{ErrInvalidHandle, msgInvalidHandle},
	{ErrReadFailure, msgReadFailure},
	{ErrWriteFailure, msgWriteFailure},
	{ErrSessionNotFound, msgSessionNotFound},
	{ErrPrecondition, msgPrecondition},
	{ErrBusy, msgBusy},
	{ErrTooManySessions, msgTooManySessions},
	{ErrTooManyOperations, msgTooManyOperations},
	{context.Canceled, msgCancelled},
	{context.DeadlineExceeded, msgTimeout},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns catch errors that did not come from the core.
// Matched case-insensitively with strings.Contains; first match wins.
var errorPatterns = []errorPattern{
	{pattern: "invalid csv", msg: msgInvalidCSV},
	{pattern: "file too large", msg: msgFileTooLarge},
	{pattern: "request body too large", msg: msgFileTooLarge},
	{pattern: "no file provided", msg: msgNoFile},
	{pattern: "permission denied", msg: msgPermissionDenied},
	{pattern: "context canceled", msg: msgCancelled},
	{pattern: "context deadline exceeded", msg: msgTimeout},
	{pattern: "rate limit", msg: msgRateLimited},
}

// defaultMessage is used when no pattern matches.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts an error to a user-friendly message.
// Returns an empty UserMessage for nil.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var rejected *LoadRejectedError
	if errors.As(err, &rejected) {
		return msgInvalidCSV
	}

	for _, k := range errorKinds {
		if errors.Is(err, k.target) {
			return k.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError returns a formatted error string suitable for display.
// Format: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the default.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError wraps a technical error with its user-facing message.
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

// NewUserError wraps err with its mapped message. Returns nil for nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
