package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/marketcart/internal/cart"
	"github.com/roach88/marketcart/internal/checkout"
)

// Exit codes.
const (
	ExitFailure      = 1 // a scenario failed, or a change was applied but not saved
	ExitCommandError = 2 // bad arguments, invalid config, refused input
)

// Error codes reported when a command refuses its input.
const (
	CodeInvalidItem = "invalid_item"
	CodeEmptyCart   = "empty_cart"
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError creates an ExitError around err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns the exit code carried by err, or ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter prints command results as text or JSON.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // diagnostics; keeps JSON on Writer parseable
	Verbose   bool
}

// CLIResponse is the JSON envelope of every command result.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Notice string    `json:"notice,omitempty"` // set when the store was not updated
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError describes refused input.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// textWriter is implemented by payloads with their own text rendering.
type textWriter interface {
	WriteText(w io.Writer) error
}

// Success prints data.
func (f *OutputFormatter) Success(data any) error {
	return f.SuccessWithNotice(data, "")
}

// SuccessWithNotice prints data followed by notice, if any.
func (f *OutputFormatter) SuccessWithNotice(data any, notice string) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data, Notice: notice})
	}

	if t, ok := data.(textWriter); ok {
		if err := t.WriteText(f.Writer); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(f.Writer, data)
	}
	if notice != "" {
		fmt.Fprintf(f.Writer, "Notice: %s\n", notice)
	}
	return nil
}

// Error prints a refusal with its code.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Outcome prints the result of an operation that may have changed the cart
// and returns the command's error.
//
// Refused input prints its error code and exits 2. A change that was applied
// but not saved prints data with the not-saved notice and exits 1. what
// names the operation in the returned error.
func (f *OutputFormatter) Outcome(data any, err error, what string) error {
	switch {
	case err == nil:
		return f.Success(data)
	case errors.Is(err, cart.ErrInvalidItem):
		_ = f.Error(CodeInvalidItem, err.Error(), nil)
		return WrapExitError(ExitCommandError, what+" refused", err)
	case errors.Is(err, checkout.ErrEmptyCart):
		_ = f.Error(CodeEmptyCart, err.Error(), nil)
		return WrapExitError(ExitCommandError, what+" refused", err)
	case noticeFor(err) != "":
		if outErr := f.SuccessWithNotice(data, noticeFor(err)); outErr != nil {
			return outErr
		}
		return WrapExitError(ExitFailure, what+" not persisted", err)
	default:
		return WrapExitError(ExitFailure, what+" failed", err)
	}
}

// VerboseLog prints a diagnostic line when verbose output is on.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}
