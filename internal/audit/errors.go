package audit

import (
	"errors"
	"fmt"
)

// Code classifies failures across the pipeline. Codes are part of the
// client-visible contract: polling surfaces the short error text plus the
// code of the failure that terminated the job.
type Code string

// Failure codes.
const (
	CodeNotFound             Code = "NotFound"
	CodeIllegalState         Code = "IllegalState"
	CodeCrawlFatal           Code = "CrawlFatal"
	CodeCrawlPartial         Code = "CrawlPartial"
	CodeLLMTransient         Code = "LLMTransient"
	CodeLLMPermanent         Code = "LLMPermanent"
	CodeParseFailed          Code = "ParseFailed"
	CodeInsufficientCoverage Code = "InsufficientCoverage"
	CodeDeadline             Code = "Deadline"
	CodeCancelled            Code = "Cancelled"
	CodePersistenceTransient Code = "PersistenceTransient"
	CodeConfigMissing        Code = "ConfigMissing"
)

// Error pairs a taxonomy code with an underlying cause.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a coded error with a formatted message.
func Errorf(code Code, format string, args ...any) error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to an underlying error.
func Wrap(code Code, msg string, err error) error {
	return &Error{Code: code, Msg: msg, Err: err}
}

// CodeOf extracts the taxonomy code from err, walking the wrap chain.
// It returns the empty code when err carries none.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
