package domain

import "fmt"

// RunCaseError is the single failure category of case preparation and
// harvesting. Msg is meant for the user; Err, when set, is the underlying
// cause.
type RunCaseError struct {
	Msg string
	Err error
}

func (e *RunCaseError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *RunCaseError) Unwrap() error {
	return e.Err
}

func runCaseErrorf(format string, args ...interface{}) error {
	return &RunCaseError{Msg: fmt.Sprintf(format, args...)}
}

func wrapRunCaseError(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &RunCaseError{Msg: fmt.Sprintf(format, args...), Err: err}
}
