package errorsx

import (
	"errors"
	"fmt"
)

// reasoned is implemented by every error type that carries a ReasonCode.
type reasoned interface {
	ReasonCode() ReasonCode
}

// ReasonedError tags an error with a reason code for logs and metrics.
type ReasonedError struct {
	Err    error
	Reason ReasonCode
}

func (e ReasonedError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return e.Err.Error()
}

func (e ReasonedError) Unwrap() error         { return e.Err }
func (e ReasonedError) ReasonCode() ReasonCode { return e.Reason }

func (e *BackendError) ReasonCode() ReasonCode { return e.Reason }

// Wrap tags err with reason unless something in its chain already has one.
func Wrap(err error, reason ReasonCode) error {
	if err == nil || Reason(err) != ReasonUnknown {
		return err
	}
	return ReasonedError{Err: err, Reason: reason}
}

// Wrapf is Wrap over fmt.Errorf(format+": %w", args..., err).
func Wrapf(err error, reason ReasonCode, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Wrap(fmt.Errorf(format+": %w", append(args, err)...), reason)
}

// Reason returns the outermost reason code in err's chain.
func Reason(err error) ReasonCode {
	var r reasoned
	if errors.As(err, &r) && r.ReasonCode() != "" {
		return r.ReasonCode()
	}
	return ReasonUnknown
}

func HasReason(err error, reason ReasonCode) bool {
	return Reason(err) == reason
}
