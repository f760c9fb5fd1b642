package cli

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/tuannm99/sealdb/internal/config"
	"github.com/tuannm99/sealdb/internal/dberr"
)

const (
	ExitCodeSuccess    = 0
	ExitCodeGeneric    = 1
	ExitCodeUsage      = 2
	ExitCodeNotFound   = 3
	ExitCodeBusy       = 4
	ExitCodeAuthFailed = 5
	ExitCodeIntegrity  = 6
	ExitCodeIO         = 7
)

type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *ExitError) ExitCode() int {
	if e == nil {
		return ExitCodeGeneric
	}
	return e.Code
}

func mapCommandError(err error) error {
	if err == nil {
		return nil
	}
	var withExit interface{ ExitCode() int }
	if errors.As(err, &withExit) {
		return err
	}
	code := ExitCodeGeneric
	switch {
	case errors.Is(err, config.ErrInvalidConfig):
		code = ExitCodeUsage
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, dberr.ErrNoSuchTable):
		code = ExitCodeNotFound
	case errors.Is(err, dberr.ErrBusy):
		code = ExitCodeBusy
	case errors.Is(err, dberr.ErrInvalidKey):
		code = ExitCodeAuthFailed
	case errors.Is(err, dberr.ErrIntegrity):
		code = ExitCodeIntegrity
	case errors.Is(err, dberr.ErrIO):
		code = ExitCodeIO
	}
	return &ExitError{Code: code, Err: err}
}

func usageErrorf(format string, args ...any) error {
	return &ExitError{Code: ExitCodeUsage, Err: fmt.Errorf(format, args...)}
}
