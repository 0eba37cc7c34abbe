package fars

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Every error produced by the analysis that belongs
// to one of these kinds matches it with errors.Is.
var (
	ErrData             = errors.New("data error")
	ErrConvergence      = errors.New("convergence error")
	ErrDegenerateSample = errors.New("degenerate sample")
)

// DataError reports input data that cannot support the requested
// computation: an empty window, a missing column, an unknown covariate.
type DataError struct {
	Msg string
}

func (e *DataError) Error() string        { return "data error: " + e.Msg }
func (e *DataError) Is(target error) bool { return target == ErrData }

// Dataf builds a DataError from a format string.
func Dataf(format string, args ...interface{}) error {
	return &DataError{Msg: fmt.Sprintf(format, args...)}
}

// ConvergenceError reports an optimiser that stopped without reaching a
// stable maximum.
type ConvergenceError struct {
	Iterations int
	Status     string
	Err        error
}

func (e *ConvergenceError) Error() string {
	msg := fmt.Sprintf("convergence error: optimiser stopped after %d iterations (%s)", e.Iterations, e.Status)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConvergenceError) Is(target error) bool { return target == ErrConvergence }
func (e *ConvergenceError) Unwrap() error        { return e.Err }

// DegenerateSampleError reports a sample whose likelihood is undefined,
// typically because one driver-type group has no rows.
type DegenerateSampleError struct {
	Reason string
}

func (e *DegenerateSampleError) Error() string        { return "degenerate sample: " + e.Reason }
func (e *DegenerateSampleError) Is(target error) bool { return target == ErrDegenerateSample }
