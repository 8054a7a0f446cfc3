// Package errors provides the error taxonomy and warning system for pglsum.
//
// Every constructor attaches a stack trace through cockroachdb/errors so that
// fatal configuration, shape and placement failures can be traced back to the
// build or training step that produced them.
package errors

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// ===========================================================================
//
//	Warning handling
//
// ===========================================================================
var (
	warningMutex   sync.Mutex
	warningHandler = func(w error) {
		log.Printf("pglsum-Warning: %v\n", w)
	}
	// set lazily by pkg/log to avoid an import cycle
	zerologWarnFunc func(warning error)
)

// SetWarningHandler replaces the fallback handler used by Warn.
func SetWarningHandler(handler func(w error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	warningHandler = handler
}

// SetZerologWarnFunc installs the structured warning sink.
func SetZerologWarnFunc(warnFunc func(warning error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	zerologWarnFunc = warnFunc
}

// Warn emits a warning. The zerolog sink takes precedence over the fallback
// handler when both are set.
func Warn(w error) {
	warningMutex.Lock()
	defer warningMutex.Unlock()

	if zerologWarnFunc != nil {
		zerologWarnFunc(w)
		return
	}
	if warningHandler != nil {
		warningHandler(w)
	}
}

// ShortEpochWarning reports videos dropped from an epoch because they did not
// fill a whole batch.
type ShortEpochWarning struct {
	Epoch     int
	Available int
	BatchSize int
	Dropped   int
}

func (w *ShortEpochWarning) Error() string {
	return fmt.Sprintf("epoch %d: %d of %d videos dropped (batch size %d)",
		w.Epoch, w.Dropped, w.Available, w.BatchSize)
}

// MarshalZerologObject adds the warning fields to a zerolog event.
func (w *ShortEpochWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Int("epoch", w.Epoch).
		Int("available", w.Available).
		Int("batch_size", w.BatchSize).
		Int("dropped", w.Dropped).
		Str("type", "ShortEpochWarning")
}

// NewShortEpochWarning returns nil when no video is dropped.
func NewShortEpochWarning(epoch, available, batchSize int) *ShortEpochWarning {
	if batchSize <= 0 {
		return nil
	}
	dropped := available % batchSize
	if dropped == 0 {
		return nil
	}
	return &ShortEpochWarning{Epoch: epoch, Available: available, BatchSize: batchSize, Dropped: dropped}
}

// ===========================================================================
//
//	Structured errors
//
// ===========================================================================

// NotBuiltError is returned when training or evaluation is attempted before
// the solver has been built.
type NotBuiltError struct {
	Component string
	Method    string
}

func (e *NotBuiltError) Error() string {
	return fmt.Sprintf("pglsum: %s: not built yet. Call Build() before %s()", e.Component, e.Method)
}

// MarshalZerologObject adds the error fields to a zerolog event.
func (e *NotBuiltError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("component", e.Component).
		Str("method", e.Method).
		Str("type", "NotBuiltError")
}

// NewNotBuiltError creates a NotBuiltError with a stack trace.
func NewNotBuiltError(component, method string) error {
	return errors.WithStack(&NotBuiltError{Component: component, Method: method})
}

// DimensionError reports a size mismatch along one axis.
type DimensionError struct {
	Op       string
	Expected int
	Got      int
	Axis     int // 0 for rows/frames, 1 for columns/features
}

func (e *DimensionError) Error() string {
	axisName := "features"
	if e.Axis == 0 {
		axisName = "rows"
	}
	return fmt.Sprintf("pglsum: %s: dimension mismatch on axis %d (%s). Expected %d, got %d", e.Op, e.Axis, axisName, e.Expected, e.Got)
}

// MarshalZerologObject adds the error fields to a zerolog event.
func (e *DimensionError) MarshalZerologObject(event *zerolog.Event) {
	axisName := "features"
	if e.Axis == 0 {
		axisName = "rows"
	}
	event.Str("operation", e.Op).
		Int("expected", e.Expected).
		Int("got", e.Got).
		Int("axis", e.Axis).
		Str("axis_name", axisName).
		Str("type", "DimensionError")
}

// NewDimensionError creates a DimensionError with a stack trace.
func NewDimensionError(op string, expected, got, axis int) error {
	return errors.WithStack(&DimensionError{Op: op, Expected: expected, Got: got, Axis: axis})
}

// ValidationError is a configuration error: an unknown initialization policy,
// a non-positive batch size and so on. Always fatal.
type ValidationError struct {
	ParamName string
	Reason    string
	Value     interface{}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("pglsum: validation failed for parameter '%s': %s (got: %v)", e.ParamName, e.Reason, e.Value)
}

// MarshalZerologObject adds the error fields to a zerolog event.
func (e *ValidationError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("param_name", e.ParamName).
		Str("reason", e.Reason).
		Interface("value", e.Value).
		Str("type", "ValidationError")
}

// NewValidationError creates a ValidationError with a stack trace.
func NewValidationError(param, reason string, value interface{}) error {
	return errors.WithStack(&ValidationError{ParamName: param, Reason: reason, Value: value})
}

// DeviceError reports an impossible placement: an unsupported compute device
// at build time, or a tensor living on a different device than the model.
type DeviceError struct {
	Requested string
	Available []string
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("pglsum: device %q is not available (available: %v)", e.Requested, e.Available)
}

// MarshalZerologObject adds the error fields to a zerolog event.
func (e *DeviceError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("requested", e.Requested).
		Strs("available", e.Available).
		Str("type", "DeviceError")
}

// NewDeviceError creates a DeviceError with a stack trace.
func NewDeviceError(requested string, available []string) error {
	return errors.WithStack(&DeviceError{Requested: requested, Available: available})
}

// ModelError wraps a failure raised by the summarization model.
type ModelError struct {
	Op   string
	Kind string
	Err  error
}

func (e *ModelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pglsum: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("pglsum: %s: %s", e.Op, e.Kind)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// NewModelError creates a ModelError with a stack trace.
func NewModelError(op, kind string, err error) error {
	return errors.WithStack(&ModelError{Op: op, Kind: kind, Err: err})
}

// NumericalInstabilityError reports NaN or Inf values in a training or
// evaluation quantity, such as a diverged batch loss.
type NumericalInstabilityError struct {
	Operation string
	Values    []float64
	Epoch     int
}

func (e *NumericalInstabilityError) Error() string {
	shown := e.Values
	suffix := ""
	if len(shown) > 5 {
		shown, suffix = shown[:5], ", ..."
	}
	parts := make([]string, len(shown))
	for i, v := range shown {
		parts[i] = fmt.Sprintf("%.6g", v)
	}
	return fmt.Sprintf("pglsum: %s is not finite in epoch %d: [%s%s]",
		e.Operation, e.Epoch, strings.Join(parts, ", "), suffix)
}

// MarshalZerologObject adds the error fields to a zerolog event.
func (e *NumericalInstabilityError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Operation).
		Int("epoch", e.Epoch).
		Int("values", len(e.Values)).
		Str("type", "NumericalInstabilityError")
}

// NewNumericalInstabilityError creates a NumericalInstabilityError with a stack trace.
func NewNumericalInstabilityError(operation string, values []float64, epoch int) error {
	return errors.WithStack(&NumericalInstabilityError{
		Operation: operation,
		Values:    values,
		Epoch:     epoch,
	})
}

// InputShapeError reports a malformed frame sequence.
type InputShapeError struct {
	Phase    string // "training", "evaluation"
	Expected []int
	Got      []int
	VideoID  string
}

func (e *InputShapeError) Error() string {
	if e.VideoID != "" {
		return fmt.Sprintf("pglsum: input shape mismatch in %s phase for video '%s'. Expected shape %v, got %v",
			e.Phase, e.VideoID, e.Expected, e.Got)
	}
	return fmt.Sprintf("pglsum: input shape mismatch in %s phase. Expected shape %v, got %v",
		e.Phase, e.Expected, e.Got)
}

// NewInputShapeError creates an InputShapeError with a stack trace.
func NewInputShapeError(phase, videoID string, expected, got []int) error {
	return errors.WithStack(&InputShapeError{Phase: phase, VideoID: videoID, Expected: expected, Got: got})
}

// ===========================================================================
//
//	cockroachdb/errors wrappers
//
// ===========================================================================

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap annotates err with a message.
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf annotates err with a formatted message.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// New creates an error with a stack trace.
func New(message string) error {
	return errors.New(message)
}

// Newf creates a formatted error with a stack trace.
func Newf(format string, args ...interface{}) error {
	return errors.Newf(format, args...)
}

// WithStack annotates err with a stack trace.
func WithStack(err error) error {
	return errors.WithStack(err)
}

var (
	// ErrEmptyData is returned for an empty dataset or sequence.
	ErrEmptyData = New("empty data")

	// ErrNoGradient is returned when backpropagating through an output that
	// was produced without gradient tracking.
	ErrNoGradient = New("output was produced without gradient tracking")
)
