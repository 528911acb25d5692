package kafka

import (
	"errors"
	"fmt"
	"time"
)

// CodeRequestValidation is the error code that marks a structural/schema defect in an
// inbound message. Only failures carrying this code are dead-lettered.
const CodeRequestValidation = 5100

var (
	ErrProducerClosed = errors.New("kafka: producer is closed")
	ErrNoReplyRouter  = errors.New("kafka: request/reply requires a reply router")
	ErrTopicRequired  = errors.New("kafka: topic is required")
)

// SendError indicates the broker rejected a produce or the connection failed.
type SendError struct {
	Topic string
	Err   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %q failed: %v", e.Topic, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// TimeoutError indicates no reply arrived in time. The request may still have been
// processed by the remote side, so the outcome is unknown rather than failed.
type TimeoutError struct {
	Topic         string
	Timeout       time.Duration
	CorrelationID string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no reply from %q within %s (correlation id %s)", e.Topic, e.Timeout, e.CorrelationID)
}

// ValidationFailure is raised by handlers for messages that can never be processed.
type ValidationFailure struct {
	Code    int
	Message string
	Fields  map[string]string
}

// NewValidationFailure returns a ValidationFailure carrying CodeRequestValidation.
func NewValidationFailure(message string, fields map[string]string) *ValidationFailure {
	return &ValidationFailure{Code: CodeRequestValidation, Message: message, Fields: fields}
}

func (e *ValidationFailure) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("validation failed (%d): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("validation failed (%d): %s %v", e.Code, e.Message, e.Fields)
}

// HandlerError wraps any other failure during dispatch. The offset is not committed
// unless the route commits before dispatch, in which case Committed is set and the
// message will not be redelivered.
type HandlerError struct {
	Topic     string
	Partition int
	Offset    int64
	Committed bool
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler failed for %s[%d]@%d: %v", e.Topic, e.Partition, e.Offset, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// ReconciliationError is fatal to process startup.
type ReconciliationError struct {
	Stage string
	Err   error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("topic reconciliation failed at %s: %v", e.Stage, e.Err)
}

func (e *ReconciliationError) Unwrap() error {
	return e.Err
}

// IsRecognizedValidation reports whether err is a ValidationFailure that should be
// dead-lettered.
func IsRecognizedValidation(err error) bool {
	var vf *ValidationFailure
	return errors.As(err, &vf) && vf.Code == CodeRequestValidation
}

// IsTimeout checks if err is a request/reply timeout
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// IsSendError checks if err is a broker send failure
func IsSendError(err error) bool {
	var se *SendError
	return errors.As(err, &se)
}

// ErrorKind classifies err for logs and metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsTimeout(err):
		return "timeout"
	case IsRecognizedValidation(err):
		return "validation"
	case IsSendError(err):
		return "send"
	default:
		var re *ReconciliationError
		if errors.As(err, &re) {
			return "reconciliation"
		}
		return "handler"
	}
}
