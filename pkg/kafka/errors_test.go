package kafka

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsRecognizedValidation(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "tagged failure", err: NewValidationFailure("bad email", nil), expected: true},
		{name: "wrapped tagged failure", err: fmt.Errorf("decode: %w", NewValidationFailure("x", nil)), expected: true},
		{name: "other code", err: &ValidationFailure{Code: 400, Message: "x"}, expected: false},
		{name: "plain error", err: errors.New("boom"), expected: false},
		{name: "nil", err: nil, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRecognizedValidation(tt.err))
		})
	}
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "", ErrorKind(nil))
	assert.Equal(t, "timeout", ErrorKind(&TimeoutError{Topic: "t", Timeout: time.Second}))
	assert.Equal(t, "validation", ErrorKind(NewValidationFailure("x", nil)))
	assert.Equal(t, "send", ErrorKind(&SendError{Topic: "t", Err: errors.New("refused")}))
	assert.Equal(t, "reconciliation", ErrorKind(&ReconciliationError{Stage: "list", Err: errors.New("x")}))
	assert.Equal(t, "handler", ErrorKind(errors.New("x")))
}

func TestErrorsUnwrap(t *testing.T) {
	cause := errors.New("connection refused")

	assert.ErrorIs(t, &SendError{Topic: "t", Err: cause}, cause)
	assert.ErrorIs(t, &HandlerError{Topic: "t", Err: cause}, cause)
	assert.ErrorIs(t, &ReconciliationError{Stage: "create", Err: cause}, cause)
}

func TestValidationFailure_Message(t *testing.T) {
	err := NewValidationFailure("invalid payload", map[string]string{"email": "required"})
	assert.Contains(t, err.Error(), "invalid payload")
	assert.Contains(t, err.Error(), "email")
}

func TestConfigValidate(t *testing.T) {
	p := ProducerConfig{}
	assert.EqualError(t, p.Validate(), "brokers cannot be empty")

	p = ProducerConfig{Brokers: []string{"b:9092"}}
	assert.EqualError(t, p.Validate(), "sendTimeout must be greater than zero")

	p.SendTimeout = time.Second
	assert.NoError(t, p.Validate())

	c := ConsumerConfig{Brokers: []string{"b:9092"}}
	assert.EqualError(t, c.Validate(), "groupID cannot be empty")

	c.GroupID = "g"
	assert.NoError(t, c.Validate())
}

func TestHandlerError_Committed(t *testing.T) {
	err := fmt.Errorf("dispatch: %w", &HandlerError{Topic: "t", Partition: 1, Offset: 7, Committed: true, Err: errors.New("boom")})

	var he *HandlerError
	assert.True(t, errors.As(err, &he))
	assert.True(t, he.Committed)
	assert.Equal(t, "handler", ErrorKind(err))
	assert.Contains(t, err.Error(), "t[1]@7")
}
