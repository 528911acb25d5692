package service

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"go-kafkaguard/internal/ids"
	ikafka "go-kafkaguard/internal/kafka"
	"go-kafkaguard/internal/observability"
	pkg "go-kafkaguard/pkg/kafka"

	"github.com/sirupsen/logrus"
)

// UserSignup is the payload of the UserSignup topic.
type UserSignup struct {
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

// SignupAccepted is the reply to a UserSignup request.
type SignupAccepted struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Validate returns the offending fields, keyed by field name.
func (u UserSignup) Validate() map[string]string {
	fields := make(map[string]string)
	if u.Email == "" {
		fields["email"] = "required"
	} else if _, err := mail.ParseAddress(u.Email); err != nil {
		fields["email"] = "invalid address"
	}
	switch name := strings.TrimSpace(u.Username); {
	case name == "":
		fields["username"] = "required"
	case len(name) < 3:
		fields["username"] = "must be at least 3 characters"
	}
	return fields
}

// UserSignupProcessor handles business logic for user signups
type UserSignupProcessor struct {
	logger *logrus.Logger
}

func NewUserSignupProcessor(logger *logrus.Logger) *UserSignupProcessor {
	return &UserSignupProcessor{
		logger: observability.OrDefault(logger),
	}
}

// Handle processes one signup. Undecodable or invalid payloads are reported as
// validation failures so they are dead-lettered rather than redelivered.
func (p *UserSignupProcessor) Handle(ctx context.Context, msg *ikafka.Message) (any, error) {
	var signup UserSignup
	if err := msg.Envelope.Decode(&signup); err != nil {
		return nil, pkg.NewValidationFailure("invalid user signup payload", map[string]string{"error": err.Error()})
	}
	if fields := signup.Validate(); len(fields) > 0 {
		return nil, pkg.NewValidationFailure("user signup failed validation", fields)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	accepted := SignupAccepted{
		UserID:   ids.NewKey(),
		Username: strings.TrimSpace(signup.Username),
	}

	p.logger.WithFields(logrus.Fields{
		"key":      msg.Key,
		"topic":    msg.Topic,
		"user_id":  accepted.UserID,
		"username": accepted.Username,
	}).Info("User signup processed")

	return accepted, nil
}
