package mail

import (
	"context"

	"go.uber.org/zap"
)

// LogDispatcher writes outbound mail to the structured log instead of
// delivering it. Used in local and test environments.
type LogDispatcher struct {
	log *zap.Logger
}

var _ Dispatcher = (*LogDispatcher)(nil)

func NewLogDispatcher(log *zap.Logger) *LogDispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) SendVerifyEmail(ctx context.Context, to string, data VerifyEmailData) error {
	d.log.Info("mail: verify email",
		zap.String("to", to),
		zap.String("verify_url", data.VerifyURL),
		zap.Duration("expires_in", data.ExpiresIn),
	)
	return nil
}

func (d *LogDispatcher) SendWelcomeEmail(ctx context.Context, to string, data WelcomeData) error {
	d.log.Info("mail: welcome email",
		zap.String("to", to),
		zap.String("login_url", data.LoginURL),
	)
	return nil
}

func (d *LogDispatcher) SendPasswordResetEmail(ctx context.Context, to string, data PasswordResetData) error {
	d.log.Info("mail: password reset email",
		zap.String("to", to),
		zap.String("reset_url", data.ResetURL),
		zap.Duration("expires_in", data.ExpiresIn),
	)
	return nil
}

func (d *LogDispatcher) SendPasswordChangedEmail(ctx context.Context, to string, data PasswordChangedData) error {
	d.log.Info("mail: password changed email",
		zap.String("to", to),
		zap.Time("changed_at", data.ChangedAt),
	)
	return nil
}
