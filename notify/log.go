package notify

import (
	"context"
	"errors"

	"github.com/MrEthical07/charityauth"
	"go.uber.org/zap"
)

// Log writes notifications to a logger. Useful in development and as the
// fallback when no broker is configured.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

func (l *Log) Notify(_ context.Context, n charityauth.Notification) error {
	l.logger.Info("notification",
		zap.String("kind", string(n.Kind)),
		zap.String("audience", string(n.Audience)),
		zap.String("account_id", n.AccountID),
		zap.Any("data", n.Data),
	)
	return nil
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []charityauth.Notifier

func (m Multi) Notify(ctx context.Context, n charityauth.Notification) error {
	var errs []error
	for _, target := range m {
		if target == nil {
			continue
		}
		if err := target.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
