package otp

import (
	"context"

	"go.uber.org/zap"
)

// Transport delivers a rendered message to a destination (SMS gateway,
// e-mail relay, message bus).
type Transport interface {
	Send(ctx context.Context, destination, message string) error
}

// TransportFunc adapts a function to [Transport].
type TransportFunc func(ctx context.Context, destination, message string) error

func (f TransportFunc) Send(ctx context.Context, destination, message string) error {
	return f(ctx, destination, message)
}

// LogTransport writes messages to a logger instead of delivering them.
// Development only: the message contains the code.
type LogTransport struct {
	logger *zap.Logger
}

// NewLogTransport returns a transport that logs at info level.
func NewLogTransport(logger *zap.Logger) *LogTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Send(_ context.Context, destination, message string) error {
	t.logger.Info("otp message", zap.String("destination", destination), zap.String("message", message))
	return nil
}
