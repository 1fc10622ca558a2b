package server

import (
	"context"

	"github.com/MarcoPoloResearchLab/cadence/internal/milestone"
	"go.uber.org/zap"
)

// Notifier delivers milestone announcements to the chat connector.
type Notifier interface {
	Notify(ctx context.Context, notification *milestone.Notification) error
}

// logNotifier records announcements in the service log, the default
// when no connector is wired in.
type logNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier constructs the logging Notifier.
func NewLogNotifier(logger *zap.Logger) Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &logNotifier{logger: logger}
}

func (n *logNotifier) Notify(_ context.Context, notification *milestone.Notification) error {
	n.logger.Info("milestone announcement",
		zap.String("notification_id", notification.ID),
		zap.String("scope", string(notification.Scope)),
		zap.Int64("count", notification.CountReached),
		zap.Int("streak", notification.StreakReached),
		zap.Bool("broadcast", notification.Broadcast),
		zap.Strings("channels", notification.ChannelExternalIDs),
		zap.String("message", notification.Message))
	return nil
}
