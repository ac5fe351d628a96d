package reminder

import (
	"go.uber.org/zap"

	"classtab/internal/model"
)

// LogNotifier is the default Notifier: it emits the reminder as a
// structured log line. The chat-platform transport replaces it at wiring
// time.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(b model.Binding, occ model.Occurrence) error {
	n.log.Info("course reminder",
		zap.String("group", b.GroupID),
		zap.String("user", b.UserID),
		zap.String("nickname", b.Nickname),
		zap.String("summary", occ.Summary),
		zap.String("location", occ.Location),
		zap.Time("start", occ.Start),
	)
	return nil
}
