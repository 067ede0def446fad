package workflow

import (
	"context"

	"github.com/wolfman30/xray-diagnosis-platform/pkg/logging"
)

// Notice is a user-facing message about one run.
type Notice struct {
	Run     uint64
	Stage   Stage
	Message string
	Err     error
}

// Notifier delivers notices to the user.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// Identity resolves the signed-in user.
type Identity interface {
	CurrentUser(ctx context.Context) (string, bool)
}

// LogNotifier writes notices to the structured log.
type LogNotifier struct {
	Logger *logging.Logger
}

func (l LogNotifier) Notify(_ context.Context, n Notice) {
	logger := l.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger.Warn("workflow notice", "run", n.Run, "stage", n.Stage, "notice", n.Message, "error", n.Err)
}
