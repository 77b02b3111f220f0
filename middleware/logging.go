package middleware

import (
	"context"
	"time"

	taskscope "github.com/goliatone/go-taskscope"
	"github.com/goliatone/go-taskscope/pipeline"
)

// Logging logs every dispatch with its correlation fields and duration.
type Logging struct {
	logger taskscope.Logger
}

// NewLogging returns a logging stage. A nil logger uses the fallback logger.
func NewLogging(logger taskscope.Logger) *Logging {
	return &Logging{logger: taskscope.NormalizeLogger(logger)}
}

func (l *Logging) Handle(ctx context.Context, dc *pipeline.DispatchContext, next pipeline.Next) error {
	logger := taskscope.WithLoggerFields(l.logger.WithContext(ctx), dc.Fields())
	start := time.Now()
	logger.Debug("dispatch started replay=%t", dc.Replay)

	err := next(ctx)

	elapsed := time.Since(start)
	if err != nil {
		logger.Error("dispatch failed after %s: %v", elapsed, err)
		return err
	}
	logger.Info("dispatch completed in %s", elapsed)
	return nil
}
