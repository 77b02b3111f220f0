package middleware

import (
	"context"

	taskscope "github.com/goliatone/go-taskscope"
	"github.com/goliatone/go-taskscope/pipeline"
)

// Recovery turns panics in later stages or in the handler into
// DISPATCH_PANIC errors and reports them to a panic logger.
type Recovery struct {
	report taskscope.PanicLogger
}

// NewRecovery returns a recovery stage. A nil report uses DefaultPanicLogger.
func NewRecovery(report taskscope.PanicLogger) *Recovery {
	if report == nil {
		report = taskscope.DefaultPanicLogger
	}
	return &Recovery{report: report}
}

func (r *Recovery) Handle(ctx context.Context, dc *pipeline.DispatchContext, next pipeline.Next) (err error) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		stack := taskscope.CaptureStack()
		fields := dc.Fields()
		r.report(dc.Name, rec, stack, fields)
		err = taskscope.PanicError(dc.Name, rec, stack, fields)
	}()
	return next(ctx)
}
