package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/littlehero/api/internal/lifecycle"
	"github.com/rs/zerolog"
)

// AuditWorker runs the periodic storage:audit task. It only reports.
type AuditWorker struct {
	engine *lifecycle.Engine
	log    zerolog.Logger
}

func NewAuditWorker(engine *lifecycle.Engine, log zerolog.Logger) *AuditWorker {
	return &AuditWorker{
		engine: engine,
		log:    log.With().Str("component", "storage_audit").Logger(),
	}
}

func (w *AuditWorker) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	findings, err := w.engine.Audit(ctx)
	if err != nil {
		return fmt.Errorf("storage audit: %w", err)
	}
	for _, f := range findings {
		w.log.Warn().
			Str("key", f.Object.Key).
			Str("category", string(f.Object.Category)).
			Dur("age", f.Age).
			Dur("overdue", f.Overdue()).
			Msg("object outlived its retention")
	}
	return nil
}
