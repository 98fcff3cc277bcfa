package worker

import (
	"context"
	"log/slog"

	"github.com/cradoe/lendflow/internal/helper"
	"github.com/cradoe/lendflow/internal/lifecycle"
	"github.com/cradoe/lendflow/internal/repository"
	"github.com/cradoe/lendflow/internal/stream"
)

type Worker struct {
	KafkaStream *stream.KafkaStream
	DB          repository.Database
	Ctx         context.Context
	Helper      *helper.HelperRepository
	Logger      *slog.Logger
}

const (
	// lifecycleAuditGroupID is used by the worker that copies every committed transition into the activity log
	lifecycleAuditGroupID = "lifecycle-audit-group"

	// LifecycleTopic carries one message per committed application transition
	LifecycleTopic = lifecycle.Topic
)

// Our workers typically needs access to database and kafka event stream
// worker-specific dependency can be passed as argument to the worker
func New(wk *Worker) *Worker {
	logger := wk.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		KafkaStream: wk.KafkaStream,
		DB:          wk.DB,
		Ctx:         wk.Ctx,
		Helper:      wk.Helper,
		Logger:      logger,
	}
}
