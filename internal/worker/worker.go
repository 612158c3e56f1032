package worker

import (
	"context"
	"log/slog"

	"github.com/campuskit/centpay/internal/errHandler"
	"github.com/campuskit/centpay/internal/stream"
)

type Worker struct {
	KafkaStream *stream.KafkaStream
	ErrHandler  *errHandler.ErrorHandler
	Logger      *slog.Logger
	Ctx         context.Context
}

const (
	// alertGroupID is used for workers that notify the operator about
	// integrity failures and rejected top-ups.
	alertGroupID = "wallet-alert-group"
)

// Our workers typically need access to the kafka event stream; worker-specific
// dependencies can be passed as arguments to the worker.
func New(wk *Worker) *Worker {
	return &Worker{
		KafkaStream: wk.KafkaStream,
		ErrHandler:  wk.ErrHandler,
		Logger:      wk.Logger,
		Ctx:         wk.Ctx,
	}
}
