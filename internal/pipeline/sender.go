package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lukaszKielar/lokai-web/internal/model"
	"github.com/lukaszKielar/lokai-web/pkg/logger"
	"github.com/lukaszKielar/lokai-web/pkg/metrics"
)

// flushTimeout bounds writing the deltas left buffered after a turn error.
const flushTimeout = 5 * time.Second

type sender struct {
	out       Outbound
	deltas    *Queue[model.Delta]
	delivered *delivery
	// flush reports whether buffered deltas should still be written once
	// the session context is done.
	flush func() bool
	log   *logger.Logger
}

// run writes each delta as one outbound frame, in queue order.
func (s *sender) run(ctx context.Context) error {
	defer s.deltas.Close()
	defer s.delivered.stop()

	for {
		delta, err := s.deltas.Pop(ctx)
		if err != nil {
			if s.flush() {
				return s.drain(ctx)
			}
			return nil
		}

		if err := s.write(ctx, delta); err != nil {
			if ctx.Err() != nil && s.flush() {
				return s.drain(ctx, delta)
			}
			return err
		}
	}
}

// drain writes the deltas still buffered when the session ended on a
// failed turn, so the client sees everything produced before the failure.
func (s *sender) drain(ctx context.Context, pending ...model.Delta) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()

	for _, delta := range pending {
		if err := s.write(ctx, delta); err != nil {
			return err
		}
	}
	for {
		delta, ok := s.deltas.TryPop()
		if !ok {
			return nil
		}
		if err := s.write(ctx, delta); err != nil {
			return err
		}
	}
}

func (s *sender) write(ctx context.Context, delta model.Delta) error {
	data, err := json.Marshal(delta)
	if err != nil {
		return fmt.Errorf("encode %s delta: %w", delta.Kind, err)
	}

	if err := s.out.WriteFrame(ctx, data); err != nil {
		s.log.Debug("outbound write failed", zap.String("kind", string(delta.Kind)), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrOutboundWrite, err)
	}
	s.delivered.record(delta)
	metrics.RecordFrame(string(delta.Kind))
	return nil
}
