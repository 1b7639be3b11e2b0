package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/lukaszKielar/lokai-web/internal/model"
	"github.com/lukaszKielar/lokai-web/pkg/logger"
)

// receive decodes inbound frames into submissions until the client leaves.
func receive(ctx context.Context, in Inbound, submissions *Queue[model.PromptSubmission], log *logger.Logger) error {
	for {
		frame, err := in.ReadFrame(ctx)
		if errors.Is(err, io.EOF) {
			log.Debug("client closed connection")
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}

		if frame.Type != TextFrame {
			return fmt.Errorf("%w: unexpected %s frame", ErrConnectionProtocol, frame.Type)
		}

		submission, err := model.DecodeSubmission(frame.Data)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrConnectionProtocol, err)
		}

		log.Debug("received submission",
			zap.String("conversation_id", submission.ConversationID),
			zap.Int("content_length", len(submission.Content)),
		)

		if err := submissions.Push(ctx, submission); err != nil {
			return nil
		}
	}
}
