package worker

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v4"

	"github.com/solvejet/pixe-whatspp-sub001/internal/broker"
	"github.com/solvejet/pixe-whatspp-sub001/internal/domain"
	"github.com/solvejet/pixe-whatspp-sub001/internal/service"
)

// RegisterMediaHandlers binds the media queues to the media lifecycle.
func RegisterMediaHandlers(c *QueueConsumer, media *service.MediaService) {
	c.Handle(broker.QueueMediaUpload, func(ctx context.Context, msg domain.QueueMessage) error {
		var p domain.UploadPayload
		if err := decode(msg, domain.QueueMessageUpload, &p); err != nil {
			return err
		}
		return media.HandleUpload(ctx, p)
	})
	c.Handle(broker.QueueMediaDelete, func(ctx context.Context, msg domain.QueueMessage) error {
		var p domain.DeletePayload
		if err := decode(msg, domain.QueueMessageDelete, &p); err != nil {
			return err
		}
		return media.HandleDelete(ctx, p)
	})
	c.Handle(broker.QueueMediaCleanup, func(ctx context.Context, msg domain.QueueMessage) error {
		var p domain.CleanupPayload
		if err := decode(msg, domain.QueueMessageCleanup, &p); err != nil {
			return err
		}
		return media.HandleCleanup(ctx, p)
	})
}

// decode fails permanently on envelopes no retry can fix.
func decode(msg domain.QueueMessage, want domain.QueueMessageType, out any) error {
	if msg.Type != want {
		return backoff.Permanent(fmt.Errorf("unexpected message type %q, want %q", msg.Type, want))
	}
	if err := msg.DecodePayload(out); err != nil {
		return backoff.Permanent(fmt.Errorf("decode %s payload: %w", want, err))
	}
	return nil
}
