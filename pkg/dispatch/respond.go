package dispatch

import (
	"context"

	"github.com/tinyland-inc/nanoclaw/pkg/logger"
	"github.com/tinyland-inc/nanoclaw/pkg/session"
)

// respond delivers everything the engine produced this turn: every
// assistant message among the last newCount transcript entries, in
// chronological order, then the pending generated artifact if one exists.
// Each send is independent and best-effort.
func (d *Dispatcher) respond(ctx context.Context, sess *session.Session, newCount int, conversationID string) {
	if newCount > len(sess.Messages) {
		newCount = len(sess.Messages)
	}

	var collected []string
	for i := len(sess.Messages) - 1; i >= len(sess.Messages)-newCount; i-- {
		if sess.Messages[i].Role == session.RoleAssistant {
			collected = append(collected, sess.Messages[i].Content)
		}
	}

	// collected is in reverse scan order; deliver oldest first.
	for i := len(collected) - 1; i >= 0; i-- {
		if err := d.deliver.SendText(ctx, conversationID, collected[i]); err != nil {
			logger.WarnCF(component, "Assistant message send failed", map[string]any{
				"conversation": conversationID,
				"error":        err.Error(),
			})
		}
	}

	if sess.GeneratedImage == nil {
		return
	}

	img := sess.GeneratedImage
	// Cleared before the delivery attempt so a failure can never leave a
	// stale artifact to be re-sent on the next turn.
	sess.GeneratedImage = nil

	mediaID, err := d.deliver.UploadMedia(ctx, img.Data, img.MIME)
	if err != nil {
		logger.ErrorCF(component, "Generated image upload failed", map[string]any{
			"conversation": conversationID,
			"error":        err.Error(),
		})
		return
	}
	if err := d.deliver.SendImage(ctx, conversationID, mediaID); err != nil {
		logger.ErrorCF(component, "Generated image send failed", map[string]any{
			"conversation": conversationID,
			"media_id":     mediaID,
			"error":        err.Error(),
		})
	}
}
