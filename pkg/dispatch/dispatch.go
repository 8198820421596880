// Package dispatch is the per-conversation queuing and sequential-consistency
// core. Inbound events for any number of conversations arrive concurrently;
// each conversation's events are applied to its session exactly once, in
// arrival order, by at most one worker at a time, while different
// conversations process fully in parallel.
//
// The ownership protocol: Enqueue appends the event under the dispatcher
// lock and, if no worker is draining that conversation, claims the active
// flag for the caller. The owning worker loops draining the queue and only
// releases the flag in the same critical section that observes the queue
// empty, so an event arriving mid-processing is always picked up by the
// current worker and never spawns a second one.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tinyland-inc/nanoclaw/pkg/events"
	"github.com/tinyland-inc/nanoclaw/pkg/logger"
	"github.com/tinyland-inc/nanoclaw/pkg/session"
	"github.com/tinyland-inc/nanoclaw/pkg/whatsapp"
)

const component = "dispatch"

// Deliverer is the outbound delivery collaborator. All methods are
// best-effort: the dispatcher logs failures and does not retry.
type Deliverer interface {
	SendText(ctx context.Context, to, text string) error
	UploadMedia(ctx context.Context, data []byte, mime string) (string, error)
	SendImage(ctx context.Context, to, mediaID string) error
}

// MediaFetcher downloads inbound media by provider id. Download URLs are
// short-lived, so the fetch happens while the batch is being applied.
type MediaFetcher interface {
	Download(ctx context.Context, mediaID string) (data []byte, mime string, err error)
}

// Engine turns accumulated session state into a response. Invoked at most
// once per drained batch.
type Engine interface {
	Invoke(ctx context.Context, s *session.Session) (*session.Session, error)
}

// pending wraps a queued event with its mutable outcome: an image whose
// download fails is reclassified so the engine-invocation check excludes it
// without re-touching the shared queue.
type pending struct {
	event  events.Inbound
	failed bool
}

type Dispatcher struct {
	mu     sync.Mutex
	queues map[string][]*pending
	active map[string]bool

	store   *session.Store
	deliver Deliverer
	media   MediaFetcher
	engine  Engine
}

func New(store *session.Store, deliver Deliverer, media MediaFetcher, engine Engine) *Dispatcher {
	return &Dispatcher{
		queues:  make(map[string][]*pending),
		active:  make(map[string]bool),
		store:   store,
		deliver: deliver,
		media:   media,
		engine:  engine,
	}
}

// Submit is the sole entry point for the webhook boundary: it enqueues the
// event and spawns a worker goroutine when the caller wins ownership. It
// never blocks beyond the O(1) critical section.
func (d *Dispatcher) Submit(ctx context.Context, ev events.Inbound) {
	if d.Enqueue(ev.From, ev) {
		go d.Process(ctx, ev.From)
	}
}

// Enqueue appends ev to the conversation's queue and reports whether the
// caller now owns processing for it. A false return means another worker is
// already draining the conversation and is guaranteed to pick this event up
// before it releases ownership.
func (d *Dispatcher) Enqueue(conversationID string, ev events.Inbound) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.queues[conversationID] = append(d.queues[conversationID], &pending{event: ev})
	if d.active[conversationID] {
		return false
	}
	d.active[conversationID] = true
	return true
}

// Busy reports whether a worker currently owns the conversation. Used by
// the session sweeper to skip in-flight conversations.
func (d *Dispatcher) Busy(conversationID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active[conversationID]
}

// Process is the worker loop. It must only be called by the caller that won
// ownership via Enqueue; it runs until the queue is observed empty and the
// active flag has been cleared in the same critical section.
func (d *Dispatcher) Process(ctx context.Context, conversationID string) {
	for {
		batch := d.drain(conversationID)
		if len(batch) > 0 {
			d.applyBatch(ctx, conversationID, batch)
		}
		if d.release(conversationID) {
			return
		}
	}
}

// drain atomically takes the entire current queue for the conversation.
func (d *Dispatcher) drain(conversationID string) []*pending {
	d.mu.Lock()
	defer d.mu.Unlock()

	batch := d.queues[conversationID]
	delete(d.queues, conversationID)
	return batch
}

// release clears the active flag and reports true only if the queue is
// empty. The emptiness check and the flag clear share one critical section:
// otherwise an event arriving between them would see active=true, decline
// ownership, and be stranded with no worker.
func (d *Dispatcher) release(conversationID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.queues[conversationID]) > 0 {
		return false
	}
	delete(d.active, conversationID)
	return true
}

// applyBatch folds one drained batch into the session, persists it, and
// invokes the engine when the batch did real work. Any panic is contained
// here so the worker loop always reaches release.
func (d *Dispatcher) applyBatch(ctx context.Context, conversationID string, batch []*pending) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF(component, "Panic applying batch", map[string]any{
				"conversation": conversationID,
				"panic":        fmt.Sprintf("%v", r),
			})
			d.notify(ctx, conversationID, msgProcessingFailed)
		}
	}()

	sess := d.store.GetOrCreate(conversationID)
	before := len(sess.Messages)

	for _, p := range batch {
		if err := d.applyEvent(ctx, conversationID, sess, p); err != nil {
			logger.ErrorCF(component, "Error applying event", map[string]any{
				"conversation": conversationID,
				"message_id":   p.event.MessageID,
				"type":         string(p.event.Type),
				"error":        err.Error(),
			})
			d.notify(ctx, conversationID, msgProcessingFailed)
		}
	}

	sess.LastActivity = time.Now()
	// Snapshot before the engine runs so a mid-engine failure cannot lose
	// the accumulated input.
	d.store.Put(conversationID, sess)

	if !didRealWork(batch) || len(sess.Messages) <= before {
		return
	}

	preEngine := len(sess.Messages)
	out, err := d.engine.Invoke(ctx, sess)
	if err != nil {
		logger.ErrorCF(component, "Engine invocation failed", map[string]any{
			"conversation": conversationID,
			"error":        err.Error(),
		})
		d.notify(ctx, conversationID, msgEngineFailed)
		return
	}

	d.store.Put(conversationID, out)
	d.respond(ctx, out, len(out.Messages)-preEngine, conversationID)
}

// didRealWork reports whether at least one batch entry was of a processable
// type: text, or an image whose download succeeded.
func didRealWork(batch []*pending) bool {
	for _, p := range batch {
		if p.failed {
			continue
		}
		if p.event.Type == events.TypeText || p.event.Type == events.TypeImage {
			return true
		}
	}
	return false
}

func (d *Dispatcher) applyEvent(ctx context.Context, conversationID string, sess *session.Session, p *pending) error {
	ev := p.event
	switch ev.Type {
	case events.TypeText:
		sess.Append(session.RoleHuman, ev.Text)
		return nil

	case events.TypeImage:
		return d.applyImage(ctx, conversationID, sess, p)

	case events.TypeDocument:
		d.notify(ctx, conversationID, msgDocumentUnsupported)
		return nil

	case events.TypeAudio, events.TypeVoice:
		d.notify(ctx, conversationID, msgAudioUnsupported)
		return nil

	case events.TypeUnsupported:
		rawType := ev.RawType
		if rawType == "" {
			rawType = string(ev.Type)
		}
		d.notify(ctx, conversationID, fmt.Sprintf(msgUnsupportedFmt, rawType))
		return nil
	}
	return fmt.Errorf("unhandled event type %q", ev.Type)
}

// applyImage fetches the media immediately (the download URL is short-lived)
// and folds it into the session. A failed download reclassifies the entry,
// notifies the user, and still appends a caption as plain text.
func (d *Dispatcher) applyImage(ctx context.Context, conversationID string, sess *session.Session, p *pending) error {
	ev := p.event

	data, mime, err := d.media.Download(ctx, ev.MediaID)
	if err != nil {
		p.failed = true
		switch {
		case errors.Is(err, whatsapp.ErrMediaExpired):
			d.notify(ctx, conversationID, msgMediaExpired)
		default:
			d.notify(ctx, conversationID, msgMediaFailed)
		}
		logger.WarnCF(component, "Image download failed", map[string]any{
			"conversation": conversationID,
			"media_id":     ev.MediaID,
			"error":        err.Error(),
		})
		if ev.Caption != "" {
			sess.Append(session.RoleHuman, ev.Caption)
		}
		return nil
	}

	sess.UserImages = append(sess.UserImages, session.Image{Data: data, MIME: mime})
	sess.Append(session.RoleSystem, fmt.Sprintf(msgImageNoteFmt, len(sess.UserImages), mime))
	if ev.Caption != "" {
		sess.Append(session.RoleHuman, ev.Caption)
	}
	sess.CurrentNode = session.NodeImageToImage
	sess.Awaiting = ""
	return nil
}

// notify sends a user-facing message, best-effort.
func (d *Dispatcher) notify(ctx context.Context, conversationID, text string) {
	if err := d.deliver.SendText(ctx, conversationID, text); err != nil {
		logger.WarnCF(component, "Notification send failed", map[string]any{
			"conversation": conversationID,
			"error":        err.Error(),
		})
	}
}
