package router

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/FlowPipe/internal/logx"
	"github.com/BTreeMap/FlowPipe/internal/messaging"
	"github.com/BTreeMap/FlowPipe/internal/metrics"
	"github.com/BTreeMap/FlowPipe/internal/models"
	"github.com/BTreeMap/FlowPipe/internal/store"
)

// DefaultProcessTimeout bounds the background work for one inbound message.
const DefaultProcessTimeout = 90 * time.Second

// Inbound outcomes reported to metrics.
const (
	OutcomeGuarded       = "guarded"
	OutcomeDuplicate     = "duplicate"
	OutcomeStoreError    = "store_error"
	OutcomeAudioFailed   = "transcription_failed"
	OutcomeLockTimeout   = "lock_timeout"
	OutcomeRouted        = "routed"
	OutcomeRoutingFailed = "routing_failed"
)

// Transcriber converts a voice note to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, fileName string) (string, error)
}

// Dispatcher acknowledges nothing itself: the webhook has already answered
// when Dispatch is called. It runs dedup, transcription and routing in a
// goroutine, one message per user at a time.
type Dispatcher struct {
	router      *Router
	messages    store.MessageLog
	sender      messaging.Service
	media       messaging.MediaFetcher
	transcriber Transcriber
	locks       *userLocks
	timeout     time.Duration
	metrics     *metrics.Collector
	wg          sync.WaitGroup
}

// DispatcherOpts configures a Dispatcher.
type DispatcherOpts struct {
	Messages    store.MessageLog
	Sender      messaging.Service
	Media       messaging.MediaFetcher
	Transcriber Transcriber
	Timeout     time.Duration
	Metrics     *metrics.Collector
}

func NewDispatcher(r *Router, opts DispatcherOpts) *Dispatcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultProcessTimeout
	}
	return &Dispatcher{
		router:      r,
		messages:    opts.Messages,
		sender:      opts.Sender,
		media:       opts.Media,
		transcriber: opts.Transcriber,
		locks:       newUserLocks(),
		timeout:     timeout,
		metrics:     opts.Metrics,
	}
}

// Dispatch returns immediately; processing continues in the background with
// its own timeout.
func (d *Dispatcher) Dispatch(correlationID string, msg models.NormalizedMessage, guard models.GuardResult) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		ctx = logx.WithFields(ctx, correlationID, msg.UserID, msg.Instance)

		defer func() {
			if r := recover(); r != nil {
				logx.Ctx(ctx).Error().Interface("panic", r).Str("event", "dispatch_panic").Msg("Dispatcher.Dispatch: recovered from panic")
			}
		}()
		d.process(ctx, correlationID, msg, guard)
	}()
}

// Wait blocks until every dispatched message has been processed.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) process(ctx context.Context, correlationID string, msg models.NormalizedMessage, guard models.GuardResult) {
	log := logx.Ctx(ctx)

	if !guard.ShouldProcess {
		log.Info().Str("event", "guard_applied").Str("reason", guard.Reason).Msg("Dispatcher.process: message not processed")
		d.metrics.RecordInbound(OutcomeGuarded)
		if guard.AutoReplyText != "" {
			d.sender.SendText(ctx, msg.Instance, ReplyAddress(msg), guard.AutoReplyText)
		}
		return
	}

	fresh, err := d.messages.InsertInboundIfNew(ctx, msg)
	if err != nil {
		log.Error().Err(err).Str("event", "dedup_error").Msg("Dispatcher.process: failed to record inbound message")
		d.metrics.RecordInbound(OutcomeStoreError)
		return
	}
	if !fresh {
		log.Info().Str("event", "duplicate_message").Str("message_id", msg.MessageID).Msg("Dispatcher.process: duplicate ignored")
		d.metrics.RecordInbound(OutcomeDuplicate)
		return
	}

	if guard.RequiresTranscription {
		text, ok := d.transcribe(ctx, msg)
		if !ok {
			d.metrics.RecordInbound(OutcomeAudioFailed)
			d.router.reply(ctx, msg, AudioFailedReply)
			return
		}
		msg.Text = text
		if err := d.messages.SetInboundText(ctx, msg.MessageID, text); err != nil {
			log.Warn().Err(err).Str("event", "inbound_text_update_error").Msg("Dispatcher.process: failed to store transcription")
		}
	}

	release, err := d.locks.Acquire(ctx, msg.UserID)
	if err != nil {
		log.Error().Err(err).Str("event", "user_lock_timeout").Msg("Dispatcher.process: gave up waiting for user lock")
		d.metrics.RecordInbound(OutcomeLockTimeout)
		return
	}
	defer release()

	if err := d.router.Route(ctx, correlationID, msg); err != nil {
		d.metrics.RecordInbound(OutcomeRoutingFailed)
		return
	}
	d.metrics.RecordInbound(OutcomeRouted)
}

// transcribe downloads and transcribes msg's audio. It reports false for any
// failure or an empty transcription.
func (d *Dispatcher) transcribe(ctx context.Context, msg models.NormalizedMessage) (string, bool) {
	log := logx.Ctx(ctx)
	if d.media == nil || d.transcriber == nil {
		log.Warn().Str("event", "stt_unavailable").Msg("Dispatcher.transcribe: no media fetcher or transcriber configured")
		return "", false
	}

	audio, name, err := d.media.FetchAudio(ctx, msg)
	if err != nil {
		log.Error().Err(err).Str("event", "media_download_error").Msg("Dispatcher.transcribe: failed to download audio")
		return "", false
	}
	text, err := d.transcriber.Transcribe(ctx, audio, name)
	if err != nil {
		log.Error().Err(err).Str("event", "stt_transcription_error").Msg("Dispatcher.transcribe: transcription failed")
		return "", false
	}
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		log.Warn().Str("event", "stt_empty").Msg("Dispatcher.transcribe: empty transcription")
		return "", false
	}
	log.Info().Str("event", "stt_transcription").Int("text_length", len(text)).Msg("Dispatcher.transcribe: audio transcribed")
	return text, true
}
