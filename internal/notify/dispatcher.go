package notify

import (
	"context"
	"time"

	"github.com/littlehero/api/internal/model"
	"github.com/rs/zerolog"
)

// Sink receives status events for delivery to one audience.
type Sink interface {
	Name() string
	Publish(ctx context.Context, event model.StatusEvent) error
}

// Dispatcher turns job writes into status events and hands them to every
// sink from a single goroutine. It implements bookjob.Listener.
type Dispatcher struct {
	sinks   []Sink
	events  chan model.StatusEvent
	timeout time.Duration
	log     zerolog.Logger
}

func NewDispatcher(log zerolog.Logger, buffer int, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	return &Dispatcher{
		sinks:   sinks,
		events:  make(chan model.StatusEvent, buffer),
		timeout: 5 * time.Second,
		log:     log.With().Str("component", "notify").Logger(),
	}
}

// JobChanged never blocks the writer; events are dropped when the buffer is full.
func (d *Dispatcher) JobChanged(job *model.BookJob) {
	event := model.NewStatusEvent(job)
	select {
	case d.events <- event:
	default:
		d.log.Warn().
			Str("job_id", job.ID).
			Str("status", string(job.Status)).
			Msg("status event dropped, dispatcher is full")
	}
}

// Run delivers events until ctx is done, then drains what is already queued.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case event := <-d.events:
					d.deliver(context.WithoutCancel(ctx), event)
				default:
					return
				}
			}
		case event := <-d.events:
			d.deliver(ctx, event)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, event model.StatusEvent) {
	for _, sink := range d.sinks {
		sctx, cancel := context.WithTimeout(ctx, d.timeout)
		err := sink.Publish(sctx, event)
		cancel()
		if err != nil {
			d.log.Error().Err(err).
				Str("sink", sink.Name()).
				Str("job_id", event.BookID).
				Str("status", string(event.Status)).
				Msg("failed to publish status event")
		}
	}
}
