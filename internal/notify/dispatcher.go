package notify

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/yegors/fleetwatch/internal/fleet"
	"github.com/yegors/fleetwatch/pkg/logger"
)

// TextSink delivers rendered messages
type TextSink interface {
	Name() string
	Send(ctx context.Context, text string) error
}

// Dispatcher fans committed events out to every configured sink. Sends run in the
// background and a failing sink never affects the caller or the other sinks.
type Dispatcher struct {
	formatter  Formatter
	text       []TextSink
	publishers []Publisher
	timeout    time.Duration
	now        func() time.Time
	logger     *logger.Logger

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher with no sinks
func NewDispatcher(formatter Formatter, timeout time.Duration, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		formatter: formatter,
		timeout:   timeout,
		now:       time.Now,
		logger:    log.Named("notify"),
	}
}

// AddText registers a text sink
func (d *Dispatcher) AddText(s TextSink) {
	d.text = append(d.text, s)
}

// AddPublisher registers a structured sink
func (d *Dispatcher) AddPublisher(p Publisher) {
	d.publishers = append(d.publishers, p)
}

// Sinks returns the registered sink names
func (d *Dispatcher) Sinks() []string {
	names := make([]string, 0, len(d.text)+len(d.publishers))
	for _, s := range d.text {
		names = append(names, s.Name())
	}
	for _, p := range d.publishers {
		names = append(names, p.Name())
	}
	return names
}

// Notify renders ev and hands it to every sink without waiting
func (d *Dispatcher) Notify(ev fleet.FlightEvent) {
	text := d.formatter.Text(ev)
	env := NewEnvelope(ev, text, d.now())

	for _, s := range d.text {
		d.run(s.Name(), ev, func(ctx context.Context) error {
			return s.Send(ctx, text)
		})
	}
	for _, p := range d.publishers {
		d.run(p.Name(), ev, func(ctx context.Context) error {
			return p.Publish(ctx, env)
		})
	}
}

func (d *Dispatcher) run(sink string, ev fleet.FlightEvent, send func(ctx context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := send(ctx); err != nil {
			d.logger.Warn("Notification failed",
				logger.String("sink", sink),
				logger.String("type", string(ev.Kind)),
				logger.String("tail", ev.TailNumber),
				logger.Error(err))
			return
		}
		d.logger.Debug("Notification sent",
			logger.String("sink", sink),
			logger.String("type", string(ev.Kind)),
			logger.String("tail", ev.TailNumber))
	}()
}

// Wait blocks until every in-flight send has finished
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close waits for in-flight sends and then closes sinks that hold connections
func (d *Dispatcher) Close() error {
	d.wg.Wait()

	var first error
	for _, p := range d.publishers {
		c, ok := p.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			d.logger.Warn("Failed to close sink", logger.String("sink", p.Name()), logger.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	return first
}
