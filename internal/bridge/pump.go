package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"mcpbridge/internal/mcp/protocol"
	"mcpbridge/internal/mcp/transport"
	"mcpbridge/internal/metrics"
)

const (
	shutdownDuringRetryMessage = "bridge shutdown during retry"
	transportErrorPrefix       = "bridge transport error: "
)

// ErrOutputClosed is returned by Pump.Run when the output writer stopped
// before the pump could hand it a line.
var ErrOutputClosed = errors.New("output writer closed")

// errShutdown ends the pump after a shutdown interrupted a retry.
var errShutdown = errors.New("shutdown during retry")

// Sleeper waits for d or until ctx is done, returning ctx.Err() in the
// latter case.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// PumpConfig configures a Pump.
type PumpConfig struct {
	// Name identifies the bridge in log lines.
	Name string
	// InitialBackoff is the first wait after a retryable failure.
	InitialBackoff time.Duration
	// MaxBackoff caps the doubling wait.
	MaxBackoff time.Duration
}

// PumpOption is a functional option for Pump.
type PumpOption func(*Pump)

// WithPumpLogger sets the pump logger.
func WithPumpLogger(log zerolog.Logger) PumpOption {
	return func(p *Pump) {
		p.log = log
	}
}

// WithSleeper replaces the backoff wait.
func WithSleeper(s Sleeper) PumpOption {
	return func(p *Pump) {
		p.sleep = s
	}
}

// WithPumpMetrics records pump activity in m.
func WithPumpMetrics(m *metrics.Metrics) PumpOption {
	return func(p *Pump) {
		p.metrics = m
	}
}

// Pump sends inbound messages to the remote endpoint one at a time and
// forwards the responses in order.
type Pump struct {
	exchanger transport.Exchanger
	cfg       PumpConfig
	log       zerolog.Logger
	sleep     Sleeper
	metrics   *metrics.Metrics
}

// NewPump creates a pump around exchanger.
func NewPump(exchanger transport.Exchanger, cfg PumpConfig, opts ...PumpOption) *Pump {
	p := &Pump{
		exchanger: exchanger,
		cfg:       cfg,
		log:       zerolog.Nop(),
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run consumes in until it is closed or ctx is done.
//
// Response lines go to out. outDone must be closed when the consumer of out
// stops; Run then returns ErrOutputClosed instead of blocking. Run returns
// nil when it stops because of in or ctx.
func (p *Pump) Run(ctx context.Context, in <-chan transport.Message, out chan<- string, outDone <-chan struct{}) error {
	defer func() {
		p.log.Info().Str("name", p.cfg.Name).Msg("bridge finished")
	}()

	backoff := NewBackoff(p.cfg.InitialBackoff, p.cfg.MaxBackoff)

	for {
		var (
			msg transport.Message
			ok  bool
		)
		select {
		case <-ctx.Done():
			return nil
		case msg, ok = <-in:
			if !ok {
				return nil
			}
		}

		p.metrics.MessageReceived()

		if ctx.Err() != nil {
			p.log.Debug().Str("msg_id", msg.ID).Msg("shutdown already requested, dropping message")
			p.metrics.MessageDropped()
			return nil
		}

		err := p.process(ctx, msg, backoff, out, outDone)
		if errors.Is(err, errShutdown) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// process drives one message to completion: success, fatal failure, or a
// shutdown that interrupts its retries.
func (p *Pump) process(ctx context.Context, msg transport.Message, backoff *Backoff, out chan<- string, outDone <-chan struct{}) error {
	log := p.log.With().Str("msg_id", msg.ID).Logger()
	backoff.Reset()

	// In-flight exchanges are bounded by the transport timeout, not by shutdown.
	exchangeCtx := context.WithoutCancel(ctx)

	for attempt := 1; ; attempt++ {
		log.Debug().Int("attempt", attempt).Int("bytes", len(msg.Body)).Msg("forwarding message")

		start := time.Now()
		payloads, err := p.exchanger.Exchange(exchangeCtx, msg.Body)
		p.metrics.ObserveExchange(time.Since(start))

		if err == nil {
			backoff.Reset()
			log.Debug().Int("payloads", len(payloads)).Msg("exchange complete")
			for _, line := range payloads {
				if err := p.emit(line, out, outDone); err != nil {
					return err
				}
			}
			return nil
		}

		if !transport.IsRetryable(err) {
			log.Error().Err(err).Msg("remote request failed (non-retryable)")
			p.metrics.FatalFailure()
			return p.emit(protocol.NewInternalErrorEnvelope(transportErrorPrefix+err.Error()), out, outDone)
		}

		wait := backoff.Next()
		log.Warn().Err(err).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Dur("next_backoff", backoff.Current()).
			Msg("remote request failed, retrying with backoff")
		p.metrics.RetryScheduled(wait)

		sleepErr := p.sleep(ctx, wait)
		p.metrics.RetryFinished()
		if sleepErr != nil {
			log.Info().Msg("shutdown during retry, abandoning message")
			p.metrics.ShutdownEnvelope()
			if err := p.emit(protocol.NewInternalErrorEnvelope(shutdownDuringRetryMessage), out, outDone); err != nil {
				return err
			}
			return errShutdown
		}
	}
}

func (p *Pump) emit(line string, out chan<- string, outDone <-chan struct{}) error {
	select {
	case out <- line:
		p.metrics.ResponseEmitted()
		return nil
	case <-outDone:
		return ErrOutputClosed
	}
}
