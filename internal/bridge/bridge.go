package bridge

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog"

	"mcpbridge/internal/config"
	"mcpbridge/internal/mcp/transport"
	"mcpbridge/internal/metrics"
)

// Option is a functional option for Bridge.
type Option func(*Bridge)

// WithExchanger replaces the HTTP transport built from the config.
func WithExchanger(e transport.Exchanger) Option {
	return func(b *Bridge) {
		b.exchanger = e
	}
}

// WithLogger sets the logger. Stage loggers are derived from it.
func WithLogger(log zerolog.Logger) Option {
	return func(b *Bridge) {
		b.log = log
	}
}

// WithMetrics records pipeline activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bridge) {
		b.metrics = m
	}
}

// WithBackoffSleeper replaces the wait between retries.
func WithBackoffSleeper(s Sleeper) Option {
	return func(b *Bridge) {
		b.sleep = s
	}
}

// Bridge relays line-delimited JSON-RPC between a stdio pair and the remote
// endpoint.
type Bridge struct {
	cfg       config.Config
	exchanger transport.Exchanger
	log       zerolog.Logger
	metrics   *metrics.Metrics
	sleep     Sleeper
}

// New creates a bridge for cfg. cfg is expected to be validated.
func New(cfg config.Config, opts ...Option) *Bridge {
	b := &Bridge{
		cfg:   cfg,
		log:   zerolog.Nop(),
		sleep: sleepContext,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.exchanger == nil {
		b.exchanger = transport.NewHTTPTransport(transport.HTTPConfig{
			Endpoint:    cfg.URI,
			BearerToken: cfg.BearerToken,
			Timeout:     cfg.Timeout(),
		}, transport.WithHTTPLogger(b.component("transport")))
	}
	return b
}

func (b *Bridge) component(name string) zerolog.Logger {
	return b.log.With().Str("component", name).Logger()
}

// Run starts the reader, pump and writer stages and blocks until all three
// have finished.
//
// Shutdown fires when ctx is done or when the reader or pump finishes on its
// own; the writer then drains whatever the pump already queued. The returned
// error joins the stage failures, if any.
func (b *Bridge) Run(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	queueSize := b.cfg.MaxQueue
	if queueSize <= 0 {
		queueSize = config.DefaultMaxQueue
	}
	if queueSize > config.MaxQueueLimit {
		queueSize = config.MaxQueueLimit
	}

	b.log.Info().
		Str("name", b.cfg.DisplayName()).
		Str("uri", b.cfg.URI).
		Int("max_queue", queueSize).
		Msg("starting stdio-to-HTTP bridge")

	shutdownCtx, shutdown := context.WithCancel(ctx)
	defer shutdown()

	inbound := make(chan transport.Message, queueSize)
	outbound := make(chan string, queueSize)

	readerDone := make(chan error, 1)
	pumpDone := make(chan error, 1)
	writerDone := make(chan struct{})
	var writeErr error

	go func() {
		defer close(writerDone)
		writeErr = transport.WriteLines(stdout, outbound, b.component("writer"))
	}()

	go func() {
		readerDone <- transport.ReadLines(shutdownCtx, stdin, inbound, b.component("reader"))
	}()

	pump := NewPump(b.exchanger, PumpConfig{
		Name:           b.cfg.DisplayName(),
		InitialBackoff: config.InitialBackoff,
		MaxBackoff:     b.cfg.MaxBackoff(),
	},
		WithPumpLogger(b.component("pump")),
		WithSleeper(b.sleep),
		WithPumpMetrics(b.metrics),
	)
	go func() {
		defer close(outbound)
		pumpDone <- pump.Run(shutdownCtx, inbound, outbound, writerDone)
	}()

	var readErr, pumpErr error
	var readerFinished, pumpFinished bool
	select {
	case <-shutdownCtx.Done():
		b.log.Info().Msg("shutdown requested")
	case readErr = <-readerDone:
		readerFinished = true
		b.log.Debug().Msg("input finished")
	case pumpErr = <-pumpDone:
		pumpFinished = true
		b.log.Debug().Msg("pump finished")
	case <-writerDone:
		b.log.Debug().Msg("output finished")
	}
	shutdown()

	if !readerFinished {
		readErr = <-readerDone
	}
	if !pumpFinished {
		pumpErr = <-pumpDone
	}
	<-writerDone

	if errors.Is(pumpErr, ErrOutputClosed) {
		pumpErr = nil
	}
	return errors.Join(readErr, pumpErr, writeErr)
}
