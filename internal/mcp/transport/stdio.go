package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
)

// ReadLines reads r line by line and sends every non-blank line to out, in
// order, until end of input, a read error, or ctx is done. It closes out on
// return so the consumer can detect exhaustion.
//
// Trailing "\r" and "\n" are stripped. Lines that are empty or whitespace only
// are dropped silently. A final line without a newline is still forwarded.
// End of input and cancellation return nil; a read error is logged and returned.
func ReadLines(ctx context.Context, r io.Reader, out chan<- Message, log zerolog.Logger) error {
	defer close(out)

	type readResult struct {
		line string
		err  error
	}

	reader := bufio.NewReader(r)

	for {
		// Use a channel to make the blocking read cancelable. A read that is
		// abandoned on shutdown finishes into the buffered channel and is dropped.
		resultCh := make(chan readResult, 1)
		go func() {
			line, err := reader.ReadString('\n')
			resultCh <- readResult{line: line, err: err}
		}()

		var res readResult
		select {
		case <-ctx.Done():
			log.Debug().Msg("stdin reader received shutdown")
			return nil
		case res = <-resultCh:
		}

		if body := strings.TrimRight(res.line, "\r\n"); strings.TrimSpace(body) != "" {
			msg := NewMessage(body)
			select {
			case out <- msg:
				log.Debug().Str("msg_id", msg.ID).Int("len", len(body)).Msg("read request line")
			case <-ctx.Done():
				log.Debug().Msg("stdin reader received shutdown")
				return nil
			}
		}

		if res.err != nil {
			if errors.Is(res.err, io.EOF) {
				log.Debug().Msg("stdin closed")
				return nil
			}
			log.Error().Err(res.err).Msg("stdin read error")
			return fmt.Errorf("read input: %w", res.err)
		}
	}
}

// WriteLines writes every line received from in to w followed by '\n',
// flushing after each one, until in is closed. It stops at the first write or
// flush failure, logs it and returns it.
func WriteLines(w io.Writer, in <-chan string, log zerolog.Logger) error {
	writer := bufio.NewWriter(w)

	for line := range in {
		if _, err := writer.WriteString(line); err != nil {
			log.Error().Err(err).Msg("stdout write failed")
			return fmt.Errorf("write output: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			log.Error().Err(err).Msg("stdout write failed")
			return fmt.Errorf("write output: %w", err)
		}
		if err := writer.Flush(); err != nil {
			log.Error().Err(err).Msg("stdout flush failed")
			return fmt.Errorf("flush output: %w", err)
		}
		log.Debug().Int("len", len(line)).Msg("wrote response line")
	}

	return nil
}
