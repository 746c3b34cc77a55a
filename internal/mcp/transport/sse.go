package transport

import (
	"bufio"
	"strings"
)

const (
	sseDataField = "data:"
	// sseDoneSentinel terminates some streams and is never relayed.
	sseDoneSentinel = "[DONE]"
)

// DecodeEventStream splits a complete text/event-stream body into one payload
// per event, in order.
//
// Values of consecutive data lines within an event are joined with '\n'. A blank
// line ends the event. Fields other than data (event, id, retry, comments) are
// ignored. A trailing event without a terminating blank line is still returned.
func DecodeEventStream(body string) []string {
	var (
		payloads []string
		buf      strings.Builder
	)

	flush := func() {
		if buf.Len() > 0 {
			payloads = append(payloads, buf.String())
			buf.Reset()
		}
	}

	scanner := bufio.NewScanner(strings.NewReader(body))
	// A single data line may be as large as the whole body.
	scanner.Buffer(make([]byte, 0, 64*1024), len(body)+1)

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case strings.HasPrefix(line, sseDataField):
			value := strings.TrimSpace(strings.TrimPrefix(line, sseDataField))
			if value == sseDoneSentinel {
				continue
			}
			if buf.Len() > 0 {
				buf.WriteByte('\n')
			}
			buf.WriteString(value)
		case strings.TrimSpace(line) == "":
			flush()
		}
	}
	flush()

	return payloads
}
