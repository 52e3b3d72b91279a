package llm

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxSSELine = 1 << 20

// serverSentEventScanner reads the data payloads of a Server-Sent Events stream.
type serverSentEventScanner struct {
	scanner *bufio.Scanner
	data    string
	done    bool
}

func newServerSentEventScanner(r io.Reader) *serverSentEventScanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxSSELine)
	return &serverSentEventScanner{scanner: sc}
}

// Next advances to the next data line. It returns false at end of input or
// after the [DONE] sentinel.
func (s *serverSentEventScanner) Next() bool {
	if s.done {
		return false
	}
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			s.done = true
			return false
		}
		if payload == "" {
			continue
		}
		s.data = payload
		return true
	}
	return false
}

// Terminated reports whether the [DONE] sentinel was read. A stream that ends
// without it was cut short.
func (s *serverSentEventScanner) Terminated() bool { return s.done }

// Data returns the payload of the current data line.
func (s *serverSentEventScanner) Data() []byte { return []byte(s.data) }

// Err returns the first read error.
func (s *serverSentEventScanner) Err() error { return s.scanner.Err() }

// errorFromResponse builds a ProviderError from a non-200 response, lifting
// the message out of the usual {"error":{"message":...}} envelope.
func errorFromResponse(provider string, resp *http.Response) *ProviderError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		msg = envelope.Error.Message
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &ProviderError{Provider: provider, Message: msg, Code: resp.StatusCode}
}

// sendEvent delivers ev unless the request context has ended.
func sendEvent(done <-chan struct{}, ch chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-done:
		return false
	}
}

func streamError(format string, args ...any) StreamEvent {
	return StreamEvent{Type: EventError, Error: fmt.Sprintf(format, args...)}
}
