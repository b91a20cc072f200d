package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/factline/cli/pkg/api"
	"github.com/go-resty/resty/v2"
)

const maxFrameSize = 1 << 20

// SSETransport reads the status stream as server-sent events. Bare
// newline-delimited JSON bodies are accepted as well.
type SSETransport struct {
	service *api.Service
	client  *resty.Client
}

// NewSSETransport streams through httpClient, which should have no request
// timeout. URLs come from service.
func NewSSETransport(service *api.Service, httpClient *resty.Client) *SSETransport {
	return &SSETransport{service: service, client: httpClient}
}

func (t *SSETransport) Open(ctx context.Context, target Target) (FrameReader, error) {
	resp, err := t.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeader("Accept", "text/event-stream").
		SetHeader("Cache-Control", "no-cache").
		Get(t.service.StreamURL(target.Kind, target.ContentID, target.Token))
	if err != nil {
		return nil, err
	}

	body := resp.RawBody()
	if resp.StatusCode() != 200 {
		snippet, _ := io.ReadAll(io.LimitReader(body, 512))
		body.Close()
		return nil, fmt.Errorf("stream: unexpected status %d: %s", resp.StatusCode(), strings.TrimSpace(string(snippet)))
	}

	return &sseReader{body: body, scanner: newScanner(body)}, nil
}

func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	return scanner
}

type sseReader struct {
	body    io.ReadCloser
	scanner *bufio.Scanner

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

// Next returns the payload of the next event.
func (r *sseReader) Next() ([]byte, error) {
	var data []string

	for r.scanner.Scan() {
		line := strings.TrimRight(r.scanner.Text(), "\r")

		switch {
		case line == "":
			if len(data) > 0 {
				return []byte(strings.Join(data, "\n")), nil
			}
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, "event:"), strings.HasPrefix(line, "id:"), strings.HasPrefix(line, "retry:"):
		case len(data) == 0 && strings.HasPrefix(strings.TrimSpace(line), "{"):
			return []byte(line), nil
		}
	}

	if len(data) > 0 {
		return []byte(strings.Join(data, "\n")), nil
	}

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (r *sseReader) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		err = r.body.Close()
	})
	return err
}
