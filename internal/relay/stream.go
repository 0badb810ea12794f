package relay

import (
	"errors"
	"io"
	"net/http"
)

// textStream writes a chunked plain-text body, flushing after every write so
// the client sees each chunk as soon as it is relayed.
type textStream struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func newTextStream(w http.ResponseWriter) *textStream {
	return &textStream{w: w, rc: http.NewResponseController(w)}
}

// Start commits the status line and the headers that keep intermediaries from
// caching or buffering the stream.
func (s *textStream) Start() error {
	h := s.w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Del("Content-Length")

	s.w.WriteHeader(http.StatusOK)
	return s.flush()
}

// WriteString writes one chunk verbatim and flushes it.
func (s *textStream) WriteString(chunk string) error {
	if _, err := io.WriteString(s.w, chunk); err != nil {
		return err
	}
	return s.flush()
}

func (s *textStream) flush() error {
	err := s.rc.Flush()
	if errors.Is(err, http.ErrNotSupported) {
		// Still correct, only less incremental
		return nil
	}
	return err
}
