package wservice

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/qserv/qserv/internal/transport"
	"github.com/qserv/qserv/pkg/models"
)

// httpReply streams a task's rows to an HTTP response body as newline-
// delimited JSON RowEnvelope values, per spec.md §6's wire protocol. It
// implements wbase.ReplyChannel.
type httpReply struct {
	mu      sync.Mutex
	enc     *json.Encoder
	flusher http.Flusher
	done    bool
	doneCh  chan struct{}
}

func newHTTPReply(w http.ResponseWriter) *httpReply {
	flusher, _ := w.(http.Flusher)
	return &httpReply{
		enc:     json.NewEncoder(w),
		flusher: flusher,
		doneCh:  make(chan struct{}),
	}
}

// Done is closed once a terminal envelope (success or error) has been
// written, signaling the handler goroutine it may return.
func (r *httpReply) Done() <-chan struct{} {
	return r.doneCh
}

func (r *httpReply) SendRow(row transport.Row) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return fmt.Errorf("wservice: send on a terminated reply")
	}
	if err := r.enc.Encode(models.RowEnvelope{Row: map[string]interface{}(row)}); err != nil {
		return err
	}
	if r.flusher != nil {
		r.flusher.Flush()
	}
	return nil
}

func (r *httpReply) SendError(cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return fmt.Errorf("wservice: send on a terminated reply")
	}
	r.done = true
	err := r.enc.Encode(models.RowEnvelope{Done: true, Error: cause.Error()})
	if r.flusher != nil {
		r.flusher.Flush()
	}
	close(r.doneCh)
	return err
}

func (r *httpReply) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return nil
	}
	r.done = true
	err := r.enc.Encode(models.RowEnvelope{Done: true})
	if r.flusher != nil {
		r.flusher.Flush()
	}
	close(r.doneCh)
	return err
}
