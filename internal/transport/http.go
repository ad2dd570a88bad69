package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/qserv/qserv/internal/errors"
	"github.com/qserv/qserv/internal/qsession"
	"github.com/qserv/qserv/pkg/api"
	"github.com/qserv/qserv/pkg/models"
)

// HTTPTransport dispatches chunk queries to a worker's HTTP endpoint and
// streams back newline-delimited JSON row batches, per spec.md §4.2.1:
// POST /query2/<chunk> (current) or /query/<chunk> (legacy), grounded on
// the teacher's internal/cli/gateway_client.go net/http + encoding/json
// idiom.
type HTTPTransport struct {
	Endpoint   string
	Session    string
	User       string
	Token      string // capability token forwarded unchanged, per spec.md §1
	httpClient *http.Client
	legacy     bool
}

// NewHTTPTransport builds a transport that dispatches to the /query2
// endpoint. Use NewLegacyHTTPTransport for workers still on the old route.
func NewHTTPTransport(endpoint string) *HTTPTransport {
	return &HTTPTransport{
		Endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 0},
	}
}

// NewLegacyHTTPTransport dispatches to the legacy /query/<chunk> route.
func NewLegacyHTTPTransport(endpoint string) *HTTPTransport {
	t := NewHTTPTransport(endpoint)
	t.legacy = true
	return t
}

func (t *HTTPTransport) Dispatch(ctx context.Context, jobID string, spec qsession.ChunkQuerySpec) (RowStream, error) {
	route := api.RoutePrefixQuery2
	protocol := 2
	if t.legacy {
		route = api.RoutePrefixQueryLegacy
		protocol = 1
	}
	path := fmt.Sprintf("%s%s/%d", t.Endpoint, route, spec.ChunkID)

	body, err := json.Marshal(models.ChunkQueryRequest{
		JobID:     jobID,
		Session:   t.Session,
		User:      t.User,
		DB:        spec.DominantDB,
		ChunkID:   spec.ChunkID,
		Protocol:  protocol,
		ScanInfo:  models.ScanInfo{Tables: spec.ScanTables},
		Fragments: spec.Fragments,
		SubChunks: spec.SubChunkIDs,
	})
	if err != nil {
		return nil, errors.NewProvisionError(jobID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewProvisionError(jobID, err)
	}
	req.Header.Set(api.HeaderContentType, api.ContentTypeJSON)
	req.Header.Set(api.HeaderJobID, jobID)
	if t.Token != "" {
		req.Header.Set(api.HeaderAuthorization, "Bearer "+t.Token)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewProvisionError(jobID, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errors.NewProvisionError(jobID, fmt.Errorf("worker returned status %d", resp.StatusCode))
	}

	return &ndjsonStream{jobID: jobID, body: resp.Body, scanner: bufio.NewScanner(resp.Body)}, nil
}

// ndjsonStream reads one JSON-encoded Row per line from a streaming HTTP
// response body.
type ndjsonStream struct {
	jobID   string
	body    interface{ Close() error }
	scanner *bufio.Scanner
}

func (s *ndjsonStream) Next(ctx context.Context) (Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return nil, errors.NewStreamError(s.jobID, err)
		}
		// The worker closed the connection without a terminal "done"
		// envelope: treat as a mid-stream failure rather than success.
		return nil, errors.NewStreamError(s.jobID, fmt.Errorf("connection closed before completion envelope"))
	}
	line := s.scanner.Bytes()
	if len(line) == 0 {
		return s.Next(ctx)
	}
	var env models.RowEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, errors.NewStreamError(s.jobID, err)
	}
	if env.Done {
		if env.Error != "" {
			return nil, errors.NewResultError(s.jobID, env.Error)
		}
		return nil, nil
	}
	return Row(env.Row), nil
}

func (s *ndjsonStream) Close() error {
	return s.body.Close()
}
