package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/qserv/qserv/internal/qsession"
)

// WorkerResolver maps a chunk to the dispatch endpoint of the worker it
// is assigned to. internal/bootstrap.Config implements this directly.
type WorkerResolver interface {
	WorkerFor(db string, chunkID int32) (string, bool)
}

// RoutedTransport is the master-side ChunkTransport that fans a query's
// chunk set out across however many workers the topology assigns them to,
// per spec.md §4.2's dispatch model: one HTTPTransport per distinct
// worker endpoint, lazily created and reused for the life of the process.
type RoutedTransport struct {
	resolver WorkerResolver
	session  string
	user     string
	token    string
	legacy   bool

	mu    sync.Mutex
	cache map[string]*HTTPTransport
}

// NewRoutedTransport builds a transport that looks up each chunk's worker
// via resolver, tagging every dispatch with session and user.
func NewRoutedTransport(resolver WorkerResolver, session, user string) *RoutedTransport {
	return &RoutedTransport{
		resolver: resolver,
		session:  session,
		user:     user,
		cache:    make(map[string]*HTTPTransport),
	}
}

// SetToken sets the capability token forwarded to every worker dispatch,
// per spec.md §1's "forward the token to workers unchanged" requirement.
func (t *RoutedTransport) SetToken(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = token
}

// UseLegacyProtocol switches every subsequently created per-worker
// transport to the protocol=1 /query route, for interop with workers that
// have not yet been upgraded.
func (t *RoutedTransport) UseLegacyProtocol(legacy bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.legacy = legacy
}

func (t *RoutedTransport) Dispatch(ctx context.Context, jobID string, spec qsession.ChunkQuerySpec) (RowStream, error) {
	endpoint, ok := t.resolver.WorkerFor(spec.DominantDB, spec.ChunkID)
	if !ok {
		return nil, fmt.Errorf("transport: no worker assigned to %s chunk %d", spec.DominantDB, spec.ChunkID)
	}
	return t.transportFor(endpoint).Dispatch(ctx, jobID, spec)
}

func (t *RoutedTransport) transportFor(endpoint string) *HTTPTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tr, ok := t.cache[endpoint]; ok {
		return tr
	}
	var tr *HTTPTransport
	if t.legacy {
		tr = NewLegacyHTTPTransport(endpoint)
	} else {
		tr = NewHTTPTransport(endpoint)
	}
	tr.Session = t.session
	tr.User = t.user
	tr.Token = t.token
	t.cache[endpoint] = tr
	return tr
}
