package transport

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qserv/qserv/internal/qsession"
)

type fakeResolver struct {
	endpoints map[string]string
}

func (r fakeResolver) WorkerFor(db string, chunkID int32) (string, bool) {
	ep, ok := r.endpoints[fmt.Sprintf("%s.%d", db, chunkID)]
	return ep, ok
}

func TestRoutedTransportRejectsUnassignedChunk(t *testing.T) {
	rt := NewRoutedTransport(fakeResolver{endpoints: map[string]string{}}, "sess", "user")
	_, err := rt.Dispatch(context.Background(), "job-1", qsession.ChunkQuerySpec{DominantDB: "db", ChunkID: 5})
	require.Error(t, err)
}

func TestRoutedTransportCachesPerEndpoint(t *testing.T) {
	rt := NewRoutedTransport(fakeResolver{endpoints: map[string]string{"db.1": "http://worker-a:9000"}}, "sess", "user")
	first := rt.transportFor("http://worker-a:9000")
	second := rt.transportFor("http://worker-a:9000")
	assert.Same(t, first, second)
}

func TestRoutedTransportHonorsLegacyFlag(t *testing.T) {
	rt := NewRoutedTransport(fakeResolver{endpoints: map[string]string{}}, "sess", "user")
	rt.UseLegacyProtocol(true)
	tr := rt.transportFor("http://worker-a:9000")
	assert.True(t, tr.legacy)
}
