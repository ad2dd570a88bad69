package wservice

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qserv/qserv/internal/memman"
	"github.com/qserv/qserv/internal/wbase"
	"github.com/qserv/qserv/internal/wsched"
	"github.com/qserv/qserv/pkg/models"
)

func newTestService(t *testing.T, run wsched.RunFunc) *Service {
	t.Helper()
	sched := wsched.NewBlendScheduler(2, 1, 1, 1, 1, run)
	t.Cleanup(sched.Stop)
	mm := memman.NewRealMemMan(512)
	return New(":0", 2, sched, mm)
}

func TestDispatchStreamsRowsThenDoneEnvelope(t *testing.T) {
	run := func(t *wbase.Task) {
		_ = t.Reply.SendRow(map[string]interface{}{"id": 1})
		_ = t.Reply.Close()
	}
	svc := newTestService(t, run)

	body, err := json.Marshal(models.ChunkQueryRequest{JobID: "job-1", DB: "db", ChunkID: 3, Fragments: []string{"SELECT 1"}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/query2/3", bytes.NewReader(body))
	w := httptest.NewRecorder()
	svc.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	scanner := bufio.NewScanner(w.Body)
	var envelopes []models.RowEnvelope
	for scanner.Scan() {
		var env models.RowEnvelope
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &env))
		envelopes = append(envelopes, env)
	}
	require.Len(t, envelopes, 2)
	assert.EqualValues(t, 1, envelopes[0].Row["id"])
	assert.True(t, envelopes[1].Done)
	assert.Empty(t, envelopes[1].Error)
}

func TestDispatchStreamsErrorEnvelopeOnFailure(t *testing.T) {
	run := func(t *wbase.Task) {
		_ = t.Reply.SendError(assert.AnError)
	}
	svc := newTestService(t, run)

	body, _ := json.Marshal(models.ChunkQueryRequest{JobID: "job-2", DB: "db", ChunkID: 1})
	req := httptest.NewRequest(http.MethodPost, "/query2/1", bytes.NewReader(body))
	w := httptest.NewRecorder()
	svc.Handler().ServeHTTP(w, req)

	scanner := bufio.NewScanner(w.Body)
	require.True(t, scanner.Scan())
	var env models.RowEnvelope
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &env))
	assert.True(t, env.Done)
	assert.NotEmpty(t, env.Error)
}

func TestHealthEndpointReportsPoolAndBudget(t *testing.T) {
	svc := newTestService(t, func(*wbase.Task) {})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	svc.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var info models.HealthInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, "ok", info.Status)
	assert.Equal(t, 2, info.PoolSize)
	assert.Equal(t, int64(512), info.MemManBudgetMB)
}

func TestChunkIDFromPath(t *testing.T) {
	id, ok := chunkIDFromPath("/query2/42")
	require.True(t, ok)
	assert.EqualValues(t, 42, id)

	_, ok = chunkIDFromPath("/query2/")
	assert.False(t, ok)
}
