package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janikdotzel/healthcare-agent/internal/agent"
	"github.com/janikdotzel/healthcare-agent/internal/ingest"
	"github.com/janikdotzel/healthcare-agent/pkg/ledger"
	"github.com/janikdotzel/healthcare-agent/pkg/projection"
	"github.com/janikdotzel/healthcare-agent/pkg/vectorstore"
)

// cannedStream replays fixed chunks, then io.EOF.
type cannedStream struct {
	chunks []openai.ChatCompletionStreamResponse
	pos    int
}

func (s *cannedStream) Recv() (openai.ChatCompletionStreamResponse, error) {
	if s.pos >= len(s.chunks) {
		return openai.ChatCompletionStreamResponse{}, io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *cannedStream) Close() error { return nil }

type cannedStreamer struct {
	answer string
}

func (c cannedStreamer) CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (agent.ChatStream, error) {
	return &cannedStream{chunks: []openai.ChatCompletionStreamResponse{
		{Choices: []openai.ChatCompletionStreamChoice{
			{Delta: openai.ChatCompletionStreamChoiceDelta{Content: c.answer}},
		}},
		{Usage: &openai.Usage{PromptTokens: 12, CompletionTokens: 3}},
	}}, nil
}

type noKnowledge struct{}

func (noKnowledge) Retrieve(ctx context.Context, question, userID string) (string, error) {
	return "", nil
}

type unitEmbedder struct{}

func (unitEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (unitEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (unitEmbedder) ModelName() string { return "test-embedder" }

type testEnv struct {
	server   *Server
	ledger   *ledger.Ledger
	sessions *projection.Projection
	records  *vectorstore.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	l := ledger.New(ledger.NewMemoryStore(), zerolog.Nop())
	t.Cleanup(func() { l.Close() })

	sessions := projection.New(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sessions.Run(ctx, l.Subscribe())

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	sensors := ingest.NewSensorStore(client, zerolog.Nop())

	records := vectorstore.NewMemoryStore()
	indexer := ingest.NewIndexer(records, unitEmbedder{}, zerolog.Nop())

	ag := agent.New(cannedStreamer{answer: "All good."}, l, noKnowledge{}, nil, sensors,
		agent.Config{}, zerolog.Nop())

	srv := New(Config{Addr: ":0"}, ag, sessions, indexer, sensors, nil, zerolog.Nop())
	return &testEnv{server: srv, ledger: l, sessions: sessions, records: records}
}

// readSSE parses the data events of an SSE body.
func readSSE(t *testing.T, body io.Reader) []agent.StreamToken {
	t.Helper()
	var out []agent.StreamToken
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var token agent.StreamToken
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &token))
		out = append(out, token)
	}
	return out
}

func TestAskStreamsTokens(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/agent/ask", "application/json",
		strings.NewReader(`{"userId":"alice","sessionId":"s1","question":"How am I doing?"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	tokens := readSSE(t, resp.Body)
	require.NotEmpty(t, tokens)
	last := tokens[len(tokens)-1]
	assert.True(t, last.Final)
	assert.Equal(t, 12, last.InputTokens)

	var answer strings.Builder
	for _, token := range tokens {
		answer.WriteString(token.Content)
	}
	assert.Equal(t, "All good.", answer.String())

	// The exchange was committed before the terminal token was emitted.
	id, err := ledger.NewConversationID("alice", "s1")
	require.NoError(t, err)
	state, err := env.ledger.History(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, state.Messages, 2)
}

func TestAskRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/agent/ask", "application/json", strings.NewReader(`not json`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessionEndpoints(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	require.NoError(t, env.ledger.Append(context.Background(), ledger.Exchange{
		UserID: "alice", SessionID: "s1",
		Question: "Hi", Answer: "Hello!",
	}))

	// The projection is eventually consistent with the ledger.
	require.Eventually(t, func() bool {
		return len(env.sessions.SessionsByUser("alice")) == 1
	}, time.Second, 10*time.Millisecond)

	resp, err := http.Get(ts.URL + "/sessions/alice")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rows []projection.SessionRow
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "s1", rows[0].SessionID)

	resp, err = http.Get(ts.URL + "/sessions/alice/s1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var row projection.SessionRow
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&row))
	require.Len(t, row.Messages, 2)
	assert.Equal(t, "Hi", row.Messages[0].Content)

	resp, err = http.Get(ts.URL + "/sessions/alice/unknown")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIngestMedicalRecord(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/ingest/medical-record", "application/json",
		strings.NewReader(`{"patientId":"alice","reasonForVisit":"headaches","diagnosis":"migraine","prescribedMedication":"sumatriptan","notes":"follow up in 4 weeks"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	results, err := env.records.Search(context.Background(), vectorstore.SearchQuery{
		Embedding: []float32{1, 0, 0},
		TopK:      5,
		Filter:    map[string]string{"patientId": "alice"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, results)

	// Missing patient id is rejected before indexing.
	resp, err = http.Post(ts.URL+"/ingest/medical-record", "application/json",
		strings.NewReader(`{"diagnosis":"migraine"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIngestSensor(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/ingest/sensor", "application/json",
		strings.NewReader(`{"patientId":"alice","source":"scale","description":"weight","value":"71.2"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/ingest/sensor", "application/json",
		strings.NewReader(`{"source":"scale"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOperationalEndpoints(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
