package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/scrypster/engram/internal/config"
	"github.com/scrypster/engram/internal/engine"
	"github.com/scrypster/engram/internal/server"
	"github.com/scrypster/engram/internal/storage/sqlite"
	"github.com/scrypster/engram/pkg/types"
)

// testConfig returns a config suitable for tests: random port, temp data
// path and development security mode unless a test overrides it.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{
			Host: "127.0.0.1",
			Port: 0,
		},
		Storage: config.StorageConfig{
			StorageEngine: "sqlite",
			DataPath:      t.TempDir(),
		},
		Retrieval: config.RetrievalConfig{
			TopK:         30,
			RRFK:         60,
			FactWeights:  config.ScoreWeights{Overlap: 0.65, Recency: 0.20, Weight: 0.15},
			SkillWeights: config.ScoreWeights{Overlap: 0.60, Recency: 0.15, Weight: 0.25},
			GraphHops:    1,
		},
		Memory: config.MemoryConfig{
			VolatileTTLHours: 12,
			MaxPinnedLines:   5,
			MaxFactLines:     7,
			MaxSkillLines:    3,
			MaxVolatileLines: 3,
			MaxTotalChars:    1800,
			SummaryCadence:   8,
			MaxFactsPerTurn:  3,
			MaxSessions:      16,
		},
		Security: config.SecurityConfig{
			SecurityMode: "development",
		},
	}
}

// startTestServer starts a server over a fresh sqlite store and returns the
// base URL. Cleanup is registered with t.Cleanup.
func startTestServer(t *testing.T, cfg *config.Config) string {
	t.Helper()

	store, err := sqlite.NewStore(filepath.Join(t.TempDir(), "engram.db"))
	require.NoError(t, err, "failed to create sqlite store")

	eng := engine.NewEngine(store, nil, nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	addr, err := server.Start(ctx, cfg, eng)
	require.NoError(t, err, "server failed to start")

	t.Cleanup(func() {
		cancel()
		time.Sleep(100 * time.Millisecond)
		_ = store.Close()
	})

	return "http://" + addr
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func TestServer_StartsOnRandomPort(t *testing.T) {
	baseURL := startTestServer(t, testConfig(t))

	require.True(t, strings.HasPrefix(baseURL, "http://"))
	host, port, err := net.SplitHostPort(strings.TrimPrefix(baseURL, "http://"))
	assert.NoError(t, err, "address should be valid host:port")
	assert.Equal(t, "127.0.0.1", host)
	assert.NotEqual(t, "0", port, "a concrete port should be assigned")
}

func TestServer_HealthEndpoint(t *testing.T) {
	baseURL := startTestServer(t, testConfig(t))

	resp, err := http.Get(baseURL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")

	var health map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health["status"])
}

func TestServer_SecurityHeaders(t *testing.T) {
	baseURL := startTestServer(t, testConfig(t))

	resp, err := http.Get(baseURL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", resp.Header.Get("Referrer-Policy"))
}

func TestServer_ProductionModeRequiresToken(t *testing.T) {
	cfg := testConfig(t)
	cfg.Security.SecurityMode = "production"
	cfg.Security.APIToken = "secret-token"
	baseURL := startTestServer(t, cfg)

	// Health stays open.
	resp, err := http.Get(baseURL + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// API routes reject missing and wrong tokens.
	resp, err = http.Get(baseURL + "/api/context?user=alice")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, baseURL+"/api/context?user=alice", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// The right token passes.
	req, _ = http.NewRequest(http.MethodGet, baseURL+"/api/context?user=alice", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_TurnAndContextRoundTrip(t *testing.T) {
	baseURL := startTestServer(t, testConfig(t))

	resp := postJSON(t, baseURL+"/api/turn", map[string]string{
		"user_id":   "alice",
		"user_text": "please don't output JSON, I want prose",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Turn  int          `json:"turn"`
		Facts []types.Item `json:"facts"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, 1, result.Turn)
	require.NotEmpty(t, result.Facts, "the output format preference should be captured")

	resp2, err := http.Get(baseURL + "/api/context?user=alice&query=output+format")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var ctxResp map[string]string
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&ctxResp))
	assert.Contains(t, ctxResp["context"], "MEMORY CONTEXT")
	assert.Contains(t, ctxResp["context"], "output_format")
}

func TestServer_TurnRejectsBadInput(t *testing.T) {
	baseURL := startTestServer(t, testConfig(t))

	// Missing user id.
	resp := postJSON(t, baseURL+"/api/turn", map[string]string{
		"user_text": "hello",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Malformed JSON.
	resp2, err := http.Post(baseURL+"/api/turn", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestServer_ContextRequiresUser(t *testing.T) {
	baseURL := startTestServer(t, testConfig(t))

	resp, err := http.Get(baseURL + "/api/context")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_RecentListsItems(t *testing.T) {
	baseURL := startTestServer(t, testConfig(t))

	resp := postJSON(t, baseURL+"/api/turn", map[string]string{
		"user_id":   "alice",
		"user_text": "my favorite color is green",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(baseURL + "/api/recent?user=alice&limit=5")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var recent struct {
		Items []types.Item `json:"items"`
	}
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&recent))
	require.NotEmpty(t, recent.Items)
	assert.Equal(t, "favorite_color", recent.Items[0].Key)

	// Another tenant sees nothing.
	resp3, err := http.Get(baseURL + "/api/recent?user=bob")
	require.NoError(t, err)
	defer resp3.Body.Close()
	var empty struct {
		Items []types.Item `json:"items"`
	}
	require.NoError(t, json.NewDecoder(resp3.Body).Decode(&empty))
	assert.Empty(t, empty.Items)
}

func TestServer_ReminderLifecycle(t *testing.T) {
	baseURL := startTestServer(t, testConfig(t))

	resp := postJSON(t, baseURL+"/api/reminders", map[string]string{
		"user_id": "alice",
		"title":   "stretch",
		"when":    "in 2 hours",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created types.Reminder
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, "stretch", created.Title)
	assert.Equal(t, types.ReminderActive, created.Status)
	require.NotEmpty(t, created.ID)

	resp2, err := http.Get(baseURL + "/api/reminders?user=alice")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var listed struct {
		Reminders []types.Reminder `json:"reminders"`
	}
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&listed))
	require.Len(t, listed.Reminders, 1)

	resp3 := postJSON(t, fmt.Sprintf("%s/api/reminders/%s/ack", baseURL, created.ID), map[string]string{
		"user_id": "alice",
		"action":  "done",
	})
	resp3.Body.Close()
	assert.Equal(t, http.StatusOK, resp3.StatusCode)

	resp4, err := http.Get(baseURL + "/api/reminders?user=alice")
	require.NoError(t, err)
	defer resp4.Body.Close()
	var after struct {
		Reminders []types.Reminder `json:"reminders"`
	}
	require.NoError(t, json.NewDecoder(resp4.Body).Decode(&after))
	assert.Empty(t, after.Reminders, "done reminder should leave the active list")
}

func TestServer_ReminderCreateRejectsUnparseableWhen(t *testing.T) {
	baseURL := startTestServer(t, testConfig(t))

	resp := postJSON(t, baseURL+"/api/reminders", map[string]string{
		"user_id": "alice",
		"title":   "stretch",
		"when":    "whenever you feel like it maybe",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "unparseable")
}

func TestServer_ReminderListRejectsBadStatus(t *testing.T) {
	baseURL := startTestServer(t, testConfig(t))

	resp, err := http.Get(baseURL + "/api/reminders?user=alice&status=bogus")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_WebSocketPushesDueReminder(t *testing.T) {
	old := server.SetWSPollInterval(50 * time.Millisecond)
	t.Cleanup(func() { server.SetWSPollInterval(old) })

	baseURL := startTestServer(t, testConfig(t))

	resp := postJSON(t, baseURL+"/api/reminders", map[string]string{
		"user_id": "alice",
		"title":   "check the oven",
		"when":    "in 1 seconds",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws://" + strings.TrimPrefix(baseURL, "http://") + "/ws/reminders?user=alice"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err, "websocket dial failed")
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	require.NoError(t, err, "expected a reminder frame before the deadline")

	var event struct {
		Type     string         `json:"type"`
		Reminder types.Reminder `json:"reminder"`
	}
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, "reminder_due", event.Type)
	assert.Equal(t, "check the oven", event.Reminder.Title)
}

func TestServer_GoalLifecycle(t *testing.T) {
	baseURL := startTestServer(t, testConfig(t))

	resp := postJSON(t, baseURL+"/api/goals", map[string]string{
		"user_id": "alice",
		"title":   "ship v1",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var goal types.Item
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&goal))
	assert.Equal(t, "ship v1", goal.Value)
	assert.Equal(t, types.KindConstraint, goal.Kind)

	resp2, err := http.Get(baseURL + "/api/goals?user=alice")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var listed struct {
		Goals []types.Item `json:"goals"`
	}
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&listed))
	require.Len(t, listed.Goals, 1)

	req, _ := http.NewRequest(http.MethodDelete, baseURL+"/api/goals?user=alice&title=ship+v1", nil)
	resp3, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp3.Body.Close()
	require.Equal(t, http.StatusOK, resp3.StatusCode)
	var del map[string]bool
	require.NoError(t, json.NewDecoder(resp3.Body).Decode(&del))
	assert.True(t, del["deleted"])

	resp4, err := http.Get(baseURL + "/api/goals?user=alice")
	require.NoError(t, err)
	defer resp4.Body.Close()
	var after struct {
		Goals []types.Item `json:"goals"`
	}
	require.NoError(t, json.NewDecoder(resp4.Body).Decode(&after))
	assert.Empty(t, after.Goals)
}

func TestServer_ReminderDeleteByTitle(t *testing.T) {
	baseURL := startTestServer(t, testConfig(t))

	resp := postJSON(t, baseURL+"/api/reminders", map[string]string{
		"user_id": "alice",
		"title":   "water plants",
		"when":    "in 2 hours",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodDelete, baseURL+"/api/reminders?user=alice&title=water+plants", nil)
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var del map[string]int
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&del))
	assert.Equal(t, 1, del["cancelled"])
}

func TestServer_ReminderCreateCarriesMetadata(t *testing.T) {
	baseURL := startTestServer(t, testConfig(t))

	resp := postJSON(t, baseURL+"/api/reminders", map[string]any{
		"user_id":  "alice",
		"title":    "review the RFC",
		"when":     "in 2 hours",
		"details":  "section 4 first",
		"scope":    "conversation",
		"priority": 1,
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var rem types.Reminder
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rem))
	assert.Equal(t, "conversation", rem.Scope)
	assert.Equal(t, "section 4 first", rem.Details)
	assert.Equal(t, 1, rem.Priority)

	// The scope query parameter narrows listing.
	listResp, err := http.Get(baseURL + "/api/reminders?user=alice&scope=task")
	require.NoError(t, err)
	defer listResp.Body.Close()
	require.Equal(t, http.StatusOK, listResp.StatusCode)

	var listBody struct {
		Reminders []types.Reminder `json:"reminders"`
	}
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&listBody))
	assert.Empty(t, listBody.Reminders, "conversation-scope reminder should not list under task scope")
}
