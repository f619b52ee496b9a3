package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/proctorwatch/backend/internal/config"
	"github.com/proctorwatch/backend/internal/debounce"
	"github.com/proctorwatch/backend/internal/session"
	"github.com/proctorwatch/backend/internal/ws"
)

// testClock is a hand-advanced clock shared by the registry and the tracker.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	srv   *httptest.Server
	clock *testClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{}
	cfg.Registry.MutationTimeout = time.Second
	cfg.Registry.MaxBatchSize = 10
	cfg.Registry.DefaultPageSize = 10
	// Rate limiting stays off so tests can hammer the router freely.

	clock := newTestClock()
	registry := session.NewRegistry(cfg.Registry.MutationTimeout)
	registry.SetClock(clock.now)
	tracker := debounce.NewTracker(nil, clock.now)
	hub := ws.NewHub(8)
	registry.SetPublisher(hub)
	wsServer := ws.NewServer(registry, tracker, hub, "", nil)

	api := NewServer(cfg, registry, tracker, hub, wsServer, nil)
	srv := httptest.NewServer(api.Router())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, clock: clock}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return resp.StatusCode, decoded
}

func (e *testEnv) createSession(t *testing.T) string {
	t.Helper()
	status, body := e.do(t, http.MethodPost, "/api/sessions/", map[string]string{
		"candidateName":   "Jane Doe",
		"candidateEmail":  "jane@example.com",
		"interviewerName": "Alex Recruiter",
	})
	if status != http.StatusCreated {
		t.Fatalf("create session status = %d, body = %v", status, body)
	}
	sess := body["session"].(map[string]interface{})
	return sess["sessionId"].(string)
}

func TestSessionLifecycleFlow(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	// The fresh session starts clean.
	status, body := env.do(t, http.MethodGet, "/api/sessions/"+id+"/", nil)
	if status != http.StatusOK {
		t.Fatalf("get session status = %d", status)
	}
	sess := body["session"].(map[string]interface{})
	if sess["integrityScore"].(float64) != 100 {
		t.Errorf("integrityScore = %v, want 100", sess["integrityScore"])
	}
	if sess["status"] != "active" {
		t.Errorf("status = %v, want active", sess["status"])
	}

	// Append a violation via REST.
	status, body = env.do(t, http.MethodPost, "/api/sessions/"+id+"/events", map[string]interface{}{
		"eventType":  "phone_detected",
		"confidence": 0.95,
	})
	if status != http.StatusOK {
		t.Fatalf("add event status = %d, body = %v", status, body)
	}
	if body["integrityScore"].(float64) != 75 {
		t.Errorf("integrityScore after phone = %v, want 75", body["integrityScore"])
	}

	env.clock.advance(30 * time.Minute)

	// End the session.
	status, body = env.do(t, http.MethodPost, "/api/sessions/"+id+"/end", map[string]string{"notes": "wrap up"})
	if status != http.StatusOK {
		t.Fatalf("end status = %d, body = %v", status, body)
	}
	sess = body["session"].(map[string]interface{})
	if sess["status"] != "completed" {
		t.Errorf("status after end = %v", sess["status"])
	}
	if sess["durationMinutes"].(float64) != 30 {
		t.Errorf("durationMinutes = %v, want 30", sess["durationMinutes"])
	}

	// Ending twice conflicts.
	status, _ = env.do(t, http.MethodPost, "/api/sessions/"+id+"/end", nil)
	if status != http.StatusConflict {
		t.Errorf("second end status = %d, want 409", status)
	}

	// So does appending to a completed session.
	status, _ = env.do(t, http.MethodPost, "/api/sessions/"+id+"/events", map[string]interface{}{
		"eventType": "looking_away",
	})
	if status != http.StatusConflict {
		t.Errorf("append after end status = %d, want 409", status)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	env := newTestEnv(t)
	status, _ := env.do(t, http.MethodPost, "/api/sessions/", map[string]string{
		"candidateName": "Jane Doe",
	})
	if status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", status)
	}
}

func TestUnknownSessionIs404(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{
		"/api/sessions/nope/",
		"/api/events/nope/",
		"/api/reports/nope",
	} {
		status, _ := env.do(t, http.MethodGet, path, nil)
		if status != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", path, status)
		}
	}
}

func TestSignalDebounceOverREST(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	signal := func(active bool) map[string]interface{} {
		status, body := env.do(t, http.MethodPost, "/api/sessions/"+id+"/signals", map[string]interface{}{
			"category":     "looking_away",
			"signalActive": active,
			"confidence":   0.9,
		})
		if status != http.StatusOK {
			t.Fatalf("signal status = %d, body = %v", status, body)
		}
		return body
	}

	// Onset tick does not confirm.
	if body := signal(true); body["confirmed"].(bool) {
		t.Fatal("onset tick confirmed")
	}

	// Still below the 5s threshold.
	env.clock.advance(3 * time.Second)
	if body := signal(true); body["confirmed"].(bool) {
		t.Fatal("confirmed at 3s")
	}

	// Crossing the threshold confirms and appends.
	env.clock.advance(3 * time.Second)
	body := signal(true)
	if !body["confirmed"].(bool) {
		t.Fatal("not confirmed at 6s")
	}
	if body["integrityScore"].(float64) != 90 {
		t.Errorf("integrityScore = %v, want 90 (6s looking_away)", body["integrityScore"])
	}
	ev := body["event"].(map[string]interface{})
	if ev["eventType"] != "looking_away" {
		t.Errorf("eventType = %v", ev["eventType"])
	}
	if ev["durationSeconds"].(float64) < 5 {
		t.Errorf("durationSeconds = %v, want >= 5", ev["durationSeconds"])
	}
}

func TestSignalUnknownCategoryIgnored(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	status, body := env.do(t, http.MethodPost, "/api/sessions/"+id+"/signals", map[string]interface{}{
		"category":     "mirror_detected",
		"signalActive": true,
	})
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if body["confirmed"].(bool) {
		t.Error("unknown category confirmed")
	}

	// Nothing reached the log.
	_, events := env.do(t, http.MethodGet, "/api/events/"+id+"/", nil)
	if events["totalEvents"].(float64) != 1 {
		t.Errorf("totalEvents = %v, want 1 (session_start only)", events["totalEvents"])
	}
}

func TestEventFiltersAndStats(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	for _, ev := range []map[string]interface{}{
		{"eventType": "phone_detected", "confidence": 0.9},
		{"eventType": "looking_away", "duration": 7.0, "confidence": 0.8},
		{"eventType": "looking_away", "duration": 2.0, "confidence": 0.7},
	} {
		if status, body := env.do(t, http.MethodPost, "/api/sessions/"+id+"/events", ev); status != http.StatusOK {
			t.Fatalf("add event status = %d, body = %v", status, body)
		}
	}

	status, body := env.do(t, http.MethodGet, "/api/events/"+id+"/?eventType=looking_away", nil)
	if status != http.StatusOK {
		t.Fatalf("filtered list status = %d", status)
	}
	if body["totalEvents"].(float64) != 2 {
		t.Errorf("looking_away filter returned %v events, want 2", body["totalEvents"])
	}

	status, body = env.do(t, http.MethodGet, "/api/events/"+id+"/?severity=high", nil)
	if status != http.StatusOK {
		t.Fatalf("severity filter status = %d", status)
	}
	if body["totalEvents"].(float64) != 1 {
		t.Errorf("high severity filter returned %v events, want 1", body["totalEvents"])
	}

	status, body = env.do(t, http.MethodGet, "/api/events/"+id+"/stats", nil)
	if status != http.StatusOK {
		t.Fatalf("stats status = %d", status)
	}
	stats := body["stats"].(map[string]interface{})
	if stats["totalEvents"].(float64) != 4 {
		t.Errorf("stats totalEvents = %v, want 4", stats["totalEvents"])
	}
	byType := stats["eventsByType"].(map[string]interface{})
	if byType["looking_away"].(float64) != 2 {
		t.Errorf("eventsByType = %v", byType)
	}
	// (0.9 + 0.8 + 0.7) / 3 rounded to two places; session_start carries no
	// confidence and is excluded from the average.
	if got := stats["averageConfidence"].(float64); got != 0.8 {
		t.Errorf("averageConfidence = %v, want 0.8", got)
	}
}

func TestDeleteEventRecomputesScore(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	status, body := env.do(t, http.MethodPost, "/api/sessions/"+id+"/events", map[string]interface{}{
		"eventType": "phone_detected",
	})
	if status != http.StatusOK {
		t.Fatalf("add event status = %d", status)
	}
	eventID := body["event"].(map[string]interface{})["id"].(string)

	status, body = env.do(t, http.MethodDelete, "/api/events/"+id+"/"+eventID, nil)
	if status != http.StatusOK {
		t.Fatalf("delete event status = %d, body = %v", status, body)
	}
	if body["integrityScore"].(float64) != 100 {
		t.Errorf("integrityScore after delete = %v, want 100", body["integrityScore"])
	}

	status, _ = env.do(t, http.MethodDelete, "/api/events/"+id+"/"+eventID, nil)
	if status != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", status)
	}
}

func TestBatchEvents(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	status, body := env.do(t, http.MethodPost, "/api/events/batch", map[string]interface{}{
		"sessionId": id,
		"events": []map[string]interface{}{
			{"eventType": "looking_away", "duration": 7.0},
			{"eventType": "audio_detected"},
		},
	})
	if status != http.StatusOK {
		t.Fatalf("batch status = %d, body = %v", status, body)
	}
	if body["eventsAdded"].(float64) != 2 {
		t.Errorf("eventsAdded = %v, want 2", body["eventsAdded"])
	}
	if body["integrityScore"].(float64) != 82 {
		t.Errorf("integrityScore = %v, want 82", body["integrityScore"])
	}
}

func TestBatchEventsTooLarge(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	events := make([]map[string]interface{}, 11)
	for i := range events {
		events[i] = map[string]interface{}{"eventType": "audio_detected"}
	}
	status, _ := env.do(t, http.MethodPost, "/api/events/batch", map[string]interface{}{
		"sessionId": id,
		"events":    events,
	})
	if status != http.StatusBadRequest {
		t.Errorf("oversized batch status = %d, want 400", status)
	}
}

func TestBatchEventsAllOrNothing(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	status, _ := env.do(t, http.MethodPost, "/api/events/batch", map[string]interface{}{
		"sessionId": id,
		"events": []map[string]interface{}{
			{"eventType": "looking_away"},
			{"eventType": "not_a_thing"},
		},
	})
	if status != http.StatusBadRequest {
		t.Fatalf("invalid batch status = %d, want 400", status)
	}

	_, events := env.do(t, http.MethodGet, "/api/events/"+id+"/", nil)
	if events["totalEvents"].(float64) != 1 {
		t.Errorf("totalEvents = %v, want 1 (batch must not partially apply)", events["totalEvents"])
	}
}

func TestListSessionsPagination(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		env.clock.advance(time.Minute)
		env.createSession(t)
	}

	status, body := env.do(t, http.MethodGet, "/api/sessions/?page=1&limit=2", nil)
	if status != http.StatusOK {
		t.Fatalf("list status = %d", status)
	}
	sessions := body["sessions"].([]interface{})
	if len(sessions) != 2 {
		t.Errorf("page size = %d, want 2", len(sessions))
	}
	pagination := body["pagination"].(map[string]interface{})
	if pagination["total"].(float64) != 3 || pagination["pages"].(float64) != 2 {
		t.Errorf("pagination = %v", pagination)
	}
}

func TestListSessionsWithoutConfiguredPageSize(t *testing.T) {
	cfg := &config.Config{}
	cfg.Registry.MutationTimeout = time.Second
	// default_page_size deliberately left zero.

	registry := session.NewRegistry(cfg.Registry.MutationTimeout)
	tracker := debounce.NewTracker(nil, nil)
	hub := ws.NewHub(8)
	wsServer := ws.NewServer(registry, tracker, hub, "", nil)
	api := NewServer(cfg, registry, tracker, hub, wsServer, nil)
	srv := httptest.NewServer(api.Router())
	t.Cleanup(srv.Close)

	if _, err := registry.Create("Jane Doe", "jane@example.com", "Alex Recruiter"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	resp, err := http.Get(srv.URL + "/api/sessions/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d, want 200", resp.StatusCode)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	pagination := body["pagination"].(map[string]interface{})
	if pagination["limit"].(float64) < 1 {
		t.Errorf("limit = %v, want >= 1", pagination["limit"])
	}
	if pagination["pages"].(float64) != 1 {
		t.Errorf("pages = %v, want 1", pagination["pages"])
	}
}

func TestTerminateSession(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	status, body := env.do(t, http.MethodPost, "/api/sessions/"+id+"/terminate", map[string]string{"reason": "policy breach"})
	if status != http.StatusOK {
		t.Fatalf("terminate status = %d, body = %v", status, body)
	}
	sess := body["session"].(map[string]interface{})
	if sess["status"] != "terminated" {
		t.Errorf("status = %v, want terminated", sess["status"])
	}
	if sess["notes"] != "policy breach" {
		t.Errorf("notes = %v", sess["notes"])
	}

	// Signals against a terminated session conflict.
	status, _ = env.do(t, http.MethodPost, "/api/sessions/"+id+"/signals", map[string]interface{}{
		"category":     "looking_away",
		"signalActive": true,
	})
	if status != http.StatusConflict {
		t.Errorf("signal after terminate status = %d, want 409", status)
	}
}

func TestDeleteSession(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	status, _ := env.do(t, http.MethodDelete, "/api/sessions/"+id+"/", nil)
	if status != http.StatusOK {
		t.Fatalf("delete status = %d", status)
	}
	status, _ = env.do(t, http.MethodGet, "/api/sessions/"+id+"/", nil)
	if status != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", status)
	}
}

func TestReportEndpoints(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)
	env.do(t, http.MethodPost, "/api/sessions/"+id+"/events", map[string]interface{}{
		"eventType": "phone_detected",
	})
	env.do(t, http.MethodPost, "/api/sessions/"+id+"/end", nil)

	status, body := env.do(t, http.MethodGet, "/api/reports/"+id, nil)
	if status != http.StatusOK {
		t.Fatalf("report status = %d", status)
	}
	rep := body["report"].(map[string]interface{})
	assessment := rep["integrityAssessment"].(map[string]interface{})
	if assessment["finalScore"].(float64) != 75 {
		t.Errorf("finalScore = %v, want 75", assessment["finalScore"])
	}
	if assessment["rating"] != "Good" {
		t.Errorf("rating = %v, want Good", assessment["rating"])
	}

	resp, err := http.Get(env.srv.URL + "/api/reports/" + id + "/csv")
	if err != nil {
		t.Fatalf("csv request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("csv status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Errorf("Content-Disposition = %q", cd)
	}
}

func TestAnalyticsSummary(t *testing.T) {
	env := newTestEnv(t)
	a := env.createSession(t)
	env.createSession(t)
	env.do(t, http.MethodPost, "/api/sessions/"+a+"/events", map[string]interface{}{
		"eventType": "phone_detected",
	})

	status, body := env.do(t, http.MethodGet, "/api/reports/analytics/summary", nil)
	if status != http.StatusOK {
		t.Fatalf("analytics status = %d", status)
	}
	if body["totalSessions"].(float64) != 2 {
		t.Errorf("totalSessions = %v, want 2", body["totalSessions"])
	}
	analytics := body["analytics"].(map[string]interface{})
	// round((75+100)/2) = 88
	if analytics["averageIntegrityScore"].(float64) != 88 {
		t.Errorf("averageIntegrityScore = %v, want 88", analytics["averageIntegrityScore"])
	}
	common := analytics["commonViolations"].(map[string]interface{})
	if common["phone_detected"].(float64) != 1 {
		t.Errorf("commonViolations = %v", common)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.createSession(t)

	status, body := env.do(t, http.MethodGet, "/api/health", nil)
	if status != http.StatusOK {
		t.Fatalf("health status = %d", status)
	}
	if body["status"] != "OK" {
		t.Errorf("status field = %v", body["status"])
	}
	if body["activeSessions"].(float64) != 1 {
		t.Errorf("activeSessions = %v, want 1", body["activeSessions"])
	}
}

func TestWebSocketAuthAndSessionChecks(t *testing.T) {
	env := newTestEnv(t)

	// Unknown session is rejected before the upgrade.
	resp, err := http.Get(env.srv.URL + "/ws/nope")
	if err != nil {
		t.Fatalf("ws request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("ws unknown session status = %d, want 404", resp.StatusCode)
	}
}

func TestMalformedJSONBody(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Post(env.srv.URL+"/api/sessions/", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
