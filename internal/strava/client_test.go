package strava

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/fitsync/internal/metrics"
	"github.com/hitoshi/fitsync/internal/ratelimit"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// --- モック定義 ---

// countLimiter はRecordCallの呼び出し回数だけを数えるLimiter。
type countLimiter struct {
	mu    sync.Mutex
	calls int
}

func (l *countLimiter) CanCall() bool { return true }

func (l *countLimiter) RecordCall() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
}

func (l *countLimiter) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

// recordingCollector は記録されたプロバイダリクエストを保持するコレクター。
type recordingCollector struct {
	mu        sync.Mutex
	requests  []providerRequest
	latencies int
}

type providerRequest struct {
	provider   string
	statusCode int
}

func (c *recordingCollector) RecordProviderRequest(provider string, statusCode int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, providerRequest{provider: provider, statusCode: statusCode})
}

func (c *recordingCollector) RecordProviderLatency(provider string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latencies++
}

func (c *recordingCollector) RecordSyncRun(provider, trigger, result string) {}
func (c *recordingCollector) RecordWorkoutUpserted(provider, action string)  {}
func (c *recordingCollector) RecordQueueJob(result string)                   {}
func (c *recordingCollector) RecordWorkerTickSkipped()                       {}
func (c *recordingCollector) SetQueueDepth(depth int)                        {}
func (c *recordingCollector) SetBacklogStalled(stalled bool)                 {}
func (c *recordingCollector) SetRateLimitUsage(provider, window string, used int) {
}

// --- compile-time interface checks ---
var (
	_ ratelimit.Limiter        = (*countLimiter)(nil)
	_ metrics.MetricsCollector = (*recordingCollector)(nil)
)

// --- テスト ---

func TestNewClient_DefaultBaseURL(t *testing.T) {
	var buf bytes.Buffer
	c := NewClient(http.DefaultClient, newTestLogger(&buf), "", nil, nil)
	if c == nil {
		t.Fatal("NewClient は nil を返してはならない")
	}
	if c.baseURL != defaultBaseURL {
		t.Errorf("baseURL = %q, want %q", c.baseURL, defaultBaseURL)
	}
}

func TestListActivities_RequestShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/athlete/activities" {
			t.Errorf("パス = %s, want /athlete/activities", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token-abc" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer token-abc")
		}
		q := r.URL.Query()
		if q.Get("after") != "1700000000" {
			t.Errorf("after = %s, want 1700000000", q.Get("after"))
		}
		if q.Get("before") != "1700100000" {
			t.Errorf("before = %s, want 1700100000", q.Get("before"))
		}
		if q.Get("page") != "2" {
			t.Errorf("page = %s, want 2", q.Get("page"))
		}
		if q.Get("per_page") != "200" {
			t.Errorf("per_page = %s, want 200", q.Get("per_page"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id": 987654321, "name": "朝ライド", "sport_type": "Ride", "start_date": "2026-04-10T08:02:00Z", "start_date_local": "2026-04-10T08:02:00Z", "moving_time": 3660, "distance": 30123.5, "suffer_score": 72.5},
			{"id": 987654322, "name": "昼ラン", "type": "Run", "start_date": "2026-04-10T12:00:00Z", "moving_time": 1800}
		]`))
	}))
	defer server.Close()

	var buf bytes.Buffer
	c := NewClient(server.Client(), newTestLogger(&buf), server.URL, nil, nil)

	activities, err := c.ListActivities(context.Background(), "token-abc", 1700000000, 1700100000, 2, 200)
	if err != nil {
		t.Fatalf("ListActivities() error = %v", err)
	}
	if len(activities) != 2 {
		t.Fatalf("件数 = %d, want 2", len(activities))
	}
	a := activities[0]
	if a.ID != 987654321 {
		t.Errorf("ID = %d, want 987654321", a.ID)
	}
	if a.Name != "朝ライド" {
		t.Errorf("Name = %q, want 朝ライド", a.Name)
	}
	if a.SufferScore == nil || *a.SufferScore != 72.5 {
		t.Errorf("SufferScore = %v, want 72.5", a.SufferScore)
	}
	if a.MovingTime == nil || *a.MovingTime != 3660 {
		t.Errorf("MovingTime = %v, want 3660", a.MovingTime)
	}
	if !strings.Contains(string(a.Raw), "suffer_score") {
		t.Error("Rawに受信JSONが保持されていない")
	}
	if activities[1].SufferScore != nil {
		t.Errorf("2件目のSufferScore = %v, want nil", activities[1].SufferScore)
	}
}

func TestListActivities_RecordsCallAndMetrics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	var buf bytes.Buffer
	limiter := &countLimiter{}
	collector := &recordingCollector{}
	c := NewClient(server.Client(), newTestLogger(&buf), server.URL, limiter, collector)

	if _, err := c.ListActivities(context.Background(), "token", 0, 1, 1, 200); err != nil {
		t.Fatalf("ListActivities() error = %v", err)
	}
	if limiter.count() != 1 {
		t.Errorf("RecordCall回数 = %d, want 1", limiter.count())
	}
	if len(collector.requests) != 1 {
		t.Fatalf("記録されたリクエスト数 = %d, want 1", len(collector.requests))
	}
	if collector.requests[0].provider != "strava" || collector.requests[0].statusCode != 200 {
		t.Errorf("記録 = %+v, want {strava 200}", collector.requests[0])
	}
	if collector.latencies != 1 {
		t.Errorf("レイテンシ記録数 = %d, want 1", collector.latencies)
	}
}

func TestListActivities_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	var buf bytes.Buffer
	collector := &recordingCollector{}
	c := NewClient(server.Client(), newTestLogger(&buf), server.URL, nil, collector)

	_, err := c.ListActivities(context.Background(), "token", 0, 1, 1, 200)
	if err == nil {
		t.Fatal("HTTPエラー時にエラーが返されるべき")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("エラーメッセージにステータスコードが含まれるべき: %s", err.Error())
	}
	if len(collector.requests) != 1 || collector.requests[0].statusCode != 500 {
		t.Errorf("記録 = %+v, want ステータス500の1件", collector.requests)
	}
}

func TestListActivities_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	serverURL := server.URL
	server.Close()

	var buf bytes.Buffer
	collector := &recordingCollector{}
	c := NewClient(http.DefaultClient, newTestLogger(&buf), serverURL, nil, collector)

	_, err := c.ListActivities(context.Background(), "token", 0, 1, 1, 200)
	if err == nil {
		t.Fatal("接続失敗時にエラーが返されるべき")
	}
	// トランスポートエラーはステータス0として記録される
	if len(collector.requests) != 1 || collector.requests[0].statusCode != 0 {
		t.Errorf("記録 = %+v, want ステータス0の1件", collector.requests)
	}
}

func TestListActivities_SkipsUndecodableItem(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id": 1, "name": "ok", "start_date": "2026-04-10T08:00:00Z"}, "bogus"]`))
	}))
	defer server.Close()

	var buf bytes.Buffer
	c := NewClient(server.Client(), newTestLogger(&buf), server.URL, nil, nil)

	activities, err := c.ListActivities(context.Background(), "token", 0, 1, 1, 200)
	if err != nil {
		t.Fatalf("ListActivities() error = %v", err)
	}
	if len(activities) != 1 {
		t.Errorf("件数 = %d, want 1（デコード不能な要素はスキップ）", len(activities))
	}
}

func TestListActivities_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("invalid json"))
	}))
	defer server.Close()

	var buf bytes.Buffer
	c := NewClient(server.Client(), newTestLogger(&buf), server.URL, nil, nil)

	_, err := c.ListActivities(context.Background(), "token", 0, 1, 1, 200)
	if err == nil {
		t.Fatal("不正JSONレスポンス時にエラーが返されるべき")
	}
}

func TestListActivities_EmptyArray(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	var buf bytes.Buffer
	c := NewClient(server.Client(), newTestLogger(&buf), server.URL, nil, nil)

	activities, err := c.ListActivities(context.Background(), "token", 0, 1, 1, 200)
	if err != nil {
		t.Fatalf("ListActivities() error = %v", err)
	}
	if len(activities) != 0 {
		t.Errorf("件数 = %d, want 0", len(activities))
	}
}

func TestListActivities_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Second)
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	var buf bytes.Buffer
	c := NewClient(server.Client(), newTestLogger(&buf), server.URL, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ListActivities(ctx, "token", 0, 1, 1, 200)
	if err == nil {
		t.Fatal("キャンセルされたコンテキストでエラーが返されるべき")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("context.Canceled エラーであるべき: got %v", err)
	}
}
