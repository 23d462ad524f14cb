package syncer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/fitsync/internal/intervals"
	"github.com/hitoshi/fitsync/internal/model"
	"github.com/hitoshi/fitsync/internal/ratelimit"
	"github.com/hitoshi/fitsync/internal/repository"
	"github.com/hitoshi/fitsync/internal/strava"
)

// --- モック定義 ---

type mockCredRepo struct {
	findFn   func(ctx context.Context, userID string, provider model.Provider) (*model.ProviderCredentials, error)
	unlinkFn func(ctx context.Context, userID string, provider model.Provider) error
}

func (m *mockCredRepo) FindByUserAndProvider(ctx context.Context, userID string, provider model.Provider) (*model.ProviderCredentials, error) {
	if m.findFn != nil {
		return m.findFn(ctx, userID, provider)
	}
	return nil, nil
}

func (m *mockCredRepo) Upsert(ctx context.Context, creds *model.ProviderCredentials) error {
	return nil
}

func (m *mockCredRepo) UpdateTokens(ctx context.Context, id, accessToken string, expiresAt time.Time, refreshSecret string) error {
	return nil
}

func (m *mockCredRepo) ListByProvider(ctx context.Context, provider model.Provider) ([]*model.ProviderCredentials, error) {
	return nil, nil
}

func (m *mockCredRepo) UnlinkCascade(ctx context.Context, userID string, provider model.Provider) error {
	if m.unlinkFn != nil {
		return m.unlinkFn(ctx, userID, provider)
	}
	return nil
}

var _ repository.CredentialRepository = (*mockCredRepo)(nil)

type mockJobRepo struct {
	mu         sync.Mutex
	enqueued   []*model.SyncJob
	hasPending bool
}

func (m *mockJobRepo) Enqueue(ctx context.Context, job *model.SyncJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueued = append(m.enqueued, job)
	return nil
}

func (m *mockJobRepo) HasPending(ctx context.Context, userID string, provider model.Provider) (bool, error) {
	return m.hasPending, nil
}

func (m *mockJobRepo) ClaimOldestPending(ctx context.Context, providers ...model.Provider) (*model.SyncJob, error) {
	return nil, nil
}

func (m *mockJobRepo) MarkDone(ctx context.Context, id string) error { return nil }

func (m *mockJobRepo) MarkFailed(ctx context.Context, id, errorMessage string) error { return nil }

func (m *mockJobRepo) CountByStatus(ctx context.Context, status model.JobStatus) (int, error) {
	return 0, nil
}

func (m *mockJobRepo) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

var _ repository.SyncJobRepository = (*mockJobRepo)(nil)

func (m *mockJobRepo) enqueuedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.enqueued)
}

type mockTokens struct {
	ensureFn func(ctx context.Context, userID string, provider model.Provider) (string, error)
}

func (m *mockTokens) EnsureAccessToken(ctx context.Context, userID string, provider model.Provider) (string, error) {
	if m.ensureFn != nil {
		return m.ensureFn(ctx, userID, provider)
	}
	return "token-1", nil
}

type mockStravaAPI struct {
	listFn func(ctx context.Context, accessToken string, after, before int64, page, perPage int) ([]*strava.Activity, error)
}

func (m *mockStravaAPI) ListActivities(ctx context.Context, accessToken string, after, before int64, page, perPage int) ([]*strava.Activity, error) {
	if m.listFn != nil {
		return m.listFn(ctx, accessToken, after, before, page, perPage)
	}
	return nil, nil
}

type mockIntervalsAPI struct {
	listFn     func(ctx context.Context, apiKey, athleteID, oldest, newest string, limit int) ([]*intervals.Activity, error)
	getFn      func(ctx context.Context, apiKey, activityID string) (*intervals.Activity, error)
	wellnessFn func(ctx context.Context, apiKey, athleteID, oldest, newest string) ([]*intervals.WellnessDay, error)
}

func (m *mockIntervalsAPI) ListActivities(ctx context.Context, apiKey, athleteID, oldest, newest string, limit int) ([]*intervals.Activity, error) {
	if m.listFn != nil {
		return m.listFn(ctx, apiKey, athleteID, oldest, newest, limit)
	}
	return nil, nil
}

func (m *mockIntervalsAPI) GetActivity(ctx context.Context, apiKey, activityID string) (*intervals.Activity, error) {
	if m.getFn != nil {
		return m.getFn(ctx, apiKey, activityID)
	}
	return nil, nil
}

func (m *mockIntervalsAPI) ListWellness(ctx context.Context, apiKey, athleteID, oldest, newest string) ([]*intervals.WellnessDay, error) {
	if m.wellnessFn != nil {
		return m.wellnessFn(ctx, apiKey, athleteID, oldest, newest)
	}
	return nil, nil
}

type mockApplier struct {
	mu      sync.Mutex
	applied []*model.Workout
	applyFn func(ctx context.Context, userID string, incoming *model.Workout) (*model.Workout, bool, error)
}

func (m *mockApplier) Apply(ctx context.Context, userID string, incoming *model.Workout) (*model.Workout, bool, error) {
	m.mu.Lock()
	m.applied = append(m.applied, incoming)
	m.mu.Unlock()
	if m.applyFn != nil {
		return m.applyFn(ctx, userID, incoming)
	}
	return incoming, true, nil
}

func (m *mockApplier) appliedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.applied)
}

type mockWellnessFiller struct {
	mu     sync.Mutex
	filled []*model.WellnessDay
}

func (m *mockWellnessFiller) FillFromProvider(ctx context.Context, day *model.WellnessDay) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filled = append(m.filled, day)
	return nil
}

// budgetLimiter はCanCallを指定回数だけ許可するLimiter。
type budgetLimiter struct {
	mu     sync.Mutex
	budget int
}

func (l *budgetLimiter) CanCall() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.budget <= 0 {
		return false
	}
	l.budget--
	return true
}

func (l *budgetLimiter) RecordCall() {}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
}

type engineDeps struct {
	creds     *mockCredRepo
	jobs      *mockJobRepo
	tokens    *mockTokens
	strava    *mockStravaAPI
	intervals *mockIntervalsAPI
	applier   *mockApplier
	wellness  *mockWellnessFiller
	limiters  *ratelimit.Registry
}

func stravaCreds() *model.ProviderCredentials {
	return &model.ProviderCredentials{ID: "cred-1", UserID: "user-1", Provider: model.ProviderStrava}
}

func intervalsCreds() *model.ProviderCredentials {
	return &model.ProviderCredentials{ID: "cred-2", UserID: "user-1", Provider: model.ProviderIntervals, AthleteID: "i12345"}
}

func newTestEngine(deps *engineDeps, cfg Config) *Engine {
	if deps.creds == nil {
		deps.creds = &mockCredRepo{}
	}
	if deps.jobs == nil {
		deps.jobs = &mockJobRepo{}
	}
	if deps.tokens == nil {
		deps.tokens = &mockTokens{}
	}
	if deps.strava == nil {
		deps.strava = &mockStravaAPI{}
	}
	if deps.intervals == nil {
		deps.intervals = &mockIntervalsAPI{}
	}
	if deps.applier == nil {
		deps.applier = &mockApplier{}
	}
	if deps.wellness == nil {
		deps.wellness = &mockWellnessFiller{}
	}
	if deps.limiters == nil {
		deps.limiters = ratelimit.NewRegistry()
	}
	return NewEngine(
		deps.creds, deps.jobs, deps.tokens, deps.strava, deps.intervals,
		deps.applier, deps.wellness, deps.limiters, nil, nil,
		newTestLogger(), cfg,
	)
}

// --- テスト ---

func TestSyncNowOrEnqueue_NotLinked(t *testing.T) {
	e := newTestEngine(&engineDeps{}, Config{})

	_, err := e.SyncNowOrEnqueue(context.Background(), "user-1", model.ProviderStrava, TriggerManual)
	if !errors.Is(err, model.ErrNotLinked) {
		t.Errorf("err = %v, want ErrNotLinked", err)
	}
}

func TestSyncNowOrEnqueue_BudgetExhausted_Enqueues(t *testing.T) {
	deps := &engineDeps{
		creds: &mockCredRepo{
			findFn: func(ctx context.Context, userID string, provider model.Provider) (*model.ProviderCredentials, error) {
				return stravaCreds(), nil
			},
		},
		limiters: ratelimit.NewRegistry(),
	}
	deps.limiters.Register(string(model.ProviderStrava), &budgetLimiter{budget: 0})
	e := newTestEngine(deps, Config{})

	outcome, err := e.SyncNowOrEnqueue(context.Background(), "user-1", model.ProviderStrava, TriggerManual)
	if err != nil {
		t.Fatalf("SyncNowOrEnqueue() error = %v", err)
	}
	if outcome != model.SyncOutcomeQueued {
		t.Errorf("outcome = %q, want %q", outcome, model.SyncOutcomeQueued)
	}
	if deps.jobs.enqueuedCount() != 1 {
		t.Errorf("enqueued = %d, want 1", deps.jobs.enqueuedCount())
	}
}

func TestSyncNowOrEnqueue_PendingJobNotDuplicated(t *testing.T) {
	deps := &engineDeps{
		creds: &mockCredRepo{
			findFn: func(ctx context.Context, userID string, provider model.Provider) (*model.ProviderCredentials, error) {
				return stravaCreds(), nil
			},
		},
		jobs:     &mockJobRepo{hasPending: true},
		limiters: ratelimit.NewRegistry(),
	}
	deps.limiters.Register(string(model.ProviderStrava), &budgetLimiter{budget: 0})
	e := newTestEngine(deps, Config{})

	outcome, err := e.SyncNowOrEnqueue(context.Background(), "user-1", model.ProviderStrava, TriggerManual)
	if err != nil {
		t.Fatalf("SyncNowOrEnqueue() error = %v", err)
	}
	if outcome != model.SyncOutcomeQueued {
		t.Errorf("outcome = %q, want %q", outcome, model.SyncOutcomeQueued)
	}
	if deps.jobs.enqueuedCount() != 0 {
		t.Errorf("pending済みでも %d 件エンキューされた", deps.jobs.enqueuedCount())
	}
}

func TestSyncNowOrEnqueue_StravaHappyPath(t *testing.T) {
	deps := &engineDeps{
		creds: &mockCredRepo{
			findFn: func(ctx context.Context, userID string, provider model.Provider) (*model.ProviderCredentials, error) {
				return stravaCreds(), nil
			},
		},
		strava: &mockStravaAPI{
			listFn: func(ctx context.Context, accessToken string, after, before int64, page, perPage int) ([]*strava.Activity, error) {
				if accessToken != "token-1" {
					t.Errorf("accessToken = %q", accessToken)
				}
				return []*strava.Activity{
					{ID: 101, Name: "朝ラン", Type: "Run", StartDateLocal: "2026-01-10T08:00:00Z"},
					{ID: 102, Name: "夜ライド", Type: "Ride", StartDateLocal: "2026-01-10T19:00:00Z"},
				}, nil
			},
		},
	}
	e := newTestEngine(deps, Config{})

	outcome, err := e.SyncNowOrEnqueue(context.Background(), "user-1", model.ProviderStrava, TriggerManual)
	if err != nil {
		t.Fatalf("SyncNowOrEnqueue() error = %v", err)
	}
	if outcome != model.SyncOutcomeSyncing {
		t.Errorf("outcome = %q, want %q", outcome, model.SyncOutcomeSyncing)
	}
	if deps.applier.appliedCount() != 2 {
		t.Errorf("applied = %d, want 2", deps.applier.appliedCount())
	}
}

func TestSyncStrava_PaginatesUntilShortPage(t *testing.T) {
	var pages []int
	deps := &engineDeps{
		creds: &mockCredRepo{
			findFn: func(ctx context.Context, userID string, provider model.Provider) (*model.ProviderCredentials, error) {
				return stravaCreds(), nil
			},
		},
		strava: &mockStravaAPI{
			listFn: func(ctx context.Context, accessToken string, after, before int64, page, perPage int) ([]*strava.Activity, error) {
				pages = append(pages, page)
				if page == 1 {
					// 満杯のページ → 次ページへ進む
					full := make([]*strava.Activity, perPage)
					for i := range full {
						full[i] = &strava.Activity{ID: int64(i + 1), StartDateLocal: "2026-01-10T08:00:00Z"}
					}
					return full, nil
				}
				return []*strava.Activity{{ID: 9000, StartDateLocal: "2026-01-11T08:00:00Z"}}, nil
			},
		},
	}
	e := newTestEngine(deps, Config{PageSize: 3})

	if _, err := e.SyncNowOrEnqueue(context.Background(), "user-1", model.ProviderStrava, TriggerManual); err != nil {
		t.Fatalf("SyncNowOrEnqueue() error = %v", err)
	}
	if len(pages) != 2 || pages[0] != 1 || pages[1] != 2 {
		t.Errorf("pages = %v, want [1 2]", pages)
	}
	if deps.applier.appliedCount() != 4 {
		t.Errorf("applied = %d, want 4", deps.applier.appliedCount())
	}
}

func TestSyncStrava_BudgetExhaustedMidPagination_PartialCommit(t *testing.T) {
	deps := &engineDeps{
		creds: &mockCredRepo{
			findFn: func(ctx context.Context, userID string, provider model.Provider) (*model.ProviderCredentials, error) {
				return stravaCreds(), nil
			},
		},
		strava: &mockStravaAPI{
			listFn: func(ctx context.Context, accessToken string, after, before int64, page, perPage int) ([]*strava.Activity, error) {
				full := make([]*strava.Activity, perPage)
				for i := range full {
					full[i] = &strava.Activity{ID: int64(page*100 + i), StartDateLocal: "2026-01-10T08:00:00Z"}
				}
				return full, nil
			},
		},
		limiters: ratelimit.NewRegistry(),
	}
	// 事前判定1回 + 1ページ目の判定1回で尽きる
	deps.limiters.Register(string(model.ProviderStrava), &budgetLimiter{budget: 2})
	e := newTestEngine(deps, Config{PageSize: 2})

	outcome, err := e.SyncNowOrEnqueue(context.Background(), "user-1", model.ProviderStrava, TriggerManual)
	if err != nil {
		t.Fatalf("SyncNowOrEnqueue() error = %v", err)
	}
	if outcome != model.SyncOutcomeSyncing {
		t.Errorf("outcome = %q, want %q", outcome, model.SyncOutcomeSyncing)
	}
	// 1ページ目の2件は保存されている
	if deps.applier.appliedCount() != 2 {
		t.Errorf("applied = %d, want 2", deps.applier.appliedCount())
	}
}

func TestSyncNowOrEnqueue_Unauthorized_UnlinksAndReturnsRevoked(t *testing.T) {
	unlinked := false
	deps := &engineDeps{
		creds: &mockCredRepo{
			findFn: func(ctx context.Context, userID string, provider model.Provider) (*model.ProviderCredentials, error) {
				return stravaCreds(), nil
			},
			unlinkFn: func(ctx context.Context, userID string, provider model.Provider) error {
				unlinked = true
				return nil
			},
		},
		strava: &mockStravaAPI{
			listFn: func(ctx context.Context, accessToken string, after, before int64, page, perPage int) ([]*strava.Activity, error) {
				return nil, fmt.Errorf("%w: ステータス 401", model.ErrProviderUnauthorized)
			},
		},
	}
	e := newTestEngine(deps, Config{})

	_, err := e.SyncNowOrEnqueue(context.Background(), "user-1", model.ProviderStrava, TriggerManual)
	if !errors.Is(err, model.ErrCredentialsRevoked) {
		t.Errorf("err = %v, want ErrCredentialsRevoked", err)
	}
	if !unlinked {
		t.Error("失効検出時はUnlinkCascadeが呼ばれるべき")
	}
}

func TestSyncNowOrEnqueue_TokenRefreshRevoked_Propagates(t *testing.T) {
	deps := &engineDeps{
		creds: &mockCredRepo{
			findFn: func(ctx context.Context, userID string, provider model.Provider) (*model.ProviderCredentials, error) {
				return stravaCreds(), nil
			},
		},
		tokens: &mockTokens{
			ensureFn: func(ctx context.Context, userID string, provider model.Provider) (string, error) {
				return "", model.ErrCredentialsRevoked
			},
		},
	}
	e := newTestEngine(deps, Config{})

	_, err := e.SyncNowOrEnqueue(context.Background(), "user-1", model.ProviderStrava, TriggerManual)
	if !errors.Is(err, model.ErrCredentialsRevoked) {
		t.Errorf("err = %v, want ErrCredentialsRevoked", err)
	}
}

func TestSyncNowOrEnqueue_TransientFailure_ReportsSyncing(t *testing.T) {
	deps := &engineDeps{
		creds: &mockCredRepo{
			findFn: func(ctx context.Context, userID string, provider model.Provider) (*model.ProviderCredentials, error) {
				return stravaCreds(), nil
			},
		},
		strava: &mockStravaAPI{
			listFn: func(ctx context.Context, accessToken string, after, before int64, page, perPage int) ([]*strava.Activity, error) {
				return nil, errors.New("一時的なネットワーク障害")
			},
		},
	}
	e := newTestEngine(deps, Config{})

	outcome, err := e.SyncNowOrEnqueue(context.Background(), "user-1", model.ProviderStrava, TriggerManual)
	if err != nil {
		t.Fatalf("一時的な失敗は呼び出し元に伝播しないべき: %v", err)
	}
	if outcome != model.SyncOutcomeSyncing {
		t.Errorf("outcome = %q, want %q", outcome, model.SyncOutcomeSyncing)
	}
}

func TestSyncNowOrEnqueue_InFlight_Enqueues(t *testing.T) {
	deps := &engineDeps{
		creds: &mockCredRepo{
			findFn: func(ctx context.Context, userID string, provider model.Provider) (*model.ProviderCredentials, error) {
				return stravaCreds(), nil
			},
		},
	}
	e := newTestEngine(deps, Config{})

	// 同一キーの同期が実行中の状態を作る
	if !e.tryLock("user-1", model.ProviderStrava) {
		t.Fatal("初回のtryLockは成功するべき")
	}
	defer e.unlock("user-1", model.ProviderStrava)

	outcome, err := e.SyncNowOrEnqueue(context.Background(), "user-1", model.ProviderStrava, TriggerManual)
	if err != nil {
		t.Fatalf("SyncNowOrEnqueue() error = %v", err)
	}
	if outcome != model.SyncOutcomeQueued {
		t.Errorf("outcome = %q, want %q", outcome, model.SyncOutcomeQueued)
	}
	if deps.jobs.enqueuedCount() != 1 {
		t.Errorf("enqueued = %d, want 1", deps.jobs.enqueuedCount())
	}
}

func TestRunSync_InFlight_ReturnsErr(t *testing.T) {
	deps := &engineDeps{
		creds: &mockCredRepo{
			findFn: func(ctx context.Context, userID string, provider model.Provider) (*model.ProviderCredentials, error) {
				return stravaCreds(), nil
			},
		},
	}
	e := newTestEngine(deps, Config{})

	if !e.tryLock("user-1", model.ProviderStrava) {
		t.Fatal("初回のtryLockは成功するべき")
	}
	defer e.unlock("user-1", model.ProviderStrava)

	err := e.RunSync(context.Background(), "user-1", model.ProviderStrava)
	if !errors.Is(err, model.ErrSyncInFlight) {
		t.Errorf("err = %v, want ErrSyncInFlight", err)
	}
}

func TestSyncIntervals_BackfillsDetailAndWellness(t *testing.T) {
	tl := 80.0
	secs := int64(3600)
	var detailRequested []string
	var mu sync.Mutex
	deps := &engineDeps{
		creds: &mockCredRepo{
			findFn: func(ctx context.Context, userID string, provider model.Provider) (*model.ProviderCredentials, error) {
				return intervalsCreds(), nil
			},
		},
		intervals: &mockIntervalsAPI{
			listFn: func(ctx context.Context, apiKey, athleteID, oldest, newest string, limit int) ([]*intervals.Activity, error) {
				if athleteID != "i12345" {
					t.Errorf("athleteID = %q", athleteID)
				}
				return []*intervals.Activity{
					// 完全なサマリー行: 詳細不要
					{ID: "a1", Name: "ラン", Type: "Run", StartDateLocal: "2026-01-10T08:00:00Z", MovingTime: &secs, ICUTrainingLoad: &tl},
					// name・moving_timeのない行: 詳細補完が必要
					{ID: "a2", Type: "Ride", StartDateLocal: "2026-01-11T08:00:00Z"},
				}, nil
			},
			getFn: func(ctx context.Context, apiKey, activityID string) (*intervals.Activity, error) {
				mu.Lock()
				detailRequested = append(detailRequested, activityID)
				mu.Unlock()
				return &intervals.Activity{ID: intervals.FlexString(activityID), Name: "ライド詳細", MovingTime: &secs}, nil
			},
			wellnessFn: func(ctx context.Context, apiKey, athleteID, oldest, newest string) ([]*intervals.WellnessDay, error) {
				ctl := 62.1
				return []*intervals.WellnessDay{{Date: "2026-01-11", CTL: &ctl}}, nil
			},
		},
	}
	e := newTestEngine(deps, Config{})

	outcome, err := e.SyncNowOrEnqueue(context.Background(), "user-1", model.ProviderIntervals, TriggerManual)
	if err != nil {
		t.Fatalf("SyncNowOrEnqueue() error = %v", err)
	}
	if outcome != model.SyncOutcomeSyncing {
		t.Errorf("outcome = %q, want %q", outcome, model.SyncOutcomeSyncing)
	}
	if len(detailRequested) != 1 || detailRequested[0] != "a2" {
		t.Errorf("detailRequested = %v, want [a2]", detailRequested)
	}
	if deps.applier.appliedCount() != 2 {
		t.Errorf("applied = %d, want 2", deps.applier.appliedCount())
	}
	// 補完後の行には詳細の値が入っている
	var backfilled *model.Workout
	for _, w := range deps.applier.applied {
		if w.ExternalID == "a2" {
			backfilled = w
		}
	}
	if backfilled == nil || backfilled.Name != "ライド詳細" {
		t.Errorf("補完後のワークアウト = %+v", backfilled)
	}
	if len(deps.wellness.filled) != 1 || deps.wellness.filled[0].Date != "2026-01-11" {
		t.Errorf("wellness filled = %+v", deps.wellness.filled)
	}
}

func TestSyncIntervals_DetailCapLimitsBackfill(t *testing.T) {
	var mu sync.Mutex
	detailCalls := 0
	deps := &engineDeps{
		creds: &mockCredRepo{
			findFn: func(ctx context.Context, userID string, provider model.Provider) (*model.ProviderCredentials, error) {
				return intervalsCreds(), nil
			},
		},
		intervals: &mockIntervalsAPI{
			listFn: func(ctx context.Context, apiKey, athleteID, oldest, newest string, limit int) ([]*intervals.Activity, error) {
				var acts []*intervals.Activity
				for i := 0; i < 5; i++ {
					acts = append(acts, &intervals.Activity{
						ID:             intervals.FlexString(fmt.Sprintf("a%d", i)),
						StartDateLocal: "2026-01-10T08:00:00Z",
					})
				}
				return acts, nil
			},
			getFn: func(ctx context.Context, apiKey, activityID string) (*intervals.Activity, error) {
				mu.Lock()
				detailCalls++
				mu.Unlock()
				return &intervals.Activity{ID: intervals.FlexString(activityID), Name: "n"}, nil
			},
		},
	}
	e := newTestEngine(deps, Config{DetailFetchCap: 2})

	if _, err := e.SyncNowOrEnqueue(context.Background(), "user-1", model.ProviderIntervals, TriggerManual); err != nil {
		t.Fatalf("SyncNowOrEnqueue() error = %v", err)
	}
	if detailCalls != 2 {
		t.Errorf("detailCalls = %d, want 2 (上限で打ち切り)", detailCalls)
	}
	// 補完できなかった行もサマリーのまま取り込まれる
	if deps.applier.appliedCount() != 5 {
		t.Errorf("applied = %d, want 5", deps.applier.appliedCount())
	}
}

func TestSyncIntervals_WellnessFailureDoesNotFailSync(t *testing.T) {
	deps := &engineDeps{
		creds: &mockCredRepo{
			findFn: func(ctx context.Context, userID string, provider model.Provider) (*model.ProviderCredentials, error) {
				return intervalsCreds(), nil
			},
		},
		intervals: &mockIntervalsAPI{
			wellnessFn: func(ctx context.Context, apiKey, athleteID, oldest, newest string) ([]*intervals.WellnessDay, error) {
				return nil, errors.New("一時的な障害")
			},
		},
	}
	e := newTestEngine(deps, Config{})

	outcome, err := e.SyncNowOrEnqueue(context.Background(), "user-1", model.ProviderIntervals, TriggerManual)
	if err != nil {
		t.Fatalf("SyncNowOrEnqueue() error = %v", err)
	}
	if outcome != model.SyncOutcomeSyncing {
		t.Errorf("outcome = %q, want %q", outcome, model.SyncOutcomeSyncing)
	}
}
