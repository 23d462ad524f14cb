package ratelimit

import (
	"testing"
	"time"
)

// fakeClock はテスト用の進めやすい時計。
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(clock *fakeClock, shortCeiling, longCeiling int) *WindowLimiter {
	return NewWindowLimiter(Config{
		ShortWindow:  15 * time.Minute,
		ShortCeiling: shortCeiling,
		LongWindow:   24 * time.Hour,
		LongCeiling:  longCeiling,
		Threshold:    0.9,
		Now:          clock.now,
	})
}

func TestWindowLimiter_ThresholdBlocks(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
	l := newTestLimiter(clock, 200, 2000)

	// 実効上限は200×0.9=180。179回までは許可される。
	for i := 0; i < 179; i++ {
		if !l.CanCall() {
			t.Fatalf("%d回目の時点でブロックされた（実効上限180のはず）", i)
		}
		l.RecordCall()
	}
	if !l.CanCall() {
		t.Fatal("179回記録時点ではまだ許可されるべき")
	}
	l.RecordCall() // 180回目

	if l.CanCall() {
		t.Error("実効上限180回の記録後はCanCallがfalseになるべき")
	}
}

func TestWindowLimiter_RecoversAfterWindow(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
	l := newTestLimiter(clock, 200, 2000)

	for i := 0; i < 180; i++ {
		l.RecordCall()
	}
	if l.CanCall() {
		t.Fatal("上限到達直後はfalseのはず")
	}

	// RecordCallを呼ばずに15分経過させるだけで回復する
	clock.advance(15*time.Minute + time.Second)
	if !l.CanCall() {
		t.Error("ウィンドウ経過後はRecordCallなしでtrueに戻るべき")
	}
	short, _ := l.Usage()
	if short != 0 {
		t.Errorf("短期ウィンドウ使用数 = %d, want 0", short)
	}
}

func TestWindowLimiter_DailyCeiling(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)}
	l := newTestLimiter(clock, 200, 2000)

	// 15分ウィンドウが回復しても日次上限(実効1800)で止まる
	for i := 0; i < 10; i++ {
		for j := 0; j < 180; j++ {
			l.RecordCall()
		}
		clock.advance(16 * time.Minute)
	}
	if l.CanCall() {
		t.Error("日次実効上限1800回の記録後はfalseになるべき")
	}

	// 24時間経過で回復
	clock.advance(24 * time.Hour)
	if !l.CanCall() {
		t.Error("24時間経過後はtrueに戻るべき")
	}
}

func TestWindowLimiter_PartialAging(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
	l := newTestLimiter(clock, 200, 2000)

	for i := 0; i < 100; i++ {
		l.RecordCall()
	}
	clock.advance(10 * time.Minute)
	for i := 0; i < 80; i++ {
		l.RecordCall()
	}
	if l.CanCall() {
		t.Fatal("合計180回の時点でfalseのはず")
	}

	// 最初の100回だけがウィンドウ外に出る
	clock.advance(6 * time.Minute)
	if !l.CanCall() {
		t.Error("古い100回が失効した後はtrueに戻るべき")
	}
	short, long := l.Usage()
	if short != 80 {
		t.Errorf("短期ウィンドウ使用数 = %d, want 80", short)
	}
	if long != 180 {
		t.Errorf("長期ウィンドウ使用数 = %d, want 180", long)
	}
}

func TestWindowLimiter_ZeroCeilingIsUnlimited(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
	l := NewWindowLimiter(Config{ShortCeiling: 0, LongCeiling: 0, Now: clock.now})

	for i := 0; i < 5000; i++ {
		l.RecordCall()
	}
	if !l.CanCall() {
		t.Error("上限0は無制限として扱うべき")
	}
}

func TestRegistry_UnknownProviderAllows(t *testing.T) {
	r := NewRegistry()
	if !r.For("unknown").CanCall() {
		t.Error("未登録プロバイダは常に許可されるべき")
	}
}

func TestRegistry_ReturnsRegistered(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
	r := NewRegistry()
	l := newTestLimiter(clock, 10, 100)
	r.Register("strava", l)

	got := r.For("strava")
	for i := 0; i < 9; i++ {
		got.RecordCall()
	}
	if got.CanCall() {
		t.Error("登録済みLimiterの状態が共有されるべき（実効上限9）")
	}
}
