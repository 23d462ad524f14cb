// Package intervals はIntervals.icu APIのクライアントを提供する。
// アクティビティ・日次コンディション記録の取得と統合モデルへの変換を含む。
// 認証はHTTP Basic認証で、ユーザー名は固定文字列"API_KEY"、パスワードに
// APIキーを渡す。
package intervals

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/fitsync/internal/metrics"
	"github.com/hitoshi/fitsync/internal/model"
	"github.com/hitoshi/fitsync/internal/ratelimit"
	"github.com/hitoshi/fitsync/internal/token"
)

const (
	// defaultBaseURL はIntervals.icu APIのベースURL。
	defaultBaseURL = "https://intervals.icu/api/v1"
	// defaultRequestInterval はリクエスト間の最小間隔の既定値。
	defaultRequestInterval = 250 * time.Millisecond
	// basicAuthUser はBasic認証のユーザー名。Intervals.icuの仕様で固定。
	basicAuthUser = "API_KEY"
	// providerName はメトリクスと呼び出し台帳に使うプロバイダ名。
	providerName = string(model.ProviderIntervals)
	// listFields は一覧APIで要求するフィールド。一覧は軽いサマリーに
	// 絞り、欠けた行だけ詳細APIで補完する。
	listFields = "id,name,start_date_local,type,distance,moving_time,icu_training_load"
)

// Client はIntervals.icu APIのクライアント。
// リクエスト間に最小間隔を挟んで連続呼び出しの殺到を避ける。
// 実行したリクエストはすべて呼び出し台帳とメトリクスに記録する。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string // テスト用にベースURLを差し替え可能
	pacer      *rate.Limiter
	limiter    ratelimit.Limiter
	collector  metrics.MetricsCollector
}

// NewClient はClientの新しいインスタンスを生成する。
// baseURLが空の場合は既定のエンドポイント、requestIntervalが0以下の
// 場合は既定の最小間隔を使う。
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL string, requestInterval time.Duration, limiter ratelimit.Limiter, collector metrics.MetricsCollector) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if requestInterval <= 0 {
		requestInterval = defaultRequestInterval
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
		pacer:      rate.NewLimiter(rate.Every(requestInterval), 1),
		limiter:    limiter,
		collector:  collector,
	}
}

// compile-time interface check
var _ token.IntervalsVerifier = (*Client)(nil)

// FlexString は文字列・数値のどちらで届いてもよいJSONフィールドを
// 文字列として受ける。Intervals.icuのIDフィールドは型が揺れる。
type FlexString string

// UnmarshalJSON は文字列・数値・nullを受け付ける。
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// Activity はIntervals.icuのアクティビティ。一覧APIはfieldsで絞った
// サマリー行を返し、詳細APIは同じ形の完全なオブジェクトを返す。
// Rawには受信したJSONオブジェクト全体を保持する。
type Activity struct {
	ID              FlexString `json:"id"`
	Name            string     `json:"name"`
	Type            string     `json:"type"`
	StartDateLocal  string     `json:"start_date_local"`
	StartDate       string     `json:"start_date"`
	Distance        *float64   `json:"distance"`
	MovingTime      *int64     `json:"moving_time"`
	ICUTrainingLoad *float64   `json:"icu_training_load"`
	TrainingLoad    *float64   `json:"training_load"`
	TSS             *float64   `json:"tss"`
	Source          string     `json:"source"`

	Raw json.RawMessage `json:"-"`
}

// WellnessDay はIntervals.icuの日次コンディション記録。
// 日付は行によってidフィールドに載ることがある。
type WellnessDay struct {
	ID        FlexString `json:"id"`
	Date      string     `json:"date"`
	LocalDate string     `json:"localDate"`
	SleepSecs *float64   `json:"sleepSecs"`
	RestingHR *float64   `json:"restingHR"`
	HRV       *float64   `json:"hrv"`
	Weight    *float64   `json:"weight"`
	CTL       *float64   `json:"ctl"`
	ATL       *float64   `json:"atl"`
	TSB       *float64   `json:"tsb"`

	Raw json.RawMessage `json:"-"`
}

// Athlete はIntervals.icuのアスリートプロフィール。
type Athlete struct {
	ID   FlexString `json:"id"`
	Name string     `json:"name"`
}

// ListActivities は[oldest, newest]のアクティビティ一覧を取得する。
// oldest/newestはYYYY-MM-DD形式。一覧行はname・moving_timeを欠くことが
// あり、その場合はGetActivityで補完する（NeedsDetailを参照）。
func (c *Client) ListActivities(ctx context.Context, apiKey, athleteID, oldest, newest string, limit int) ([]*Activity, error) {
	q := url.Values{}
	q.Set("oldest", oldest)
	q.Set("newest", newest)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("fields", listFields)

	body, err := c.get(ctx, apiKey, "/athlete/"+url.PathEscape(athleteID)+"/activities", q)
	if err != nil {
		return nil, err
	}

	// 要素ごとの生JSONを保持したままデコードする
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		c.logger.Error("Intervals.icu APIのレスポンスのパースに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	activities := make([]*Activity, 0, len(items))
	for _, item := range items {
		var a Activity
		if err := json.Unmarshal(item, &a); err != nil {
			c.logger.Warn("デコードできないアクティビティをスキップします",
				slog.String("error", err.Error()),
			)
			continue
		}
		a.Raw = item
		activities = append(activities, &a)
	}
	return activities, nil
}

// GetActivity はアクティビティ詳細を取得する。
func (c *Client) GetActivity(ctx context.Context, apiKey, activityID string) (*Activity, error) {
	body, err := c.get(ctx, apiKey, "/activity/"+url.PathEscape(activityID), nil)
	if err != nil {
		return nil, err
	}
	var a Activity
	if err := json.Unmarshal(body, &a); err != nil {
		c.logger.Error("Intervals.icu APIのレスポンスのパースに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	a.Raw = body
	return &a, nil
}

// ListWellness は[oldest, newest]の日次コンディション記録を取得する。
func (c *Client) ListWellness(ctx context.Context, apiKey, athleteID, oldest, newest string) ([]*WellnessDay, error) {
	q := url.Values{}
	q.Set("oldest", oldest)
	q.Set("newest", newest)

	body, err := c.get(ctx, apiKey, "/athlete/"+url.PathEscape(athleteID)+"/wellness", q)
	if err != nil {
		return nil, err
	}

	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		c.logger.Error("Intervals.icu APIのレスポンスのパースに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	days := make([]*WellnessDay, 0, len(items))
	for _, item := range items {
		var d WellnessDay
		if err := json.Unmarshal(item, &d); err != nil {
			c.logger.Warn("デコードできないコンディション記録をスキップします",
				slog.String("error", err.Error()),
			)
			continue
		}
		d.Raw = item
		days = append(days, &d)
	}
	return days, nil
}

// GetAthlete はアスリートプロフィールを取得する。
func (c *Client) GetAthlete(ctx context.Context, apiKey, athleteID string) (*Athlete, error) {
	body, err := c.get(ctx, apiKey, "/athlete/"+url.PathEscape(athleteID), nil)
	if err != nil {
		return nil, err
	}
	var athlete Athlete
	if err := json.Unmarshal(body, &athlete); err != nil {
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	return &athlete, nil
}

// VerifyAPIKey は資格情報で実際にAPIを呼び、認証が通るかを検証する。
// 連携時の検証に使う。
func (c *Client) VerifyAPIKey(ctx context.Context, athleteID, apiKey string) error {
	if _, err := c.GetAthlete(ctx, apiKey, athleteID); err != nil {
		return err
	}
	return nil
}

// get はGETリクエストを組み立てて実行する。
func (c *Client) get(ctx context.Context, apiKey, path string, query url.Values) ([]byte, error) {
	reqURL, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("エンドポイントURLのパースに失敗しました: %w", err)
	}
	if query != nil {
		reqURL.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.SetBasicAuth(basicAuthUser, apiKey)
	return c.do(req)
}

// do はHTTPリクエストを実行し、呼び出し台帳とメトリクスに記録する。
// 実行前に最小間隔を確保する。200以外のステータスはエラーとして返す。
func (c *Client) do(req *http.Request) ([]byte, error) {
	if err := c.pacer.Wait(req.Context()); err != nil {
		return nil, err
	}
	if c.limiter != nil {
		c.limiter.RecordCall()
	}
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		c.record(0, elapsed)
		c.logger.Error("Intervals.icu APIの呼び出しに失敗しました",
			slog.String("path", req.URL.Path),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	defer resp.Body.Close()
	c.record(resp.StatusCode, elapsed)

	// HTTPステータスチェック
	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Intervals.icu APIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
			slog.String("path", req.URL.Path),
		)
		// APIキーの失効は401/403で届くため呼び出し元で区別できるようにする
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, fmt.Errorf("%w: ステータス %d", model.ErrProviderUnauthorized, resp.StatusCode)
		}
		return nil, fmt.Errorf("Intervals.icu APIがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}
	return body, nil
}

// record はプロバイダリクエストのメトリクスを記録する。
// ステータス0はトランスポートエラーを表す。
func (c *Client) record(statusCode int, elapsed time.Duration) {
	if c.collector == nil {
		return
	}
	c.collector.RecordProviderRequest(providerName, statusCode)
	c.collector.RecordProviderLatency(providerName, elapsed)
}
