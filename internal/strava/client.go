// Package strava はStrava APIのクライアントを提供する。
// アクティビティ一覧の取得と統合ワークアウトへの変換を含む。
// OAuthトークンの交換・リフレッシュはtokenパッケージの責務で、
// ここでは有効なアクセストークンを受け取って使うだけにする。
package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hitoshi/fitsync/internal/metrics"
	"github.com/hitoshi/fitsync/internal/model"
	"github.com/hitoshi/fitsync/internal/ratelimit"
)

const (
	// defaultBaseURL はStrava API v3のベースURL。
	defaultBaseURL = "https://www.strava.com/api/v3"
	// providerName はメトリクスと呼び出し台帳に使うプロバイダ名。
	providerName = string(model.ProviderStrava)
)

// Client はStrava APIのクライアント。
// 実行したリクエストはすべて呼び出し台帳とメトリクスに記録する。
// 呼び出し予算の事前判定(CanCall)は同期エンジン側の責務。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string // テスト用にベースURLを差し替え可能
	limiter    ratelimit.Limiter
	collector  metrics.MetricsCollector
}

// NewClient はClientの新しいインスタンスを生成する。
// baseURLが空の場合は既定のエンドポイントを使う。
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL string, limiter ratelimit.Limiter, collector metrics.MetricsCollector) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
		limiter:    limiter,
		collector:  collector,
	}
}

// Activity はStravaのアクティビティサマリーを表す。
// Rawには受信したJSONオブジェクト全体を保持する。正規化で落ちる
// フィールドもワークアウトのraw属性として持ち越すため。
type Activity struct {
	ID                   int64    `json:"id"`
	Name                 string   `json:"name"`
	Type                 string   `json:"type"`
	SportType            string   `json:"sport_type"`
	StartDate            string   `json:"start_date"`
	StartDateLocal       string   `json:"start_date_local"`
	MovingTime           *int64   `json:"moving_time"`
	ElapsedTime          *int64   `json:"elapsed_time"`
	Distance             *float64 `json:"distance"`
	SufferScore          *float64 `json:"suffer_score"`
	AverageWatts         *float64 `json:"average_watts"`
	WeightedAverageWatts *float64 `json:"weighted_average_watts"`

	Raw json.RawMessage `json:"-"`
}

// ListActivities はアクティビティ一覧を1ページ取得する。
// after/beforeはエポック秒、pageは1始まり。ページングの継続判定
// （返却件数がperPage未満なら最終ページ）は呼び出し元が行う。
func (c *Client) ListActivities(ctx context.Context, accessToken string, after, before int64, page, perPage int) ([]*Activity, error) {
	// リクエストURL構築
	reqURL, err := url.Parse(c.baseURL + "/athlete/activities")
	if err != nil {
		return nil, fmt.Errorf("エンドポイントURLのパースに失敗しました: %w", err)
	}
	q := reqURL.Query()
	q.Set("after", strconv.FormatInt(after, 10))
	q.Set("before", strconv.FormatInt(before, 10))
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))
	reqURL.RawQuery = q.Encode()

	// HTTPリクエスト作成
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	// 要素ごとの生JSONを保持したままデコードする
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		c.logger.Error("Strava APIのレスポンスのパースに失敗しました",
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

// do はHTTPリクエストを実行し、呼び出し台帳とメトリクスに記録する。
// 200以外のステータスはエラーとして返す。
func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.limiter != nil {
		c.limiter.RecordCall()
	}
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		c.record(0, elapsed)
		c.logger.Error("Strava APIの呼び出しに失敗しました",
			slog.String("path", req.URL.Path),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	defer resp.Body.Close()
	c.record(resp.StatusCode, elapsed)

	// HTTPステータスチェック
	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Strava APIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
			slog.String("path", req.URL.Path),
		)
		// 401は失効シグナルとして呼び出し元で区別する
		if resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: ステータス %d", model.ErrProviderUnauthorized, resp.StatusCode)
		}
		return nil, fmt.Errorf("Strava APIがステータス %d を返しました", resp.StatusCode)
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
