// Package workout はワークアウトの取り込みと照会を提供する。
// 手動入力とFITファイルの2経路の取り込みがあり、どちらも照合器を通して
// プロバイダ同期と同じ統合ワークアウトに集約される。
package workout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/fitsync/internal/fitness"
	"github.com/hitoshi/fitsync/internal/metrics"
	"github.com/hitoshi/fitsync/internal/model"
	"github.com/hitoshi/fitsync/internal/normalize"
	"github.com/hitoshi/fitsync/internal/reconcile"
	"github.com/hitoshi/fitsync/internal/repository"
	"github.com/hitoshi/fitsync/internal/security"
)

// maxSeriesSamples は保存する時系列サンプルの上限。超過分は等間隔で間引く。
const maxSeriesSamples = 3600

// ParsedFile はFITファイルパーサーの出力を表す。
// パース自体はコアの責務外で、取り込み側は正規化済みの値だけを受け取る。
type ParsedFile struct {
	StartDate       time.Time
	DurationSec     *int64
	DistanceM       *float64
	AvgPower        *float64
	NormalizedPower *float64
	Sport           string
	Series          json.RawMessage // 時系列サンプルのJSON配列
}

// FileParser はFITファイルのバイト列をParsedFileに変換する。
type FileParser interface {
	Parse(data []byte) (*ParsedFile, error)
}

// Applier はワークアウトの単一の書き込み経路。reconcile.Reconcilerが実装する。
type Applier interface {
	Apply(ctx context.Context, userID string, incoming *model.Workout) (*model.Workout, bool, error)
}

// ManualInput は手動入力ワークアウトのフィールドを表す。
// DurationとDistanceはプロバイダ入力と同じ正規化を通すため、
// 秒数・"H:MM:SS"・数値文字列のいずれでも受け付ける。
type ManualInput struct {
	StartDate time.Time
	Name      string
	Sport     string
	Notes     string
	Duration  any
	Distance  any
	TSS       *float64
}

// FitOptions はFIT取り込みの補助パラメータ。
type FitOptions struct {
	// FTP はTSSの出力ベース計算に使う機能的作業閾値パワー。0なら種別推定に落ちる。
	FTP float64
}

// Service はワークアウトの取り込み・照会サービス。
type Service struct {
	workoutRepo repository.WorkoutRepository
	reconciler  Applier
	parser      FileParser
	sanitizer   *security.TextSanitizer
	collector   metrics.MetricsCollector
}

// NewService はServiceを生成する。parserはFIT取り込みを使わない構成ではnilでよい。
func NewService(
	workoutRepo repository.WorkoutRepository,
	reconciler Applier,
	parser FileParser,
	sanitizer *security.TextSanitizer,
	collector metrics.MetricsCollector,
) *Service {
	return &Service{
		workoutRepo: workoutRepo,
		reconciler:  reconciler,
		parser:      parser,
		sanitizer:   sanitizer,
		collector:   collector,
	}
}

// CreateManual は手動入力ワークアウトを登録する。
// 既存行との照合・マージはプロバイダ同期と同じ経路を通る。
func (s *Service) CreateManual(ctx context.Context, userID string, input *ManualInput) (*model.Workout, error) {
	if input.StartDate.IsZero() {
		return nil, fmt.Errorf("開始時刻は必須です")
	}

	w := &model.Workout{
		UserID:      userID,
		StartDate:   input.StartDate.UTC(),
		Name:        s.sanitize(input.Name),
		Sport:       s.sanitize(input.Sport),
		Notes:       s.sanitize(input.Notes),
		DurationSec: normalize.DurationSec(input.Duration),
		DistanceM:   normalize.DistanceM(input.Distance),
		TSS:         input.TSS,
		Source:      model.SourceManual,
	}

	stored, created, err := s.reconciler.Apply(ctx, userID, w)
	if err != nil {
		return nil, err
	}
	s.recordUpsert(model.SourceManual, created)

	slog.Info("手動ワークアウトを登録しました",
		slog.String("user_id", userID),
		slog.String("workout_id", stored.ID),
		slog.Bool("created", created),
	)
	return stored, nil
}

// IngestFit はアップロードされたFITファイルを取り込む。
// ファイル内容のSHA-256で同一ファイルの再アップロードを検出し、
// 重複の場合はErrDuplicateFitFileを返す。TSSは出力データがあれば
// パワーベースの式で、なければ種別ごとの時間あたり推定で導出する。
func (s *Service) IngestFit(ctx context.Context, userID string, data []byte, opts FitOptions) (*model.Workout, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("ファイルが空です")
	}
	if s.parser == nil {
		return nil, fmt.Errorf("FITパーサーが設定されていません")
	}

	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])

	existing, err := s.workoutRepo.FindByFitChecksum(ctx, userID, checksum)
	if err != nil {
		return nil, fmt.Errorf("重複チェックに失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.ErrDuplicateFitFile
	}

	parsed, err := s.parser.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("FITファイルのパースに失敗しました: %w", err)
	}
	if parsed.StartDate.IsZero() {
		return nil, fmt.Errorf("FITファイルに開始時刻がありません")
	}

	w := &model.Workout{
		UserID:      userID,
		FitChecksum: checksum,
		StartDate:   parsed.StartDate.UTC(),
		Sport:       s.sanitize(parsed.Sport),
		DurationSec: parsed.DurationSec,
		DistanceM:   parsed.DistanceM,
		TSS:         s.deriveFitTSS(parsed, opts),
		Source:      model.SourceFit,
	}
	if err := s.fillRaw(w, parsed); err != nil {
		return nil, err
	}

	stored, created, err := s.reconciler.Apply(ctx, userID, w)
	if err != nil {
		return nil, err
	}
	s.recordUpsert(model.SourceFit, created)

	slog.Info("FITファイルを取り込みました",
		slog.String("user_id", userID),
		slog.String("workout_id", stored.ID),
		slog.Bool("created", created),
		slog.Int("file_size", len(data)),
	)
	return stored, nil
}

// List は開始時刻が[from, to)のワークアウトをstart_date昇順で返す。
func (s *Service) List(ctx context.Context, userID string, from, to time.Time) ([]*model.Workout, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("期間の指定が不正です: from=%s to=%s",
			normalize.Date(from), normalize.Date(to))
	}
	rows, err := s.workoutRepo.ListByDateRange(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("ワークアウトの取得に失敗しました: %w", err)
	}
	return rows, nil
}

// ListDaily は期間内のワークアウトをUTC日ごとの代表1行に絞って返す。
// 照合の網をすり抜けて同日に複数行が残った場合の表示用で、
// プラットフォーム同期 > FIT > 手動の優先度で代表を選ぶ。
func (s *Service) ListDaily(ctx context.Context, userID string, from, to time.Time) ([]*model.Workout, error) {
	rows, err := s.List(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}
	return reconcile.PickRepresentative(rows), nil
}

// Delete はユーザー操作によるワークアウトの削除。同期が行を消すことはなく、
// 削除の経路はここだけ。存在しない場合はErrWorkoutNotFoundを返す。
func (s *Service) Delete(ctx context.Context, userID, workoutID string) error {
	deleted, err := s.workoutRepo.Delete(ctx, userID, workoutID)
	if err != nil {
		return fmt.Errorf("ワークアウトの削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.ErrWorkoutNotFound
	}
	slog.Info("ワークアウトを削除しました",
		slog.String("user_id", userID),
		slog.String("workout_id", workoutID),
	)
	return nil
}

// deriveFitTSS はFITファイルのTSSを導出する。NP(なければ平均出力)とFTPが
// 揃っていればパワーベースの式、どちらか欠けていれば種別推定に落ちる。
func (s *Service) deriveFitTSS(parsed *ParsedFile, opts FitOptions) *float64 {
	if parsed.DurationSec == nil {
		return nil
	}
	power := parsed.NormalizedPower
	if power == nil {
		power = parsed.AvgPower
	}
	if power != nil && opts.FTP > 0 {
		if tss, ok := fitness.EstimateTSSFromPower(*parsed.DurationSec, *power, opts.FTP); ok {
			return &tss
		}
	}
	tss := fitness.EstimateTSSBySport(parsed.Sport, *parsed.DurationSec)
	return &tss
}

// fillRaw はパース結果の補助フィールドと時系列サンプルをraw属性に載せる。
func (s *Service) fillRaw(w *model.Workout, parsed *ParsedFile) error {
	if parsed.AvgPower != nil {
		if err := w.Raw.SetField("avg_power", *parsed.AvgPower); err != nil {
			return err
		}
	}
	if parsed.NormalizedPower != nil {
		if err := w.Raw.SetField("normalized_power", *parsed.NormalizedPower); err != nil {
			return err
		}
	}
	series, err := capSeries(parsed.Series, maxSeriesSamples)
	if err != nil {
		// 壊れた時系列はそのワークアウト全体を失敗させず、落として続行する
		slog.Warn("時系列サンプルを解釈できないため破棄します",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if len(series) > 0 {
		w.Raw.Series = series
	}
	return nil
}

// capSeries は時系列サンプルをmaxサンプルに間引く。max以下ならそのまま返す。
func capSeries(series json.RawMessage, max int) (json.RawMessage, error) {
	if len(series) == 0 {
		return nil, nil
	}
	var samples []json.RawMessage
	if err := json.Unmarshal(series, &samples); err != nil {
		return nil, fmt.Errorf("時系列サンプルのパースに失敗しました: %w", err)
	}
	if len(samples) <= max {
		return series, nil
	}
	stride := (len(samples) + max - 1) / max
	kept := make([]json.RawMessage, 0, max)
	for i := 0; i < len(samples); i += stride {
		kept = append(kept, samples[i])
	}
	return json.Marshal(kept)
}

func (s *Service) sanitize(raw string) string {
	if s.sanitizer == nil {
		return raw
	}
	return s.sanitizer.Sanitize(raw)
}

func (s *Service) recordUpsert(source model.Source, created bool) {
	if s.collector == nil {
		return
	}
	action := "merged"
	if created {
		action = "created"
	}
	s.collector.RecordWorkoutUpserted(string(source), action)
}
