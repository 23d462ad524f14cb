// Package wellness は日次コンディション記録の取り込みと照会を提供する。
// 測定値(睡眠・安静時心拍・HRV・体重)は複数ソースから届くため、
// プロバイダ由来の値は「現在nullなら埋める」方式で統合し、手動入力が
// 低信頼の値に上書きされないようにする。導出値(CTL/ATL/TSB)は
// プロバイダ同期だけが書き込み、ユーザーからは受け付けない。
package wellness

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/fitsync/internal/model"
	"github.com/hitoshi/fitsync/internal/normalize"
	"github.com/hitoshi/fitsync/internal/repository"
)

// Service は日次コンディション記録のサービス。
type Service struct {
	repo repository.WellnessRepository
}

// NewService はServiceを生成する。
func NewService(repo repository.WellnessRepository) *Service {
	return &Service{repo: repo}
}

// FillFromProvider はプロバイダ由来の日次記録を取り込む。
// 測定値は既存値がnullの場合のみ埋まり、導出値はプロバイダ値で上書きされる。
// プラットフォームは自身の計算値に対して常に正とみなす。
func (s *Service) FillFromProvider(ctx context.Context, day *model.WellnessDay) error {
	if _, ok := normalize.ParseDate(day.Date); !ok {
		return fmt.Errorf("日付の形式が不正です: %q", day.Date)
	}
	if err := s.repo.FillFromProvider(ctx, day); err != nil {
		return fmt.Errorf("コンディション記録の取り込みに失敗しました: %w", err)
	}
	return nil
}

// UpsertManual は手動入力の測定値を保存する。非nilのフィールドだけを
// 上書きし、導出値には触れない。保存後の記録を返す。
func (s *Service) UpsertManual(ctx context.Context, userID, date string, m *model.MeasuredWellness) (*model.WellnessDay, error) {
	if _, ok := normalize.ParseDate(date); !ok {
		return nil, fmt.Errorf("日付の形式が不正です: %q", date)
	}
	if err := s.repo.UpsertMeasured(ctx, userID, date, m); err != nil {
		return nil, fmt.Errorf("コンディション記録の保存に失敗しました: %w", err)
	}

	day, err := s.repo.FindByDate(ctx, userID, date)
	if err != nil {
		return nil, fmt.Errorf("コンディション記録の取得に失敗しました: %w", err)
	}

	slog.Info("コンディション記録を保存しました",
		slog.String("user_id", userID),
		slog.String("date", date),
	)
	return day, nil
}

// Range は[fromDate, toDate]の日次記録を日付昇順で返す。
func (s *Service) Range(ctx context.Context, userID, fromDate, toDate string) ([]*model.WellnessDay, error) {
	if _, ok := normalize.ParseDate(fromDate); !ok {
		return nil, fmt.Errorf("日付の形式が不正です: %q", fromDate)
	}
	if _, ok := normalize.ParseDate(toDate); !ok {
		return nil, fmt.Errorf("日付の形式が不正です: %q", toDate)
	}
	days, err := s.repo.ListRange(ctx, userID, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("コンディション記録の取得に失敗しました: %w", err)
	}
	return days, nil
}
