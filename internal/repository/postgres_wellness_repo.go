package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/fitsync/internal/model"
)

// PostgresWellnessRepo はPostgreSQLを使用した日次コンディション記録リポジトリ。
type PostgresWellnessRepo struct {
	db *sql.DB
}

// NewPostgresWellnessRepo はPostgresWellnessRepoを生成する。
func NewPostgresWellnessRepo(db *sql.DB) *PostgresWellnessRepo {
	return &PostgresWellnessRepo{db: db}
}

// FindByDate は(user_id, date)の記録を取得する。見つからない場合はnilを返す。
func (r *PostgresWellnessRepo) FindByDate(ctx context.Context, userID, date string) (*model.WellnessDay, error) {
	day := &model.WellnessDay{}
	var recordDate time.Time
	var sleepHours, restingHR, hrv, weightKg, ctl, atl, tsb sql.NullFloat64

	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, date, sleep_hours, resting_hr, hrv, weight_kg,
		        ctl, atl, tsb, created_at, updated_at
		 FROM wellness_days WHERE user_id = $1 AND date = $2`,
		userID, date,
	).Scan(
		&day.ID, &day.UserID, &recordDate, &sleepHours, &restingHR, &hrv, &weightKg,
		&ctl, &atl, &tsb, &day.CreatedAt, &day.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("コンディション記録の取得に失敗しました: %w", err)
	}

	day.Date = recordDate.Format("2006-01-02")
	day.SleepHours = nullFloatPtr(sleepHours)
	day.RestingHR = nullFloatPtr(restingHR)
	day.HRV = nullFloatPtr(hrv)
	day.WeightKg = nullFloatPtr(weightKg)
	day.CTL = nullFloatPtr(ctl)
	day.ATL = nullFloatPtr(atl)
	day.TSB = nullFloatPtr(tsb)

	return day, nil
}

// ListRange は[fromDate, toDate]の記録を日付昇順で返す。
func (r *PostgresWellnessRepo) ListRange(ctx context.Context, userID, fromDate, toDate string) ([]*model.WellnessDay, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, date, sleep_hours, resting_hr, hrv, weight_kg,
		        ctl, atl, tsb, created_at, updated_at
		 FROM wellness_days
		 WHERE user_id = $1 AND date >= $2 AND date <= $3
		 ORDER BY date ASC`,
		userID, fromDate, toDate,
	)
	if err != nil {
		return nil, fmt.Errorf("コンディション記録一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var days []*model.WellnessDay
	for rows.Next() {
		day := &model.WellnessDay{}
		var recordDate time.Time
		var sleepHours, restingHR, hrv, weightKg, ctl, atl, tsb sql.NullFloat64

		if err := rows.Scan(
			&day.ID, &day.UserID, &recordDate, &sleepHours, &restingHR, &hrv, &weightKg,
			&ctl, &atl, &tsb, &day.CreatedAt, &day.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("コンディション記録行の読み取りに失敗しました: %w", err)
		}

		day.Date = recordDate.Format("2006-01-02")
		day.SleepHours = nullFloatPtr(sleepHours)
		day.RestingHR = nullFloatPtr(restingHR)
		day.HRV = nullFloatPtr(hrv)
		day.WeightKg = nullFloatPtr(weightKg)
		day.CTL = nullFloatPtr(ctl)
		day.ATL = nullFloatPtr(atl)
		day.TSB = nullFloatPtr(tsb)

		days = append(days, day)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("コンディション記録一覧の走査に失敗しました: %w", err)
	}

	return days, nil
}

// FillFromProvider はプロバイダ由来の記録を冪等にUPSERTする。
// 測定値は既存値がnullの場合のみ埋める。手動入力を上書きしないため。
// 導出値(ctl/atl/tsb)はプラットフォーム自身の計算値が正とし、
// プロバイダ値が非nullなら上書きする。
func (r *PostgresWellnessRepo) FillFromProvider(ctx context.Context, day *model.WellnessDay) error {
	if day.ID == "" {
		day.ID = uuid.New().String()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO wellness_days (id, user_id, date, sleep_hours, resting_hr, hrv, weight_kg, ctl, atl, tsb)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (user_id, date) DO UPDATE SET
		     sleep_hours = COALESCE(wellness_days.sleep_hours, EXCLUDED.sleep_hours),
		     resting_hr  = COALESCE(wellness_days.resting_hr, EXCLUDED.resting_hr),
		     hrv         = COALESCE(wellness_days.hrv, EXCLUDED.hrv),
		     weight_kg   = COALESCE(wellness_days.weight_kg, EXCLUDED.weight_kg),
		     ctl = COALESCE(EXCLUDED.ctl, wellness_days.ctl),
		     atl = COALESCE(EXCLUDED.atl, wellness_days.atl),
		     tsb = COALESCE(EXCLUDED.tsb, wellness_days.tsb),
		     updated_at = now()`,
		day.ID, day.UserID, day.Date,
		day.SleepHours, day.RestingHR, day.HRV, day.WeightKg,
		day.CTL, day.ATL, day.TSB,
	)
	if err != nil {
		return fmt.Errorf("プロバイダ由来コンディション記録の保存に失敗しました: %w", err)
	}
	return nil
}

// UpsertMeasured は手動入力の測定値を冪等にUPSERTする。
// 非nilの入力フィールドのみ上書きし、nilフィールドと導出値は変更しない。
func (r *PostgresWellnessRepo) UpsertMeasured(ctx context.Context, userID, date string, m *model.MeasuredWellness) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO wellness_days (id, user_id, date, sleep_hours, resting_hr, hrv, weight_kg)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id, date) DO UPDATE SET
		     sleep_hours = COALESCE(EXCLUDED.sleep_hours, wellness_days.sleep_hours),
		     resting_hr  = COALESCE(EXCLUDED.resting_hr, wellness_days.resting_hr),
		     hrv         = COALESCE(EXCLUDED.hrv, wellness_days.hrv),
		     weight_kg   = COALESCE(EXCLUDED.weight_kg, wellness_days.weight_kg),
		     updated_at = now()`,
		uuid.New().String(), userID, date,
		m.SleepHours, m.RestingHR, m.HRV, m.WeightKg,
	)
	if err != nil {
		return fmt.Errorf("手動コンディション記録の保存に失敗しました: %w", err)
	}
	return nil
}

// LatestWithDerived は範囲内でctlが非nullの最新日の記録を返す。
// プロバイダ提供のCTL/ATL/TSBを自前計算より優先する判定に使う。
// 見つからない場合はnilを返す。
func (r *PostgresWellnessRepo) LatestWithDerived(ctx context.Context, userID, fromDate, toDate string) (*model.WellnessDay, error) {
	day := &model.WellnessDay{}
	var recordDate time.Time
	var sleepHours, restingHR, hrv, weightKg, ctl, atl, tsb sql.NullFloat64

	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, date, sleep_hours, resting_hr, hrv, weight_kg,
		        ctl, atl, tsb, created_at, updated_at
		 FROM wellness_days
		 WHERE user_id = $1 AND date >= $2 AND date <= $3 AND ctl IS NOT NULL
		 ORDER BY date DESC
		 LIMIT 1`,
		userID, fromDate, toDate,
	).Scan(
		&day.ID, &day.UserID, &recordDate, &sleepHours, &restingHR, &hrv, &weightKg,
		&ctl, &atl, &tsb, &day.CreatedAt, &day.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("導出値付きコンディション記録の検索に失敗しました: %w", err)
	}

	day.Date = recordDate.Format("2006-01-02")
	day.SleepHours = nullFloatPtr(sleepHours)
	day.RestingHR = nullFloatPtr(restingHR)
	day.HRV = nullFloatPtr(hrv)
	day.WeightKg = nullFloatPtr(weightKg)
	day.CTL = nullFloatPtr(ctl)
	day.ATL = nullFloatPtr(atl)
	day.TSB = nullFloatPtr(tsb)

	return day, nil
}

// nullFloatPtr はsql.NullFloat64から値を取り出す。NULLの場合はnilを返す。
func nullFloatPtr(nf sql.NullFloat64) *float64 {
	if nf.Valid {
		return &nf.Float64
	}
	return nil
}

// compile-time interface check
var _ WellnessRepository = (*PostgresWellnessRepo)(nil)
