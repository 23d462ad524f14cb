package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/fitsync/internal/model"
)

// PostgresWorkoutRepo はPostgreSQLを使用したワークアウトリポジトリ。
type PostgresWorkoutRepo struct {
	db *sql.DB
}

// NewPostgresWorkoutRepo はPostgresWorkoutRepoを生成する。
func NewPostgresWorkoutRepo(db *sql.DB) *PostgresWorkoutRepo {
	return &PostgresWorkoutRepo{db: db}
}

// FindByID は指定ユーザーの指定IDのワークアウトを取得する。見つからない場合はnilを返す。
func (r *PostgresWorkoutRepo) FindByID(ctx context.Context, userID, id string) (*model.Workout, error) {
	w := &model.Workout{}
	var externalID, fitChecksum, name, sport, notes sql.NullString
	var durationSec sql.NullInt64
	var distanceM, tss sql.NullFloat64

	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, external_id, fit_checksum, start_date, name, sport,
		        duration_sec, distance_m, tss, notes, source, raw, created_at, updated_at
		 FROM workouts WHERE user_id = $1 AND id = $2`,
		userID, id,
	).Scan(
		&w.ID, &w.UserID, &externalID, &fitChecksum, &w.StartDate, &name, &sport,
		&durationSec, &distanceM, &tss, &notes, &w.Source, &w.Raw,
		&w.CreatedAt, &w.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ワークアウトの取得に失敗しました: %w", err)
	}

	w.ExternalID = nullStringValue(externalID)
	w.FitChecksum = nullStringValue(fitChecksum)
	w.Name = nullStringValue(name)
	w.Sport = nullStringValue(sport)
	w.Notes = nullStringValue(notes)
	if durationSec.Valid {
		w.DurationSec = &durationSec.Int64
	}
	if distanceM.Valid {
		w.DistanceM = &distanceM.Float64
	}
	if tss.Valid {
		w.TSS = &tss.Float64
	}

	return w, nil
}

// FindByExternalID はプロバイダ側アクティビティIDでワークアウトを検索する。
// 同一性判定の最優先手段。見つからない場合はnilを返す。
func (r *PostgresWorkoutRepo) FindByExternalID(ctx context.Context, userID, externalIDKey string) (*model.Workout, error) {
	w := &model.Workout{}
	var externalID, fitChecksum, name, sport, notes sql.NullString
	var durationSec sql.NullInt64
	var distanceM, tss sql.NullFloat64

	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, external_id, fit_checksum, start_date, name, sport,
		        duration_sec, distance_m, tss, notes, source, raw, created_at, updated_at
		 FROM workouts WHERE user_id = $1 AND external_id = $2`,
		userID, externalIDKey,
	).Scan(
		&w.ID, &w.UserID, &externalID, &fitChecksum, &w.StartDate, &name, &sport,
		&durationSec, &distanceM, &tss, &notes, &w.Source, &w.Raw,
		&w.CreatedAt, &w.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("external_id によるワークアウトの検索に失敗しました: %w", err)
	}

	w.ExternalID = nullStringValue(externalID)
	w.FitChecksum = nullStringValue(fitChecksum)
	w.Name = nullStringValue(name)
	w.Sport = nullStringValue(sport)
	w.Notes = nullStringValue(notes)
	if durationSec.Valid {
		w.DurationSec = &durationSec.Int64
	}
	if distanceM.Valid {
		w.DistanceM = &distanceM.Float64
	}
	if tss.Valid {
		w.TSS = &tss.Float64
	}

	return w, nil
}

// FindByFitChecksum はFITファイルのSHA-256チェックサムでワークアウトを検索する。
// 同一ファイル再アップロードの検出に使う。見つからない場合はnilを返す。
func (r *PostgresWorkoutRepo) FindByFitChecksum(ctx context.Context, userID, checksum string) (*model.Workout, error) {
	w := &model.Workout{}
	var externalID, fitChecksum, name, sport, notes sql.NullString
	var durationSec sql.NullInt64
	var distanceM, tss sql.NullFloat64

	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, external_id, fit_checksum, start_date, name, sport,
		        duration_sec, distance_m, tss, notes, source, raw, created_at, updated_at
		 FROM workouts WHERE user_id = $1 AND fit_checksum = $2`,
		userID, checksum,
	).Scan(
		&w.ID, &w.UserID, &externalID, &fitChecksum, &w.StartDate, &name, &sport,
		&durationSec, &distanceM, &tss, &notes, &w.Source, &w.Raw,
		&w.CreatedAt, &w.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fit_checksum によるワークアウトの検索に失敗しました: %w", err)
	}

	w.ExternalID = nullStringValue(externalID)
	w.FitChecksum = nullStringValue(fitChecksum)
	w.Name = nullStringValue(name)
	w.Sport = nullStringValue(sport)
	w.Notes = nullStringValue(notes)
	if durationSec.Valid {
		w.DurationSec = &durationSec.Int64
	}
	if distanceM.Valid {
		w.DistanceM = &distanceM.Float64
	}
	if tss.Valid {
		w.TSS = &tss.Float64
	}

	return w, nil
}

// ListByDateRange は開始時刻が[from, to)の範囲のワークアウトをstart_date昇順で返す。
func (r *PostgresWorkoutRepo) ListByDateRange(ctx context.Context, userID string, from, to time.Time) ([]*model.Workout, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, external_id, fit_checksum, start_date, name, sport,
		        duration_sec, distance_m, tss, notes, source, raw, created_at, updated_at
		 FROM workouts
		 WHERE user_id = $1 AND start_date >= $2 AND start_date < $3
		 ORDER BY start_date ASC`,
		userID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("ワークアウト一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var workouts []*model.Workout
	for rows.Next() {
		w := &model.Workout{}
		var externalID, fitChecksum, name, sport, notes sql.NullString
		var durationSec sql.NullInt64
		var distanceM, tss sql.NullFloat64

		if err := rows.Scan(
			&w.ID, &w.UserID, &externalID, &fitChecksum, &w.StartDate, &name, &sport,
			&durationSec, &distanceM, &tss, &notes, &w.Source, &w.Raw,
			&w.CreatedAt, &w.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("ワークアウト行の読み取りに失敗しました: %w", err)
		}

		w.ExternalID = nullStringValue(externalID)
		w.FitChecksum = nullStringValue(fitChecksum)
		w.Name = nullStringValue(name)
		w.Sport = nullStringValue(sport)
		w.Notes = nullStringValue(notes)
		if durationSec.Valid {
			w.DurationSec = &durationSec.Int64
		}
		if distanceM.Valid {
			w.DistanceM = &distanceM.Float64
		}
		if tss.Valid {
			w.TSS = &tss.Float64
		}

		workouts = append(workouts, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ワークアウト一覧の走査に失敗しました: %w", err)
	}

	return workouts, nil
}

// Create はワークアウトを新規作成する。IDが空なら生成して設定する。
// 一意制約違反はそのまま返す。呼び出し側がIsUniqueViolationで検出し、
// 再読込とマージで解決する。
func (r *PostgresWorkoutRepo) Create(ctx context.Context, w *model.Workout) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO workouts (id, user_id, external_id, fit_checksum, start_date, name, sport,
		                       duration_sec, distance_m, tss, notes, source, raw, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		w.ID, w.UserID, nullString(w.ExternalID), nullString(w.FitChecksum),
		w.StartDate, nullString(w.Name), nullString(w.Sport),
		w.DurationSec, w.DistanceM, w.TSS, nullString(w.Notes),
		string(w.Source), w.Raw, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ワークアウトの作成に失敗しました: %w", err)
	}
	return nil
}

// Update は既存ワークアウトを上書き更新する。履歴は保持しない。
func (r *PostgresWorkoutRepo) Update(ctx context.Context, w *model.Workout) error {
	w.UpdatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx,
		`UPDATE workouts SET
		    external_id = $2, fit_checksum = $3, start_date = $4, name = $5, sport = $6,
		    duration_sec = $7, distance_m = $8, tss = $9, notes = $10, source = $11,
		    raw = $12, updated_at = $13
		 WHERE id = $1`,
		w.ID, nullString(w.ExternalID), nullString(w.FitChecksum),
		w.StartDate, nullString(w.Name), nullString(w.Sport),
		w.DurationSec, w.DistanceM, w.TSS, nullString(w.Notes),
		string(w.Source), w.Raw, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ワークアウトの更新に失敗しました: %w", err)
	}
	return nil
}

// Delete は指定ユーザーのワークアウトを削除する。
// 削除した場合はtrue、存在しなかった場合はfalseを返す。
func (r *PostgresWorkoutRepo) Delete(ctx context.Context, userID, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM workouts WHERE user_id = $1 AND id = $2`,
		userID, id,
	)
	if err != nil {
		return false, fmt.Errorf("ワークアウトの削除に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return rowsAffected > 0, nil
}

// IsUniqueViolation は一意制約違反のエラーかどうかを判定する。
// 並行する同期が同一の自然キーで同時にINSERTした場合の衝突検出に使う。
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// nullString は空文字列をNULLに変換する。
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullStringValue はsql.NullStringから値を取り出す。NULLの場合は空文字列を返す。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// compile-time interface check
var _ WorkoutRepository = (*PostgresWorkoutRepo)(nil)
