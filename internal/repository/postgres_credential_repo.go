package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/fitsync/internal/model"
	"github.com/hitoshi/fitsync/internal/security"
)

// PostgresCredentialRepo はPostgreSQLを使用したプロバイダ認証情報リポジトリ。
// リフレッシュシークレットはTokenCipherで暗号化して保存する。
type PostgresCredentialRepo struct {
	db     *sql.DB
	cipher *security.TokenCipher
}

// NewPostgresCredentialRepo はPostgresCredentialRepoを生成する。
func NewPostgresCredentialRepo(db *sql.DB, cipher *security.TokenCipher) *PostgresCredentialRepo {
	return &PostgresCredentialRepo{db: db, cipher: cipher}
}

// FindByUserAndProvider は(user_id, provider)の認証情報を取得する。見つからない場合はnilを返す。
func (r *PostgresCredentialRepo) FindByUserAndProvider(ctx context.Context, userID string, provider model.Provider) (*model.ProviderCredentials, error) {
	creds := &model.ProviderCredentials{}
	var encryptedSecret string
	var accessToken, athleteID sql.NullString
	var tokenExpiresAt sql.NullTime

	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, provider, encrypted_refresh_secret, access_token,
		        token_expires_at, athlete_id, created_at, updated_at
		 FROM provider_credentials WHERE user_id = $1 AND provider = $2`,
		userID, string(provider),
	).Scan(
		&creds.ID, &creds.UserID, &creds.Provider, &encryptedSecret, &accessToken,
		&tokenExpiresAt, &athleteID, &creds.CreatedAt, &creds.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("認証情報の取得に失敗しました: %w", err)
	}

	secret, err := r.cipher.Decrypt(encryptedSecret)
	if err != nil {
		return nil, fmt.Errorf("リフレッシュシークレットの復号に失敗しました: %w", err)
	}
	creds.RefreshSecret = secret
	creds.AccessToken = nullStringValue(accessToken)
	creds.AthleteID = nullStringValue(athleteID)
	if tokenExpiresAt.Valid {
		creds.TokenExpiresAt = &tokenExpiresAt.Time
	}

	return creds, nil
}

// Upsert は(user_id, provider)の認証情報を冪等に作成または置き換える。
// 再連携時は新しいシークレットで全フィールドを上書きする。
func (r *PostgresCredentialRepo) Upsert(ctx context.Context, creds *model.ProviderCredentials) error {
	if creds.ID == "" {
		creds.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if creds.CreatedAt.IsZero() {
		creds.CreatedAt = now
	}
	creds.UpdatedAt = now

	encryptedSecret, err := r.cipher.Encrypt(creds.RefreshSecret)
	if err != nil {
		return fmt.Errorf("リフレッシュシークレットの暗号化に失敗しました: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO provider_credentials (id, user_id, provider, encrypted_refresh_secret,
		                                   access_token, token_expires_at, athlete_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (user_id, provider) DO UPDATE SET
		     encrypted_refresh_secret = EXCLUDED.encrypted_refresh_secret,
		     access_token = EXCLUDED.access_token,
		     token_expires_at = EXCLUDED.token_expires_at,
		     athlete_id = EXCLUDED.athlete_id,
		     updated_at = EXCLUDED.updated_at`,
		creds.ID, creds.UserID, string(creds.Provider), encryptedSecret,
		nullString(creds.AccessToken), creds.TokenExpiresAt, nullString(creds.AthleteID),
		creds.CreatedAt, creds.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("認証情報の保存に失敗しました: %w", err)
	}
	return nil
}

// UpdateTokens はトークンリフレッシュの結果を永続化する。
// refreshSecretが空文字列の場合は既存のシークレットを維持する。
func (r *PostgresCredentialRepo) UpdateTokens(ctx context.Context, id, accessToken string, expiresAt time.Time, refreshSecret string) error {
	if refreshSecret == "" {
		_, err := r.db.ExecContext(ctx,
			`UPDATE provider_credentials SET
			    access_token = $2, token_expires_at = $3, updated_at = now()
			 WHERE id = $1`,
			id, nullString(accessToken), expiresAt,
		)
		if err != nil {
			return fmt.Errorf("トークンの更新に失敗しました: %w", err)
		}
		return nil
	}

	encryptedSecret, err := r.cipher.Encrypt(refreshSecret)
	if err != nil {
		return fmt.Errorf("リフレッシュシークレットの暗号化に失敗しました: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE provider_credentials SET
		    access_token = $2, token_expires_at = $3, encrypted_refresh_secret = $4, updated_at = now()
		 WHERE id = $1`,
		id, nullString(accessToken), expiresAt, encryptedSecret,
	)
	if err != nil {
		return fmt.Errorf("トークンの更新に失敗しました: %w", err)
	}
	return nil
}

// ListByProvider は指定プロバイダの全認証情報を返す。定期ポーリングの対象列挙に使う。
func (r *PostgresCredentialRepo) ListByProvider(ctx context.Context, provider model.Provider) ([]*model.ProviderCredentials, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, provider, encrypted_refresh_secret, access_token,
		        token_expires_at, athlete_id, created_at, updated_at
		 FROM provider_credentials WHERE provider = $1
		 ORDER BY created_at ASC`,
		string(provider),
	)
	if err != nil {
		return nil, fmt.Errorf("認証情報一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var list []*model.ProviderCredentials
	for rows.Next() {
		creds := &model.ProviderCredentials{}
		var encryptedSecret string
		var accessToken, athleteID sql.NullString
		var tokenExpiresAt sql.NullTime

		if err := rows.Scan(
			&creds.ID, &creds.UserID, &creds.Provider, &encryptedSecret, &accessToken,
			&tokenExpiresAt, &athleteID, &creds.CreatedAt, &creds.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("認証情報行の読み取りに失敗しました: %w", err)
		}

		secret, err := r.cipher.Decrypt(encryptedSecret)
		if err != nil {
			return nil, fmt.Errorf("リフレッシュシークレットの復号に失敗しました: %w", err)
		}
		creds.RefreshSecret = secret
		creds.AccessToken = nullStringValue(accessToken)
		creds.AthleteID = nullStringValue(athleteID)
		if tokenExpiresAt.Valid {
			creds.TokenExpiresAt = &tokenExpiresAt.Time
		}

		list = append(list, creds)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("認証情報一覧の走査に失敗しました: %w", err)
	}

	return list, nil
}

// UnlinkCascade はプロバイダ連携を単一トランザクションで解除する。
// 該当プロバイダ由来のワークアウト、該当(user, provider)の未実行ジョブ、
// 認証情報の3つをまとめて削除する。部分的な削除状態を残さないため、
// 全てが成功した場合のみコミットする。
func (r *PostgresCredentialRepo) UnlinkCascade(ctx context.Context, userID string, provider model.Provider) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	// プロバイダ由来のワークアウトを削除
	_, err = tx.ExecContext(ctx,
		`DELETE FROM workouts WHERE user_id = $1 AND source = $2`,
		userID, string(provider.Source()),
	)
	if err != nil {
		return fmt.Errorf("プロバイダ由来ワークアウトの削除に失敗しました: %w", err)
	}

	// 未実行の同期ジョブを削除
	_, err = tx.ExecContext(ctx,
		`DELETE FROM sync_jobs WHERE user_id = $1 AND provider = $2 AND status = $3`,
		userID, string(provider), string(model.JobStatusPending),
	)
	if err != nil {
		return fmt.Errorf("未実行ジョブの削除に失敗しました: %w", err)
	}

	// 認証情報を削除
	_, err = tx.ExecContext(ctx,
		`DELETE FROM provider_credentials WHERE user_id = $1 AND provider = $2`,
		userID, string(provider),
	)
	if err != nil {
		return fmt.Errorf("認証情報の削除に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}

	return nil
}

// compile-time interface check
var _ CredentialRepository = (*PostgresCredentialRepo)(nil)
