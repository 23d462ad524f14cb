package token

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/fitsync/internal/model"
	"github.com/hitoshi/fitsync/internal/repository"
)

// IntervalsVerifier は連携時にintervals.icuのAPIキーの有効性を検証する。
type IntervalsVerifier interface {
	// VerifyAPIKey はathleteIDとAPIキーでプロバイダに到達できることを確認する。
	VerifyAPIKey(ctx context.Context, athleteID, apiKey string) error
}

// LinkStatus はプロバイダ連携の状態を表す。
type LinkStatus struct {
	Provider       model.Provider `json:"provider"`
	Linked         bool           `json:"linked"`
	AthleteID      string         `json:"athlete_id,omitempty"`
	TokenExpiresAt *time.Time     `json:"token_expires_at,omitempty"`
	LinkedAt       *time.Time     `json:"linked_at,omitempty"`
}

// LinkService はプロバイダ連携の開始・解除・状態照会を提供する。
type LinkService struct {
	credRepo  repository.CredentialRepository
	manager   *Manager
	intervals IntervalsVerifier
}

// NewLinkService はLinkServiceを生成する。
func NewLinkService(
	credRepo repository.CredentialRepository,
	manager *Manager,
	intervals IntervalsVerifier,
) *LinkService {
	return &LinkService{
		credRepo:  credRepo,
		manager:   manager,
		intervals: intervals,
	}
}

// LinkStrava は認可コードを交換してStrava連携を作成する。
// 再連携の場合は既存の認証情報を新しいトークンで置き換える。
func (s *LinkService) LinkStrava(ctx context.Context, userID, code string) error {
	tok, err := s.manager.ExchangeAuthorizationCode(ctx, code)
	if err != nil {
		return err
	}

	creds := &model.ProviderCredentials{
		UserID:         userID,
		Provider:       model.ProviderStrava,
		RefreshSecret:  tok.RefreshSecret,
		AccessToken:    tok.AccessToken,
		TokenExpiresAt: &tok.ExpiresAt,
		AthleteID:      tok.AthleteID,
	}
	if err := s.credRepo.Upsert(ctx, creds); err != nil {
		return fmt.Errorf("Strava連携の保存に失敗しました: %w", err)
	}

	slog.Info("プロバイダを連携しました",
		slog.String("user_id", userID),
		slog.String("provider", string(model.ProviderStrava)),
		slog.String("athlete_id", tok.AthleteID),
	)
	return nil
}

// LinkIntervals はAPIキーを検証してintervals.icu連携を作成する。
// 検証に失敗した場合は認証情報を保存せずErrInvalidCredentialsを返す。
func (s *LinkService) LinkIntervals(ctx context.Context, userID, athleteID, apiKey string) error {
	if athleteID == "" || apiKey == "" {
		return model.ErrInvalidCredentials
	}

	if s.intervals != nil {
		if err := s.intervals.VerifyAPIKey(ctx, athleteID, apiKey); err != nil {
			return fmt.Errorf("%w: %v", model.ErrInvalidCredentials, err)
		}
	}

	creds := &model.ProviderCredentials{
		UserID:        userID,
		Provider:      model.ProviderIntervals,
		RefreshSecret: apiKey,
		AthleteID:     athleteID,
	}
	if err := s.credRepo.Upsert(ctx, creds); err != nil {
		return fmt.Errorf("intervals連携の保存に失敗しました: %w", err)
	}

	slog.Info("プロバイダを連携しました",
		slog.String("user_id", userID),
		slog.String("provider", string(model.ProviderIntervals)),
		slog.String("athlete_id", athleteID),
	)
	return nil
}

// Unlink はプロバイダ連携を解除する。
// 該当プロバイダ由来のデータと未実行ジョブもまとめて削除される。
// 未連携の場合はErrNotLinkedを返す。
func (s *LinkService) Unlink(ctx context.Context, userID string, provider model.Provider) error {
	creds, err := s.credRepo.FindByUserAndProvider(ctx, userID, provider)
	if err != nil {
		return fmt.Errorf("認証情報の取得に失敗しました: %w", err)
	}
	if creds == nil {
		return model.ErrNotLinked
	}

	if err := s.credRepo.UnlinkCascade(ctx, userID, provider); err != nil {
		return fmt.Errorf("連携の解除に失敗しました: %w", err)
	}

	slog.Info("プロバイダ連携を解除しました",
		slog.String("user_id", userID),
		slog.String("provider", string(provider)),
	)
	return nil
}

// Status はプロバイダ連携の状態を返す。未連携でもエラーにはならない。
func (s *LinkService) Status(ctx context.Context, userID string, provider model.Provider) (*LinkStatus, error) {
	creds, err := s.credRepo.FindByUserAndProvider(ctx, userID, provider)
	if err != nil {
		return nil, fmt.Errorf("認証情報の取得に失敗しました: %w", err)
	}
	if creds == nil {
		return &LinkStatus{Provider: provider, Linked: false}, nil
	}

	return &LinkStatus{
		Provider:       provider,
		Linked:         true,
		AthleteID:      creds.AthleteID,
		TokenExpiresAt: creds.TokenExpiresAt,
		LinkedAt:       &creds.CreatedAt,
	}, nil
}
