// Package token はプロバイダ認証情報のライフサイクル管理を提供する。
// アクセストークンの期限判定とリフレッシュ、失効検出時の連携解除を担う。
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/hitoshi/fitsync/internal/model"
	"github.com/hitoshi/fitsync/internal/repository"
)

// expirySlack はトークンを期限切れとみなす猶予時間。
// 期限ちょうどまで使うと、リクエスト到達時点で失効しているため余裕を持たせる。
const expirySlack = 60 * time.Second

// ManagerConfig はManagerの設定。
type ManagerConfig struct {
	StravaClientID     string
	StravaClientSecret string
	StravaTokenURL     string

	// HTTPClient はトークンエンドポイントへのリクエストに使うクライアント。
	HTTPClient *http.Client
}

// Manager はプロバイダごとのアクセストークン取得とリフレッシュを提供する。
type Manager struct {
	credRepo repository.CredentialRepository
	config   ManagerConfig
}

// NewManager はManagerを生成する。
func NewManager(credRepo repository.CredentialRepository, config ManagerConfig) *Manager {
	return &Manager{
		credRepo: credRepo,
		config:   config,
	}
}

// EnsureAccessToken は指定ユーザー・プロバイダの有効なアクセストークンを返す。
// 未連携の場合はErrNotLinked。intervalsはAPIキーをそのまま返す。
// stravaは期限まで余裕があれば保存済みトークンを返し、なければリフレッシュする。
// リフレッシュがinvalid_grantまたは400/401で拒否された場合は連携を解除し、
// ErrCredentialsRevokedを返す。
func (m *Manager) EnsureAccessToken(ctx context.Context, userID string, provider model.Provider) (string, error) {
	creds, err := m.credRepo.FindByUserAndProvider(ctx, userID, provider)
	if err != nil {
		return "", fmt.Errorf("認証情報の取得に失敗しました: %w", err)
	}
	if creds == nil {
		return "", model.ErrNotLinked
	}

	// intervals.icuはAPIキー認証で期限がない
	if provider == model.ProviderIntervals {
		return creds.RefreshSecret, nil
	}

	if creds.AccessToken != "" && creds.TokenExpiresAt != nil &&
		time.Until(*creds.TokenExpiresAt) > expirySlack {
		return creds.AccessToken, nil
	}

	return m.refreshStrava(ctx, creds)
}

// refreshStrava はリフレッシュトークンで新しいアクセストークンを取得し永続化する。
func (m *Manager) refreshStrava(ctx context.Context, creds *model.ProviderCredentials) (string, error) {
	if m.config.StravaClientID == "" || m.config.StravaClientSecret == "" {
		return "", model.ErrProviderNotConfigured
	}

	tok, err := m.oauthConfig().TokenSource(
		m.httpContext(ctx),
		&oauth2.Token{RefreshToken: creds.RefreshSecret},
	).Token()
	if err != nil {
		if isInvalidGrant(err) {
			slog.Warn("リフレッシュトークンが失効したため連携を解除します",
				slog.String("user_id", creds.UserID),
				slog.String("provider", string(creds.Provider)),
			)
			if unlinkErr := m.credRepo.UnlinkCascade(ctx, creds.UserID, creds.Provider); unlinkErr != nil {
				return "", fmt.Errorf("失効した連携の解除に失敗しました: %w", unlinkErr)
			}
			return "", fmt.Errorf("%w: %v", model.ErrCredentialsRevoked, err)
		}
		return "", fmt.Errorf("トークンのリフレッシュに失敗しました: %w", err)
	}

	// プロバイダがローテーションした場合のみ新しいリフレッシュトークンを保存する
	newRefresh := ""
	if tok.RefreshToken != "" && tok.RefreshToken != creds.RefreshSecret {
		newRefresh = tok.RefreshToken
	}
	if err := m.credRepo.UpdateTokens(ctx, creds.ID, tok.AccessToken, tok.Expiry.UTC(), newRefresh); err != nil {
		return "", fmt.Errorf("リフレッシュ結果の保存に失敗しました: %w", err)
	}

	slog.Info("アクセストークンをリフレッシュしました",
		slog.String("user_id", creds.UserID),
		slog.String("provider", string(creds.Provider)),
		slog.Time("expires_at", tok.Expiry.UTC()),
	)

	return tok.AccessToken, nil
}

// ExchangeAuthorizationCode は認可コードをトークンに交換する。
// Stravaのトークンレスポンスはathleteオブジェクトを含むため、IDを取り出して返す。
func (m *Manager) ExchangeAuthorizationCode(ctx context.Context, code string) (*model.ProviderToken, error) {
	if m.config.StravaClientID == "" || m.config.StravaClientSecret == "" {
		return nil, model.ErrProviderNotConfigured
	}

	tok, err := m.oauthConfig().Exchange(m.httpContext(ctx), code)
	if err != nil {
		if isInvalidGrant(err) {
			return nil, fmt.Errorf("%w: %v", model.ErrInvalidCredentials, err)
		}
		return nil, fmt.Errorf("認可コードの交換に失敗しました: %w", err)
	}

	return &model.ProviderToken{
		AccessToken:   tok.AccessToken,
		RefreshSecret: tok.RefreshToken,
		ExpiresAt:     tok.Expiry.UTC(),
		AthleteID:     athleteIDFromToken(tok),
	}, nil
}

// oauthConfig はStravaのOAuth設定を構築する。
func (m *Manager) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     m.config.StravaClientID,
		ClientSecret: m.config.StravaClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  m.config.StravaTokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// httpContext は注入されたHTTPクライアントをoauth2ライブラリに引き渡す。
func (m *Manager) httpContext(ctx context.Context) context.Context {
	if m.config.HTTPClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, m.config.HTTPClient)
}

// isInvalidGrant はトークンエンドポイントの応答が認証情報の失効を示すかを判定する。
// invalid_grantエラーコード、または400/401ステータスを失効として扱う。
func isInvalidGrant(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return false
	}
	if retrieveErr.ErrorCode == "invalid_grant" {
		return true
	}
	if retrieveErr.Response != nil {
		code := retrieveErr.Response.StatusCode
		return code == http.StatusBadRequest || code == http.StatusUnauthorized
	}
	return false
}

// athleteIDFromToken はトークンレスポンスのathleteオブジェクトからIDを取り出す。
func athleteIDFromToken(tok *oauth2.Token) string {
	athlete, ok := tok.Extra("athlete").(map[string]interface{})
	if !ok {
		return ""
	}
	switch id := athlete["id"].(type) {
	case float64:
		return strconv.FormatInt(int64(id), 10)
	case string:
		return id
	}
	return ""
}
