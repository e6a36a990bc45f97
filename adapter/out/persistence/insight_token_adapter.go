package persistence

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"insight_server/adapter/out/provider"
	"insight_server/pkg/apperr"
)

// =============================================================================
// OAuth Token Adapter
// =============================================================================

// TokenAdapter loads stored Gmail OAuth tokens from PostgreSQL. It implements
// provider.TokenProvider; refresh happens inside the oauth2 token source, the
// refreshed access token is not written back.
type TokenAdapter struct {
	db  *sqlx.DB
	log zerolog.Logger
}

var _ provider.TokenProvider = (*TokenAdapter)(nil)

func NewTokenAdapter(db *sqlx.DB, log zerolog.Logger) *TokenAdapter {
	return &TokenAdapter{
		db:  db,
		log: log.With().Str("component", "token_repository").Logger(),
	}
}

type tokenRow struct {
	AccessToken  string       `db:"access_token"`
	RefreshToken string       `db:"refresh_token"`
	TokenType    string       `db:"token_type"`
	ExpiresAt    sql.NullTime `db:"expires_at"`
}

// TokenFor returns the user's stored Gmail OAuth token.
func (a *TokenAdapter) TokenFor(ctx context.Context, userID string) (*oauth2.Token, error) {
	const query = `
		SELECT access_token, refresh_token, token_type, expires_at
		FROM oauth_tokens
		WHERE user_id = $1 AND provider = 'google'
	`

	var row tokenRow
	if err := a.db.GetContext(ctx, &row, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.ContextError("no mailbox connection for user", err)
		}
		return nil, err
	}

	token := &oauth2.Token{
		AccessToken:  row.AccessToken,
		RefreshToken: row.RefreshToken,
		TokenType:    row.TokenType,
	}
	if token.TokenType == "" {
		token.TokenType = "Bearer"
	}
	if row.ExpiresAt.Valid {
		token.Expiry = row.ExpiresAt.Time
	}
	return token, nil
}

// SaveToken upserts the user's Gmail OAuth token.
func (a *TokenAdapter) SaveToken(ctx context.Context, userID string, token *oauth2.Token) error {
	const query = `
		INSERT INTO oauth_tokens (
			user_id, provider, access_token, refresh_token, token_type, expires_at, updated_at
		) VALUES (
			$1, 'google', $2, $3, $4, $5, NOW()
		)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_type = EXCLUDED.token_type,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()
	`

	var expiry sql.NullTime
	if !token.Expiry.IsZero() {
		expiry = sql.NullTime{Time: token.Expiry.UTC(), Valid: true}
	}

	_, err := a.db.ExecContext(ctx, query,
		userID,
		token.AccessToken,
		token.RefreshToken,
		token.TokenType,
		expiry,
	)
	return err
}
