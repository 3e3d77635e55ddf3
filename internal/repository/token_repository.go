package repository

import (
	"context"
	"database/sql"
	"log"
	"time"
)

// TokenRepo keeps refresh tokens.  Only the SHA-256 of a token is stored,
// so a leaked table cannot be replayed.
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

func (r *TokenRepo) StoreRefresh(ctx context.Context, userID uint64, tokenHash string, exp time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO refresh_tokens (user_id, token_hash, expires_at) VALUES (?,?,?)",
		userID, tokenHash, exp.UTC())
	return err
}

// ValidateRefresh returns the owner of a live token.  Unknown, revoked and
// expired tokens, and tokens of deactivated accounts, are ErrNotFound.
func (r *TokenRepo) ValidateRefresh(ctx context.Context, tokenHash string) (uint64, error) {
	var userID uint64
	err := r.DB.QueryRowContext(ctx, `SELECT t.user_id FROM refresh_tokens t
		JOIN users u ON u.id = t.user_id
		WHERE t.token_hash=? AND t.revoked_at IS NULL AND t.expires_at > UTC_TIMESTAMP() AND u.is_active`,
		tokenHash).Scan(&userID)
	return userID, notFound(err)
}

// RevokeByHash revokes one token.  Revoking an unknown or already revoked
// token is not an error.
func (r *TokenRepo) RevokeByHash(ctx context.Context, tokenHash string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked_at=UTC_TIMESTAMP() WHERE token_hash=? AND revoked_at IS NULL",
		tokenHash)
	return err
}

// RevokeAllForUser ends every session of a user (password reset).
func (r *TokenRepo) RevokeAllForUser(ctx context.Context, userID uint64) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked_at=UTC_TIMESTAMP() WHERE user_id=? AND revoked_at IS NULL",
		userID)
	return err
}

// PurgeDead deletes tokens that expired or were revoked more than grace
// ago and returns how many rows went.
func (r *TokenRepo) PurgeDead(ctx context.Context, grace time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-grace)
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE expires_at < ? OR revoked_at < ?", cutoff, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// StartPurger runs PurgeDead every interval until ctx is done.
func (r *TokenRepo) StartPurger(ctx context.Context, interval, grace time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := r.PurgeDead(ctx, grace)
			if err != nil {
				log.Printf("tokens: purge failed: %v", err)
			} else if n > 0 {
				log.Printf("tokens: purged %d refresh tokens", n)
			}
		}
	}
}
