package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"typhonrelay/internal/logging"
	"typhonrelay/internal/models"
	"typhonrelay/internal/redis"
)

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token expired")
	ErrInvalidPIN     = errors.New("pin must be 6 digits")
	ErrPlayerNotFound = errors.New("player not found")
)

const redisTokenPrefix = "auth:token:"

// Service logs players in by PIN and issues, validates, and revokes their tokens.
type Service struct {
	db         *sql.DB
	cache      *redis.Client
	directory  Directory
	tokenTTL   time.Duration
	headerName string
	altHeader  string
}

// NewService constructs an auth service. cache and directory may be nil.
func NewService(db *sql.DB, cache *redis.Client, directory Directory, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		db:         db,
		cache:      cache,
		directory:  directory,
		tokenTTL:   ttl,
		headerName: "Authorization",
		altHeader:  "x-auth-token",
	}
}

// Login resolves the PIN through the directory and issues a token for the player.
func (s *Service) Login(ctx context.Context, pin string) (string, *models.Player, error) {
	if !validPIN(pin) {
		return "", nil, ErrInvalidPIN
	}
	if s.directory == nil {
		return "", nil, ErrPlayerNotFound
	}
	player, err := s.directory.LookupPIN(ctx, pin)
	if err != nil {
		return "", nil, err
	}
	token, err := s.IssueToken(ctx, player)
	if err != nil {
		return "", nil, err
	}
	return token, player, nil
}

// IssueToken mints a new random token for the player and persists it.
func (s *Service) IssueToken(ctx context.Context, player *models.Player) (string, error) {
	if player == nil || (player.ID == "" && player.Name == "" && player.PIN == "") {
		return "", errors.New("player identity required")
	}
	now := time.Now().UTC()
	expiresAt := now.Add(s.tokenTTL)
	for i := 0; i < 5; i++ {
		token, err := generateToken()
		if err != nil {
			return "", err
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO user_tokens (token, player_id, name, pin, created_at, expires_at) VALUES (?, ?, ?, ?, ?, ?)`,
			token, player.ID, player.Name, player.PIN, now, expiresAt,
		)
		if err == nil {
			s.cacheToken(ctx, token, player, s.tokenTTL)
			return token, nil
		}
	}
	return "", errors.New("could not issue token")
}

// ValidateToken verifies the token exists and has not expired, returning its player.
func (s *Service) ValidateToken(ctx context.Context, authToken string) (*models.Player, error) {
	if authToken == "" {
		return nil, ErrInvalidToken
	}
	if p := s.cachedToken(ctx, authToken); p != nil {
		return p, nil
	}

	var (
		p       models.Player
		expires time.Time
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT player_id, name, pin, expires_at FROM user_tokens WHERE token = ?`, authToken,
	).Scan(&p.ID, &p.Name, &p.PIN, &expires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("lookup token: %w", err)
	}
	remaining := time.Until(expires)
	if remaining <= 0 {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM user_tokens WHERE token = ?`, authToken)
		return nil, ErrTokenExpired
	}
	s.cacheToken(ctx, authToken, &p, remaining)
	return &p, nil
}

// RevokeToken deletes a single token.
func (s *Service) RevokeToken(ctx context.Context, authToken string) error {
	if authToken == "" {
		return nil
	}
	if s.cache != nil {
		if err := s.cache.Del(ctx, redisTokenPrefix+authToken); err != nil {
			logging.L().Warn("redis token delete failed", zap.Error(err))
		}
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_tokens WHERE token = ?`, authToken); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// PurgeExpired removes expired tokens and reports how many were deleted.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM user_tokens WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purge tokens: %w", err)
	}
	return res.RowsAffected()
}

// TokenTTL reports the configured token lifetime.
func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}

func (s *Service) cacheToken(ctx context.Context, token string, p *models.Player, ttl time.Duration) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetJSON(ctx, redisTokenPrefix+token, p, ttl); err != nil {
		logging.L().Warn("redis token cache failed", zap.Error(err))
	}
}

func (s *Service) cachedToken(ctx context.Context, token string) *models.Player {
	if s.cache == nil {
		return nil
	}
	var p models.Player
	if err := s.cache.GetJSON(ctx, redisTokenPrefix+token, &p); err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			logging.L().Warn("redis token lookup failed", zap.Error(err))
		}
		return nil
	}
	return &p
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func validPIN(pin string) bool {
	if len(pin) != 6 {
		return false
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
