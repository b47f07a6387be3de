package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/benbjohnson/clock"
	"gorm.io/gorm"

	"github.com/eleven-am/voice-relay/internal/shared"
)

const (
	secretPrefix = "sk-relay-"
	prefixLen    = len(secretPrefix) + 8
)

var (
	ErrInvalidScope = errors.New("invalid scope")
	ErrExpired      = errors.New("api key expired")
)

type Store struct {
	db     *gorm.DB
	clock  clock.Clock
	logger *slog.Logger
}

func NewStore(db *gorm.DB, clk clock.Clock, logger *slog.Logger) *Store {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, clock: clk, logger: logger.With("component", "apikey")}
}

func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&APIKey{})
}

// Create stores the key and returns its secret. The secret is only ever
// available here; the store keeps a hash.
func (s *Store) Create(ctx context.Context, key *APIKey) (string, error) {
	if key.ID == "" {
		key.ID = shared.NewID("key_")
	}
	scopes, err := shared.ParseScopes(key.Scopes)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidScope, err)
	}
	key.Scopes = scopes

	secret, err := newSecret()
	if err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	key.Prefix = secret[:prefixLen]
	key.SecretHash = hashSecret(secret)

	if err := s.db.WithContext(ctx).Create(key).Error; err != nil {
		return "", err
	}
	return secret, nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*APIKey, error) {
	var key APIKey
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (s *Store) List(ctx context.Context) ([]*APIKey, error) {
	var keys []*APIKey
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&keys).Error
	return keys, err
}

// Validate resolves a presented secret to its key. Unknown secrets and hash
// mismatches both report ErrNotFound.
func (s *Store) Validate(ctx context.Context, secret string) (*APIKey, error) {
	if len(secret) <= prefixLen {
		return nil, shared.ErrNotFound
	}

	var key APIKey
	err := s.db.WithContext(ctx).Where("prefix = ?", secret[:prefixLen]).First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if subtle.ConstantTimeCompare([]byte(key.SecretHash), []byte(hashSecret(secret))) != 1 {
		return nil, shared.ErrNotFound
	}

	now := s.clock.Now()
	if key.ExpiredAt(now) {
		return nil, ErrExpired
	}

	if err := s.db.WithContext(ctx).Model(&APIKey{}).Where("id = ?", key.ID).Update("last_used_at", now).Error; err != nil {
		s.logger.Warn("failed to record key use", "key_id", key.ID, "error", err)
	} else {
		key.LastUsedAt = &now
	}
	return &key, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Delete(&APIKey{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func newSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return secretPrefix + hex.EncodeToString(b), nil
}

func hashSecret(secret string) string {
	h := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(h[:])
}
