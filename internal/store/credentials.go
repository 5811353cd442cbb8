package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"sheetledger/internal/credentials"
	apperrors "sheetledger/internal/errors"
	"sheetledger/internal/security"
)

type credentialModel struct {
	UserID       int64 `gorm:"primaryKey;autoIncrement:false"`
	Email        string
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	Expiry       time.Time
	UpdatedAt    time.Time `gorm:"autoUpdateTime:false"`
}

func (credentialModel) TableName() string { return "credentials" }

// CredentialRepository stores credentials with tokens sealed by a
// TokenCipher.
type CredentialRepository struct {
	db     *gorm.DB
	cipher *security.TokenCipher
}

var _ credentials.CredentialStore = (*CredentialRepository)(nil)

// NewCredentialRepository creates the repository
func NewCredentialRepository(db *DB, cipher *security.TokenCipher) *CredentialRepository {
	return &CredentialRepository{db: db.DB, cipher: cipher}
}

func (r *CredentialRepository) Get(ctx context.Context, userID int64) (credentials.Credential, error) {
	var m credentialModel
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return credentials.Credential{}, apperrors.NotFound("store.credentials.get", "credential")
	}
	if err != nil {
		return credentials.Credential{}, fmt.Errorf("select credential: %w", err)
	}

	access, err := r.cipher.Open(m.AccessToken)
	if err != nil {
		return credentials.Credential{}, fmt.Errorf("open access token: %w", err)
	}
	refresh, err := r.cipher.Open(m.RefreshToken)
	if err != nil {
		return credentials.Credential{}, fmt.Errorf("open refresh token: %w", err)
	}

	return credentials.Credential{
		UserID:       m.UserID,
		Email:        m.Email,
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    m.TokenType,
		Scope:        m.Scope,
		Expiry:       m.Expiry.UTC(),
		UpdatedAt:    m.UpdatedAt.UTC(),
	}, nil
}

func (r *CredentialRepository) Upsert(ctx context.Context, cred credentials.Credential) error {
	access, err := r.cipher.Seal(cred.AccessToken)
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	refresh, err := r.cipher.Seal(cred.RefreshToken)
	if err != nil {
		return fmt.Errorf("seal refresh token: %w", err)
	}

	m := credentialModel{
		UserID:       cred.UserID,
		Email:        cred.Email,
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    cred.TokenType,
		Scope:        cred.Scope,
		Expiry:       cred.Expiry.UTC(),
		UpdatedAt:    cred.UpdatedAt.UTC(),
	}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "access_token", "refresh_token", "token_type", "scope", "expiry", "updated_at"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

func (r *CredentialRepository) Delete(ctx context.Context, userID int64) error {
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&credentialModel{}).Error; err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}
