package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	apperrors "sheetledger/internal/errors"
	"sheetledger/internal/ledger"
)

type applicationModel struct {
	ID   int64 `gorm:"primaryKey;autoIncrement:false"`
	Name string
}

func (applicationModel) TableName() string { return "applications" }

// ApplicationDirectory reads the marketplace application table
type ApplicationDirectory struct {
	db *gorm.DB
}

var _ ledger.Directory = (*ApplicationDirectory)(nil)

// NewApplicationDirectory creates the directory
func NewApplicationDirectory(db *DB) *ApplicationDirectory {
	return &ApplicationDirectory{db: db.DB}
}

func (d *ApplicationDirectory) ApplicationByID(ctx context.Context, id int64) (ledger.Application, error) {
	return d.find(ctx, "id = ?", id)
}

func (d *ApplicationDirectory) ApplicationByName(ctx context.Context, name string) (ledger.Application, error) {
	return d.find(ctx, "name = ?", name)
}

func (d *ApplicationDirectory) find(ctx context.Context, query string, arg interface{}) (ledger.Application, error) {
	var m applicationModel
	err := d.db.WithContext(ctx).Where(query, arg).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Application{}, apperrors.NotFound("store.applications", "application")
	}
	if err != nil {
		return ledger.Application{}, fmt.Errorf("select application: %w", err)
	}
	return ledger.Application{ID: m.ID, Name: m.Name}, nil
}

// RegisterApplication inserts or renames an application. The marketplace owns
// this table; the worker only writes it from tests and local seeding.
func (d *ApplicationDirectory) RegisterApplication(ctx context.Context, app ledger.Application) error {
	m := applicationModel{ID: app.ID, Name: app.Name}
	if err := d.db.WithContext(ctx).Save(&m).Error; err != nil {
		return fmt.Errorf("save application: %w", err)
	}
	return nil
}
