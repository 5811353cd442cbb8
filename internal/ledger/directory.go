package ledger

import (
	"context"
	"sync"

	apperrors "sheetledger/internal/errors"
)

// Application is a marketplace application
type Application struct {
	ID   int64
	Name string
}

// Directory resolves applications. Lookups of unknown applications return an
// error matching errors.ErrNotFound.
type Directory interface {
	ApplicationByID(ctx context.Context, id int64) (Application, error)
	ApplicationByName(ctx context.Context, name string) (Application, error)
}

// StaticDirectory is an in-memory Directory
type StaticDirectory struct {
	mu   sync.RWMutex
	apps map[int64]Application
}

// NewStaticDirectory creates a directory holding apps
func NewStaticDirectory(apps ...Application) *StaticDirectory {
	d := &StaticDirectory{apps: make(map[int64]Application, len(apps))}
	for _, a := range apps {
		d.apps[a.ID] = a
	}
	return d
}

// Add registers or renames an application
func (d *StaticDirectory) Add(app Application) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.apps[app.ID] = app
}

func (d *StaticDirectory) ApplicationByID(ctx context.Context, id int64) (Application, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.apps[id]
	if !ok {
		return Application{}, apperrors.NotFound("ledger.directory", "application").WithContext("application_id", id)
	}
	return a, nil
}

func (d *StaticDirectory) ApplicationByName(ctx context.Context, name string) (Application, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, a := range d.apps {
		if a.Name == name {
			return a, nil
		}
	}
	return Application{}, apperrors.NotFound("ledger.directory", "application").WithContext("application_name", name)
}
