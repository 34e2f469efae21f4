package badger

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docquery/core"
	"github.com/poiesic/docquery/storage"
)

// RunRepository implements storage.RunRepository for BadgerDB.
type RunRepository struct {
	backend *Backend
}

var _ storage.RunRepository = (*RunRepository)(nil)

// NewRunRepository creates a new RunRepository.
func NewRunRepository(backend *Backend) (*RunRepository, error) {
	return &RunRepository{backend: backend}, nil
}

// Close releases repository resources.
func (r *RunRepository) Close() error {
	return nil
}

// WithTransaction delegates to the backend.
func (r *RunRepository) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.backend.WithTransaction(ctx, fn)
}

// AddRun stores a new run.
func (r *RunRepository) AddRun(ctx context.Context, run *core.Run) (*core.Run, error) {
	err := r.backend.WithTx(ctx, func(tx *badger.Txn) error {
		run.CreatedAt = time.Now().UTC()
		run.UpdatedAt = run.CreatedAt

		if err := tx.Set(makeRunKey(run.Id), storage.MarshalRun(run)); err != nil {
			return err
		}
		ownerKey := makeRunOwnerKey(run.OwnerSub, run.CreatedAt.UnixMicro(), run.Id)
		if err := tx.Set(ownerKey, []byte(run.Id)); err != nil {
			return err
		}
		return nil
	}, true)

	if err != nil {
		return nil, err
	}
	return run, nil
}

// UpdateRun updates an existing run.
func (r *RunRepository) UpdateRun(ctx context.Context, run *core.Run) (*core.Run, error) {
	err := r.backend.WithTx(ctx, func(tx *badger.Txn) error {
		key := makeRunKey(run.Id)
		old, err := r.readRun(tx, key)
		if err != nil {
			return err
		}
		if old == nil {
			return storage.ErrNotFound
		}

		run.CreatedAt = old.CreatedAt
		run.UpdatedAt = time.Now().UTC()

		if err := tx.Set(key, storage.MarshalRun(run)); err != nil {
			return err
		}
		return nil
	}, true)

	if err != nil {
		return nil, err
	}
	return run, nil
}

// DeleteRun removes a run and its owner index entry.
func (r *RunRepository) DeleteRun(ctx context.Context, id string) error {
	return r.backend.WithTx(ctx, func(tx *badger.Txn) error {
		key := makeRunKey(id)
		run, err := r.readRun(tx, key)
		if err != nil {
			return err
		}
		if run == nil {
			return storage.ErrNotFound
		}

		if err := tx.Delete(key); err != nil {
			return err
		}
		ownerKey := makeRunOwnerKey(run.OwnerSub, run.CreatedAt.UnixMicro(), run.Id)
		if err := tx.Delete(ownerKey); err != nil {
			return err
		}
		return nil
	}, true)
}

// GetRun retrieves a single run by ID.
func (r *RunRepository) GetRun(ctx context.Context, id string) (*core.Run, error) {
	var run *core.Run
	err := r.backend.WithTx(ctx, func(tx *badger.Txn) error {
		var err error
		run, err = r.readRun(tx, makeRunKey(id))
		return err
	}, false)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, storage.ErrNotFound
	}
	return run, nil
}

// ListByOwner returns all runs belonging to an owner in creation order.
func (r *RunRepository) ListByOwner(ctx context.Context, ownerSub string) ([]*core.Run, error) {
	var runs []*core.Run
	err := r.backend.WithTx(ctx, func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePartialRunOwnerKey(ownerSub)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var id string
			if err := iter.Item().Value(func(val []byte) error {
				id = string(val)
				return nil
			}); err != nil {
				return err
			}
			run, err := r.readRun(tx, makeRunKey(id))
			if err != nil {
				return err
			}
			if run != nil {
				runs = append(runs, run)
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// readRun reads and unmarshals a run, returning nil if absent.
func (r *RunRepository) readRun(tx *badger.Txn, key []byte) (*core.Run, error) {
	item, err := tx.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var run *core.Run
	err = item.Value(func(val []byte) error {
		var err error
		run, err = storage.UnmarshalRun(val)
		return err
	})
	return run, err
}
