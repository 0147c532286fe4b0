// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"perun.network/provenance-backend/ledger"
)

// File keeps the snapshot in a JSON file. Writes go to a temporary file
// that replaces the snapshot atomically.
type File struct {
	path string
}

// NewFile returns a store for the file at path. The file is created on the
// first save.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the location of the snapshot file.
func (f *File) Path() string { return f.path }

func (f *File) LoadSnapshot(context.Context) (ledger.Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return ledger.Snapshot{}, nil
	} else if err != nil {
		return ledger.Snapshot{}, errors.WithMessage(err, "reading snapshot")
	}
	return decode(data)
}

func (f *File) SaveSnapshot(_ context.Context, s ledger.Snapshot) error {
	data, err := encode(s)
	if err != nil {
		return err
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.WithMessage(err, "creating snapshot directory")
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return errors.WithMessage(err, "creating temporary snapshot")
	}
	defer os.Remove(tmp.Name()) // no-op after the rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.WithMessage(err, "writing snapshot")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.WithMessage(err, "syncing snapshot")
	}
	if err := tmp.Close(); err != nil {
		return errors.WithMessage(err, "closing snapshot")
	}
	return errors.WithMessage(os.Rename(tmp.Name(), f.path), "replacing snapshot")
}
