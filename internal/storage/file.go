package storage

import (
	"context"
	"os"

	"github.com/spf13/afero"

	"github.com/yairfalse/permitwatch/pkg/types"
)

const maxFileBackups = 5

// FileStore keeps the document in a single JSON file
type FileStore struct {
	path   string
	writer *AtomicWriter
}

// NewFileStore creates a store at path on fs. With backup set, the last few
// documents are kept under a hidden directory next to the file.
func NewFileStore(fs afero.Fs, path string, backup bool) *FileStore {
	backupDir := ""
	if backup {
		backupDir = backupDirFor(path)
	}
	return &FileStore{
		path:   path,
		writer: NewAtomicWriter(fs, backupDir, maxFileBackups),
	}
}

func (s *FileStore) Load(ctx context.Context) (types.Store, error) {
	data, err := s.writer.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeStore(data)
}

func (s *FileStore) Save(ctx context.Context, store types.Store) error {
	data, err := encodeStore(store)
	if err != nil {
		return err
	}
	return s.writer.WriteFile(s.path, data, 0o644)
}

// Backups lists saved copies of previous documents, newest first
func (s *FileStore) Backups() ([]string, error) {
	return s.writer.Backups(s.path)
}

func (s *FileStore) Location() string {
	return s.path
}

func (s *FileStore) Close() error {
	return nil
}
