package storage

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
)

const backupSuffix = ".backup"

// AtomicWriter writes whole files via a temp file and rename, optionally
// keeping timestamped copies of the previous content
type AtomicWriter struct {
	mu         sync.Mutex
	fs         afero.Fs
	backupDir  string
	maxBackups int
	now        func() time.Time
}

// NewAtomicWriter creates a writer on fs. An empty backupDir disables backups.
func NewAtomicWriter(fs afero.Fs, backupDir string, maxBackups int) *AtomicWriter {
	return &AtomicWriter{
		fs:         fs,
		backupDir:  backupDir,
		maxBackups: maxBackups,
		now:        time.Now,
	}
}

// WriteFile replaces filename with data. Readers see either the old or the
// new content, never a partial write.
func (w *AtomicWriter) WriteFile(filename string, data []byte, perm os.FileMode) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.fs.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := w.createBackup(filename); err != nil {
		return fmt.Errorf("failed to create backup: %w", err)
	}

	tempFile := filename + ".tmp." + w.tempSuffix()
	if err := afero.WriteFile(w.fs, tempFile, data, perm); err != nil {
		w.fs.Remove(tempFile)
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := w.verifyFileIntegrity(tempFile, data); err != nil {
		w.fs.Remove(tempFile)
		return err
	}

	if err := w.fs.Rename(tempFile, filename); err != nil {
		w.fs.Remove(tempFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// ReadFile reads filename. A missing file reports os.ErrNotExist.
func (w *AtomicWriter) ReadFile(filename string) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return afero.ReadFile(w.fs, filename)
}

// Backups lists the backups of filename, newest first
func (w *AtomicWriter) Backups(filename string) ([]string, error) {
	if w.backupDir == "" {
		return nil, nil
	}
	entries, err := afero.ReadDir(w.fs, w.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	prefix := filepath.Base(filename) + "."
	var backups []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, backupSuffix) {
			continue
		}
		backups = append(backups, filepath.Join(w.backupDir, name))
	}
	// the timestamp format sorts lexically
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))
	return backups, nil
}

func (w *AtomicWriter) createBackup(filename string) error {
	if w.backupDir == "" {
		return nil
	}

	data, err := afero.ReadFile(w.fs, filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if err := w.fs.MkdirAll(w.backupDir, 0o755); err != nil {
		return err
	}

	timestamp := w.now().UTC().Format("20060102-150405.000000000")
	backupPath := filepath.Join(w.backupDir,
		fmt.Sprintf("%s.%s%s", filepath.Base(filename), timestamp, backupSuffix))
	if err := afero.WriteFile(w.fs, backupPath, data, 0o644); err != nil {
		return err
	}

	return w.pruneBackups(filename)
}

func (w *AtomicWriter) pruneBackups(filename string) error {
	if w.maxBackups <= 0 {
		return nil
	}
	backups, err := w.Backups(filename)
	if err != nil {
		return err
	}
	for i := w.maxBackups; i < len(backups); i++ {
		if err := w.fs.Remove(backups[i]); err != nil {
			return fmt.Errorf("failed to remove backup %s: %w", backups[i], err)
		}
	}
	return nil
}

func (w *AtomicWriter) verifyFileIntegrity(filename string, expected []byte) error {
	actual, err := afero.ReadFile(w.fs, filename)
	if err != nil {
		return err
	}
	if !bytes.Equal(hashOf(expected), hashOf(actual)) {
		return fmt.Errorf("file integrity check failed: hash mismatch")
	}
	return nil
}

func (w *AtomicWriter) tempSuffix() string {
	return hex.EncodeToString(hashOf([]byte(fmt.Sprintf("%d", w.now().UnixNano())))[:4])
}

func hashOf(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}
