package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	perrors "github.com/yairfalse/permitwatch/internal/errors"
	"github.com/yairfalse/permitwatch/internal/logger"
	"github.com/yairfalse/permitwatch/pkg/types"
)

// ErrNotFound is returned by Load when no document has been saved yet
var ErrNotFound = errors.New("snapshot document not found")

// ErrCorrupt is returned by Load when the saved document cannot be parsed
var ErrCorrupt = errors.New("snapshot document is corrupt")

// Store persists the snapshot document. There is a single writer: the runner.
type Store interface {
	// Load returns the saved document, or ErrNotFound
	Load(ctx context.Context) (types.Store, error)
	// Save replaces the whole document
	Save(ctx context.Context, store types.Store) error
	// Location describes where the document lives, for logs
	Location() string
	Close() error
}

// Options tune how Open builds a backend
type Options struct {
	// Fs backs file locations; defaults to the OS filesystem
	Fs afero.Fs
	// Backup keeps copies of previous documents where the backend supports it
	Backup bool
	Log    logger.Logger
}

// Backend schemes accepted by Open
const (
	SchemeFile   = "file"
	SchemeS3     = "s3"
	SchemeGCS    = "gs"
	SchemeAzure  = "azblob"
	SchemeSQLite = "sqlite"
)

// Location is a parsed store URL
type Location struct {
	Scheme string
	// Host is the bucket or storage account
	Host string
	// Path is the object key, container/blob, or filesystem path
	Path  string
	Query url.Values
}

// ParseLocation splits a store URL into backend and location parts. Strings
// without a scheme are filesystem paths.
func ParseLocation(raw string) (Location, error) {
	if raw == "" {
		return Location{}, fmt.Errorf("empty storage location")
	}
	if !strings.Contains(raw, "://") {
		return Location{Scheme: SchemeFile, Path: raw}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("invalid storage URL: %w", err)
	}

	loc := Location{Scheme: u.Scheme, Host: u.Host, Query: u.Query()}
	switch u.Scheme {
	case SchemeFile, SchemeSQLite:
		// file:///abs/path, file://relative/path
		loc.Path = u.Host + u.Path
		loc.Host = ""
		if loc.Path == "" {
			return Location{}, fmt.Errorf("%s URL needs a path", u.Scheme)
		}

	case SchemeS3, SchemeGCS:
		// s3://bucket/path/to/permitAvail.json
		loc.Path = strings.TrimPrefix(u.Path, "/")
		if loc.Host == "" || loc.Path == "" {
			return Location{}, fmt.Errorf("%s URL needs a bucket and an object key", u.Scheme)
		}

	case SchemeAzure:
		// azblob://account/container/permitAvail.json
		loc.Path = strings.TrimPrefix(u.Path, "/")
		parts := strings.SplitN(loc.Path, "/", 2)
		if loc.Host == "" || len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return Location{}, fmt.Errorf("azblob URL needs an account, a container and a blob name")
		}

	default:
		return Location{}, fmt.Errorf("unsupported storage scheme: %s", u.Scheme)
	}
	return loc, nil
}

// Open builds the store backend for rawURL
func Open(ctx context.Context, rawURL string, opts Options) (Store, error) {
	loc, err := ParseLocation(rawURL)
	if err != nil {
		return nil, perrors.ConfigError(err.Error(),
			"Use a file path or a s3://, gs://, azblob:// or sqlite:// URL for storage.url")
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Log == nil {
		opts.Log = logger.NewNop()
	}

	var store Store
	switch loc.Scheme {
	case SchemeFile:
		store = NewFileStore(opts.Fs, loc.Path, opts.Backup)
	case SchemeS3:
		store, err = NewS3Store(ctx, loc)
	case SchemeGCS:
		store, err = NewGCSStore(ctx, loc)
	case SchemeAzure:
		store, err = NewAzureStore(loc)
	case SchemeSQLite:
		store, err = NewSQLiteStore(ctx, loc.Path)
	}
	if err != nil {
		return nil, perrors.PersistenceError(rawURL, err)
	}

	opts.Log.WithField("location", store.Location()).Debug("opened snapshot store")
	return store, nil
}

// LoadOrEmpty loads the saved document. A missing or corrupt document yields
// an empty store so the next cycle re-establishes the baseline silently. Any
// other failure is returned so the caller can try again later.
func LoadOrEmpty(ctx context.Context, store Store, log logger.Logger) (types.Store, error) {
	loaded, err := store.Load(ctx)
	switch {
	case err == nil:
		log.WithFields(map[string]interface{}{
			"location": store.Location(),
			"permits":  len(loaded),
		}).Info("loaded previous availability")
		return loaded, nil
	case errors.Is(err, ErrNotFound):
		log.WithField("location", store.Location()).Info("no previous availability found, starting fresh")
	case errors.Is(err, ErrCorrupt):
		log.WithField("location", store.Location()).Error("previous availability is unreadable, starting fresh", err)
	default:
		return nil, err
	}
	return types.Store{}, nil
}

// encodeStore renders the persisted document
func encodeStore(store types.Store) ([]byte, error) {
	if store == nil {
		store = types.Store{}
	}
	data, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot document: %w", err)
	}
	return append(data, '\n'), nil
}

// decodeStore parses a persisted document
func decodeStore(data []byte) (types.Store, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: document is empty", ErrCorrupt)
	}
	store := types.Store{}
	if err := json.Unmarshal(data, &store); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return store, nil
}

func backupDirFor(path string) string {
	return filepath.Join(filepath.Dir(path), ".permitwatch-backups")
}
