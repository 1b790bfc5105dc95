// Package state memoizes file checksums in an embedded badger database so
// unchanged files are not re-hashed on every status or commit.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// Options configures the memo database.
type Options struct {
	// Dir holds the database files. Ignored when InMemory is true.
	Dir string
	// InMemory keeps the database in memory. Used by tests.
	InMemory bool
	// Logger receives badger's internal logs. nil silences them.
	Logger *slog.Logger
}

// State is a checksum memo keyed by absolute path and invalidated by file
// size and modification time.
type State struct {
	db *badger.DB
}

type record struct {
	Size    int64  `json:"size"`
	ModTime int64  `json:"mtime"`
	MD5     string `json:"md5"`
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens or creates the memo database.
func Open(opts Options) (*State, error) {
	var bo badger.Options
	if opts.InMemory {
		bo = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Dir == "" {
			return nil, errors.New("state directory is required")
		}
		if err := os.MkdirAll(opts.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating state directory %s: %w", opts.Dir, err)
		}
		bo = badger.DefaultOptions(opts.Dir)
	}
	bo = bo.WithNumVersionsToKeep(1)
	if opts.Logger != nil {
		bo = bo.WithLogger(&badgerLogger{logger: opts.Logger})
	} else {
		bo = bo.WithLogger(nil)
	}

	db, err := badger.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}
	return &State{db: db}, nil
}

// Close releases the database.
func (s *State) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	db := s.db
	s.db = nil
	return db.Close()
}

func key(path string) []byte { return []byte("md5:" + path) }

// Get returns the memoized checksum of path when the stored size and
// modification time still match info.
func (s *State) Get(path string, info os.FileInfo) (string, bool) {
	if s == nil || s.db == nil || info == nil {
		return "", false
	}
	var rec record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(path))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return "", false
	}
	if rec.Size != info.Size() || rec.ModTime != info.ModTime().UnixNano() {
		return "", false
	}
	return rec.MD5, true
}

// Set memoizes the checksum of path for the given file info.
func (s *State) Set(path string, info os.FileInfo, checksum string) error {
	if s == nil || s.db == nil || info == nil {
		return nil
	}
	val, err := json.Marshal(record{Size: info.Size(), ModTime: info.ModTime().UnixNano(), MD5: checksum})
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(path), val)
	})
}

// Forget drops the memoized checksum of path.
func (s *State) Forget(path string) error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(path))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}
