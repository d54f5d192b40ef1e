// Package badger provides an embedded key-value repository backend on
// BadgerDB.
//
// Keys:
//
//	p\x00<user>            profile document (JSON, carries its version)
//	l\x00<user>\x00<tag>   tag log document (JSON)
//
// Commit runs in a single Badger transaction. Badger's optimistic
// concurrency aborts a transaction whose reads were overwritten by a
// concurrent commit; that abort is reported as storage.ErrVersionConflict.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	dgbadger "github.com/dgraph-io/badger/v4"

	"github.com/oceanbase/tagprofile-go/pkg/storage"
	"github.com/oceanbase/tagprofile-go/pkg/tag"
)

const sep = "\x00"

// Config contains configuration for a Badger repository.
type Config struct {
	// Path is the database directory. Required unless InMemory is set.
	Path string

	// InMemory keeps all data in memory; useful for tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool
}

// Client is a storage.Repository backed by BadgerDB.
type Client struct {
	db     *dgbadger.DB
	logger *slog.Logger
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
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

// NewClient opens the database.
func NewClient(cfg *Config, logger *slog.Logger) (*Client, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("NewBadgerClient: path is required for persistent database")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var opts dgbadger.Options
	if cfg.InMemory {
		opts = dgbadger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("NewBadgerClient: create directory %s: %w", cfg.Path, err)
		}
		opts = dgbadger.DefaultOptions(cfg.Path)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{logger: logger.With(slog.String("component", "badger"))})

	db, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("NewBadgerClient: %w", err)
	}
	return &Client{db: db, logger: logger.With(slog.String("backend", "badger"))}, nil
}

func profileKey(userID string) []byte {
	return []byte("p" + sep + userID)
}

func logPrefix(userID string) []byte {
	return []byte("l" + sep + userID + sep)
}

func logKey(userID, tagName string) []byte {
	return append(logPrefix(userID), tagName...)
}

// LoadProfile returns the stored profile of userID.
func (c *Client) LoadProfile(ctx context.Context, userID string) (*tag.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var p *tag.Profile
	err := c.db.View(func(txn *dgbadger.Txn) error {
		item, err := txn.Get(profileKey(userID))
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}
		data, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		p, err = storage.DecodeProfile(data)
		return err
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("LoadProfile: %w", err)
	}
	return p, nil
}

// LoadTagLog returns the logs of one tag, empty when none are stored.
func (c *Client) LoadTagLog(ctx context.Context, userID, tagName string) (*tag.TagLog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l := tag.NewTagLog(tagName)
	err := c.db.View(func(txn *dgbadger.Txn) error {
		item, err := txn.Get(logKey(userID, tagName))
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		data, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		l = c.decodeLog(userID, tagName, data)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("LoadTagLog: %w", err)
	}
	return l, nil
}

// ListTagLogs returns every tag log of userID ordered by tag name.
func (c *Client) ListTagLogs(ctx context.Context, userID string) ([]*tag.TagLog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := logPrefix(userID)
	var out []*tag.TagLog
	err := c.db.View(func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			name := string(item.KeyCopy(nil)[len(prefix):])
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, c.decodeLog(userID, name, data))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ListTagLogs: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TagName < out[j].TagName })
	return out, nil
}

func (c *Client) decodeLog(userID, tagName string, data []byte) *tag.TagLog {
	l, err := storage.DecodeTagLog(tagName, data)
	if err != nil {
		c.logger.Warn("tag log degraded to empty",
			slog.String("user_id", userID),
			slog.String("tag", tagName),
			slog.Any("error", err))
	}
	return l
}

// Commit writes the profile and tag logs in one transaction.
func (c *Client) Commit(ctx context.Context, cm *storage.Commit) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := c.db.Update(func(txn *dgbadger.Txn) error {
		if cm.Profile != nil {
			if err := c.writeProfile(txn, cm); err != nil {
				return err
			}
		}
		for _, l := range cm.TagLogs {
			data, err := storage.EncodeTagLog(l)
			if err != nil {
				return fmt.Errorf("encode log %q: %w", l.TagName, err)
			}
			if err := txn.Set(logKey(cm.UserID, l.TagName), data); err != nil {
				return fmt.Errorf("write log %q: %w", l.TagName, err)
			}
		}
		return nil
	})
	switch {
	case err == nil:
		if cm.Profile != nil {
			cm.Profile.Version = cm.ExpectedVersion + 1
		}
		return nil
	case errors.Is(err, storage.ErrVersionConflict), errors.Is(err, dgbadger.ErrConflict):
		return storage.ErrVersionConflict
	default:
		return fmt.Errorf("Commit: %w", err)
	}
}

func (c *Client) writeProfile(txn *dgbadger.Txn, cm *storage.Commit) error {
	key := profileKey(cm.UserID)

	var current int64
	item, err := txn.Get(key)
	switch {
	case errors.Is(err, dgbadger.ErrKeyNotFound):
	case err != nil:
		return err
	default:
		data, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		stored, err := storage.DecodeProfile(data)
		if err != nil {
			return fmt.Errorf("decode stored profile: %w", err)
		}
		current = stored.Version
	}
	if current != cm.ExpectedVersion {
		return storage.ErrVersionConflict
	}

	snapshot := *cm.Profile
	snapshot.Version = cm.ExpectedVersion + 1
	data, err := storage.EncodeProfile(&snapshot)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	return txn.Set(key, data)
}

// DeleteUser removes the profile and all tag logs of userID.
func (c *Client) DeleteUser(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prefix := logPrefix(userID)
	err := c.db.Update(func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		err := txn.Delete(profileKey(userID))
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("DeleteUser: %w", err)
	}
	return nil
}

// DB returns the underlying Badger database.
func (c *Client) DB() *dgbadger.DB { return c.db }

// Close closes the database.
func (c *Client) Close() error {
	return c.db.Close()
}

var _ storage.Repository = (*Client)(nil)
