package pps

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/boltdb/bolt"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// BoltHashCache is a SourceManager middleware that persists artifact
// hashes in a BoltDB file across runs. Hash sets for a released artifact
// never change, so cached values are served until they age out below the
// configured epoch.
//
// Layout: one top-level bucket per package, "pkg:<name>", holding
// timestamped keys "hashes:<version>:<timestamp>" with comma-joined hash
// values.
type BoltHashCache struct {
	delegate SourceManager
	db       *bolt.DB
	epoch    int64 // values timestamped before this are treated as misses
	log      *logrus.Logger

	closeOnce sync.Once
}

var _ SourceManager = (*BoltHashCache)(nil)

// NewBoltHashCache opens (creating if needed) the cache file at path.
func NewBoltHashCache(path string, delegate SourceManager, epoch int64, logger *logrus.Logger) (*BoltHashCache, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, os.ModeDir|os.ModePerm); err != nil {
		return nil, errors.Wrapf(err, "failed to create hash cache directory: %s", dir)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open hash cache %s", path)
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.PanicLevel)
	}
	return &BoltHashCache{
		delegate: delegate,
		db:       db,
		epoch:    epoch,
		log:      logger,
	}, nil
}

// Close releases the database. Must not be called concurrently with any
// other method.
func (c *BoltHashCache) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = errors.Wrapf(c.db.Close(), "error closing hash cache %q", c.db.String())
	})
	return err
}

func (c *BoltHashCache) ListVersions(ctx context.Context, name string) ([]Version, error) {
	return c.delegate.ListVersions(ctx, name)
}

func (c *BoltHashCache) GetDependencies(ctx context.Context, name string, v Version) ([]Requirement, error) {
	return c.delegate.GetDependencies(ctx, name, v)
}

func (c *BoltHashCache) Hashes(ctx context.Context, name string, v Version) ([]string, error) {
	name = CanonicalName(name)
	if hashes, ok := c.cachedHashes(name, v); ok {
		return hashes, nil
	}

	hashes, err := c.delegate.Hashes(ctx, name, v)
	if err != nil {
		return nil, err
	}
	if err := c.putHashes(name, v, hashes); err != nil {
		// A write failure degrades to uncached operation.
		c.log.WithError(err).WithFields(logrus.Fields{
			"name":    name,
			"version": v.String(),
		}).Warn("failed to cache hashes")
	}
	return hashes, nil
}

func (c *BoltHashCache) cachedHashes(name string, v Version) (hashes []string, ok bool) {
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte("pkg:" + name))
		if b == nil {
			return nil
		}
		val := findLatestValid(b, "hashes:"+v.String()+":", c.epoch)
		if val == nil {
			return nil
		}
		hashes = splitJoined(string(val))
		ok = true
		return nil
	})
	if err != nil {
		c.log.WithError(err).Warn("hash cache read failed")
		return nil, false
	}
	return hashes, ok
}

func (c *BoltHashCache) putHashes(name string, v Version, hashes []string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte("pkg:" + name))
		if err != nil {
			return err
		}
		pre := "hashes:" + v.String() + ":"
		if err := prefixDelete(b, pre); err != nil {
			return err
		}
		return b.Put(timestampedKey(pre, time.Now()), []byte(strings.Join(hashes, ",")))
	})
}

// timestampedKey returns a prefixed key with a trailing big-endian
// timestamp, so a prefix cursor scan yields entries oldest first.
func timestampedKey(pre string, t time.Time) []byte {
	b := make([]byte, len(pre)+8)
	copy(b, pre)
	binary.BigEndian.PutUint64(b[len(pre):], uint64(t.Unix()))
	return b
}

// prefixDelete removes every key under the prefix.
func prefixDelete(b *bolt.Bucket, pre string) error {
	c := b.Cursor()
	p := []byte(pre)
	for k, _ := c.Seek(p); bytes.HasPrefix(k, p); k, _ = c.Next() {
		if err := b.Delete(k); err != nil {
			return errors.Wrapf(err, "failed to delete key: %s", k)
		}
	}
	return nil
}

// findLatestValid prefix-scans for the newest value timestamped at or
// after epoch, or nil if none qualifies.
func findLatestValid(b *bolt.Bucket, pre string, epoch int64) []byte {
	c := b.Cursor()
	p := []byte(pre)
	var latestKey, latestVal []byte
	for k, v := c.Seek(p); bytes.HasPrefix(k, p); k, v = c.Next() {
		latestKey, latestVal = k, v
	}
	if latestKey == nil {
		return nil
	}
	ts := bytes.TrimPrefix(latestKey, p)
	if len(ts) != 8 || int64(binary.BigEndian.Uint64(ts)) < epoch {
		return nil
	}
	return latestVal
}

// splitJoined is strings.Split that maps the empty joined form back to
// nil instead of a single empty element.
func splitJoined(s string) []string {
	r := strings.Split(s, ",")
	if len(r) == 1 && r[0] == "" {
		return nil
	}
	return r
}
