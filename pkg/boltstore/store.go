// Package boltstore keeps an identifier mapping graph in a single bbolt file.
package boltstore

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"git.canoozie.net/riddling/xrefdb/pkg/common"
	"git.canoozie.net/riddling/xrefdb/pkg/model"
)

// FormatVersion identifies the bucket layout written by Store
const FormatVersion = "xrefdb-bolt/1"

var (
	bucketMeta   = []byte("meta")
	bucketInfo   = []byte("info")
	bucketNodes  = []byte("nodes")
	bucketLinks  = []byte("links")
	bucketRLinks = []byte("rlinks")

	schemaKey = []byte(common.SchemaKey)
)

const (
	openTimeout = 1 * time.Second

	errFmtBucketNotFound = "boltstore: bucket '%s' not found"
)

// Store is an identifier mapping graph in a bbolt file.
// While loading, all writes go to one open write transaction; Commit commits
// it, which fsyncs the file, and starts the next one.
type Store struct {
	mu       sync.Mutex
	db       *bolt.DB
	tx       *bolt.Tx // open write transaction while loading
	path     string
	readOnly bool
	closed   bool
	logger   model.Logger
}

// Create removes anything at path and creates an empty store file
func Create(path string, logger model.Logger) (*Store, error) {
	if logger == nil {
		logger = model.DefaultLoggerInstance
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, errors.Wrapf(err, "removing %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, errors.Wrapf(err, "mkdir %s", filepath.Dir(path))
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, errors.Wrapf(err, "open file: %s", path)
	}

	logger.Info("Created bolt store at %s", path)
	return &Store{db: db, path: path, logger: logger}, nil
}

// Open opens an existing store file read-only
func Open(path string, logger model.Logger) (*Store, error) {
	if logger == nil {
		logger = model.DefaultLoggerInstance
	}

	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "stat %s", path)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: openTimeout, ReadOnly: true})
	if err != nil {
		return nil, errors.Wrapf(err, "open file: %s", path)
	}

	s := &Store{db: db, path: path, readOnly: true, logger: logger}

	err = db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if meta == nil {
			return errors.Wrap(model.ErrNotAStore, path)
		}
		if version := meta.Get(schemaKey); string(version) != FormatVersion {
			return errors.Errorf("unsupported store format %q", version)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Path returns the path of the store file
func (s *Store) Path() string {
	return s.path
}

// CreateSchema creates the buckets and stamps the layout version
func (s *Store) CreateSchema() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketMeta, bucketInfo, bucketNodes, bucketLinks, bucketRLinks} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return errors.Wrapf(err, "creating bucket %s", name)
			}
		}
		return tx.Bucket(bucketMeta).Put(schemaKey, []byte(FormatVersion))
	})
}

// BeginLoad opens the first write transaction
func (s *Store) BeginLoad() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.tx != nil {
		return nil
	}

	tx, err := s.db.Begin(true)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if tx.Bucket(bucketMeta) == nil {
		tx.Rollback()
		return errors.New("schema must be created before loading")
	}

	s.tx = tx
	return nil
}

func (s *Store) checkOpen() error {
	if s.closed {
		return model.ErrStoreClosed
	}
	if s.readOnly {
		return model.ErrStoreReadOnly
	}
	return nil
}

// bucket returns a bucket of the open write transaction
func (s *Store) bucket(name []byte) (*bolt.Bucket, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if s.tx == nil {
		return nil, model.ErrStoreNotLoading
	}
	bkt := s.tx.Bucket(name)
	if bkt == nil {
		return nil, errors.Errorf(errFmtBucketNotFound, name)
	}
	return bkt, nil
}

// SetInfo stores one metadata key-value pair
func (s *Store) SetInfo(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bkt, err := s.bucket(bucketInfo)
	if err != nil {
		return err
	}
	return errors.Wrapf(bkt.Put([]byte(key), []byte(value)), "storing info %s", key)
}

// AddNode stores an Xref as a node
func (s *Store) AddNode(xref model.Xref) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bkt, err := s.bucket(bucketNodes)
	if err != nil {
		return err
	}

	data, err := model.SerializeXref(xref)
	if err != nil {
		return errors.Wrap(err, "serializing node")
	}
	return errors.Wrapf(bkt.Put([]byte(xref.String()), data), "storing node %s", xref)
}

// AddLink stores a directed link and its reverse index entry
func (s *Store) AddLink(from, to model.Xref) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	links, err := s.bucket(bucketLinks)
	if err != nil {
		return err
	}
	rlinks, err := s.bucket(bucketRLinks)
	if err != nil {
		return err
	}

	data, err := model.SerializeLink(model.NewLink(from, to))
	if err != nil {
		return errors.Wrap(err, "serializing link")
	}

	fromKey, toKey := from.String(), to.String()
	if err := links.Put([]byte(common.FormatLinkPair(fromKey, toKey)), data); err != nil {
		return errors.Wrapf(err, "storing link %s -> %s", from, to)
	}
	if err := rlinks.Put([]byte(common.FormatLinkPair(toKey, fromKey)), data); err != nil {
		return errors.Wrap(err, "updating reverse link index")
	}
	return nil
}

// Commit commits the open write transaction and starts the next one
func (s *Store) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.tx == nil {
		return model.ErrStoreNotLoading
	}

	if err := s.tx.Commit(); err != nil {
		s.tx = nil
		return errors.Wrap(err, "committing transaction")
	}

	tx, err := s.db.Begin(true)
	if err != nil {
		s.tx = nil
		return errors.Wrap(err, "beginning transaction")
	}
	s.tx = tx
	return nil
}

// Finalize commits outstanding writes and closes the file
func (s *Store) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}

	if s.tx != nil {
		err := s.tx.Commit()
		s.tx = nil
		if err != nil {
			s.closeLocked()
			return errors.Wrap(err, "committing final transaction")
		}
	}

	var nodes, links int
	s.db.View(func(tx *bolt.Tx) error {
		if bkt := tx.Bucket(bucketNodes); bkt != nil {
			nodes = bkt.Stats().KeyN
		}
		if bkt := tx.Bucket(bucketLinks); bkt != nil {
			links = bkt.Stats().KeyN
		}
		return nil
	})
	s.logger.Info("Finalized bolt store: %d nodes, %d links", nodes, links)

	return s.closeLocked()
}

// Info returns all metadata key-value pairs
func (s *Store) Info() (map[string]string, error) {
	info := make(map[string]string)
	err := s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketInfo)
		if bkt == nil {
			return errors.Errorf(errFmtBucketNotFound, bucketInfo)
		}
		return bkt.ForEach(func(k, v []byte) error {
			info[string(k)] = string(v)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// ForEachNode calls fn for every node in key order
func (s *Store) ForEachNode(fn func(model.Xref) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketNodes)
		if bkt == nil {
			return errors.Errorf(errFmtBucketNotFound, bucketNodes)
		}
		return bkt.ForEach(func(k, v []byte) error {
			xref, err := model.DeserializeXref(v)
			if err != nil {
				return errors.Wrapf(err, "decoding node %q", k)
			}
			return fn(xref)
		})
	})
}

// ForEachLink calls fn for every link in key order
func (s *Store) ForEachLink(fn func(model.Link) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketLinks)
		if bkt == nil {
			return errors.Errorf(errFmtBucketNotFound, bucketLinks)
		}
		return bkt.ForEach(func(k, v []byte) error {
			link, err := model.DeserializeLink(v)
			if err != nil {
				return errors.Wrapf(err, "decoding link %q", k)
			}
			return fn(link)
		})
	})
}

// MapID returns every Xref one link away from xref, in either direction.
// The xref itself is not included.
func (s *Store) MapID(xref model.Xref) ([]model.Xref, error) {
	seen := map[model.Xref]bool{xref: true}
	var result []model.Xref

	prefix := []byte(common.FormatLinkPair(xref.String(), ""))

	err := s.db.View(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketLinks, bucketRLinks} {
			bkt := tx.Bucket(name)
			if bkt == nil {
				return errors.Errorf(errFmtBucketNotFound, name)
			}

			c := bkt.Cursor()
			for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
				link, err := model.DeserializeLink(v)
				if err != nil {
					return errors.Wrapf(err, "decoding link %q", k)
				}
				other := link.To
				if link.To == xref {
					other = link.From
				}
				if !seen[other] {
					seen[other] = true
					result = append(result, other)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Close closes the store. An open write transaction is rolled back.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	if s.tx != nil {
		s.tx.Rollback()
		s.tx = nil
	}
	return s.closeLocked()
}

func (s *Store) closeLocked() error {
	s.closed = true
	return errors.Wrap(s.db.Close(), "closing bolt db")
}
