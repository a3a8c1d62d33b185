package presence

import (
	"fmt"
	"os"
	"strconv"

	"github.com/dgraph-io/badger"
	cm "github.com/mosaicnetworks/acol/src/common"
	"github.com/sirupsen/logrus"
)

const (
	snapshotPrefix = "snapshot"
	lastKey        = "snapshot_last"
)

// BadgerStore implements the Store interface with a badger database, so that
// the history of a node's views survives restarts.
type BadgerStore struct {
	db   *badger.DB
	path string
}

// NewBadgerStore opens, or creates, a BadgerStore in path.
func NewBadgerStore(path string, logger *logrus.Entry) (*BadgerStore, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(path).
		WithSyncWrites(false).
		WithTruncate(true)

	if logger != nil {
		opts = opts.WithLogger(logger.WithField("component", "badger"))
	} else {
		opts = opts.WithLogger(nil)
	}

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &BadgerStore{
		db:   handle,
		path: path,
	}, nil
}

//==============================================================================
//Keys

func snapshotKey(version int) []byte {
	return []byte(fmt.Sprintf("%s_%09d", snapshotPrefix, version))
}

//==============================================================================
//Implement the Store interface

// Save implements the Store interface.
func (s *BadgerStore) Save(snapshot *Snapshot) error {
	last, err := s.dbLastVersion()
	if err != nil && !cm.IsStore(err, cm.Empty) {
		return err
	}

	val, err := snapshot.Marshal()
	if err != nil {
		return err
	}

	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	//insert [snapshot_version] => [snapshot bytes]
	if err := tx.Set(snapshotKey(snapshot.Version), val); err != nil {
		return err
	}

	if snapshot.Version > last {
		//insert [snapshot_last] => [version]
		if err := tx.Set([]byte(lastKey), []byte(strconv.Itoa(snapshot.Version))); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Get implements the Store interface.
func (s *BadgerStore) Get(version int) (*Snapshot, error) {
	var snapshotBytes []byte
	key := snapshotKey(version)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		snapshotBytes, err = item.ValueCopy(nil)
		return err
	})

	if err != nil {
		return nil, mapError(err, "Snapshot", string(key))
	}

	snapshot := new(Snapshot)
	if err := snapshot.Unmarshal(snapshotBytes); err != nil {
		return nil, err
	}

	return snapshot, nil
}

// Last implements the Store interface.
func (s *BadgerStore) Last() (*Snapshot, error) {
	last, err := s.dbLastVersion()
	if err != nil {
		return nil, err
	}
	return s.Get(last)
}

// Close implements the Store interface.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// StorePath returns the directory of the underlying database.
func (s *BadgerStore) StorePath() string {
	return s.path
}

func (s *BadgerStore) dbLastVersion() (int, error) {
	var lastBytes []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(lastKey))
		if err != nil {
			return err
		}
		lastBytes, err = item.ValueCopy(nil)
		return err
	})

	if err != nil {
		if isDBKeyNotFound(err) {
			return 0, cm.NewStoreErr("Snapshot", cm.Empty, lastKey)
		}
		return 0, err
	}

	return strconv.Atoi(string(lastBytes))
}

//++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++

func isDBKeyNotFound(err error) bool {
	return err == badger.ErrKeyNotFound
}

func mapError(err error, name, key string) error {
	if err != nil {
		if isDBKeyNotFound(err) {
			return cm.NewStoreErr(name, cm.KeyNotFound, key)
		}
	}
	return err
}
