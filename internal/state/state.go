// Package state persists the convergence state of a gateway node. The record
// is owned by a single node and never shared.
package state

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var (
	rootBucket = []byte("nfsgw")
	stateKey   = []byte("state")
)

// State is what a node must remember across restarts.
type State struct {
	IsStarted      bool `json:"isStarted"`      // config rendered and services started
	IsClusterSetup bool `json:"isClusterSetup"` // grace join done and not yet left

	ReloadNonce         uint64 `json:"reloadNonce"`         // last peer nonce we applied
	PoolInitialisedSeen bool   `json:"poolInitialisedSeen"` // already restarted for the latch
	Version             string `json:"version"`             // build that last ran
}

// Store keeps one State per node name, each in its own bucket.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the state file at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open state at %v: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rootBucket)
		return err
	})

	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure root bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Load returns the stored state of node, or the zero State if none exists.
func (s *Store) Load(node string) (State, error) {
	var st State
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(rootBucket).Bucket([]byte(node))
		if b == nil {
			return nil
		}

		v := b.Get(stateKey)
		if v == nil {
			return nil
		}

		return json.Unmarshal(v, &st)
	})

	if err != nil {
		return State{}, fmt.Errorf("load state of %v: %w", node, err)
	}

	return st, nil
}

// Save replaces the stored state of node.
func (s *Store) Save(node string, st State) error {
	v, err := json.Marshal(st)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(rootBucket).CreateBucketIfNotExists([]byte(node))
		if err != nil {
			return err
		}

		return b.Put(stateKey, v)
	})
}

func (s *Store) Path() string { return s.db.Path() }

func (s *Store) Close() error { return s.db.Close() }
