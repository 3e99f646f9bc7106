// Package journal persists each swap's SwapContext across process
// restarts (spec.md §6 "Persisted state"): one record per swap,
// overwritten on every Put (earlier snapshots are not kept) and
// fsynced after every phase transition, so a crash during any
// phase can be resumed by journal.Recover on the next start (spec.md
// §4.E Phase 5, §7).
//
// The on-disk layout is a single kvdb (bbolt) top-level bucket keyed by
// SwapID, one value per swap holding its latest SwapContext snapshot —
// the same bucket-per-entity approach channeldb/db.go uses for channel
// state, simplified from per-field sub-buckets to one JSON blob per swap
// since a SwapContext is small and always rewritten whole.
package journal

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/lightningnetwork/lnd/kvdb"

	"github.com/lightninglabs/coinswap/build"
	"github.com/lightninglabs/coinswap/swap"
)

var log = build.NewSubLogger("JRNL")

var swapBucketKey = []byte("swaps")

// ControlTower is the persistence interface the Taker orchestrator and
// Maker state machine drive through every phase transition, named after
// htlcswitch/switch_control.go's payment ControlTower since it plays the
// same role: single source of truth for "have we done this already."
type ControlTower interface {
	// Put writes ctx's current snapshot, fsynced before returning.
	Put(ctx *swap.SwapContext) error

	// Fetch returns the last snapshot recorded for id, or
	// ErrSwapNotFound.
	Fetch(id swap.SwapID) (*swap.SwapContext, error)

	// Recover returns every swap whose last recorded phase is neither
	// Complete nor Aborted, for resumption on process start.
	Recover() ([]*swap.SwapContext, error)

	Close() error
}

// ErrSwapNotFound is returned by Fetch when no record exists for a
// SwapID.
var ErrSwapNotFound = fmt.Errorf("journal: swap not found")

// KVControlTower is the kvdb-backed ControlTower implementation.
type KVControlTower struct {
	mu sync.Mutex
	db kvdb.Backend
}

// New opens (creating if necessary) a bbolt-backed journal at dbPath.
func New(dbPath string) (*KVControlTower, error) {
	db, err := kvdb.Create(kvdb.BoltBackendName, dbPath, true, kvdb.DefaultDBTimeout)
	if err != nil {
		return nil, fmt.Errorf("journal: opening %s: %w", dbPath, err)
	}

	err = kvdb.Update(db, func(tx kvdb.RwTx) error {
		_, err := tx.CreateTopLevelBucket(swapBucketKey)
		return err
	}, func() {})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: initializing bucket: %w", err)
	}

	return &KVControlTower{db: db}, nil
}

func (c *KVControlTower) Close() error {
	return c.db.Close()
}

// Put serializes ctx and writes it under its SwapID, fsynced (bbolt
// commits are durable by default) before returning, matching spec.md
// §6's "fsynced after each phase transition" requirement.
func (c *KVControlTower) Put(ctx *swap.SwapContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := json.Marshal(ctx)
	if err != nil {
		return fmt.Errorf("journal: marshaling swap %x: %w", ctx.ID, err)
	}

	return kvdb.Update(c.db, func(tx kvdb.RwTx) error {
		bucket := tx.ReadWriteBucket(swapBucketKey)
		if bucket == nil {
			return fmt.Errorf("journal: missing swap bucket")
		}
		return bucket.Put(ctx.ID[:], raw)
	}, func() {})
}

func (c *KVControlTower) Fetch(id swap.SwapID) (*swap.SwapContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ctx swap.SwapContext
	err := kvdb.View(c.db, func(tx kvdb.RTx) error {
		bucket := tx.ReadBucket(swapBucketKey)
		if bucket == nil {
			return ErrSwapNotFound
		}
		raw := bucket.Get(id[:])
		if raw == nil {
			return ErrSwapNotFound
		}
		return json.Unmarshal(raw, &ctx)
	}, func() {})
	if err != nil {
		return nil, err
	}
	return &ctx, nil
}

// Recover scans every persisted swap and returns those not yet
// Complete or Aborted, for the Taker/Maker to resume per spec.md §4.E
// Phase 5.
func (c *KVControlTower) Recover() ([]*swap.SwapContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var pending []*swap.SwapContext
	err := kvdb.View(c.db, func(tx kvdb.RTx) error {
		bucket := tx.ReadBucket(swapBucketKey)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var ctx swap.SwapContext
			if err := json.Unmarshal(v, &ctx); err != nil {
				log.Errorf("skipping corrupt journal entry %x: %v", k, err)
				return nil
			}
			if ctx.Phase != swap.PhaseComplete && ctx.Phase != swap.PhaseAborted {
				c := ctx
				pending = append(pending, &c)
			}
			return nil
		})
	}, func() {})
	if err != nil {
		return nil, err
	}

	log.Infof("recovered %d pending swap(s)", len(pending))
	return pending, nil
}
