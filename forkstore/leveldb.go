// Package forkstore provides a goleveldb-backed chain.ForkBackend for
// recording side-chain blocks the fork-switch controller may later adopt.
package forkstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/wyvernnet/sncore/chain"
)

// LevelDB is a chain.ForkBackend backed by an embedded goleveldb database.
// Keys are <number:8 bytes big-endian><hash:32 bytes>, so every block at a
// given number sorts contiguously and BlocksAtNumber is a single prefix
// scan; values are the JSON encoding of chain.Block.
type LevelDB struct {
	db *leveldb.DB
}

// Open opens (creating if necessary) a LevelDB-backed fork store at dir.
func Open(dir string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("forkstore: open %s: %w", dir, err)
	}
	return &LevelDB{db: db}, nil
}

// Close releases the underlying database handle.
func (l *LevelDB) Close() error { return l.db.Close() }

func key(number uint64, hash chain.Hash) []byte {
	k := make([]byte, 8+chain.HashLength)
	binary.BigEndian.PutUint64(k[:8], number)
	copy(k[8:], hash[:])
	return k
}

func numberPrefix(number uint64) []byte {
	p := make([]byte, 8)
	binary.BigEndian.PutUint64(p, number)
	return p
}

// Put implements chain.ForkBackend.
func (l *LevelDB) Put(ctx context.Context, block *chain.Block) error {
	buf, err := json.Marshal(block)
	if err != nil {
		return fmt.Errorf("forkstore: encode block %s: %w", block.NumberAndHash(), err)
	}
	return l.db.Put(key(block.Number, block.Hash), buf, nil)
}

// Get implements chain.ForkBackend.
func (l *LevelDB) Get(ctx context.Context, number uint64, hash chain.Hash) (*chain.Block, error) {
	buf, err := l.db.Get(key(number, hash), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("forkstore: get %d-%s: %w", number, hash.Hex(), err)
	}
	var b chain.Block
	if err := json.Unmarshal(buf, &b); err != nil {
		return nil, fmt.Errorf("forkstore: decode %d-%s: %w", number, hash.Hex(), err)
	}
	return &b, nil
}

// BlocksAtNumber implements chain.ForkBackend.
func (l *LevelDB) BlocksAtNumber(ctx context.Context, number uint64) ([]*chain.Block, error) {
	iter := l.db.NewIterator(util.BytesPrefix(numberPrefix(number)), nil)
	defer iter.Release()

	var blocks []*chain.Block
	for iter.Next() {
		var b chain.Block
		if err := json.Unmarshal(iter.Value(), &b); err != nil {
			return nil, fmt.Errorf("forkstore: decode entry at %d: %w", number, err)
		}
		blocks = append(blocks, &b)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("forkstore: scan %d: %w", number, err)
	}
	return blocks, nil
}

// All implements chain.ForkBackend.
func (l *LevelDB) All(ctx context.Context) ([]*chain.Block, error) {
	iter := l.db.NewIterator(nil, nil)
	defer iter.Release()

	var blocks []*chain.Block
	for iter.Next() {
		var b chain.Block
		if err := json.Unmarshal(iter.Value(), &b); err != nil {
			return nil, fmt.Errorf("forkstore: decode entry: %w", err)
		}
		blocks = append(blocks, &b)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("forkstore: full scan: %w", err)
	}
	return blocks, nil
}

// MarkWrong implements chain.ForkBackend.
func (l *LevelDB) MarkWrong(ctx context.Context, number uint64, hash chain.Hash) error {
	b, err := l.Get(ctx, number, hash)
	if err != nil {
		return err
	}
	if b == nil {
		return fmt.Errorf("forkstore: mark wrong: %d-%s not found", number, hash.Hex())
	}
	b.Wrong = true
	return l.Put(ctx, b)
}

// DeleteBelow implements chain.ForkBackend.
func (l *LevelDB) DeleteBelow(ctx context.Context, number uint64) error {
	iter := l.db.NewIterator(&util.Range{Limit: numberPrefix(number)}, nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("forkstore: scan for prune below %d: %w", number, err)
	}
	if batch.Len() == 0 {
		return nil
	}
	return l.db.Write(batch, nil)
}
