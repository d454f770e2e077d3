package anchor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/syndtr/goleveldb/leveldb"
)

// Key layout:
//
//	entry_<height>  => Entry JSON
//	hash_<hash>     => height
//	height_latest   => height
const keyLatest = "height_latest"

func entryKey(height int64) []byte { return []byte(fmt.Sprintf("entry_%020d", height)) }
func hashKey(hash string) []byte   { return []byte("hash_" + hash) }

// LevelDBBackend stores the ledger in a LevelDB directory.
type LevelDBBackend struct {
	db *leveldb.DB
}

func OpenLevelDB(path string) (*LevelDBBackend, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open ledger at %s: %w", path, err)
	}
	return &LevelDBBackend{db: db}, nil
}

func (b *LevelDBBackend) latest() (int64, bool, error) {
	v, err := b.db.Get([]byte(keyLatest), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	h, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt %s: %w", keyLatest, err)
	}
	return h, true, nil
}

func (b *LevelDBBackend) Head() (Entry, bool, error) {
	h, ok, err := b.latest()
	if err != nil || !ok {
		return Entry{}, false, err
	}
	e, err := b.Get(h)
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

// Append writes the entry, its hash index and the new head in one batch.
func (b *LevelDBBackend) Append(e Entry) error {
	h, ok, err := b.latest()
	if err != nil {
		return err
	}
	next := int64(0)
	if ok {
		next = h + 1
	}
	if e.Height != next {
		return fmt.Errorf("height %d out of sequence", e.Height)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Put(entryKey(e.Height), data)
	batch.Put(hashKey(e.Hash), []byte(strconv.FormatInt(e.Height, 10)))
	batch.Put([]byte(keyLatest), []byte(strconv.FormatInt(e.Height, 10)))
	return b.db.Write(batch, nil)
}

func (b *LevelDBBackend) Get(height int64) (Entry, error) {
	data, err := b.db.Get(entryKey(height), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Entry{}, ErrEntryNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, fmt.Errorf("decode entry %d: %w", height, err)
	}
	return e, nil
}

func (b *LevelDBBackend) ByHash(hash string) (Entry, error) {
	v, err := b.db.Get(hashKey(hash), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Entry{}, ErrEntryNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	h, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("corrupt hash index: %w", err)
	}
	return b.Get(h)
}

func (b *LevelDBBackend) Close() error {
	return b.db.Close()
}
