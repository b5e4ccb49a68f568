package tokens

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/dgraph-io/badger/v4"

	"github.com/moyoez/localvault/types"
)

var tokenKeyPrefix = []byte("token:")

// BadgerPersister keeps one key per token under the "token:" prefix.
type BadgerPersister struct {
	db *badger.DB
}

func NewBadgerPersister(db *badger.DB) *BadgerPersister {
	return &BadgerPersister{db: db}
}

// OpenBadger opens (or creates) a badger database at dir with its own logging silenced.
func OpenBadger(dir string) (*badger.DB, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %s: %w", dir, err)
	}
	return db, nil
}

func (p *BadgerPersister) Load() (map[string]types.TokenRecord, error) {
	tokens := map[string]types.TokenRecord{}
	err := p.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: tokenKeyPrefix, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			token := string(item.Key()[len(tokenKeyPrefix):])
			err := item.Value(func(val []byte) error {
				var rec types.TokenRecord
				if err := sonic.Unmarshal(val, &rec); err != nil {
					return fmt.Errorf("failed to decode token %s: %w", token, err)
				}
				tokens[token] = rec
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tokens, nil
}

// Save replaces the stored table with tokens in a single transaction.
func (p *BadgerPersister) Save(tokens map[string]types.TokenRecord) error {
	return p.db.Update(func(txn *badger.Txn) error {
		var stale [][]byte
		it := txn.NewIterator(badger.IteratorOptions{Prefix: tokenKeyPrefix})
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			if _, ok := tokens[string(key[len(tokenKeyPrefix):])]; !ok {
				stale = append(stale, key)
			}
		}
		it.Close()

		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		for token, rec := range tokens {
			val, err := sonic.Marshal(rec)
			if err != nil {
				return err
			}
			if err := txn.Set(tokenKey(token), val); err != nil {
				return err
			}
		}
		return nil
	})
}

func tokenKey(token string) []byte {
	key := make([]byte, 0, len(tokenKeyPrefix)+len(token))
	key = append(key, tokenKeyPrefix...)
	return append(key, token...)
}
