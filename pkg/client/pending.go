package client

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"courier/pkg/logger"
)

// pendingSchema versions the on-disk record layout. Records written by a
// newer schema are skipped on load instead of guessed at.
const pendingSchema = 1

type pendingRecord struct {
	Schema int       `json:"schema"`
	Item   QueueItem `json:"item"`
}

// PendingLog is the durable side of the outbound queue. Only text-only
// items are written here; attachment bytes never touch it, so an item
// restored after restart either resends cleanly or not at all.
type PendingLog struct {
	db *pebble.DB
}

func OpenPendingLog(path string) (*PendingLog, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pending log: %w", err)
	}
	return &PendingLog{db: db}, nil
}

func (l *PendingLog) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func pendingKey(thread, localID string) []byte {
	return []byte("out:" + thread + ":" + localID)
}

func (l *PendingLog) Put(item QueueItem) error {
	if l == nil {
		return nil
	}
	b, err := json.Marshal(pendingRecord{Schema: pendingSchema, Item: item})
	if err != nil {
		return err
	}
	return l.db.Set(pendingKey(item.Thread, item.LocalID), b, pebble.Sync)
}

func (l *PendingLog) Delete(thread, localID string) error {
	if l == nil {
		return nil
	}
	return l.db.Delete(pendingKey(thread, localID), pebble.Sync)
}

// Load returns every persisted item. Corrupt or future-schema records are
// logged and skipped rather than failing startup.
func (l *PendingLog) Load() ([]QueueItem, error) {
	if l == nil {
		return nil, nil
	}
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("out:"),
		UpperBound: []byte("out;"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var items []QueueItem
	for iter.First(); iter.Valid(); iter.Next() {
		var rec pendingRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			logger.Warn("pending_record_corrupt", "key", string(iter.Key()), "error", err)
			continue
		}
		if rec.Schema != pendingSchema {
			logger.Warn("pending_record_schema_skip", "key", string(iter.Key()), "schema", rec.Schema)
			continue
		}
		items = append(items, rec.Item)
	}
	return items, iter.Error()
}
