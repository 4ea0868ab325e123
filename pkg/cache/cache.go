// Package cache persists the latest merged conversation and timeline
// snapshots in a local Pebble database so a reopened client can show the
// last-known view before history arrives. The cache is best-effort: every
// reader tolerates a missing or empty store.
package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cockroachdb/pebble"

	"chatsync/pkg/conversation"
	"chatsync/pkg/logger"
	"chatsync/pkg/wire"
)

// Key layout:
//   conv:<id>:msg:<msgID>  -> conversation.Message JSON
//   conv:<id>:tl:<evID>    -> wire.TimelineWireEvent JSON
//   touch:conv:<id>        -> last write, unix ms (retention input)

// Store is a Pebble-backed snapshot cache. A nil *Store is a valid no-op
// for every method, so callers can wire it unconditionally.
type Store struct {
	db   *pebble.DB
	path string
}

// Open opens (or creates) the cache database at path.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("cache_open_failed", "path", path, "error", err.Error())
		return nil, fmt.Errorf("cache: open %s: %w", path, err)
	}
	logger.Info("cache_opened", "path", path)
	return &Store{db: db, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func msgKey(conversationID, msgID string) []byte {
	return []byte("conv:" + conversationID + ":msg:" + msgID)
}

func tlKey(conversationID, evID string) []byte {
	return []byte("conv:" + conversationID + ":tl:" + evID)
}

func touchKey(conversationID string) []byte {
	return []byte("touch:conv:" + conversationID)
}

// PutMessages writes the latest merged message snapshots. Pending local
// entries are skipped: they are meaningless across restarts.
func (s *Store) PutMessages(conversationID string, msgs []conversation.Message) error {
	if s == nil || s.db == nil {
		return nil
	}
	b := s.db.NewBatch()
	defer b.Close()
	for _, m := range msgs {
		if m.Status == conversation.StatusPending {
			continue
		}
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("cache: marshal message %s: %w", m.ID, err)
		}
		if err := b.Set(msgKey(conversationID, m.ID), data, nil); err != nil {
			return err
		}
	}
	if err := b.Set(touchKey(conversationID), nowMsBytes(), nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

// SeedMessages reads back the cached messages for a conversation.
func (s *Store) SeedMessages(conversationID string) ([]conversation.Message, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var out []conversation.Message
	err := s.scan(msgKey(conversationID, ""), func(val []byte) error {
		var m conversation.Message
		if err := json.Unmarshal(val, &m); err != nil {
			return err
		}
		out = append(out, m)
		return nil
	})
	return out, err
}

// PutTimeline writes the latest timeline event snapshots.
func (s *Store) PutTimeline(conversationID string, evs []wire.TimelineWireEvent) error {
	if s == nil || s.db == nil {
		return nil
	}
	b := s.db.NewBatch()
	defer b.Close()
	for _, ev := range evs {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("cache: marshal timeline %s: %w", ev.ID, err)
		}
		if err := b.Set(tlKey(conversationID, ev.ID), data, nil); err != nil {
			return err
		}
	}
	if err := b.Set(touchKey(conversationID), nowMsBytes(), nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

// SeedTimeline reads back the cached timeline events for a conversation.
func (s *Store) SeedTimeline(conversationID string) ([]wire.TimelineWireEvent, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var out []wire.TimelineWireEvent
	err := s.scan(tlKey(conversationID, ""), func(val []byte) error {
		var ev wire.TimelineWireEvent
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		out = append(out, ev)
		return nil
	})
	return out, err
}

// scan iterates all values under prefix. Undecodable entries abort the
// scan; callers treat that as a cold cache.
func (s *Store) scan(prefix []byte, fn func(val []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if err := fn(iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// DropConversation removes every cached entry for a conversation.
func (s *Store) DropConversation(conversationID string) error {
	if s == nil || s.db == nil {
		return nil
	}
	prefix := []byte("conv:" + conversationID + ":")
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	var keys [][]byte
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		keys = append(keys, append([]byte(nil), iter.Key()...))
	}
	if err := iter.Close(); err != nil {
		return err
	}
	b := s.db.NewBatch()
	defer b.Close()
	for _, k := range keys {
		if err := b.Delete(k, nil); err != nil {
			return err
		}
	}
	if err := b.Delete(touchKey(conversationID), nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

func nowMsBytes() []byte {
	return []byte(strconv.FormatInt(time.Now().UnixMilli(), 10))
}
