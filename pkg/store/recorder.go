// Package store records the raw wire messages of stream sessions in badger and replays them.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/sudorandom/move-stream/pkg/ingest"
	"github.com/sudorandom/move-stream/pkg/logging"
)

var ErrUnknownSession = errors.New("unknown session")

const (
	sessionPrefix = "s/"
	framePrefix   = "f/"
)

// Session describes one recorded stream.
type Session struct {
	ID        string              `json:"id"`
	Request   ingest.EventRequest `json:"request"`
	StartedAt time.Time           `json:"started_at"`
	Frames    int                 `json:"frames"`
}

// Recorder is a badger database of sessions and their frames. Frame keys sort by session,
// then by sequence number.
type Recorder struct {
	db  *badger.DB
	now func() time.Time
}

// Open opens or creates the database at path. An empty path keeps everything in memory.
func Open(path string) (*Recorder, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = badgerLogger{logging.Component("store")}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening recorder at %q: %w", path, err)
	}
	return &Recorder{db: db, now: time.Now}, nil
}

func (r *Recorder) Close() error {
	return r.db.Close()
}

func sessionKey(id string) []byte {
	return []byte(sessionPrefix + id)
}

func framesPrefix(id string) []byte {
	return []byte(framePrefix + id + "/")
}

func frameKey(id string, seq int) []byte {
	p := framesPrefix(id)
	key := make([]byte, len(p)+4)
	copy(key, p)
	binary.BigEndian.PutUint32(key[len(p):], uint32(seq))
	return key
}

func (r *Recorder) BeginSession(id string, req ingest.EventRequest) error {
	meta, err := json.Marshal(Session{ID: id, Request: req, StartedAt: r.now().UTC()})
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sessionKey(id), meta)
	})
}

func (r *Recorder) Record(id string, seq int, raw []byte) error {
	if seq < 0 {
		return fmt.Errorf("negative sequence %d", seq)
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(frameKey(id, seq), raw)
	})
}

// Sessions lists recorded sessions, oldest first.
func (r *Recorder) Sessions() ([]Session, error) {
	var out []Session
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(sessionPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var s Session
			err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &s)
			})
			if err != nil {
				return err
			}
			s.Frames = countFrames(txn, s.ID)
			out = append(out, s)
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, err
}

func countFrames(txn *badger.Txn, id string) int {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = framesPrefix(id)
	it := txn.NewIterator(opts)
	defer it.Close()
	n := 0
	for it.Rewind(); it.Valid(); it.Next() {
		n++
	}
	return n
}

// Session returns the metadata of one session.
func (r *Recorder) Session(id string) (Session, error) {
	var s Session
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownSession, id)
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &s) }); err != nil {
			return err
		}
		s.Frames = countFrames(txn, id)
		return nil
	})
	return s, err
}

// Replay calls fn for every frame of a session in sequence order. The slice passed to fn is
// only valid during the call.
func (r *Recorder) Replay(id string, fn func(seq int, raw []byte) error) error {
	if _, err := r.Session(id); err != nil {
		return err
	}
	return r.db.View(func(txn *badger.Txn) error {
		prefix := framesPrefix(id)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			seq := int(binary.BigEndian.Uint32(item.Key()[len(prefix):]))
			if err := item.Value(func(v []byte) error { return fn(seq, v) }); err != nil {
				return err
			}
		}
		return nil
	})
}

// badgerLogger routes badger's own logging to zerolog.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(f string, v ...interface{})   { l.log.Error().Msgf(f, v...) }
func (l badgerLogger) Warningf(f string, v ...interface{}) { l.log.Warn().Msgf(f, v...) }
func (l badgerLogger) Infof(f string, v ...interface{})    { l.log.Debug().Msgf(f, v...) }
func (l badgerLogger) Debugf(f string, v ...interface{})   { l.log.Trace().Msgf(f, v...) }

var _ ingest.Recorder = (*Recorder)(nil)
