package store

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger"
	lru "github.com/hashicorp/golang-lru"
	cm "github.com/mosaicnetworks/weave/src/common"
	"github.com/mosaicnetworks/weave/src/event"
	"github.com/sirupsen/logrus"
)

const (
	eventPrefix    = "ev/"
	seqPrefix      = "sq/"
	authorPrefix   = "au/"
	typePrefix     = "ty/"
	refPrefix      = "rf/"
	timePrefix     = "ts/"
	headPrefix     = "hd/"
	noncePrefix    = "nc/"
	blobPrefix     = "bl/"
	fragmentPrefix = "fr/"
	holderPrefix   = "ho/"
	pinPrefix      = "pn/"
	snapshotPrefix = "ss/"
	usedKey        = "meta/used"

	// sep terminates variable length key components so that one value is
	// never the prefix of another.
	sep = "\x00"
)

// BadgerStore implements Store on top of a badger database, with an LRU cache
// of recently used events in front of it.
type BadgerStore struct {
	db     *badger.DB
	path   string
	cache  *lru.Cache
	quota  uint64
	logger *logrus.Entry

	// writeLock serializes writers so that seq allocation and the used-bytes
	// counter stay consistent with the database.
	writeLock sync.Mutex
	seq       uint64
	used      uint64
}

// NewBadgerStore opens an existing database or creates a new one if nothing is
// found in path. A quota of 0 means unlimited blob and fragment storage.
func NewBadgerStore(path string, cacheSize int, quota uint64, logger *logrus.Entry) (*BadgerStore, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}

	opts := badger.DefaultOptions(path).
		WithSyncWrites(false).
		WithTruncate(true).
		WithLogger(logger.WithFields(logrus.Fields{"ns": "badger"}))

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	cache, err := lru.New(cacheSize)
	if err != nil {
		handle.Close()
		return nil, err
	}

	store := &BadgerStore{
		db:     handle,
		path:   path,
		cache:  cache,
		quota:  quota,
		logger: logger.WithField("prefix", "store"),
	}

	if err := store.loadCounters(); err != nil {
		handle.Close()
		return nil, err
	}

	store.logger.WithFields(logrus.Fields{
		"path": path,
		"seq":  store.seq,
		"used": store.used,
	}).Debug("Opened store")

	return store, nil
}

//==============================================================================
//Keys

func eventKey(id string) []byte {
	return []byte(eventPrefix + id)
}

func seqKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", seqPrefix, seq))
}

func authorKey(author string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s%s%020d", authorPrefix, author, sep, seq))
}

func typeKey(typ string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s%s%020d", typePrefix, typ, sep, seq))
}

func refKey(ref string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s%s%020d", refPrefix, ref, sep, seq))
}

func timeKey(ts int64, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d%s%020d", timePrefix, clampTime(ts), sep, seq))
}

func timeBound(ts int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", timePrefix, clampTime(ts)))
}

func headKey(author, id string) []byte {
	return []byte(headPrefix + author + sep + id)
}

func nonceKey(author string) []byte {
	return []byte(noncePrefix + author)
}

func blobKey(cid string) []byte {
	return []byte(blobPrefix + cid)
}

func fragmentKey(cid string) []byte {
	return []byte(fragmentPrefix + cid)
}

func holderKey(manifest, peer string) []byte {
	return []byte(holderPrefix + manifest + sep + peer)
}

func pinKey(cid string) []byte {
	return []byte(pinPrefix + cid)
}

func snapshotKey(index uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", snapshotPrefix, index))
}

func clampTime(ts int64) int64 {
	if ts < 0 {
		return 0
	}
	return ts
}

//==============================================================================
//Events

// PutEvent implements Store.
func (s *BadgerStore) PutEvent(ev *event.Event) (bool, error) {
	envelope, err := ev.Marshal()
	if err != nil {
		return false, err
	}

	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	if _, err := tx.Get(eventKey(ev.ID)); err == nil {
		return false, nil
	} else if !isDBKeyNotFound(err) {
		return false, s.ioErr("Event", ev.ID, err)
	}

	seq := s.seq + 1

	rec := &Record{
		Envelope: envelope,
		Lamport:  ev.Lamport,
		Seq:      seq,
		Received: time.Now().UnixNano() / int64(time.Millisecond),
	}

	val, err := cm.EncodeMsgpack(rec)
	if err != nil {
		return false, err
	}

	id := []byte(ev.ID)

	entries := [][2][]byte{
		{eventKey(ev.ID), val},
		{seqKey(seq), id},
		{authorKey(ev.Author, seq), id},
		{typeKey(ev.Type, seq), id},
		{timeKey(ev.Timestamp, seq), id},
		{headKey(ev.Author, ev.ID), nil},
	}

	for _, ref := range ev.References() {
		if strings.Contains(ref, sep) {
			continue
		}
		entries = append(entries, [2][]byte{refKey(ref, seq), id})
	}

	if ev.NonceBearing() {
		last, err := s.txLastNonce(tx, ev.Author)
		if err != nil {
			return false, err
		}
		if ev.Nonce > last {
			entries = append(entries, [2][]byte{nonceKey(ev.Author), encodeUint64(ev.Nonce)})
		}
	}

	for _, p := range ev.Prev {
		parent, err := s.txGetEvent(tx, p)
		if err != nil {
			return false, err
		}
		if parent.Author == ev.Author {
			if err := tx.Delete(headKey(ev.Author, p)); err != nil {
				return false, s.ioErr("Head", p, err)
			}
		}
	}

	for _, e := range entries {
		if err := tx.Set(e[0], e[1]); err != nil {
			return false, s.ioErr("Event", ev.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, s.ioErr("Event", ev.ID, err)
	}

	atomic.StoreUint64(&s.seq, seq)

	s.cacheEvent(ev.Clone())

	return true, nil
}

// GetEvent implements Store. The returned event is a copy.
func (s *BadgerStore) GetEvent(id string) (*event.Event, error) {
	if ev, ok := s.cache.Get(id); ok {
		return ev.(*event.Event).Clone(), nil
	}

	var res *event.Event
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		res, err = s.txGetEvent(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	return res.Clone(), nil
}

// GetRecord implements Store.
func (s *BadgerStore) GetRecord(id string) (*Record, error) {
	var res *Record
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		res, err = s.txGetRecord(txn, id)
		return err
	})
	return res, err
}

// HasEvent implements Store.
func (s *BadgerStore) HasEvent(id string) (bool, error) {
	if s.cache.Contains(id) {
		return true, nil
	}
	return s.has(eventKey(id), "Event", id)
}

// LastNonce implements Store. It returns 0 for an author without any
// nonce-bearing event.
func (s *BadgerStore) LastNonce(author string) (uint64, error) {
	var res uint64
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		res, err = s.txLastNonce(txn, author)
		return err
	})
	return res, err
}

// Heads implements Store. Heads are the events of the author that no other
// event of the same author lists as parent. They are returned sorted.
func (s *BadgerStore) Heads(author string) ([]string, error) {
	prefix := []byte(headPrefix + author + sep)
	res := []string{}

	err := s.scanKeys(prefix, func(key []byte) {
		res = append(res, string(key[len(prefix):]))
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(res)

	return res, nil
}

// Authors implements Store.
func (s *BadgerStore) Authors() ([]string, error) {
	prefix := []byte(headPrefix)
	seen := make(map[string]bool)
	res := []string{}

	err := s.scanKeys(prefix, func(key []byte) {
		rest := string(key[len(prefix):])
		author := rest[:strings.Index(rest, sep)]
		if !seen[author] {
			seen[author] = true
			res = append(res, author)
		}
	})

	return res, err
}

// LastSeq implements Store.
func (s *BadgerStore) LastSeq() uint64 {
	return atomic.LoadUint64(&s.seq)
}

// Since implements Store. It returns up to limit records inserted after seq,
// in insertion order.
func (s *BadgerStore) Since(seq uint64, limit int) ([]*Record, error) {
	res := []*Record{}
	prefix := []byte(seqPrefix)

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(seqKey(seq + 1)); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(res) >= limit {
				break
			}
			id, err := it.Item().ValueCopy(nil)
			if err != nil {
				return s.ioErr("Seq", string(it.Item().Key()), err)
			}
			rec, err := s.txGetRecord(txn, string(id))
			if err != nil {
				return err
			}
			res = append(res, rec)
		}
		return nil
	})

	return res, err
}

//==============================================================================
//Queries

// Query implements Store. The cursor is opaque; pass the Cursor of the
// previous Page to continue.
func (s *BadgerStore) Query(q Query, cursor string, limit int) (*Page, error) {
	prefix, start, upper := scanRange(q)

	if cursor != "" {
		c, err := hex.DecodeString(cursor)
		if err != nil || !bytes.HasPrefix(c, prefix) {
			return nil, fmt.Errorf("invalid cursor")
		}
		// smallest key strictly greater than the cursor
		start = append(c, 0)
	}

	page := &Page{Events: []*event.Event{}}

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		var last []byte
		exhausted := true

		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			if upper != nil && bytes.Compare(item.Key(), upper) >= 0 {
				break
			}
			if limit > 0 && len(page.Events) >= limit {
				exhausted = false
				break
			}

			last = item.KeyCopy(nil)

			id, err := item.ValueCopy(nil)
			if err != nil {
				return s.ioErr("Index", string(last), err)
			}

			ev, err := s.txGetEvent(txn, string(id))
			if err != nil {
				return err
			}

			if q.Match(ev) {
				page.Events = append(page.Events, ev.Clone())
				page.Cursors = append(page.Cursors, hex.EncodeToString(last))
			}
		}

		if !exhausted && last != nil {
			page.Cursor = hex.EncodeToString(last)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return page, nil
}

// Iterate implements Store.
func (s *BadgerStore) Iterate(q Query, cursor string) *Iterator {
	return NewIterator(s, q, cursor, defaultBatchSize)
}

// scanRange picks the index driving a query: the prefix to scan, the key to
// start at and an optional exclusive upper bound.
func scanRange(q Query) (prefix, start, upper []byte) {
	switch {
	case q.Ref != "":
		prefix = []byte(refPrefix + q.Ref + sep)
	case q.Author != "":
		prefix = []byte(authorPrefix + q.Author + sep)
	case q.Type != "":
		prefix = []byte(typePrefix + q.Type + sep)
	case q.From != 0 || q.To != 0:
		prefix = []byte(timePrefix)
		start = timeBound(q.From)
		if q.To != 0 {
			upper = timeBound(q.To + 1)
		}
		return prefix, start, upper
	default:
		prefix = []byte(seqPrefix)
	}
	return prefix, prefix, nil
}

//==============================================================================
//Blobs and fragments

// PutBlob implements Store. Storing the same cid twice is a no-op.
func (s *BadgerStore) PutBlob(cid string, data []byte) error {
	return s.putCounted(blobKey(cid), "Blob", cid, data)
}

// GetBlob implements Store.
func (s *BadgerStore) GetBlob(cid string) ([]byte, error) {
	return s.get(blobKey(cid), "Blob", cid)
}

// HasBlob implements Store.
func (s *BadgerStore) HasBlob(cid string) (bool, error) {
	return s.has(blobKey(cid), "Blob", cid)
}

// DeleteBlob implements Store.
func (s *BadgerStore) DeleteBlob(cid string) error {
	return s.deleteCounted(blobKey(cid), "Blob", cid)
}

// Blobs implements Store.
func (s *BadgerStore) Blobs() ([]string, error) {
	return s.listSuffixes([]byte(blobPrefix))
}

// PutFragment implements Store. Storing the same cid twice is a no-op.
func (s *BadgerStore) PutFragment(cid string, data []byte) error {
	return s.putCounted(fragmentKey(cid), "Fragment", cid, data)
}

// GetFragment implements Store.
func (s *BadgerStore) GetFragment(cid string) ([]byte, error) {
	return s.get(fragmentKey(cid), "Fragment", cid)
}

// HasFragment implements Store.
func (s *BadgerStore) HasFragment(cid string) (bool, error) {
	return s.has(fragmentKey(cid), "Fragment", cid)
}

// DeleteFragment implements Store.
func (s *BadgerStore) DeleteFragment(cid string) error {
	return s.deleteCounted(fragmentKey(cid), "Fragment", cid)
}

// Fragments implements Store.
func (s *BadgerStore) Fragments() ([]string, error) {
	return s.listSuffixes([]byte(fragmentPrefix))
}

// UsedBytes implements Store.
func (s *BadgerStore) UsedBytes() uint64 {
	return atomic.LoadUint64(&s.used)
}

// Quota implements Store.
func (s *BadgerStore) Quota() uint64 {
	return s.quota
}

//==============================================================================
//Availability table

// AddHolder implements Store. Fragments are merged with those already known
// for the peer.
func (s *BadgerStore) AddHolder(manifest, peer string, fragments []int) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		h := &Holder{Peer: peer}

		item, err := txn.Get(holderKey(manifest, peer))
		switch {
		case err == nil:
			val, err := item.ValueCopy(nil)
			if err != nil {
				return s.ioErr("Holder", manifest, err)
			}
			if err := cm.DecodeMsgpack(val, h); err != nil {
				return err
			}
		case !isDBKeyNotFound(err):
			return s.ioErr("Holder", manifest, err)
		}

		h.Fragments = mergeInts(h.Fragments, fragments)
		h.Seen = time.Now().UnixNano() / int64(time.Millisecond)

		val, err := cm.EncodeMsgpack(h)
		if err != nil {
			return err
		}

		return txn.Set(holderKey(manifest, peer), val)
	})
}

// RemoveHolder implements Store.
func (s *BadgerStore) RemoveHolder(manifest, peer string) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(holderKey(manifest, peer))
	})
}

// Holders implements Store.
func (s *BadgerStore) Holders(manifest string) (map[string]*Holder, error) {
	prefix := []byte(holderPrefix + manifest + sep)
	res := make(map[string]*Holder)

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return s.ioErr("Holder", manifest, err)
			}
			h := &Holder{}
			if err := cm.DecodeMsgpack(val, h); err != nil {
				return err
			}
			res[h.Peer] = h
		}
		return nil
	})

	return res, err
}

//==============================================================================
//Pins

// Pin implements Store.
func (s *BadgerStore) Pin(cid string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(pinKey(cid), nil)
	})
}

// Unpin implements Store.
func (s *BadgerStore) Unpin(cid string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(pinKey(cid))
	})
}

// IsPinned implements Store.
func (s *BadgerStore) IsPinned(cid string) (bool, error) {
	return s.has(pinKey(cid), "Pin", cid)
}

//==============================================================================
//Snapshots

// PutSnapshot implements Store.
func (s *BadgerStore) PutSnapshot(index uint64, data []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(index), data)
	})
}

// LastSnapshot implements Store. It returns an Empty StoreErr if no snapshot
// was ever stored.
func (s *BadgerStore) LastSnapshot() (uint64, []byte, error) {
	var (
		index uint64
		data  []byte
	)

	prefix := []byte(snapshotPrefix)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(append(append([]byte{}, prefix...), 0xff))
		if !it.ValidForPrefix(prefix) {
			return cm.NewStoreErr("Snapshot", cm.Empty, "")
		}

		item := it.Item()
		if _, err := fmt.Sscanf(string(item.Key()[len(prefix):]), "%d", &index); err != nil {
			return err
		}

		var err error
		data, err = item.ValueCopy(nil)
		return err
	})

	return index, data, err
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()
	return s.db.Close()
}

// StorePath ...
func (s *BadgerStore) StorePath() string {
	return s.path
}

//++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++
//DB Methods

func (s *BadgerStore) loadCounters() error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(usedKey))
		switch {
		case err == nil:
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			s.used = decodeUint64(val)
		case !isDBKeyNotFound(err):
			return err
		}

		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(seqPrefix)
		it.Seek(append(append([]byte{}, prefix...), 0xff))
		if it.ValidForPrefix(prefix) {
			_, err := fmt.Sscanf(string(it.Item().Key()[len(prefix):]), "%d", &s.seq)
			return err
		}

		return nil
	})
}

func (s *BadgerStore) txGetRecord(txn *badger.Txn, id string) (*Record, error) {
	item, err := txn.Get(eventKey(id))
	if err != nil {
		return nil, s.mapError(err, "Event", id)
	}

	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, s.ioErr("Event", id, err)
	}

	rec := &Record{}
	if err := cm.DecodeMsgpack(val, rec); err != nil {
		return nil, err
	}

	return rec, nil
}

// txGetEvent returns the cached instance when there is one. Callers must not
// modify it.
func (s *BadgerStore) txGetEvent(txn *badger.Txn, id string) (*event.Event, error) {
	if ev, ok := s.cache.Get(id); ok {
		return ev.(*event.Event), nil
	}

	rec, err := s.txGetRecord(txn, id)
	if err != nil {
		return nil, err
	}

	ev, err := rec.Event()
	if err != nil {
		return nil, err
	}

	s.cacheEvent(ev)

	return ev, nil
}

// cacheEvent decodes the payload before the event becomes shared, so that
// readers of the cached instance never write to it.
func (s *BadgerStore) cacheEvent(ev *event.Event) {
	if _, err := ev.DecodePayload(); err != nil {
		s.logger.WithError(err).WithField("id", ev.ID).Warn("Stored event has an undecodable payload")
		return
	}
	s.cache.Add(ev.ID, ev)
}

func (s *BadgerStore) txLastNonce(txn *badger.Txn, author string) (uint64, error) {
	item, err := txn.Get(nonceKey(author))
	if isDBKeyNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, s.ioErr("Nonce", author, err)
	}

	val, err := item.ValueCopy(nil)
	if err != nil {
		return 0, s.ioErr("Nonce", author, err)
	}

	return decodeUint64(val), nil
}

func (s *BadgerStore) get(key []byte, dataType, id string) ([]byte, error) {
	var res []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return s.mapError(err, dataType, id)
		}
		res, err = item.ValueCopy(nil)
		return err
	})
	return res, err
}

func (s *BadgerStore) has(key []byte, dataType, id string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	if err == nil {
		return true, nil
	}
	if isDBKeyNotFound(err) {
		return false, nil
	}
	return false, s.ioErr(dataType, id, err)
}

func (s *BadgerStore) putCounted(key []byte, dataType, id string, data []byte) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	if _, err := tx.Get(key); err == nil {
		return nil
	} else if !isDBKeyNotFound(err) {
		return s.ioErr(dataType, id, err)
	}

	used := s.used + uint64(len(data))
	if s.quota > 0 && used > s.quota {
		return cm.NewStoreErr(dataType, cm.QuotaExceeded, id)
	}

	if err := tx.Set(key, data); err != nil {
		return s.ioErr(dataType, id, err)
	}
	if err := tx.Set([]byte(usedKey), encodeUint64(used)); err != nil {
		return s.ioErr(dataType, id, err)
	}
	if err := tx.Commit(); err != nil {
		return s.ioErr(dataType, id, err)
	}

	atomic.StoreUint64(&s.used, used)

	return nil
}

func (s *BadgerStore) deleteCounted(key []byte, dataType, id string) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	item, err := tx.Get(key)
	if err != nil {
		return s.mapError(err, dataType, id)
	}

	size := uint64(item.ValueSize())
	used := s.used
	if size > used {
		used = 0
	} else {
		used -= size
	}

	if err := tx.Delete(key); err != nil {
		return s.ioErr(dataType, id, err)
	}
	if err := tx.Set([]byte(usedKey), encodeUint64(used)); err != nil {
		return s.ioErr(dataType, id, err)
	}
	if err := tx.Commit(); err != nil {
		return s.ioErr(dataType, id, err)
	}

	atomic.StoreUint64(&s.used, used)

	return nil
}

func (s *BadgerStore) scanKeys(prefix []byte, f func(key []byte)) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			f(it.Item().KeyCopy(nil))
		}
		return nil
	})
}

func (s *BadgerStore) listSuffixes(prefix []byte) ([]string, error) {
	res := []string{}
	err := s.scanKeys(prefix, func(key []byte) {
		res = append(res, string(key[len(prefix):]))
	})
	return res, err
}

func (s *BadgerStore) mapError(err error, dataType, key string) error {
	if isDBKeyNotFound(err) {
		return cm.NewStoreErr(dataType, cm.KeyNotFound, key)
	}
	return s.ioErr(dataType, key, err)
}

func (s *BadgerStore) ioErr(dataType, key string, err error) error {
	s.logger.WithError(err).WithFields(logrus.Fields{
		"type": dataType,
		"key":  key,
	}).Error("Storage IO error")
	return cm.NewStoreErr(dataType, cm.IOError, key)
}

func isDBKeyNotFound(err error) bool {
	return err == badger.ErrKeyNotFound
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeUint64(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func mergeInts(a, b []int) []int {
	set := make(map[int]bool, len(a)+len(b))
	for _, v := range a {
		set[v] = true
	}
	for _, v := range b {
		set[v] = true
	}
	res := make([]int, 0, len(set))
	for v := range set {
		res = append(res, v)
	}
	sort.Ints(res)
	return res
}
