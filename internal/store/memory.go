package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store with the same semantics as the Redis
// implementation: merge-writes at field granularity, server-assigned
// timestamps on Add, and push delivery in per-path write order. It backs the
// test suite and the standalone device simulator.
type MemoryStore struct {
	mu          sync.Mutex
	docs        map[string]Doc
	collections map[string][]colEntry
	docSubs     map[string][]*DocSub
	querySubs   map[string][]*queryWatch
	writes      []WriteOp
	seq         int64
	closed      bool
}

type colEntry struct {
	id  string
	ts  time.Time
	seq int64
}

type queryWatch struct {
	sub   *QuerySub
	limit int
}

// WriteOp records one mutation, in order, for assertions on write sequencing.
type WriteOp struct {
	Kind string // "set", "merge", "add"
	Path string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:        make(map[string]Doc),
		collections: make(map[string][]colEntry),
		docSubs:     make(map[string][]*DocSub),
		querySubs:   make(map[string][]*queryWatch),
	}
}

func (m *MemoryStore) Set(ctx context.Context, path string, doc Doc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[path] = copyDoc(doc)
	m.writes = append(m.writes, WriteOp{Kind: "set", Path: path})
	m.notifyLocked(path)
	return nil
}

func (m *MemoryStore) Merge(ctx context.Context, path string, doc Doc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.docs[path]
	if !ok {
		existing = Doc{}
	}
	for k, v := range doc {
		existing[k] = v
	}
	m.docs[path] = existing
	m.writes = append(m.writes, WriteOp{Kind: "merge", Path: path})
	m.notifyLocked(path)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, path string) (Doc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[path]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDoc(doc), nil
}

func (m *MemoryStore) Add(ctx context.Context, collection string, doc Doc) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	d := copyDoc(doc)
	now := time.Now()
	if _, ok := d["timestamp"]; !ok {
		d["timestamp"] = Timestamp(now)
	}
	path := collection + "/" + id
	m.docs[path] = d
	m.seq++
	m.collections[collection] = append(m.collections[collection], colEntry{id: id, ts: now, seq: m.seq})
	m.writes = append(m.writes, WriteOp{Kind: "add", Path: path})
	m.notifyQueryLocked(collection)
	return id, nil
}

func (m *MemoryStore) WatchDoc(ctx context.Context, path string) (*DocSub, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sub *DocSub
	sub = newDocSub(func() { m.dropDocSub(path, sub) })
	m.docSubs[path] = append(m.docSubs[path], sub)
	if doc, ok := m.docs[path]; ok {
		sub.deliver(copyDoc(doc))
	}
	return sub, nil
}

func (m *MemoryStore) WatchQuery(ctx context.Context, collection string, limit int) (*QuerySub, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sub *QuerySub
	sub = newQuerySub(func() { m.dropQuerySub(collection, sub) })
	m.querySubs[collection] = append(m.querySubs[collection], &queryWatch{sub: sub, limit: limit})
	ids, docs := m.snapshotLocked(collection, limit)
	sub.deliver(ids, docs)
	return sub, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	docSubs := m.docSubs
	querySubs := m.querySubs
	m.docSubs = make(map[string][]*DocSub)
	m.querySubs = make(map[string][]*queryWatch)
	m.closed = true
	m.mu.Unlock()

	for _, subs := range docSubs {
		for _, s := range subs {
			s.Unsubscribe()
		}
	}
	for _, watches := range querySubs {
		for _, w := range watches {
			w.sub.Unsubscribe()
		}
	}
	return nil
}

// Writes returns the mutation log in order. Test helper.
func (m *MemoryStore) Writes() []WriteOp {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]WriteOp, len(m.writes))
	copy(out, m.writes)
	return out
}

// notifyLocked pushes the doc to its watchers and, when the path sits inside
// a watched collection (e.g. an ack merged onto a command), refreshes those
// query watchers too.
func (m *MemoryStore) notifyLocked(path string) {
	doc := m.docs[path]
	for _, sub := range m.docSubs[path] {
		sub.deliver(copyDoc(doc))
	}
	if i := strings.LastIndex(path, "/"); i > 0 {
		collection, id := path[:i], path[i+1:]
		for _, e := range m.collections[collection] {
			if e.id == id {
				m.notifyQueryLocked(collection)
				break
			}
		}
	}
}

func (m *MemoryStore) notifyQueryLocked(collection string) {
	for _, w := range m.querySubs[collection] {
		ids, docs := m.snapshotLocked(collection, w.limit)
		w.sub.deliver(ids, docs)
	}
}

// snapshotLocked returns the collection ordered most-recent-first, capped at
// limit.
func (m *MemoryStore) snapshotLocked(collection string, limit int) ([]string, []Doc) {
	entries := make([]colEntry, len(m.collections[collection]))
	copy(entries, m.collections[collection])
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].ts.Equal(entries[j].ts) {
			return entries[i].ts.After(entries[j].ts)
		}
		return entries[i].seq > entries[j].seq
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	ids := make([]string, 0, len(entries))
	docs := make([]Doc, 0, len(entries))
	for _, e := range entries {
		doc := copyDoc(m.docs[collection+"/"+e.id])
		doc[DocIDField] = e.id
		ids = append(ids, e.id)
		docs = append(docs, doc)
	}
	return ids, docs
}

func (m *MemoryStore) dropDocSub(path string, sub *DocSub) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.docSubs[path]
	for i, s := range subs {
		if s == sub {
			m.docSubs[path] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

func (m *MemoryStore) dropQuerySub(collection string, sub *QuerySub) {
	m.mu.Lock()
	defer m.mu.Unlock()
	watches := m.querySubs[collection]
	for i, w := range watches {
		if w.sub == sub {
			m.querySubs[collection] = append(watches[:i], watches[i+1:]...)
			return
		}
	}
}

func copyDoc(d Doc) Doc {
	out := make(Doc, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
