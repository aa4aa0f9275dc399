package searchindex

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cloud10922/zkim/internal/blobstore"
	"github.com/cloud10922/zkim/internal/envelope"
	"github.com/sirupsen/logrus"
)

// Well-known local key/value fallback keys, per §6.
const (
	localKVFileIndexKey     = "zkim-file-index"
	localKVFileIndexZkimKey = "zkim-file-index-zkim"
)

// persister implements §4.3.9: serialize the file-index map, hand it to
// the envelope engine as the plaintext content of a ZKIM file keyed by a
// well-known per-user objectId, with a local JSON fallback when no
// envelope engine (and hence no blob store) is wired in.
type persister struct {
	engine       *envelope.Engine
	localKV      blobstore.Store
	userID       string
	objectID     string
	platformKey  []byte
	userKey      []byte
	log          *logrus.Entry
}

func newPersister(engine *envelope.Engine, localKV blobstore.Store, userID, objectID string, platformKey, userKey []byte, log *logrus.Entry) *persister {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &persister{
		engine:      engine,
		localKV:     localKV,
		userID:      userID,
		objectID:    objectID,
		platformKey: platformKey,
		userKey:     userKey,
		log:         log.WithField("component", "searchindex-persist"),
	}
}

// serializableEntry mirrors FileIndexEntry for stable JSON encoding.
type serializableEntry struct {
	FileID       string              `json:"fileId"`
	ObjectID     string              `json:"objectId"`
	UserID       string              `json:"userId"`
	Metadata     envelope.Metadata   `json:"metadata"`
	Trapdoors    []*Trapdoor         `json:"trapdoors"`
	IndexedAt    int64               `json:"indexedAt"`
	LastAccessed int64               `json:"lastAccessed"`
}

func marshalFileIndex(fileIndex map[string]*FileIndexEntry) ([]byte, error) {
	ids := make([]string, 0, len(fileIndex))
	for id := range fileIndex {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	entries := make([]serializableEntry, 0, len(ids))
	for _, id := range ids {
		e := fileIndex[id]
		entries = append(entries, serializableEntry{
			FileID: e.FileID, ObjectID: e.ObjectID, UserID: e.UserID,
			Metadata: e.Metadata, Trapdoors: e.Trapdoors,
			IndexedAt: e.IndexedAt, LastAccessed: e.LastAccessed,
		})
	}
	return json.Marshal(entries)
}

func unmarshalFileIndex(data []byte) (map[string]*FileIndexEntry, error) {
	var entries []serializableEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	out := make(map[string]*FileIndexEntry, len(entries))
	for _, e := range entries {
		out[e.FileID] = &FileIndexEntry{
			FileID: e.FileID, ObjectID: e.ObjectID, UserID: e.UserID,
			Metadata: e.Metadata, Trapdoors: e.Trapdoors,
			IndexedAt: e.IndexedAt, LastAccessed: e.LastAccessed,
		}
	}
	return out, nil
}

// Save persists fileIndex. If no envelope engine is wired in, it skips
// silently (logged at debug) unless a local KV fallback is configured.
func (p *persister) Save(ctx context.Context, fileIndex map[string]*FileIndexEntry) error {
	data, err := marshalFileIndex(fileIndex)
	if err != nil {
		return fmt.Errorf("searchindex: marshal file index: %w", err)
	}

	if p.engine == nil {
		if p.localKV == nil {
			p.log.Debug("no envelope engine wired in, skipping persist")
			return nil
		}
		return p.localKV.Put(ctx, localKVFileIndexKey, data)
	}

	file, objectID, err := p.engine.CreateZkimFile(ctx, data, p.userID, "local", p.platformKey, p.userKey, envelope.Metadata{
		FileName: "zkim-file-index",
		MimeType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("searchindex: persist file index: %w", err)
	}
	_ = file

	if p.localKV != nil {
		if err := p.localKV.Put(ctx, localKVFileIndexZkimKey, []byte(objectID)); err != nil {
			p.log.WithError(err).Debug("failed to record index object id pointer")
		}
	}
	return nil
}

// Load attempts a ZKIM-backed load first, falling back to the local JSON
// KV store on miss or failure, per §4.3.9. On parse failure it returns an
// empty index and logs a warning rather than failing initialize.
func (p *persister) Load(ctx context.Context) map[string]*FileIndexEntry {
	if p.engine != nil {
		if fileIndex, ok := p.loadFromEnvelope(ctx); ok {
			return fileIndex
		}
	}
	if p.localKV != nil {
		if fileIndex, ok := p.loadFromLocalKV(ctx); ok {
			return fileIndex
		}
	}
	return make(map[string]*FileIndexEntry)
}

func (p *persister) loadFromEnvelope(ctx context.Context) (map[string]*FileIndexEntry, bool) {
	file, err := p.engine.GetZkimFile(ctx, p.objectID)
	if err != nil {
		p.log.WithError(err).Debug("zkim-backed index load miss")
		return nil, false
	}
	data, err := p.engine.DecryptZkimFile(file, p.userID, p.userKey)
	if err != nil {
		p.log.WithError(err).Warn("zkim-backed index load failed")
		return nil, false
	}
	fileIndex, err := unmarshalFileIndex(data)
	if err != nil {
		p.log.WithError(err).Warn("zkim-backed index parse failed")
		return nil, false
	}
	return fileIndex, true
}

func (p *persister) loadFromLocalKV(ctx context.Context) (map[string]*FileIndexEntry, bool) {
	data, err := p.localKV.Get(ctx, localKVFileIndexKey)
	if err != nil {
		return nil, false
	}
	fileIndex, err := unmarshalFileIndex(data)
	if err != nil {
		p.log.WithError(err).Warn("local fallback index parse failed")
		return nil, false
	}
	return fileIndex, true
}
