package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/aerolithdb/pkg/aerolitherrors"
	"github.com/cuemby/aerolithdb/pkg/codec"
	"github.com/cuemby/aerolithdb/pkg/log"
	"github.com/cuemby/aerolithdb/pkg/metrics"
	"github.com/cuemby/aerolithdb/pkg/vectorclock"
)

// EngineConfig configures a Engine's tiers and background migration task.
type EngineConfig struct {
	// PeerID identifies the local peer; recorded in vector clock increments.
	PeerID string
	// DataDir is the directory the bolt-backed tiers create their database
	// files under.
	DataDir string

	HotMaxBytes int64
	HotTTL      time.Duration

	// ColdAfter is how long a document sits untouched in Warm before the
	// migration task considers it cold (affects AuthoritativeTier bookkeeping
	// only; Cold in this single-node engine shares storage with Warm's
	// durability class, distributed placement is the sharding layer's job).
	ColdAfter time.Duration
	// ArchiveAfter is how long a document sits in Cold before it is migrated
	// to Archive (compressed, bulk storage).
	ArchiveAfter time.Duration
	// MigrationInterval is how often the background migration task runs.
	// Defaults to 5 minutes per §4.2.
	MigrationInterval time.Duration
}

// Engine composes the four storage tiers and the metadata index behind the
// uniform put/get/delete/list surface (§4.2).
type Engine struct {
	cfg EngineConfig
	log zerolog.Logger

	hot     *HotTier
	warm    *BoltTier
	cold    *BoltTier
	archive *BoltTier
	index   *MetadataIndex

	shardLocks   sync.Mutex
	perShardLock map[string]*sync.Mutex

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewEngine opens (creating if needed) the tier databases under
// cfg.DataDir and starts the background migration task.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.MigrationInterval <= 0 {
		cfg.MigrationInterval = 5 * time.Minute
	}
	if cfg.ColdAfter <= 0 {
		cfg.ColdAfter = 0 // 0 leaves Warm->Cold demotion off (runMigration requires ColdAfter > 0)
	}
	if cfg.ArchiveAfter <= 0 {
		cfg.ArchiveAfter = 30 * 24 * time.Hour
	}

	warm, err := NewBoltTier(TierWarm, cfg.DataDir)
	if err != nil {
		return nil, err
	}
	cold, err := NewBoltTier(TierCold, cfg.DataDir)
	if err != nil {
		warm.Close()
		return nil, err
	}
	archive, err := NewBoltTier(TierArchive, cfg.DataDir)
	if err != nil {
		warm.Close()
		cold.Close()
		return nil, err
	}

	e := &Engine{
		cfg:          cfg,
		log:          log.WithComponent("storage.engine"),
		hot:          NewHotTier(cfg.HotMaxBytes, cfg.HotTTL),
		warm:         warm,
		cold:         cold,
		archive:      archive,
		index:        NewMetadataIndex(),
		perShardLock: make(map[string]*sync.Mutex),
		stopCh:       make(chan struct{}),
	}

	e.wg.Add(1)
	go e.migrationLoop()

	return e, nil
}

func (e *Engine) lockFor(shardID string) *sync.Mutex {
	e.shardLocks.Lock()
	defer e.shardLocks.Unlock()
	l, ok := e.perShardLock[shardID]
	if !ok {
		l = &sync.Mutex{}
		e.perShardLock[shardID] = l
	}
	return l
}

// Put writes a new version of (collection, docID) synchronously to Hot and
// asynchronously fans out to Warm. Archive is never written on the write
// path (§4.2). The caller-supplied clock is incremented for the local peer
// before being recorded.
func (e *Engine) Put(ctx context.Context, collection, docID, shardID string, replicaSet []string, clock *vectorclock.Clock, payload []byte) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StorageOpDuration, "put")

	lock := e.lockFor(shardID)
	lock.Lock()
	defer lock.Unlock()

	if clock == nil {
		clock = vectorclock.New()
	}
	clock.Increment(e.cfg.PeerID)

	encoded := codec.Encode(payload, codec.HintDefault)
	key := storageKey(collection, docID)
	if err := e.hot.Put(shardID, key, encoded); err != nil {
		return aerolitherrors.Wrap(aerolitherrors.KindInternal, "hot tier put", err)
	}

	existing, hadExisting := e.index.Get(collection, docID)
	version := uint64(1)
	createdAt := time.Now()
	if hadExisting {
		version = existing.Version + 1
		createdAt = existing.CreatedAt
	}

	meta := Metadata{
		Collection:        collection,
		DocID:             docID,
		Version:           version,
		CreatedAt:         createdAt,
		UpdatedAt:         time.Now(),
		Checksum:          codec.Checksum(payload),
		AuthoritativeTier: TierHot,
		ShardID:           shardID,
		ReplicaSet:        replicaSet,
		Clock:             clock.Clone(),
	}
	e.index.Put(meta)

	e.wg.Add(1)
	go e.fanoutWarm(shardID, key, encoded)

	return nil
}

// fanoutWarm durably persists the encoded payload to Warm, retrying with
// exponential backoff on failure. Per §4.2, fanout failure does not fail the
// original write — durability for the commit itself comes from the
// consensus-committed log on replica peers, not from this local copy.
func (e *Engine) fanoutWarm(shardID, key string, encoded []byte) {
	defer e.wg.Done()

	backoff := 50 * time.Millisecond
	const maxAttempts = 5
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := e.warm.Put(shardID, key, encoded); err == nil {
			return
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	e.log.Warn().Str("shard", shardID).Str("key", key).Msg("warm tier fanout exhausted retries; durability degraded to consensus-committed replicas")
}

// Get probes Hot, Warm, Cold, then Archive in order, promoting to Hot on a
// hit below it. Returns a not-found error if the document (or its tombstone)
// is not present in any tier.
func (e *Engine) Get(ctx context.Context, collection, docID string) ([]byte, Metadata, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StorageOpDuration, "get")

	meta, ok := e.index.Get(collection, docID)
	if !ok {
		metrics.StorageTierMissesTotal.WithLabelValues("index").Inc()
		return nil, Metadata{}, aerolitherrors.NotFound("document %s/%s not found", collection, docID)
	}
	if meta.Tombstone {
		return nil, meta, aerolitherrors.NotFound("document %s/%s was deleted", collection, docID)
	}

	key := storageKey(collection, docID)
	for _, tier := range orderedTiers {
		t := e.tierFor(tier)
		encoded, found, err := t.Get(meta.ShardID, key)
		if err != nil {
			return nil, meta, aerolitherrors.Wrap(aerolitherrors.KindInternal, "tier get", err)
		}
		if !found {
			metrics.StorageTierMissesTotal.WithLabelValues(tier.String()).Inc()
			continue
		}
		metrics.StorageTierHitsTotal.WithLabelValues(tier.String()).Inc()

		payload, err := codec.Decode(encoded)
		if err != nil {
			repaired, rerr := e.repair(tier, meta, key)
			if rerr != nil {
				return nil, meta, rerr
			}
			payload = repaired
		} else if verr := codec.VerifyChecksum(payload, meta.Checksum); verr != nil {
			repaired, rerr := e.repair(tier, meta, key)
			if rerr != nil {
				return nil, meta, rerr
			}
			payload = repaired
		}

		if tier != TierHot {
			if perr := e.hot.Put(meta.ShardID, key, codec.Encode(payload, codec.HintDefault)); perr != nil {
				e.log.Warn().Err(perr).Str("key", key).Msg("promotion to hot tier failed")
			}
		}
		return payload, meta, nil
	}

	return nil, meta, aerolitherrors.Corruption("document %s/%s present in index but absent from every tier", collection, docID)
}

// repair attempts to recover a clean copy of key from a different local
// tier after a checksum mismatch in badTier, overwrites badTier with it, and
// records a corruption event. Recovery from a remote replica is the
// coordinator's responsibility, since only it holds the replica set's
// transport handles.
func (e *Engine) repair(badTier Tier, meta Metadata, key string) ([]byte, error) {
	metrics.StorageRepairsTotal.WithLabelValues(badTier.String()).Inc()
	e.log.Error().Str("tier", badTier.String()).Str("key", key).Msg("checksum mismatch, attempting local tier repair")

	for _, tier := range orderedTiers {
		if tier == badTier {
			continue
		}
		t := e.tierFor(tier)
		encoded, found, err := t.Get(meta.ShardID, key)
		if err != nil || !found {
			continue
		}
		payload, err := codec.Decode(encoded)
		if err != nil {
			continue
		}
		if codec.VerifyChecksum(payload, meta.Checksum) != nil {
			continue
		}
		if err := e.tierFor(badTier).Put(meta.ShardID, key, codec.Encode(payload, codec.HintDefault)); err != nil {
			e.log.Warn().Err(err).Msg("failed to overwrite corrupt tier copy during repair")
		}
		return payload, nil
	}

	return nil, aerolitherrors.Corruption("no clean copy of %s found on this peer to repair %s tier", key, badTier)
}

// Delete removes (collection, docID) from every tier and records a
// tombstone in the index; callers are responsible for emitting the
// tombstone through the replicated log (§4.2).
func (e *Engine) Delete(ctx context.Context, collection, docID string) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StorageOpDuration, "delete")

	meta, ok := e.index.Get(collection, docID)
	if !ok {
		return aerolitherrors.NotFound("document %s/%s not found", collection, docID)
	}

	lock := e.lockFor(meta.ShardID)
	lock.Lock()
	defer lock.Unlock()

	key := storageKey(collection, docID)
	for _, tier := range orderedTiers {
		if err := e.tierFor(tier).Delete(meta.ShardID, key); err != nil {
			e.log.Warn().Err(err).Str("tier", tier.String()).Msg("tier delete failed")
		}
	}

	meta.Tombstone = true
	meta.UpdatedAt = time.Now()
	meta.Clock.Increment(e.cfg.PeerID)
	e.index.Put(meta)
	return nil
}

// List enumerates up to limit document ids in collection, starting at
// offset, via the metadata index — tiers are never scanned (§4.2).
func (e *Engine) List(ctx context.Context, collection string, limit, offset int) ([]string, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StorageOpDuration, "list")
	return e.index.List(collection, limit, offset)
}

// Stats returns per-tier statistics for the coordinator's stats() surface.
func (e *Engine) Stats() map[Tier]TierStats {
	out := make(map[Tier]TierStats, len(orderedTiers))
	for _, tier := range orderedTiers {
		s := e.tierFor(tier).Stats()
		out[tier] = s
		metrics.StorageTierEntries.WithLabelValues(tier.String()).Set(float64(s.Entries))
		metrics.StorageTierBytes.WithLabelValues(tier.String()).Set(float64(s.Bytes))
	}
	return out
}

// Close stops the migration task and closes all bolt-backed tiers.
func (e *Engine) Close() error {
	close(e.stopCh)
	e.wg.Wait()

	var firstErr error
	for _, t := range []*BoltTier{e.warm, e.cold, e.archive} {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (e *Engine) tierFor(tier Tier) KVTier {
	switch tier {
	case TierHot:
		return e.hot
	case TierWarm:
		return e.warm
	case TierCold:
		return e.cold
	case TierArchive:
		return e.archive
	default:
		return e.hot
	}
}

// migrationLoop runs on a fixed cadence, demoting documents whose
// AuthoritativeTier is stale relative to their age: Warm entries older than
// ColdAfter move to Cold's bookkeeping, and Cold entries older than
// ArchiveAfter are recompressed with the archival codec and moved to
// Archive, removed from Cold only once the Archive write is durable (§4.2).
func (e *Engine) migrationLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.MigrationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.runMigration()
		case <-e.stopCh:
			return
		}
	}
}

func (e *Engine) runMigration() {
	now := time.Now()
	for _, meta := range e.snapshotIndex() {
		if meta.Tombstone {
			continue
		}
		age := now.Sub(meta.UpdatedAt)

		switch meta.AuthoritativeTier {
		case TierCold:
			if age < e.cfg.ArchiveAfter {
				continue
			}
			if err := e.migrateColdToArchive(meta); err != nil {
				e.log.Warn().Err(err).Str("doc", meta.DocID).Msg("cold->archive migration failed")
				continue
			}
			metrics.StorageMigrationsTotal.WithLabelValues("cold", "archive").Inc()

		case TierWarm:
			if e.cfg.ColdAfter > 0 && age >= e.cfg.ColdAfter {
				meta.AuthoritativeTier = TierCold
				e.index.Put(meta)
				metrics.StorageMigrationsTotal.WithLabelValues("warm", "cold").Inc()
			}
		}
	}
}

func (e *Engine) migrateColdToArchive(meta Metadata) error {
	lock := e.lockFor(meta.ShardID)
	lock.Lock()
	defer lock.Unlock()

	key := storageKey(meta.Collection, meta.DocID)
	encoded, found, err := e.cold.Get(meta.ShardID, key)
	if err != nil {
		return err
	}
	if !found {
		encoded, found, err = e.warm.Get(meta.ShardID, key)
		if err != nil || !found {
			return aerolitherrors.NotFound("migrateColdToArchive: %s not found in cold or warm", key)
		}
	}

	payload, err := codec.Decode(encoded)
	if err != nil {
		return aerolitherrors.Wrap(aerolitherrors.KindCorruption, "decode during archive migration", err)
	}

	archival := codec.Encode(payload, codec.HintArchival)
	if err := e.archive.Put(meta.ShardID, key, archival); err != nil {
		return aerolitherrors.Wrap(aerolitherrors.KindInternal, "archive tier put", err)
	}

	meta.AuthoritativeTier = TierArchive
	e.index.Put(meta)

	if err := e.cold.Delete(meta.ShardID, key); err != nil {
		e.log.Warn().Err(err).Str("key", key).Msg("failed to remove stale cold copy after archive migration")
	}
	return nil
}

func (e *Engine) snapshotIndex() []Metadata {
	e.index.mu.RLock()
	defer e.index.mu.RUnlock()
	out := make([]Metadata, 0, len(e.index.byKey))
	for _, m := range e.index.byKey {
		out = append(out, *m)
	}
	return out
}

// storageKey joins collection and docID into the single id component every
// KVTier implementation expects alongside a shard id.
func storageKey(collection, docID string) string {
	return collection + "\x00" + docID
}
