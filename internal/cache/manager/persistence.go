package manager

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"goflare.io/larder/internal/models"
	"goflare.io/larder/internal/persist"
)

// Flush writes the snapshot of every entry to the configured store. Without
// persistence it does nothing. Failures are logged and returned; the cache
// keeps working either way.
func (m *Manager[V]) Flush(ctx context.Context) error {
	if !m.config.Persistent() {
		return nil
	}

	ctx, span := m.tracer.Start(ctx, "larder.Flush")
	defer span.End()
	span.SetAttributes(attribute.String("cache", m.Name()))

	snapshot, err := m.snapshot()
	if err != nil {
		return m.flushFailed(span, err)
	}

	blob, err := persist.EncodeSnapshot(snapshot)
	if err != nil {
		return m.flushFailed(span, err)
	}

	if err := m.config.Store.Write(ctx, m.config.PersistenceKey, blob); err != nil {
		return m.flushFailed(span, fmt.Errorf("write snapshot: %w", err))
	}

	span.SetAttributes(attribute.Int("entries", len(snapshot.Entries)))
	m.logger.Debug("Flushed cache snapshot", zap.Int("entries", len(snapshot.Entries)), zap.Int("bytes", len(blob)))
	return nil
}

func (m *Manager[V]) flushFailed(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	m.logger.Warn("Failed to persist cache", zap.Error(err))
	return err
}

func (m *Manager[V]) snapshot() (persist.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ordered := m.byWriteOrder()
	records := make([]persist.Record, 0, len(ordered))
	for _, entry := range ordered {
		rec := persist.RecordEntry{
			CreatedAt: entry.CreatedAt.UnixMilli(),
			TTL:       entry.TTL.Milliseconds(),
			Version:   entry.Version,
			Tags:      entry.Tags,
			Size:      entry.Size,
		}
		if entry.Payload.IsCompressed() {
			rec.Compressed = entry.Payload.Compressed
		} else {
			data, err := json.Marshal(entry.Payload.Raw)
			if err != nil {
				return persist.Snapshot{}, fmt.Errorf("encode entry %q: %w", entry.Key, err)
			}
			rec.Data = data
		}
		records = append(records, persist.Record{Key: entry.Key, Entry: rec})
	}

	return persist.Snapshot{
		SchemaVersion: m.config.SchemaVersion,
		SavedAt:       m.clock.Now().UnixMilli(),
		Entries:       records,
	}, nil
}

// load restores the persisted snapshot. A snapshot from another schema
// version is ignored, a corrupt one is removed. Expired records are
// dropped, records from another version are kept and fall out on access.
func (m *Manager[V]) load(ctx context.Context) {
	ctx, span := m.tracer.Start(ctx, "larder.Load")
	defer span.End()
	span.SetAttributes(attribute.String("cache", m.Name()))

	store, key := m.config.Store, m.config.PersistenceKey

	blob, found, err := store.Read(ctx, key)
	if err != nil {
		// The store may only be unreachable; keep its snapshot for the next start.
		span.RecordError(err)
		m.logger.Warn("Failed to read persisted cache, starting empty", zap.Error(err))
		return
	}
	if !found {
		return
	}

	snapshot, err := persist.DecodeSnapshot(blob)
	if err != nil {
		span.RecordError(err)
		m.logger.Warn("Persisted cache is corrupt, discarding", zap.Error(err))
		m.discard(ctx)
		return
	}

	if snapshot.SchemaVersion != m.config.SchemaVersion {
		m.logger.Info("Ignoring persisted cache from another schema version",
			zap.String("persisted", snapshot.SchemaVersion),
			zap.String("current", m.config.SchemaVersion))
		return
	}

	now := m.clock.Now()
	loaded := 0

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range snapshot.Entries {
		if rec.Entry.Expired(now) {
			continue
		}
		entry, err := m.restore(rec)
		if err != nil {
			m.logger.Warn("Skipping persisted entry", zap.String("key", rec.Key), zap.Error(err))
			continue
		}
		m.admit(entry)
		loaded++
	}

	span.SetAttributes(attribute.Int("entries", loaded))
	m.logger.Info("Loaded persisted cache", zap.Int("entries", loaded))
}

func (m *Manager[V]) restore(rec persist.Record) (*models.Entry[V], error) {
	entry := &models.Entry[V]{
		Key:       rec.Key,
		CreatedAt: rec.Entry.CreatedTime(),
		TTL:       rec.Entry.TTLDuration(),
		Version:   rec.Entry.Version,
		Tags:      rec.Entry.Tags,
		Size:      rec.Entry.Size,
	}

	if rec.Entry.Compressed != nil {
		if _, isString := any("").(V); !isString {
			return nil, models.ErrNotCompressible
		}
		entry.Payload = models.CompressedPayload[V](rec.Entry.Compressed)
		return entry, nil
	}

	var v V
	if err := json.Unmarshal(rec.Entry.Data, &v); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	entry.Payload = models.RawPayload(v)
	return entry, nil
}

func (m *Manager[V]) discard(ctx context.Context) {
	if err := m.config.Store.Remove(ctx, m.config.PersistenceKey); err != nil {
		m.logger.Warn("Failed to remove persisted cache", zap.Error(err))
	}
}
