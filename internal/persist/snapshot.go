package persist

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"goflare.io/larder/pkg/serialization"
)

// Snapshot is the persisted form of one cache.
type Snapshot struct {
	SchemaVersion string   `json:"schemaVersion"`
	SavedAt       int64    `json:"savedAt"`
	Entries       []Record `json:"entries"`
}

// Record is one [key, entry] pair of a snapshot.
type Record struct {
	Key   string
	Entry RecordEntry
}

// RecordEntry is the persisted form of a cache entry. Exactly one of Data
// and Compressed is set.
type RecordEntry struct {
	Data       json.RawMessage `json:"data,omitempty"`
	Compressed []byte          `json:"compressed,omitempty"`
	CreatedAt  int64           `json:"createdAt"`
	TTL        int64           `json:"ttl"`
	Version    string          `json:"version"`
	Tags       []string        `json:"tags,omitempty"`
	Size       int64           `json:"size"`
}

// MarshalJSON writes the record as a two element array.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{r.Key, r.Entry})
}

// UnmarshalJSON reads a two element [key, entry] array.
func (r *Record) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("snapshot record has %d elements, want 2", len(pair))
	}
	if err := json.Unmarshal(pair[0], &r.Key); err != nil {
		return fmt.Errorf("snapshot record key: %w", err)
	}
	if err := json.Unmarshal(pair[1], &r.Entry); err != nil {
		return fmt.Errorf("snapshot record %q: %w", r.Key, err)
	}
	return nil
}

// CreatedTime returns the entry write time.
func (e RecordEntry) CreatedTime() time.Time {
	return time.UnixMilli(e.CreatedAt)
}

// TTLDuration returns the entry time-to-live.
func (e RecordEntry) TTLDuration() time.Duration {
	return time.Duration(e.TTL) * time.Millisecond
}

// Expired reports whether the entry outlived its TTL at now.
func (e RecordEntry) Expired(now time.Time) bool {
	return now.Sub(e.CreatedTime()) > e.TTLDuration()
}

var snapshotCodec = serialization.Codec{
	Type:    serialization.JSONType,
	Encoder: serialization.JSONEncoder,
	Decoder: serialization.JSONDecoder,
}

// EncodeSnapshot renders s as the persisted JSON blob.
func EncodeSnapshot(s Snapshot) (string, error) {
	data, err := snapshotCodec.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

// DecodeSnapshot parses a persisted JSON blob.
func DecodeSnapshot(blob string) (Snapshot, error) {
	var s Snapshot
	if err := snapshotCodec.Unmarshal([]byte(blob), &s); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if s.SchemaVersion == "" {
		return Snapshot{}, fmt.Errorf("%w: missing schema version", ErrCorrupt)
	}
	return s, nil
}
