package preparse

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/cohortql/cohortql/internal/errors"
	"github.com/cohortql/cohortql/internal/intent"
)

// persistedEntry is one cache record in recency order, oldest first.
// The intention travels in its response-payload shape so it can be
// rebuilt through the same path as a live LLM response.
type persistedEntry struct {
	Key       string         `msgpack:"key"`
	Intention map[string]any `msgpack:"intention"`
}

// SaveToFile persists the cache as a zstd-compressed msgpack blob with
// keys cache, usage and max_size. This is the only durable state in the
// core.
func (p *Preparser) SaveToFile(path string) error {
	p.mu.Lock()
	records := make([]persistedEntry, 0, len(p.entries))
	usage := make(map[string]int, len(p.entries))
	for _, e := range p.entries {
		records = append(records, persistedEntry{Key: e.key, Intention: e.intention.ToResponse()})
		usage[e.key] = e.usage
	}
	maxSize := p.maxSize
	p.mu.Unlock()

	blob, err := msgpack.Marshal(map[string]any{
		"cache":    records,
		"usage":    usage,
		"max_size": maxSize,
	})
	if err != nil {
		return fmt.Errorf("encoding cache: %w", err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("creating zstd encoder: %w", err)
	}
	compressed := encoder.EncodeAll(blob, make([]byte, 0, len(blob)/2))
	encoder.Close()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating cache directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, compressed, 0o644); err != nil {
		return fmt.Errorf("writing cache file %s: %w", path, err)
	}

	p.logger.Info("cache saved", zap.String("path", path), zap.Int("entries", len(records)))
	return nil
}

// LoadFromFile restores a persisted cache. A missing file leaves the
// cache empty; a corrupt blob or one missing any of the three required
// keys returns ErrCacheCorrupt, fatal to cache startup only.
func (p *Preparser) LoadFromFile(path string) error {
	compressed, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		p.logger.Info("no cache file found, starting empty", zap.String("path", path))
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading cache file %s: %w", path, err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer decoder.Close()
	blob, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return fmt.Errorf("%w: decompressing %s: %v", errors.ErrCacheCorrupt, path, err)
	}

	var raw map[string]msgpack.RawMessage
	if err := msgpack.Unmarshal(blob, &raw); err != nil {
		return fmt.Errorf("%w: decoding %s: %v", errors.ErrCacheCorrupt, path, err)
	}
	for _, key := range []string{"cache", "usage", "max_size"} {
		if _, ok := raw[key]; !ok {
			return fmt.Errorf("%w: %s is missing key %q", errors.ErrCacheCorrupt, path, key)
		}
	}

	var records []persistedEntry
	if err := msgpack.Unmarshal(raw["cache"], &records); err != nil {
		return fmt.Errorf("%w: decoding cache entries: %v", errors.ErrCacheCorrupt, err)
	}
	var usage map[string]int
	if err := msgpack.Unmarshal(raw["usage"], &usage); err != nil {
		return fmt.Errorf("%w: decoding usage counts: %v", errors.ErrCacheCorrupt, err)
	}
	var maxSize int
	if err := msgpack.Unmarshal(raw["max_size"], &maxSize); err != nil {
		return fmt.Errorf("%w: decoding max_size: %v", errors.ErrCacheCorrupt, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if maxSize > 0 {
		p.maxSize = maxSize
	}
	p.entries = nil
	p.index = make(map[string]*entry, len(records))
	for _, record := range records {
		if len(p.entries) >= p.maxSize {
			break
		}
		in := intent.FromResponse(record.Intention, p.logger)
		count := usage[record.Key]
		if count < 1 {
			count = 1
		}
		e := &entry{key: record.Key, intention: in, usage: count}
		p.entries = append(p.entries, e)
		p.index[record.Key] = e
	}

	p.logger.Info("cache loaded", zap.String("path", path), zap.Int("entries", len(p.entries)))
	return nil
}
