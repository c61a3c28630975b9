package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"eavstore/pkg/logger"
)

// compressionAlgo marks how a file payload is encoded on disk.
type compressionAlgo string

const (
	compressionNone compressionAlgo = "none"
	compressionZstd compressionAlgo = "zstd"
)

// compressThreshold: payloads above this size are zstd-compressed.
const compressThreshold = 10 * 1024

// fileEnvelope is the on-disk record format.
type fileEnvelope struct {
	Key       string          `json:"key"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at,omitempty"`
	Algo      compressionAlgo `json:"algo"`
	Payload   []byte          `json:"payload"`
}

// FileTier is the persistent, cross-process tier (L3, and the optional L4
// file driver). Payloads live as one file per key under a base directory.
// A payload that fails to deserialize is removed and reported as a miss,
// never as an error.
type FileTier struct {
	dir     string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewFileTier creates the tier, ensuring the base directory exists.
func NewFileTier(dir string) (*FileTier, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &FileTier{dir: dir, encoder: encoder, decoder: decoder}, nil
}

// fileName maps a cache key to a filesystem-safe name. The sanitizer is a
// per-character mapping, so key prefixes stay filename prefixes; the hash
// suffix disambiguates keys that sanitize identically.
func (t *FileTier) fileName(key string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return sanitizeKey(key) + "-" + fmt.Sprintf("%08x", h.Sum32()) + ".cache"
}

func sanitizeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func (t *FileTier) Get(ctx context.Context, key string) ([]byte, bool) {
	path := filepath.Join(t.dir, t.fileName(key))
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	var envelope fileEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		// Corrupted payload: drop the stale file and treat as a miss.
		logger.Warn(ctx, "removing corrupted cache file", "key", key, "error", err)
		_ = os.Remove(path)
		return nil, false
	}

	if !envelope.ExpiresAt.IsZero() && time.Now().After(envelope.ExpiresAt) {
		_ = os.Remove(path)
		return nil, false
	}

	payload := envelope.Payload
	if envelope.Algo == compressionZstd {
		payload, err = t.decoder.DecodeAll(envelope.Payload, nil)
		if err != nil {
			logger.Warn(ctx, "removing undecodable cache file", "key", key, "error", err)
			_ = os.Remove(path)
			return nil, false
		}
	}
	return payload, true
}

func (t *FileTier) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) {
	now := time.Now()
	envelope := fileEnvelope{
		Key:       key,
		CreatedAt: now,
		Algo:      compressionNone,
		Payload:   payload,
	}
	if ttl > 0 {
		envelope.ExpiresAt = now.Add(ttl)
	}
	if len(payload) > compressThreshold {
		envelope.Algo = compressionZstd
		envelope.Payload = t.encoder.EncodeAll(payload, nil)
	}

	raw, err := json.Marshal(envelope)
	if err != nil {
		logger.Warn(ctx, "cache file encode failed", "key", key, "error", err)
		return
	}

	path := filepath.Join(t.dir, t.fileName(key))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		logger.Warn(ctx, "cache file write failed", "key", key, "error", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		logger.Warn(ctx, "cache file rename failed", "key", key, "error", err)
		_ = os.Remove(tmp)
	}
}

func (t *FileTier) Delete(ctx context.Context, key string) {
	_ = os.Remove(filepath.Join(t.dir, t.fileName(key)))
}

func (t *FileTier) Has(ctx context.Context, key string) bool {
	_, ok := t.Get(ctx, key)
	return ok
}

func (t *FileTier) Clear(ctx context.Context) {
	t.removeMatching(ctx, func(string) bool { return true })
}

func (t *FileTier) ClearPrefix(ctx context.Context, prefix string) {
	want := sanitizeKey(prefix)
	t.removeMatching(ctx, func(name string) bool {
		return strings.HasPrefix(name, want)
	})
}

func (t *FileTier) removeMatching(ctx context.Context, match func(name string) bool) {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		logger.Warn(ctx, "cache dir scan failed", "dir", t.dir, "error", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".cache") {
			continue
		}
		if match(entry.Name()) {
			_ = os.Remove(filepath.Join(t.dir, entry.Name()))
		}
	}
}

// Close releases the zstd encoder/decoder.
func (t *FileTier) Close() {
	t.encoder.Close()
	t.decoder.Close()
}
