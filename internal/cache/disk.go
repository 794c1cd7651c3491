package cache

import (
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	indexFile = "cache.index"

	// compressThreshold is the smallest blob worth compressing.
	compressThreshold = 1024
)

// DiskStore is the persistent file tier. Each entry is one file named
// after its fingerprint; a gob index keeps content types and access data.
type DiskStore struct {
	basePath string
	capacity int64 // Maximum size in bytes, 0 for unbounded
	size     int64 // Current size on disk

	compression bool
	encoder     *zstd.Encoder
	decoder     *zstd.Decoder

	index map[Fingerprint]*diskEntry

	mu sync.RWMutex

	stats Stats
}

// diskEntry represents an entry in the disk cache index
type diskEntry struct {
	FilePath     string
	ContentType  string
	Size         int64 // Size on disk
	OriginalSize int64
	Created      time.Time
	LastAccess   time.Time
	Hits         int64
	Compressed   bool
}

// DiskOptions configures a DiskStore.
type DiskOptions struct {
	Capacity int64

	// CompressionLevel is a zstd level (1-22); 0 disables compression.
	CompressionLevel int
}

// NewDiskStore opens or creates a disk cache rooted at basePath.
func NewDiskStore(basePath string, opts DiskOptions) (*DiskStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	dc := &DiskStore{
		basePath:    basePath,
		capacity:    opts.Capacity,
		compression: opts.CompressionLevel > 0,
		index:       make(map[Fingerprint]*diskEntry),
		stats: Stats{
			Tier:     TierDisk,
			Capacity: opts.Capacity,
		},
	}

	if dc.compression {
		var err error
		dc.encoder, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(opts.CompressionLevel)))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
	}

	// Always able to read compressed entries written by an earlier run.
	var err error
	dc.decoder, err = zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	if err := dc.loadIndex(); err != nil {
		// Start empty; orphaned files are overwritten on the next Put.
		dc.index = make(map[Fingerprint]*diskEntry)
	}
	dc.calculateSize()

	return dc, nil
}

// Lookup reads an entry from disk.
func (dc *DiskStore) Lookup(_ context.Context, fp Fingerprint) (Entry, bool, error) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	dc.stats.LastAccess = time.Now()

	de, ok := dc.index[fp]
	if !ok {
		dc.stats.Misses++
		return Entry{}, false, nil
	}

	data, err := os.ReadFile(de.FilePath)
	if err != nil {
		dc.forget(fp, de)
		dc.stats.Misses++
		if errors.Is(err, os.ErrNotExist) {
			return Entry{}, false, nil
		}
		return Entry{}, false, newError("lookup", TierDisk, fp, err)
	}

	if de.Compressed {
		decompressed, err := dc.decoder.DecodeAll(data, nil)
		if err != nil {
			_ = os.Remove(de.FilePath)
			dc.forget(fp, de)
			dc.stats.Misses++
			return Entry{}, false, newError("lookup", TierDisk, fp, fmt.Errorf("%w: %v", ErrCacheCorrupted, err))
		}
		data = decompressed
	}

	de.LastAccess = time.Now()
	de.Hits++
	dc.stats.Hits++

	return Entry{Audio: data, ContentType: de.ContentType, Created: de.Created}, true, nil
}

// Put writes an entry to disk. Existing fingerprints are left untouched.
func (dc *DiskStore) Put(_ context.Context, fp Fingerprint, e Entry) error {
	if len(e.Audio) == 0 {
		return ErrEmptyAudio
	}

	dc.mu.Lock()
	defer dc.mu.Unlock()

	if _, ok := dc.index[fp]; ok {
		return nil
	}

	data := e.Audio
	compressed := false
	if dc.compression && len(data) > compressThreshold {
		if c := dc.encoder.EncodeAll(data, nil); len(c) < len(data) {
			data = c
			compressed = true
		}
	}

	diskSize := int64(len(data))
	if dc.capacity > 0 {
		if diskSize > dc.capacity {
			return newError("put", TierDisk, fp, ErrItemTooLarge)
		}
		for dc.size+diskSize > dc.capacity && len(dc.index) > 0 {
			dc.evictOldest()
		}
	}

	filePath := dc.filePath(fp, e.ContentType, compressed)
	if err := writeFileAtomic(filePath, data); err != nil {
		return newError("put", TierDisk, fp, err)
	}

	created := e.Created
	if created.IsZero() {
		created = time.Now()
	}
	dc.index[fp] = &diskEntry{
		FilePath:     filePath,
		ContentType:  e.ContentType,
		Size:         diskSize,
		OriginalSize: e.Size(),
		Created:      created,
		LastAccess:   created,
		Compressed:   compressed,
	}
	dc.size += diskSize

	if err := dc.saveIndex(); err != nil {
		return newError("put", TierDisk, fp, fmt.Errorf("save index: %w", err))
	}
	return nil
}

// Delete removes an entry from the disk cache.
func (dc *DiskStore) Delete(_ context.Context, fp Fingerprint) error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	de, ok := dc.index[fp]
	if !ok {
		return nil
	}

	if err := os.Remove(de.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return newError("delete", TierDisk, fp, err)
	}
	dc.forget(fp, de)

	return dc.saveIndex()
}

// Size returns the current cache size in bytes.
func (dc *DiskStore) Size() int64 {
	dc.mu.RLock()
	defer dc.mu.RUnlock()

	return dc.size
}

// Stats returns cache statistics.
func (dc *DiskStore) Stats() Stats {
	dc.mu.RLock()
	defer dc.mu.RUnlock()

	stats := dc.stats
	stats.Size = dc.size
	stats.ItemCount = int64(len(dc.index))
	stats.computeHitRate()

	return stats
}

// Contains checks if a key exists in the cache without updating access time.
func (dc *DiskStore) Contains(fp Fingerprint) bool {
	dc.mu.RLock()
	defer dc.mu.RUnlock()

	_, ok := dc.index[fp]
	return ok
}

// RemoveOlderThan removes entries created before cutoff.
func (dc *DiskStore) RemoveOlderThan(cutoff time.Time) int {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	removed := 0
	for fp, de := range dc.index {
		if de.Created.Before(cutoff) {
			_ = os.Remove(de.FilePath)
			dc.forget(fp, de)
			removed++
		}
	}

	if removed > 0 {
		_ = dc.saveIndex()
	}
	return removed
}

// LeastRecentlyUsed returns up to n fingerprints, oldest access first.
func (dc *DiskStore) LeastRecentlyUsed(n int) []Fingerprint {
	dc.mu.RLock()
	defer dc.mu.RUnlock()

	fps := make([]Fingerprint, 0, len(dc.index))
	for fp := range dc.index {
		fps = append(fps, fp)
	}
	sort.Slice(fps, func(i, j int) bool {
		return dc.index[fps[i]].LastAccess.Before(dc.index[fps[j]].LastAccess)
	})

	if n < len(fps) {
		fps = fps[:n]
	}
	return fps
}

// Close persists the index.
func (dc *DiskStore) Close() error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if dc.encoder != nil {
		_ = dc.encoder.Close()
	}
	dc.decoder.Close()

	return dc.saveIndex()
}

// Private helper methods

func (dc *DiskStore) filePath(fp Fingerprint, contentType string, compressed bool) string {
	name := string(fp)
	if !fp.Valid() {
		hash := sha256.Sum256([]byte(fp))
		name = hex.EncodeToString(hash[:16])
	}
	name += extensionFor(contentType)
	if compressed {
		name += ".zst"
	}
	return filepath.Join(dc.basePath, name)
}

func extensionFor(contentType string) string {
	switch contentType {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/ogg", "audio/opus":
		return ".ogg"
	default:
		return ".audio"
	}
}

func writeFileAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	_, err = file.Write(data)
	closeErr := file.Close()

	if err != nil {
		_ = os.Remove(tempPath)
		return err
	}
	if closeErr != nil {
		_ = os.Remove(tempPath)
		return closeErr
	}

	return os.Rename(tempPath, path)
}

// forget drops an index entry (must be called with lock held).
func (dc *DiskStore) forget(fp Fingerprint, de *diskEntry) {
	delete(dc.index, fp)
	dc.size -= de.Size
}

func (dc *DiskStore) evictOldest() {
	var oldest Fingerprint
	var oldestTime time.Time

	for fp, de := range dc.index {
		if oldest == "" || de.LastAccess.Before(oldestTime) {
			oldest = fp
			oldestTime = de.LastAccess
		}
	}

	if oldest != "" {
		de := dc.index[oldest]
		_ = os.Remove(de.FilePath)
		dc.forget(oldest, de)
		dc.stats.Evictions++
		dc.stats.LastEvict = time.Now()
	}
}

func (dc *DiskStore) loadIndex() error {
	file, err := os.Open(filepath.Join(dc.basePath, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close() //nolint:errcheck

	return gob.NewDecoder(file).Decode(&dc.index)
}

func (dc *DiskStore) saveIndex() error {
	indexPath := filepath.Join(dc.basePath, indexFile)
	tempPath := indexPath + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	err = gob.NewEncoder(file).Encode(dc.index)
	closeErr := file.Close()

	if err != nil {
		_ = os.Remove(tempPath)
		return err
	}
	if closeErr != nil {
		_ = os.Remove(tempPath)
		return closeErr
	}

	return os.Rename(tempPath, indexPath)
}

func (dc *DiskStore) calculateSize() {
	dc.size = 0
	for _, de := range dc.index {
		dc.size += de.Size
	}
}
