package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const contentTypeHeader = "Content-Type"

// ObjectStore keeps audio in a NATS JetStream object store bucket, so that
// several speakers on the same bus share one cache.
type ObjectStore struct {
	bucket string
	store  nats.ObjectStore

	mu    sync.Mutex
	stats Stats
}

// NewObjectStore creates the bucket, or binds to it when it already exists.
func NewObjectStore(js nats.JetStreamContext, bucket string, ttl time.Duration) (*ObjectStore, error) {
	store, err := js.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucket,
		Description: "Synthesized speech audio keyed by request fingerprint.",
		TTL:         ttl,
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucket, err)
		}
		store, err = js.ObjectStore(bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucket, err)
		}
	}

	return &ObjectStore{
		bucket: bucket,
		store:  store,
		stats:  Stats{Tier: TierObjectStore},
	}, nil
}

// Lookup fetches an object and its content type header.
func (o *ObjectStore) Lookup(_ context.Context, fp Fingerprint) (Entry, bool, error) {
	obj, err := o.store.Get(string(fp))
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			o.record(false)
			return Entry{}, false, nil
		}
		return Entry{}, false, newError("lookup", TierObjectStore, fp, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()
	if readErr != nil {
		return Entry{}, false, newError("lookup", TierObjectStore, fp, readErr)
	}
	if closeErr != nil {
		return Entry{}, false, newError("lookup", TierObjectStore, fp, closeErr)
	}

	e := Entry{Audio: data}
	if info, err := obj.Info(); err == nil {
		e.Created = info.ModTime
		if info.Headers != nil {
			e.ContentType = info.Headers.Get(contentTypeHeader)
		}
	}

	o.record(true)
	return e, true, nil
}

// Put uploads the entry unless the fingerprint already exists.
func (o *ObjectStore) Put(_ context.Context, fp Fingerprint, e Entry) error {
	if len(e.Audio) == 0 {
		return ErrEmptyAudio
	}

	if _, err := o.store.GetInfo(string(fp)); err == nil {
		return nil
	} else if !errors.Is(err, nats.ErrObjectNotFound) {
		return newError("put", TierObjectStore, fp, err)
	}

	headers := nats.Header{}
	headers.Set(contentTypeHeader, e.ContentType)

	_, err := o.store.Put(&nats.ObjectMeta{
		Name:        string(fp),
		Description: "speech audio",
		Headers:     headers,
	}, bytes.NewReader(e.Audio))
	if err != nil {
		return newError("put", TierObjectStore, fp, fmt.Errorf("bucket '%s': %w", o.bucket, err))
	}
	return nil
}

// Delete removes an object. Deleting a missing object is not an error.
func (o *ObjectStore) Delete(_ context.Context, fp Fingerprint) error {
	if err := o.store.Delete(string(fp)); err != nil && !errors.Is(err, nats.ErrObjectNotFound) {
		return newError("delete", TierObjectStore, fp, err)
	}
	return nil
}

// Stats returns hit counters and the bucket size reported by JetStream.
func (o *ObjectStore) Stats() Stats {
	o.mu.Lock()
	stats := o.stats
	o.mu.Unlock()

	if status, err := o.store.Status(); err == nil {
		stats.Size = int64(status.Size())
	}
	stats.computeHitRate()
	return stats
}

// Close is a no-op; the NATS connection belongs to the caller.
func (o *ObjectStore) Close() error {
	return nil
}

func (o *ObjectStore) record(hit bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.stats.LastAccess = time.Now()
	if hit {
		o.stats.Hits++
	} else {
		o.stats.Misses++
	}
}
