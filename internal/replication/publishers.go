package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"clinicflow/internal/blob"
	"clinicflow/pkg/domain"

	"github.com/go-redis/redis/v8"
	"github.com/go-resty/resty/v2"
)

// None discards every mutation.
type None struct{}

func (None) Name() string { return "none" }

func (None) Publish(context.Context, domain.Mutation) error { return nil }

// HTTPPublisher posts each record to the remote REST backend:
// patients to <base>/patients and encounters to <base>/encounters.
type HTTPPublisher struct {
	client *resty.Client
}

// NewHTTPPublisher targets baseURL. Retries stay disabled: delivery is at most once.
func NewHTTPPublisher(baseURL string) *HTTPPublisher {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetRetryCount(0)
	return &HTTPPublisher{client: client}
}

func (p *HTTPPublisher) Name() string { return "http" }

func (p *HTTPPublisher) Publish(ctx context.Context, m domain.Mutation) error {
	var path string
	switch m.Kind {
	case domain.KindPatient:
		path = "/patients"
	case domain.KindEncounter:
		path = "/encounters"
	default:
		return fmt.Errorf("no remote collection for kind %q", m.Kind)
	}
	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("X-Revision", m.Revision).
		SetBody([]byte(m.Payload)).
		Post(path)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("post %s: remote returned %s", path, resp.Status())
	}
	return nil
}

// RedisPublisher appends each mutation to a redis stream with XADD.
type RedisPublisher struct {
	client *redis.Client
	stream string
	owned  bool
}

// NewRedisPublisher dials addr. The client is closed with the adapter.
func NewRedisPublisher(addr, stream string) *RedisPublisher {
	p := NewRedisStreamPublisher(redis.NewClient(&redis.Options{Addr: addr}), stream)
	p.owned = true
	return p
}

// NewRedisStreamPublisher publishes through an existing client, which the
// caller keeps ownership of.
func NewRedisStreamPublisher(client *redis.Client, stream string) *RedisPublisher {
	if stream == "" {
		stream = "clinicflow:mutations"
	}
	return &RedisPublisher{client: client, stream: stream}
}

func (p *RedisPublisher) Name() string { return "redis" }

func (p *RedisPublisher) Publish(ctx context.Context, m domain.Mutation) error {
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"kind":        string(m.Kind),
			"id":          m.ID,
			"rev":         m.Revision,
			"payload":     string(m.Payload),
			"committedAt": m.CommittedAt.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
}

// Close releases the client when the publisher dialed it.
func (p *RedisPublisher) Close() error {
	if !p.owned {
		return nil
	}
	return p.client.Close()
}

// BlobPublisher archives every revision as <kind>/<id>/<rev>.json.
type BlobPublisher struct {
	store blob.Store
}

// NewBlobPublisher archives into store.
func NewBlobPublisher(store blob.Store) *BlobPublisher {
	return &BlobPublisher{store: store}
}

func (p *BlobPublisher) Name() string { return "blob" }

// Publish writes the mutation envelope. A revision that is already archived
// counts as delivered.
func (p *BlobPublisher) Publish(ctx context.Context, m domain.Mutation) error {
	body, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = p.store.Put(ctx, ArchiveKey(m), bytes.NewReader(body), blob.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"kind": string(m.Kind), "rev": m.Revision},
	})
	if errors.Is(err, blob.ErrExists) {
		return nil
	}
	return err
}

// ArchiveKey is the blob key for one revision of a record.
func ArchiveKey(m domain.Mutation) string {
	return fmt.Sprintf("%s/%s/%s.json", m.Kind, m.ID, m.Revision)
}
