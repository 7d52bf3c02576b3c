// Package archive prunes mailbox tables past the retention horizon. Each
// candidate row is copied to object storage before its row is deleted, so
// archived shifts stay inspectable after pruning.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"shiftdesk/api/internal/store"
)

const mailboxPrefix = "mailbox:"

// documentStore is the slice of the store the janitor needs.
type documentStore interface {
	ListKeysOlderThan(ctx context.Context, prefix string, cutoff time.Time) ([]string, error)
	GetDocument(ctx context.Context, key string) (store.Document, error)
	DeleteDocument(ctx context.Context, key string) error
}

// ObjectWriter uploads one archived document.
type ObjectWriter interface {
	Put(ctx context.Context, objectName string, data []byte) error
}

// MinioWriter implements ObjectWriter against a MinIO/S3 bucket.
type MinioWriter struct {
	client *minio.Client
	bucket string
}

func NewMinioWriter(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioWriter, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}
	return &MinioWriter{client: client, bucket: bucket}, nil
}

func (w *MinioWriter) Put(ctx context.Context, objectName string, data []byte) error {
	_, err := w.client.PutObject(ctx, w.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", objectName, err)
	}
	return nil
}

// Janitor sweeps expired mailbox tables. Protected returns the shift keys
// that must never be pruned regardless of age: every team's current and
// immediately-previous table, which the duplicate-case check still reads.
type Janitor struct {
	store     documentStore
	writer    ObjectWriter
	retention time.Duration
	protected func() []string
}

func NewJanitor(st documentStore, writer ObjectWriter, retention time.Duration, protected func() []string) *Janitor {
	return &Janitor{store: st, writer: writer, retention: retention, protected: protected}
}

// Sweep archives and deletes every prune candidate. A failed upload skips the
// delete for that key; the next sweep retries it.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-j.retention)
	keys, err := j.store.ListKeysOlderThan(ctx, mailboxPrefix, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list prune candidates: %w", err)
	}

	keep := make(map[string]struct{})
	if j.protected != nil {
		for _, shiftKey := range j.protected() {
			keep[mailboxPrefix+shiftKey] = struct{}{}
		}
	}

	archived := 0
	for _, key := range keys {
		if _, ok := keep[key]; ok {
			continue
		}
		doc, err := j.store.GetDocument(ctx, key)
		if err != nil {
			log.Printf("archive: read %s: %v", key, err)
			continue
		}
		objectName := "mailbox/" + doc.Key[len(mailboxPrefix):] + ".json"
		if err := j.writer.Put(ctx, objectName, doc.Value); err != nil {
			log.Printf("archive: upload %s: %v", key, err)
			continue
		}
		if err := j.store.DeleteDocument(ctx, key); err != nil {
			log.Printf("archive: delete %s: %v", key, err)
			continue
		}
		archived++
	}
	return archived, nil
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := j.Sweep(ctx); err != nil {
				log.Printf("archive: sweep failed: %v", err)
			} else if n > 0 {
				log.Printf("archive: pruned %d mailbox tables", n)
			}
		}
	}
}
