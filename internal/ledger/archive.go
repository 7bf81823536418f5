// Copyright 2026 The omniAgentLocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ledger

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	log "github.com/sirupsen/logrus"
)

// ArchiveConfig configures the optional S3-compatible upload of swept
// counters. When Endpoint is empty, swept days are compressed and discarded
// locally without upload.
type ArchiveConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// Interval between sweeps; defaults to one hour.
	Interval time.Duration
}

// archiveRecord is one line of the exported JSONL snapshot.
type archiveRecord struct {
	Backend string `json:"backend"`
	Day     string `json:"day"`
	Count   int    `json:"count"`
}

// Archiver sweeps usage records from days before today out of the store,
// exporting them as gzip-compressed JSONL. Everything here is best-effort:
// a failed upload leaves the records in place for the next sweep.
type Archiver struct {
	ledger *Ledger
	cfg    ArchiveConfig
	client *minio.Client
	done   chan struct{}
}

// NewArchiver creates an archiver; the minio client is only constructed when
// an endpoint is configured.
func NewArchiver(l *Ledger, cfg ArchiveConfig) (*Archiver, error) {
	a := &Archiver{ledger: l, cfg: cfg, done: make(chan struct{})}
	if cfg.Endpoint != "" {
		client, err := minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("ledger archiver: minio client: %w", err)
		}
		a.client = client
	}
	return a, nil
}

// Start runs periodic sweeps until Stop is called.
func (a *Archiver) Start() {
	interval := a.cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := a.SweepOnce(context.Background()); err != nil {
					log.Warnf("ledger archiver: sweep failed: %v", err)
				}
			case <-a.done:
				return
			}
		}
	}()
}

// Stop terminates the background sweeper.
func (a *Archiver) Stop() {
	close(a.done)
}

// SweepOnce exports and prunes every usage record dated before today.
func (a *Archiver) SweepOnce(ctx context.Context) error {
	today := Day(a.ledger.now())
	keys, err := a.ledger.store.Keys(ctx, "usage_")
	if err != nil {
		return fmt.Errorf("list usage keys: %w", err)
	}

	// Group stale records by day so each day becomes one object.
	byDay := make(map[string][]archiveRecord)
	staleKeys := make(map[string][]string)
	for _, key := range keys {
		backend, day, ok := splitUsageKey(key)
		if !ok || day >= today {
			continue
		}
		raw, found, err := a.ledger.store.Get(ctx, key)
		if err != nil || !found {
			continue
		}
		count, err := strconv.Atoi(string(raw))
		if err != nil {
			log.Warnf("ledger archiver: skipping corrupt counter %s=%q", key, raw)
			continue
		}
		byDay[day] = append(byDay[day], archiveRecord{Backend: backend, Day: day, Count: count})
		staleKeys[day] = append(staleKeys[day], key)
	}

	for day, records := range byDay {
		compressed, err := encodeDay(records)
		if err != nil {
			return fmt.Errorf("encode day %s: %w", day, err)
		}
		if a.client != nil {
			object := fmt.Sprintf("usage/%s.jsonl.gz", day)
			_, err := a.client.PutObject(ctx, a.cfg.Bucket, object,
				bytes.NewReader(compressed), int64(len(compressed)),
				minio.PutObjectOptions{ContentType: "application/gzip"})
			if err != nil {
				return fmt.Errorf("upload %s: %w", object, err)
			}
		}
		for _, key := range staleKeys[day] {
			if err := a.ledger.store.Delete(ctx, key); err != nil {
				log.Warnf("ledger archiver: prune %s: %v", key, err)
			}
		}
		log.Infof("ledger archiver: archived %d counters for %s", len(records), day)
	}
	return nil
}

// encodeDay renders records as gzip-compressed JSONL.
func encodeDay(records []archiveRecord) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	for _, record := range records {
		line, err := json.Marshal(record)
		if err != nil {
			return nil, err
		}
		if _, err := zw.Write(append(line, '\n')); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// splitUsageKey parses usage_{backend}_{YYYY-MM-DD}. Backend names may
// themselves contain underscores; the day is always the final 10 characters.
func splitUsageKey(key string) (backend, day string, ok bool) {
	rest, found := strings.CutPrefix(key, "usage_")
	if !found || len(rest) < 12 {
		return "", "", false
	}
	day = rest[len(rest)-10:]
	if _, err := time.Parse("2006-01-02", day); err != nil {
		return "", "", false
	}
	backend = strings.TrimSuffix(rest[:len(rest)-10], "_")
	if backend == "" {
		return "", "", false
	}
	return backend, day, true
}
