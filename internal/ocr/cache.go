package ocr

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/receipt-scanner/internal/document"
)

const recognitionBucketName = "recognitions"

// recognition is a cached engine output
type recognition struct {
	Text      string    `json:"text"`
	Language  string    `json:"language"`
	CreatedAt time.Time `json:"created_at"`
}

// Cache remembers engine output per raster and language so the same page is only
// recognized once
type Cache struct {
	db   *bbolt.DB
	next Recognizer
	now  func() time.Time
}

// NewCache opens (or creates) a BoltDB recognition cache in front of next
func NewCache(path string, next Recognizer) (*Cache, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(recognitionBucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &Cache{db: db, next: next, now: time.Now}, nil
}

// Recognize returns the cached text for the raster, or recognizes it and stores the result
func (c *Cache) Recognize(ctx context.Context, raster *document.Raster, language string) (string, error) {
	if language == "" {
		language = DefaultLanguage
	}

	key, err := cacheKey(raster, language)
	if err != nil {
		// Recognize uncached when the raster cannot be encoded
		slog.Warn("Skipping recognition cache", "error", err)
		return c.next.Recognize(ctx, raster, language)
	}

	if text, ok := c.lookup(key); ok {
		slog.Debug("Recognition cache hit", "language", language)
		return text, nil
	}

	text, err := c.next.Recognize(ctx, raster, language)
	if err != nil {
		return "", err
	}

	if err := c.store(key, recognition{Text: text, Language: language, CreatedAt: c.now()}); err != nil {
		slog.Warn("Failed to store recognition", "error", err)
	}
	return text, nil
}

// Close closes the database
func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) lookup(key []byte) (string, bool) {
	var rec *recognition
	err := c.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(recognitionBucketName)).Get(key)
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		slog.Warn("Failed to read recognition cache", "error", err)
		return "", false
	}
	if rec == nil {
		return "", false
	}
	return rec.Text, true
}

func (c *Cache) store(key []byte, rec recognition) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshaling recognition: %w", err)
		}
		return tx.Bucket([]byte(recognitionBucketName)).Put(key, data)
	})
}

func cacheKey(raster *document.Raster, language string) ([]byte, error) {
	data, err := raster.PNG()
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	return []byte(language + ":" + hex.EncodeToString(sum[:])), nil
}
