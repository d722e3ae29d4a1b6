package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"moneymarket/observability"
)

const idempotencyHeader = "Idempotency-Key"

var bucketIdempotency = []byte("idempotency")

// IdempotencyRecord stores the response served for an idempotency key.
type IdempotencyRecord struct {
	StatusCode int       `json:"statusCode"`
	Body       []byte    `json:"body"`
	StoredAt   time.Time `json:"storedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// IdempotencyStore persists responses in BoltDB so that retried requests
// replay the original outcome instead of re-executing.
type IdempotencyStore struct {
	db  *bolt.DB
	ttl time.Duration
	now func() time.Time
}

// OpenIdempotencyStore opens (and migrates) the store at path.
func OpenIdempotencyStore(path string, ttl time.Duration) (*IdempotencyStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("idempotency: path required")
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketIdempotency)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyStore{db: db, ttl: ttl, now: time.Now}, nil
}

// Close releases the underlying Bolt database handle.
func (s *IdempotencyStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the stored response for key when it has not expired. Expired
// records are deleted.
func (s *IdempotencyStore) Get(key string) (IdempotencyRecord, bool, error) {
	var record IdempotencyRecord
	var found bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketIdempotency)
		raw := bucket.Get([]byte(key))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &record); err != nil {
			return err
		}
		if s.now().After(record.ExpiresAt) {
			record = IdempotencyRecord{}
			return bucket.Delete([]byte(key))
		}
		found = true
		return nil
	})
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return record, found, nil
}

// Put stores the response for key.
func (s *IdempotencyStore) Put(key string, status int, body []byte) error {
	now := s.now().UTC()
	record := IdempotencyRecord{StatusCode: status, Body: body, StoredAt: now, ExpiresAt: now.Add(s.ttl)}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIdempotency).Put([]byte(key), payload)
	})
}

// Middleware replays stored responses for requests carrying an
// Idempotency-Key header. Keys are scoped to the sender and route. Server
// errors are not stored so that the client can retry them.
func (s *IdempotencyStore) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(idempotencyHeader))
		if s == nil || raw == "" || r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}
		var sender string
		if p, ok := PrincipalFrom(r.Context()); ok {
			sender = p.Sender.String()
		}
		key := sender + "|" + r.URL.Path + "|" + raw
		if record, ok, err := s.Get(key); err != nil {
			writeError(w, http.StatusInternalServerError, body("unknown", "Internal", "idempotency lookup failed"))
			return
		} else if ok {
			observability.API().RecordReplay()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotent-Replay", "true")
			w.WriteHeader(record.StatusCode)
			_, _ = w.Write(record.Body)
			return
		}
		capture := &bodyRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(capture, r)
		if capture.status < http.StatusInternalServerError {
			_ = s.Put(key, capture.status, capture.buf.Bytes())
		}
	})
}

type bodyRecorder struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (b *bodyRecorder) WriteHeader(code int) {
	b.status = code
	b.ResponseWriter.WriteHeader(code)
}

func (b *bodyRecorder) Write(p []byte) (int, error) {
	b.buf.Write(p)
	return b.ResponseWriter.Write(p)
}
