package answer

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	_ "modernc.org/sqlite"

	"github.com/ChamsBouzaiene/ada/internal/document"
)

// CacheRecorder observes cache lookups.
type CacheRecorder interface {
	CacheHit(tier string)
	CacheMiss()
}

// CacheOptions configures a CachedService.
type CacheOptions struct {
	// Namespace separates answers produced under different settings, such as
	// a different model or audience.
	Namespace string
	TTL       time.Duration
	// DBPath enables the on-disk tier when non-empty.
	DBPath string
	// CallTimeout bounds a shared upstream call once its callers have gone.
	CallTimeout time.Duration
	Recorder    CacheRecorder
	Logger      *zap.Logger
}

// CachedService remembers successful answers of another Service. Identical
// questions asked concurrently share one upstream call. Failures are never
// cached. Once closed it passes questions straight to the inner Service.
type CachedService struct {
	inner     Service
	mem       *cache.Cache
	db        *sql.DB
	group     singleflight.Group
	namespace string
	ttl       time.Duration
	timeout   time.Duration
	recorder  CacheRecorder
	logger    *zap.Logger

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// NewCachedService wraps inner.
func NewCachedService(ctx context.Context, inner Service, opts CacheOptions) (*CachedService, error) {
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 5 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	s := &CachedService{
		inner:     inner,
		mem:       cache.New(opts.TTL, 10*time.Minute),
		namespace: opts.Namespace,
		ttl:       opts.TTL,
		timeout:   opts.CallTimeout,
		recorder:  opts.Recorder,
		logger:    opts.Logger,
	}

	if opts.DBPath != "" {
		db, err := openCacheDB(ctx, opts.DBPath)
		if err != nil {
			return nil, err
		}
		s.db = db

		if n, err := s.Purge(ctx); err != nil {
			s.logger.Warn("answer cache purge failed", zap.Error(err))
		} else if n > 0 {
			s.logger.Debug("purged expired answers", zap.Int64("rows", n))
		}
	}
	return s, nil
}

func openCacheDB(ctx context.Context, path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping cache database: %w", err)
	}

	const schema = `
	CREATE TABLE IF NOT EXISTS answers (
		key        TEXT PRIMARY KEY,
		question   TEXT NOT NULL,
		payload    TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_answers_expires ON answers(expires_at);`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize cache schema: %w", err)
	}
	return db, nil
}

// Close waits for asks already using the cache, then releases both tiers.
func (s *CachedService) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.inflight.Wait()
	s.mem.Flush()
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Closed reports whether Close has been called.
func (s *CachedService) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// acquire registers one use of the cache tiers; it fails once closed.
func (s *CachedService) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.inflight.Add(1)
	return true
}

// Key returns the cache key for question.
func (s *CachedService) Key(question string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(question)), " ")
	sum := sha256.Sum256([]byte(s.namespace + "\x00" + norm))
	return hex.EncodeToString(sum[:])
}

// Ask implements Service.
func (s *CachedService) Ask(ctx context.Context, question string) (*document.Document, error) {
	if !s.acquire() {
		return s.inner.Ask(ctx, question)
	}
	defer s.inflight.Done()

	key := s.Key(question)

	if v, ok := s.mem.Get(key); ok {
		s.hit("memory")
		return v.(*document.Document), nil
	}
	if doc := s.loadFromDisk(ctx, key); doc != nil {
		s.hit("disk")
		s.mem.Set(key, doc, cache.DefaultExpiration)
		return doc, nil
	}
	if s.recorder != nil {
		s.recorder.CacheMiss()
	}

	// The shared call outlives any single caller so a cancelled caller does
	// not fail the others waiting on the same question.
	ch := s.group.DoChan(key, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()

		doc, err := s.inner.Ask(callCtx, question)
		if err != nil {
			return nil, err
		}
		if s.acquire() {
			defer s.inflight.Done()
			s.mem.Set(key, doc, cache.DefaultExpiration)
			s.storeToDisk(callCtx, key, question, doc)
		}
		return doc, nil
	})

	select {
	case <-ctx.Done():
		return nil, Transport(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*document.Document), nil
	}
}

func (s *CachedService) hit(tier string) {
	if s.recorder != nil {
		s.recorder.CacheHit(tier)
	}
}

func (s *CachedService) loadFromDisk(ctx context.Context, key string) *document.Document {
	if s.db == nil {
		return nil
	}

	var payload string
	var expiresAt int64
	err := s.db.QueryRowContext(ctx, `SELECT payload, expires_at FROM answers WHERE key = ?`, key).Scan(&payload, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		s.logger.Warn("answer cache read failed", zap.Error(err))
		return nil
	}

	if time.Now().Unix() >= expiresAt {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM answers WHERE key = ?`, key); err != nil {
			s.logger.Warn("answer cache eviction failed", zap.Error(err))
		}
		return nil
	}

	doc, err := document.Parse([]byte(payload))
	if err != nil {
		s.logger.Warn("discarding unreadable cached answer", zap.String("key", key), zap.Error(err))
		return nil
	}
	return doc
}

func (s *CachedService) storeToDisk(ctx context.Context, key, question string, doc *document.Document) {
	if s.db == nil {
		return
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		s.logger.Warn("answer cache encode failed", zap.Error(err))
		return
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO answers (key, question, payload, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			payload = excluded.payload,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		key, question, string(payload), now.Unix(), now.Add(s.ttl).Unix())
	if err != nil {
		s.logger.Warn("answer cache write failed", zap.Error(err))
	}
}

// Purge drops expired rows from the on-disk tier and returns how many were
// removed.
func (s *CachedService) Purge(ctx context.Context) (int64, error) {
	s.mem.DeleteExpired()
	if s.db == nil {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM answers WHERE expires_at <= ?`, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("purge answer cache: %w", err)
	}
	return res.RowsAffected()
}
