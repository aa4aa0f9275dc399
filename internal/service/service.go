package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cloud10922/zkim/internal/audit"
	"github.com/cloud10922/zkim/internal/blobstore"
	"github.com/cloud10922/zkim/internal/config"
	"github.com/cloud10922/zkim/internal/cryptokernel"
	"github.com/cloud10922/zkim/internal/envelope"
	"github.com/cloud10922/zkim/internal/searchindex"
	metrics "github.com/cloud10922/zkim/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Status mirrors §4.4's required shell status: {initialized, initializing, serviceName}.
type Status struct {
	Initialized  bool
	Initializing bool
	ServiceName  string
}

// Service is the Service Shell (C4): the only public construction path
// for the Crypto Kernel, File Envelope Engine, and per-user Search Index
// Core instances, plus the audit/metrics wiring around them.
type Service struct {
	cfg *config.Config
	log *logrus.Entry

	kernel      *cryptokernel.Kernel
	compression cryptokernel.CompressionEngine
	store       blobstore.Store
	engine      *envelope.Engine
	keyManager  cryptokernel.KeyManager
	audit       audit.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	tracerShutdown func(context.Context) error

	// localKV backs each per-user search index's persistence fallback
	// (§4.3.9). It is Redis-backed when cfg.Redis.Enabled so the index
	// survives across replicas sharing one Redis instance, and an
	// in-process MemoryStore otherwise.
	localKV     blobstore.Store
	redisClient *redis.Client
	rateLimiter searchindex.RateLimiter

	lifecycleMu  sync.Mutex
	initialized  bool
	initializing bool
	initErr      error
	initDone     chan struct{}

	indexMu sync.Mutex
	indexes map[string]*searchindex.Index
}

// New constructs a Service without starting it. Call Initialize before use.
func New(cfg *config.Config, log *logrus.Entry) (*Service, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	store, err := blobstore.New(&cfg.Backend)
	if err != nil {
		return nil, newServiceError(CodeServiceInitializationError, "construct blob store", err, nil)
	}

	keyManager, err := newKeyManager(cfg)
	if err != nil {
		return nil, newServiceError(CodeServiceInitializationError, "construct key manager", err, nil)
	}

	auditLogger, err := audit.NewLoggerFromConfig(cfg.Audit)
	if err != nil {
		return nil, newServiceError(CodeServiceInitializationError, "construct audit logger", err, nil)
	}

	kernel := cryptokernel.NewKernel(cfg.Crypto, log)
	compression := cryptokernel.NewCompressionEngine(cfg.Crypto.EnableCompression, cfg.Crypto.CompressionMinSize, nil, cfg.Crypto.CompressionLevel)
	engine := envelope.NewEngine(kernel, compression, store, cfg.Crypto.ChunkSize, log)

	localKV, redisClient, rateLimiter, err := newRedisBackedDeps(cfg)
	if err != nil {
		return nil, newServiceError(CodeServiceInitializationError, "construct redis dependencies", err, nil)
	}

	return &Service{
		cfg:         cfg,
		log:         log.WithField("component", "service"),
		kernel:      kernel,
		compression: compression,
		store:       store,
		engine:      engine,
		keyManager:  keyManager,
		audit:       auditLogger,
		metrics:     metrics.NewMetricsWithRegistry(prometheus.NewRegistry()),
		indexes:     make(map[string]*searchindex.Index),
		localKV:     localKV,
		redisClient: redisClient,
		rateLimiter: rateLimiter,
		tracer:      otel.GetTracerProvider().Tracer("zkim"),
		tracerShutdown: func(context.Context) error { return nil },
	}, nil
}

// newRedisBackedDeps builds the optional distributed collaborators named
// by cfg.Redis: a RedisStore used as the per-user index's local KV
// fallback, and a RedisRateLimiter shared across replicas. When Redis is
// disabled it returns an in-process MemoryStore as the local KV and a nil
// client and rate limiter, so each index uses its own query-history counter.
func newRedisBackedDeps(cfg *config.Config) (blobstore.Store, *redis.Client, searchindex.RateLimiter, error) {
	if !cfg.Redis.Enabled {
		return blobstore.NewMemoryStore(), nil, nil, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("ping redis %s: %w", cfg.Redis.Addr, err)
	}

	return blobstore.NewRedisStoreFromClient(client), client, searchindex.NewRedisRateLimiter(client), nil
}

func newKeyManager(cfg *config.Config) (cryptokernel.KeyManager, error) {
	if !cfg.KMIP.Enabled {
		return cryptokernel.NewLocalKeyManager(), nil
	}
	return cryptokernel.NewCosmianKMIPManager(cryptokernel.CosmianKMIPOptions{
		Endpoint: cfg.KMIP.Endpoint,
		Keys:     []cryptokernel.KMIPKeyReference{{ID: cfg.KMIP.KeyID, Version: 1}},
	})
}

// Initialize implements §4.4: idempotent and concurrent-safe. A second
// caller arriving while initialization is in flight waits on the
// in-progress attempt rather than starting another.
func (s *Service) Initialize(ctx context.Context) error {
	s.lifecycleMu.Lock()
	if s.initialized {
		s.lifecycleMu.Unlock()
		return nil
	}
	if s.initializing {
		done := s.initDone
		s.lifecycleMu.Unlock()
		select {
		case <-done:
			s.lifecycleMu.Lock()
			err := s.initErr
			s.lifecycleMu.Unlock()
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.initializing = true
	s.initDone = make(chan struct{})
	s.lifecycleMu.Unlock()

	s.metrics.SetHardwareAccelerationStatus("aes", cryptokernel.IsHardwareAccelerationEnabled(s.cfg.Hardware))
	s.metrics.StartSystemMetricsCollector()

	tracerProvider, tracerShutdown, tracerErr := metrics.NewTracerProvider(ctx, metrics.TracingConfig{
		Enabled:     s.cfg.Tracing.Enabled,
		Exporter:    s.cfg.Tracing.Exporter,
		Endpoint:    s.cfg.Tracing.Endpoint,
		ServiceName: s.cfg.Tracing.ServiceName,
	})
	if tracerErr != nil {
		s.log.WithError(tracerErr).Warn("tracer provider setup failed, continuing without spans")
	} else {
		s.tracer = tracerProvider.Tracer("zkim")
		s.tracerShutdown = tracerShutdown
	}

	err := s.keyManager.HealthCheck(ctx)
	if err != nil {
		s.log.WithError(err).Warn("key manager health check failed at initialize")
	}

	s.lifecycleMu.Lock()
	s.initErr = nil
	s.initialized = true
	s.initializing = false
	close(s.initDone)
	s.lifecycleMu.Unlock()
	return nil
}

// Cleanup implements §4.4: clears all timers, persists every per-user
// index once, and clears instance caches.
func (s *Service) Cleanup(ctx context.Context) error {
	s.lifecycleMu.Lock()
	if !s.initialized {
		s.lifecycleMu.Unlock()
		return nil
	}
	s.lifecycleMu.Unlock()

	s.indexMu.Lock()
	indexes := make([]*searchindex.Index, 0, len(s.indexes))
	for _, idx := range s.indexes {
		indexes = append(indexes, idx)
	}
	s.indexes = make(map[string]*searchindex.Index)
	s.indexMu.Unlock()

	var firstErr error
	for _, idx := range indexes {
		if err := idx.Cleanup(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	s.kernel.EvictAll()
	_ = s.keyManager.Close(ctx)
	_ = s.audit.Close()
	if s.tracerShutdown != nil {
		_ = s.tracerShutdown(ctx)
	}
	if s.redisClient != nil {
		_ = s.redisClient.Close()
	}

	s.lifecycleMu.Lock()
	s.initialized = false
	s.lifecycleMu.Unlock()

	if firstErr != nil {
		return newServiceError(CodeSerializationError, "persist per-user index during cleanup", firstErr, nil)
	}
	return nil
}

// Status reports the shell's lifecycle state, per §4.4.
func (s *Service) Status() Status {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	return Status{Initialized: s.initialized, Initializing: s.initializing, ServiceName: "zkim"}
}

// userIndex returns the cached Search Index Core for userID, creating and
// initializing one (with a freshly generated OPRF secret key) on first
// use. The objectId is the well-known per-user ZKIM object id the index
// persists itself under, per §4.3.9.
func (s *Service) userIndex(ctx context.Context, userID string, engine *envelope.Engine, platformKey, userKey []byte) (*searchindex.Index, error) {
	s.indexMu.Lock()
	idx, ok := s.indexes[userID]
	s.indexMu.Unlock()
	if ok {
		return idx, nil
	}

	oprfSecretKey, err := cryptokernel.RandBytes(32)
	if err != nil {
		return nil, newServiceError(CodeOPRFKeyMissing, "generate oprf secret key", err, nil)
	}

	objectID := fmt.Sprintf("zkim-index-%s", userID)
	idx = searchindex.NewPersistedIndex(userID, objectID, s.cfg.Search, oprfSecretKey, engine, s.localKV, platformKey, userKey, s.log)
	if s.rateLimiter != nil {
		idx.SetRateLimiter(s.rateLimiter)
	}
	idx.Initialize(ctx)

	s.indexMu.Lock()
	if existing, ok := s.indexes[userID]; ok {
		s.indexMu.Unlock()
		_ = idx.Cleanup()
		return existing, nil
	}
	s.indexes[userID] = idx
	s.indexMu.Unlock()
	return idx, nil
}

// EncryptFile wraps createZkimFile (§4.2) with indexing, audit logging,
// and metrics, converting internal failures into a ServiceError.
func (s *Service) EncryptFile(ctx context.Context, userID, platformKeyID string, platformKey, userKey []byte, content []byte, meta envelope.Metadata) (*envelope.ZkimFile, string, error) {
	ctx, span := s.tracer.Start(ctx, "zkim.encrypt")
	defer span.End()

	start := time.Now()
	file, objectID, err := s.engine.CreateZkimFile(ctx, content, userID, platformKeyID, platformKey, userKey, meta)
	duration := time.Since(start)

	s.metrics.RecordEncryptionOperation(ctx, "encrypt", duration, int64(len(content)))
	fileID := ""
	if file != nil {
		fileID = file.Header.FileID
	}
	s.audit.LogEncrypt(fileID, userID, "xchacha20poly1305", err == nil, err, duration, nil)
	if err != nil {
		s.metrics.RecordEncryptionError(ctx, "encrypt", "kernel_failure")
		span.RecordError(err)
		return nil, "", newServiceError(CodeDecryptionError, "create zkim file", err, nil)
	}

	idx, idxErr := s.userIndex(ctx, userID, s.engine, platformKey, userKey)
	if idxErr != nil {
		return file, objectID, idxErr
	}
	if err := idx.IndexFile(file, objectID); err != nil {
		s.log.WithError(err).Warn("post-encrypt indexing failed")
	}
	s.metrics.RecordIndexOperation("index", 0)

	return file, objectID, nil
}

// DecryptFile wraps getZkimFile + decryptZkimFile (§4.2), distinguishing
// the three documented failure modes: missing blob, tag mismatch, and
// decompression failure.
func (s *Service) DecryptFile(ctx context.Context, objectID, userID string, userKey []byte) ([]byte, error) {
	ctx, span := s.tracer.Start(ctx, "zkim.decrypt")
	defer span.End()

	start := time.Now()
	file, err := s.engine.GetZkimFile(ctx, objectID)
	if err != nil {
		span.RecordError(err)
		return nil, s.classifyReadError(err)
	}

	plaintext, err := s.engine.DecryptZkimFile(file, userID, userKey)
	duration := time.Since(start)
	s.metrics.RecordEncryptionOperation(ctx, "decrypt", duration, int64(len(plaintext)))
	s.audit.LogDecrypt(file.Header.FileID, userID, "xchacha20poly1305", err == nil, err, duration, nil)
	if err != nil {
		s.metrics.RecordEncryptionError(ctx, "decrypt", "kernel_failure")
		span.RecordError(err)
		return nil, s.classifyReadError(err)
	}
	return plaintext, nil
}

func (s *Service) classifyReadError(err error) error {
	switch {
	case errors.Is(err, envelope.ErrNotFound):
		return newServiceError(CodeNotFound, "zkim object not found", err, nil)
	case errors.Is(err, envelope.ErrIntegrityMismatch):
		return newServiceError(CodeIntegrityError, "aead tag mismatch", err, nil)
	case errors.Is(err, envelope.ErrCorruption), errors.Is(err, envelope.ErrSizeMismatch):
		return newServiceError(CodeCorruptionError, "decompression or size mismatch", err, nil)
	case errors.Is(err, cryptokernel.ErrDecryptionFailed):
		return newServiceError(CodeDecryptionError, "wrong key or tampered ciphertext", err, nil)
	default:
		return newServiceError(CodeDecryptionError, "zkim file read failed", err, nil)
	}
}

// Search wraps the Search Index Core's Search (§4.3.4), translating its
// sentinel errors into the taxonomy's stable codes.
func (s *Service) Search(ctx context.Context, userID string, platformKey, userKey []byte, q searchindex.Query) (*searchindex.SearchResponse, error) {
	ctx, span := s.tracer.Start(ctx, "zkim.search")
	defer span.End()

	idx, err := s.userIndex(ctx, userID, s.engine, platformKey, userKey)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	start := time.Now()
	resp, err := idx.Search(q)
	duration := time.Since(start)

	if err != nil {
		switch {
		case errors.Is(err, searchindex.ErrRateLimitExceeded):
			s.metrics.RecordRateLimitRejection()
			s.metrics.RecordSearch("rate_limited", "", duration, 0, 0)
			return nil, newServiceError(CodeRateLimitExceeded, "epoch query budget exhausted", err, nil)
		case errors.Is(err, searchindex.ErrOPRFKeyMissing):
			s.metrics.RecordSearch("failed", "", duration, 0, 0)
			return nil, newServiceError(CodeOPRFKeyMissing, "oprf secret key unavailable", err, nil)
		default:
			s.metrics.RecordSearch("failed", "", duration, 0, 0)
			return nil, newServiceError(CodeSearchFailed, "search failed", err, nil)
		}
	}

	real := 0
	padding := 0
	for _, r := range resp.Results {
		if r.IsPadding {
			padding++
		} else {
			real++
		}
	}
	s.metrics.RecordSearch("ok", resp.PrivacyLevel, duration, real, padding)
	s.audit.LogSearch(resp.QueryID, userID, resp.TotalResults, true, nil, duration)
	return resp, nil
}

// RemoveFile wraps removeFileFromIndex (§4.3.3): idempotent regardless of
// whether fileID is currently indexed.
func (s *Service) RemoveFile(ctx context.Context, userID, fileID string) error {
	s.indexMu.Lock()
	idx, ok := s.indexes[userID]
	s.indexMu.Unlock()
	if !ok {
		return nil
	}
	idx.RemoveFileFromIndex(fileID)
	s.metrics.RecordIndexOperation("remove", 0)
	return nil
}

// RotateContentKey wraps the Crypto Kernel's rotateKeys (§4.1).
func (s *Service) RotateContentKey(fileID string) ([]byte, error) {
	newKey, err := s.kernel.RotateKeys(fileID)
	if err != nil {
		if errors.Is(err, cryptokernel.ErrKeyRotationDisabled) {
			s.metrics.RecordKeyRotation("disabled")
			return nil, newServiceError(CodeKeyRotationDisabled, "key rotation not enabled", err, nil)
		}
		s.metrics.RecordKeyRotation("failed")
		return nil, newServiceError(CodeDecryptionError, "rotate content key", err, nil)
	}
	s.metrics.RecordKeyRotation("rotated")
	s.audit.LogKeyRotation(fileID, true, nil)
	return newKey, nil
}

// Stats wraps getSearchStats (invariant 9), scoped to a single user's index.
func (s *Service) Stats(userID string) (searchindex.Stats, error) {
	s.indexMu.Lock()
	idx, ok := s.indexes[userID]
	s.indexMu.Unlock()
	if !ok {
		return searchindex.Stats{}, newServiceError(CodeStatisticsFailed, "no index for user", nil, map[string]interface{}{"userId": userID})
	}
	return idx.GetSearchStats(), nil
}
