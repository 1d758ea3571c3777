package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"

	"github.com/transitgo/ticketing-service/pkg/response"
)

const (
	// IdempotencyKeyHeader is the header carrying the client-chosen key
	IdempotencyKeyHeader = "X-Idempotency-Key"
	// idempotencyKeyPrefix namespaces the records in Redis
	idempotencyKeyPrefix = "idempotency:"

	// defaultCompletedTTL bounds how long a finished command replays its
	// response; network-level retries land well within it
	defaultCompletedTTL = 5 * time.Minute
	// defaultProcessingTTL bounds how long a crashed request can block
	// its key
	defaultProcessingTTL = 60 * time.Second
)

type idempotencyStatus string

const (
	statusProcessing idempotencyStatus = "processing"
	statusCompleted  idempotencyStatus = "completed"
)

// idempotencyRecord is the Redis value for one key. A record is written
// as processing before the handler runs and rewritten as completed with
// the captured response afterwards.
type idempotencyRecord struct {
	Key          string            `json:"key"`
	Status       idempotencyStatus `json:"status"`
	RequestHash  string            `json:"request_hash"`
	ResponseCode int               `json:"response_code"`
	ResponseBody string            `json:"response_body"`
	CreatedAt    time.Time         `json:"created_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

// IdempotencyStore is the Redis surface the middleware needs
type IdempotencyStore interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.BoolCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
}

// IdempotencyConfig configures the middleware. Zero TTLs take the
// defaults.
type IdempotencyConfig struct {
	Store         IdempotencyStore
	CompletedTTL  time.Duration
	ProcessingTTL time.Duration
}

// Idempotency fences command endpoints against client retries. Every
// request must carry X-Idempotency-Key; the first request under a key
// runs and has its response stored, retries replay that response, and a
// key reused with a different request body is rejected. A Redis outage
// fails open: commands proceed without the fence rather than refusing
// writes.
func Idempotency(cfg *IdempotencyConfig) gin.HandlerFunc {
	completedTTL := cfg.CompletedTTL
	if completedTTL == 0 {
		completedTTL = defaultCompletedTTL
	}
	processingTTL := cfg.ProcessingTTL
	if processingTTL == 0 {
		processingTTL = defaultProcessingTTL
	}

	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyKeyHeader)
		if key == "" {
			response.Error(c, http.StatusBadRequest, "MISSING_IDEMPOTENCY_KEY", "X-Idempotency-Key header is required", "")
			c.Abort()
			return
		}

		var body []byte
		if c.Request.Body != nil {
			body, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
		}
		hash := requestHash(c, body)

		redisKey := idempotencyKeyPrefix + key
		ctx := c.Request.Context()

		existing, err := loadRecord(ctx, cfg.Store, redisKey)
		if err != nil && !errors.Is(err, goredis.Nil) {
			c.Next()
			return
		}
		if existing != nil {
			replayRecord(c, existing, hash)
			return
		}

		record := &idempotencyRecord{
			Key:         key,
			Status:      statusProcessing,
			RequestHash: hash,
			CreatedAt:   time.Now().UTC(),
		}
		if !claimKey(ctx, cfg.Store, redisKey, record, processingTTL) {
			// Lost the SetNX race; the winner's record decides.
			existing, _ = loadRecord(ctx, cfg.Store, redisKey)
			if existing != nil {
				replayRecord(c, existing, hash)
				return
			}
		}

		rw := &capturingWriter{ResponseWriter: c.Writer, body: bytes.NewBuffer(nil)}
		c.Writer = rw

		c.Next()

		now := time.Now().UTC()
		record.Status = statusCompleted
		record.ResponseCode = rw.status
		record.ResponseBody = rw.body.String()
		record.CompletedAt = &now

		data, err := json.Marshal(record)
		if err != nil {
			return
		}
		cfg.Store.Set(ctx, redisKey, string(data), completedTTL)
	}
}

// replayRecord resolves a request that found an existing record under
// its key
func replayRecord(c *gin.Context, record *idempotencyRecord, hash string) {
	if record.RequestHash != hash {
		response.Error(c, http.StatusUnprocessableEntity, "IDEMPOTENCY_KEY_REUSED", "idempotency key already used with a different request", "")
		c.Abort()
		return
	}
	if record.Status == statusProcessing {
		response.Error(c, http.StatusConflict, "REQUEST_IN_PROGRESS", "a request with this idempotency key is already being processed", "")
		c.Abort()
		return
	}
	c.Data(record.ResponseCode, "application/json", []byte(record.ResponseBody))
	c.Abort()
}

// requestHash fingerprints method, path, caller and body so one key
// cannot be recycled across different commands
func requestHash(c *gin.Context, body []byte) string {
	h := sha256.New()
	h.Write([]byte(c.Request.Method))
	h.Write([]byte(c.Request.URL.Path))
	if identity, ok := Identity(c); ok {
		h.Write([]byte(identity.UserID))
	}
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func loadRecord(ctx context.Context, store IdempotencyStore, key string) (*idempotencyRecord, error) {
	raw, err := store.Get(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	var record idempotencyRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func claimKey(ctx context.Context, store IdempotencyStore, key string, record *idempotencyRecord, ttl time.Duration) bool {
	data, err := json.Marshal(record)
	if err != nil {
		return false
	}
	ok, err := store.SetNX(ctx, key, string(data), ttl).Result()
	if err != nil {
		return false
	}
	return ok
}

// capturingWriter tees the response so it can be replayed on retries
type capturingWriter struct {
	gin.ResponseWriter
	body   *bytes.Buffer
	status int
}

func (w *capturingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *capturingWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
