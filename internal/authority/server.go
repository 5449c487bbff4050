// Package authority is a reference implementation of the remote authority
// the sync engine delivers to.
//
// Every mutation endpoint requires an Idempotency-Key header. The first
// request carrying a key is applied and the key is remembered for
// IdempotencyTTL; replays are acknowledged without being applied again.
// Reviews and progress updates resolve last-write-wins on their own
// timestamps, and quiz attempts are recorded once per attempt ID.
package authority

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/studysync/internal/actions"
	"github.com/mrlokans/studysync/internal/remote"
)

const (
	AckAccepted   = "accepted"
	AckDuplicate  = "duplicate"
	AckSuperseded = "superseded"

	storeTimeout = 5 * time.Second
)

// Server serves the authority API.
type Server struct {
	store *Store
	token string
}

// NewRouter creates the authority router. An empty token disables bearer
// authentication.
func NewRouter(store *Store, token string) *gin.Engine {
	s := &Server{store: store, token: token}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	router.GET(remote.PathHealth, s.Health)

	api := router.Group("/api/v1")
	api.Use(s.requireToken())
	{
		api.POST("/attempts", s.SubmitAttempt)
		api.POST("/reviews", s.SubmitReview)
		api.PUT("/progress", s.UpdateProgress)
		api.GET("/quizzes/:id", s.GetQuiz)
		api.GET("/flashcards/:id", s.GetFlashcard)
	}

	return router
}

func (s *Server) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.token == "" {
			c.Next()
			return
		}
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") || strings.TrimPrefix(header, "Bearer ") != s.token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing bearer token"})
			return
		}
		c.Next()
	}
}

// Health handles GET /health.
func (s *Server) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), storeTimeout)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": time.Now().Format(time.RFC3339)})
}

// SubmitAttempt handles POST /api/v1/attempts.
func (s *Server) SubmitAttempt(c *gin.Context) {
	var attempt actions.Submission
	s.accept(c, &attempt, func(ctx context.Context, key string) (Result, error) {
		return s.store.RecordAttempt(ctx, key, &attempt)
	})
}

// SubmitReview handles POST /api/v1/reviews.
func (s *Server) SubmitReview(c *gin.Context) {
	var review actions.Review
	s.accept(c, &review, func(ctx context.Context, key string) (Result, error) {
		return s.store.ApplyReview(ctx, key, &review)
	})
}

// UpdateProgress handles PUT /api/v1/progress.
func (s *Server) UpdateProgress(c *gin.Context) {
	var progress actions.ProgressUpdate
	s.accept(c, &progress, func(ctx context.Context, key string) (Result, error) {
		return s.store.ApplyProgress(ctx, key, &progress)
	})
}

// GetQuiz handles GET /api/v1/quizzes/:id.
func (s *Server) GetQuiz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), storeTimeout)
	defer cancel()

	quiz, err := s.store.Quiz(ctx, c.Param("id"))
	if err != nil {
		respondLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, quiz)
}

// GetFlashcard handles GET /api/v1/flashcards/:id.
func (s *Server) GetFlashcard(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), storeTimeout)
	defer cancel()

	card, err := s.store.Flashcard(ctx, c.Param("id"))
	if err != nil {
		respondLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, card)
}

// accept binds and validates action, then applies it at most once per
// Idempotency-Key. The store records the key in the same transaction as the
// write, so a failed apply leaves no trace and the client retry is applied.
func (s *Server) accept(c *gin.Context, action actions.Action, apply func(context.Context, string) (Result, error)) {
	key := strings.TrimSpace(c.GetHeader(remote.HeaderIdempotencyKey))
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": remote.HeaderIdempotencyKey + " header is required"})
		return
	}
	if err := c.ShouldBindJSON(action); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if err := action.Validate(); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	if natural := c.GetHeader(remote.HeaderNaturalKey); natural != "" && natural != action.NaturalKey() {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "natural key does not match payload"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), storeTimeout)
	defer cancel()

	result, err := apply(ctx, key)
	if err != nil {
		log.Printf("[AUTHORITY] Failed to apply %s %s: %v", action.Kind(), key, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
		return
	}

	status := ackStatus(result)
	c.JSON(http.StatusOK, remote.Ack{Status: status, Duplicate: status == AckDuplicate})
}

func ackStatus(result Result) string {
	switch result {
	case ResultSuperseded:
		return AckSuperseded
	case ResultReplayed:
		return AckDuplicate
	default:
		return AckAccepted
	}
}

func respondLookupError(c *gin.Context, err error) {
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
}
