package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/studysync/internal/content"
)

// ContentController serves cached quizzes and flashcards.
type ContentController struct {
	service ContentService
}

// NewContentController creates a new ContentController.
func NewContentController(service ContentService) *ContentController {
	return &ContentController{service: service}
}

// GetQuiz handles GET /api/quizzes/:id
func (cc *ContentController) GetQuiz(c *gin.Context) {
	quiz, source, err := cc.service.Quiz(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondContentError(c, err, "quiz")
		return
	}
	c.Header("X-Content-Source", string(source))
	c.JSON(http.StatusOK, quiz)
}

// GetFlashcard handles GET /api/flashcards/:id
func (cc *ContentController) GetFlashcard(c *gin.Context) {
	card, source, err := cc.service.Flashcard(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondContentError(c, err, "flashcard")
		return
	}
	c.Header("X-Content-Source", string(source))
	c.JSON(http.StatusOK, card)
}

func respondContentError(c *gin.Context, err error, resource string) {
	switch {
	case errors.Is(err, content.ErrNotFound):
		respondNotFound(c, resource)
	case errors.Is(err, content.ErrNotCached):
		respondError(c, http.StatusServiceUnavailable, resource+" is not available offline", CodeNotCached)
	default:
		respondActionError(c, err, "read "+resource)
	}
}
