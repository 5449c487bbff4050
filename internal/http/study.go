package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/studysync/internal/actions"
	"github.com/mrlokans/studysync/internal/entities"
)

// StudyController records study actions.
type StudyController struct {
	service StudyService
	trigger Trigger
}

// NewStudyController creates a new StudyController. trigger may be nil.
func NewStudyController(service StudyService, trigger Trigger) *StudyController {
	return &StudyController{service: service, trigger: trigger}
}

// SubmitAttempt handles POST /api/attempts
func (sc *StudyController) SubmitAttempt(c *gin.Context) {
	var attempt actions.Submission
	if err := c.ShouldBindJSON(&attempt); err != nil {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}
	entry, err := sc.service.SubmitAttempt(c.Request.Context(), &attempt)
	sc.respondRecorded(c, entry, err, "submit attempt")
}

// ReviewFlashcard handles POST /api/reviews
func (sc *StudyController) ReviewFlashcard(c *gin.Context) {
	var review actions.Review
	if err := c.ShouldBindJSON(&review); err != nil {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}
	entry, err := sc.service.ReviewFlashcard(c.Request.Context(), &review)
	sc.respondRecorded(c, entry, err, "review flashcard")
}

// UpdateProgress handles PUT /api/progress
func (sc *StudyController) UpdateProgress(c *gin.Context) {
	var progress actions.ProgressUpdate
	if err := c.ShouldBindJSON(&progress); err != nil {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}
	entry, err := sc.service.UpdateProgress(c.Request.Context(), &progress)
	sc.respondRecorded(c, entry, err, "update progress")
}

// History handles GET /api/history?user_id=...&limit=...
func (sc *StudyController) History(c *gin.Context) {
	limit, ok := parseLimitQuery(c, 50)
	if !ok {
		return
	}
	history, err := sc.service.History(c.Request.Context(), c.Query("user_id"), limit)
	if err != nil {
		respondActionError(c, err, "history")
		return
	}
	if history == nil {
		history = []entities.LocalMutation{}
	}
	c.JSON(http.StatusOK, gin.H{"mutations": history, "total": len(history)})
}

// Foreground handles POST /api/app/foreground
func (sc *StudyController) Foreground(c *gin.Context) {
	if sc.trigger != nil {
		sc.trigger.Foreground()
	}
	respondAccepted(c, "foreground recorded", nil)
}

func (sc *StudyController) respondRecorded(c *gin.Context, entry *entities.SyncQueueEntry, err error, context string) {
	if err != nil {
		respondActionError(c, err, context)
		return
	}
	respondCreated(c, entry)
}
