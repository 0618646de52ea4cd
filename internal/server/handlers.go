package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hamidreza004/hamidspulse-auto-news/internal/database"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/models"
)

const defaultListLimit = 100

func (s *Server) handleStatus(c *gin.Context) {
	now := s.now()
	daily, err := s.DB.GetDailyStats(database.StartOfDay(now, s.Location))
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	counts, err := s.DB.GetQueueCounts()
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	rate, err := s.DB.RateCount(now)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}

	payload := gin.H{
		"today":           dailyView(daily),
		"stored":          queueCountsView(counts),
		"posts_this_hour": rate,
	}
	if s.Queue != nil {
		payload["queue"] = s.Queue.Stats()
	}
	if s.Scheduler != nil {
		payload["scheduler"] = s.Scheduler.State()
	}
	respondData(c, payload)
}

func (s *Server) handleGetState(c *gin.Context) {
	content, err := s.DB.GetContext()
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	updatedAt, err := s.DB.GetContextUpdatedAt()
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	respondData(c, gin.H{"content": content, "updated_at": updatedAt})
}

type contentRequest struct {
	Content string `json:"content" binding:"required"`
}

func (s *Server) handleSetState(c *gin.Context) {
	var req contentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "content is required")
		return
	}
	respond(c, s.Override.SetContext(req.Content))
}

type eventRequest struct {
	Event string `json:"event" binding:"required"`
}

func (s *Server) handleMergeState(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "event is required")
		return
	}
	respond(c, s.Override.MergeContext(c.Request.Context(), req.Event))
}

func (s *Server) handleInitialize(c *gin.Context) {
	respond(c, s.Override.ReinitializeContext(c.Request.Context()))
}

func (s *Server) handleQueue(c *gin.Context) {
	limit := queryInt(c, "limit", defaultListLimit)

	high, err := s.DB.ListAudit(models.BucketHigh, limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	low, err := s.DB.ListAudit(models.BucketLow, limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	medium, err := s.DB.PendingBatchItems(limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}

	respondData(c, gin.H{
		"high":   auditViews(high),
		"medium": batchViews(medium),
		"low":    auditViews(low),
	})
}

func (s *Server) handleFlush(c *gin.Context) {
	respond(c, s.Override.TriggerFlush(c.Request.Context()))
}

func (s *Server) handleClear(bucket models.Bucket) gin.HandlerFunc {
	return func(c *gin.Context) {
		respond(c, s.Override.ClearAudit(bucket))
	}
}

type moveRequest struct {
	ID     int64  `json:"id" binding:"required"`
	Bucket string `json:"bucket" binding:"required"`
}

func (s *Server) handleMove(promote bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req moveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "id and bucket are required")
			return
		}
		bucket, ok := models.ParseBucket(req.Bucket)
		if !ok {
			respondError(c, http.StatusBadRequest, "invalid bucket "+strconv.Quote(req.Bucket))
			return
		}
		if promote {
			respond(c, s.Override.Promote(c.Request.Context(), req.ID, bucket))
			return
		}
		respond(c, s.Override.Demote(c.Request.Context(), req.ID, bucket))
	}
}

func (s *Server) handleRecentPosts(c *gin.Context) {
	posts, err := s.DB.PublishedSince(s.now().Add(-24 * time.Hour))
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	respondData(c, gin.H{"posts": publishedViews(posts)})
}

type deletePostRequest struct {
	PostID int64 `json:"post_id" binding:"required"`
}

func (s *Server) handleDeletePost(c *gin.Context) {
	var req deletePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "post_id is required")
		return
	}
	respond(c, s.Override.DeletePost(c.Request.Context(), req.PostID))
}

type replayRequest struct {
	Minutes int `json:"minutes"`
}

func (s *Server) handleReplay(c *gin.Context) {
	req := replayRequest{Minutes: 60}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	respond(c, s.Override.Replay(c.Request.Context(), req.Minutes))
}

func (s *Server) handleListSources(c *gin.Context) {
	sources, err := s.DB.GetAllSources()
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	respondData(c, gin.H{"sources": sourceViews(sources)})
}

type sourceRequest struct {
	Username string `json:"username" binding:"required"`
}

func (s *Server) handleAddSource(c *gin.Context) {
	var req sourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "username is required")
		return
	}
	respond(c, s.Sources.AddSource(c.Request.Context(), req.Username))
}

func (s *Server) handleRemoveSource(c *gin.Context) {
	respond(c, s.Sources.RemoveSource(c.Request.Context(), c.Param("username")))
}

func (s *Server) handleToggleSource(c *gin.Context) {
	respond(c, s.Sources.ToggleSource(c.Request.Context(), c.Param("username")))
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
