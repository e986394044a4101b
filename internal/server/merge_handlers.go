package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agenthands/graphkeeper/internal/core/history"
	"github.com/agenthands/graphkeeper/internal/core/model"
	apperrors "github.com/agenthands/graphkeeper/internal/errors"
)

func (s *Server) MergeCandidates(c *gin.Context) {
	candidates, err := s.Keeper.Merges.Candidates(c.Request.Context(), s.domain(c))
	if err != nil {
		s.fail(c, err, "find merge candidates")
		return
	}
	c.JSON(http.StatusOK, candidates)
}

type AutoMergeRequest struct {
	Domain string `json:"domain"`
	User   string `json:"user"`
}

func (s *Server) AutoMerge(c *gin.Context) {
	var req AutoMergeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	if req.Domain == "" {
		req.Domain = s.domain(c)
	}

	res, err := s.Keeper.Merges.AutoMerge(c.Request.Context(), req.Domain, req.User)
	if err != nil {
		s.fail(c, err, "auto-merge")
		return
	}
	c.JSON(http.StatusOK, res)
}

type ManualMergeRequest struct {
	PrimaryID   string `json:"primaryId" binding:"required"`
	SecondaryID string `json:"secondaryId" binding:"required"`
	Domain      string `json:"domain"`
	User        string `json:"user"`
}

func (s *Server) ManualMerge(c *gin.Context) {
	var req ManualMergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Domain == "" {
		req.Domain = s.domain(c)
	}

	entity, rec, err := s.Keeper.Merges.ManualMerge(c.Request.Context(), req.Domain, req.PrimaryID, req.SecondaryID, req.User)
	if err != nil {
		s.fail(c, err, "merge entities")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entity":     entity.Summary(),
		"mergedFrom": entity.MergedFrom,
		"record":     rec,
	})
}

func (s *Server) MergeHistory(c *gin.Context) {
	f := history.Filter{
		Type:     model.MergeType(c.Query("type")),
		EntityID: c.Query("entityId"),
		Status:   model.MergeStatus(c.Query("status")),
		Domain:   c.Query("domain"),
	}
	var err error
	if f.Page, err = intQuery(c, "page"); err != nil {
		badRequest(c, err)
		return
	}
	if f.Limit, err = intQuery(c, "limit"); err != nil {
		badRequest(c, err)
		return
	}

	page := s.Keeper.Merges.Records(f)
	c.JSON(http.StatusOK, gin.H{
		"records":    page.Records,
		"total":      page.Total,
		"page":       page.Page,
		"limit":      page.Limit,
		"pages":      page.Pages,
		"statistics": s.Keeper.Merges.Statistics(history.TimeRange{}),
	})
}

func (s *Server) MergeStatistics(c *gin.Context) {
	var tr history.TimeRange
	var err error
	if tr.From, err = timeQuery(c, "from"); err != nil {
		badRequest(c, err)
		return
	}
	if tr.To, err = timeQuery(c, "to"); err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Keeper.Merges.Statistics(tr))
}

func (s *Server) ClearHistory(c *gin.Context) {
	if err := s.Keeper.Merges.ClearHistory(c.Request.Context()); err != nil {
		s.fail(c, err, "clear merge history")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func (s *Server) Undo(c *gin.Context) {
	rec, err := s.Keeper.Merges.Undo(c.Request.Context())
	if err != nil {
		s.stackFailure(c, err, "undo merge")
		return
	}
	c.JSON(http.StatusOK, s.stepResponse("merge undone", rec))
}

func (s *Server) Redo(c *gin.Context) {
	rec, err := s.Keeper.Merges.Redo(c.Request.Context())
	if err != nil {
		s.stackFailure(c, err, "redo merge")
		return
	}
	c.JSON(http.StatusOK, s.stepResponse("merge redone", rec))
}

func (s *Server) stepResponse(msg string, rec model.MergeRecord) gin.H {
	h := s.Keeper.Merges.History()
	return gin.H{"message": msg, "record": rec, "canUndo": h.CanUndo(), "canRedo": h.CanRedo()}
}

func (s *Server) MergeRecord(c *gin.Context) {
	rec, err := s.Keeper.Merges.History().Get(c.Param("id"))
	if err != nil {
		s.fail(c, err, "load merge record")
		return
	}
	c.JSON(http.StatusOK, rec)
}

// stackFailure answers empty-stack conditions with a message, not an error status class.
func (s *Server) stackFailure(c *gin.Context, err error, what string) {
	switch {
	case errors.Is(err, apperrors.ErrNothingToUndo):
		c.JSON(http.StatusConflict, gin.H{"message": "nothing to undo", "type": apperrors.ErrorTypeMerge})
	case errors.Is(err, apperrors.ErrNothingToRedo):
		c.JSON(http.StatusConflict, gin.H{"message": "nothing to redo", "type": apperrors.ErrorTypeMerge})
	default:
		s.fail(c, err, what)
	}
}

func (s *Server) MergeChain(c *gin.Context) {
	id := c.Param("entityId")
	c.JSON(http.StatusOK, gin.H{"entityId": id, "chain": s.Keeper.Merges.Chain(id)})
}

func intQuery(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

// timeQuery accepts RFC 3339 timestamps or plain dates.
func timeQuery(c *gin.Context, name string) (time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%s must be RFC 3339 or YYYY-MM-DD", name)
}
