package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agenthands/graphkeeper/internal/core"
	"github.com/agenthands/graphkeeper/internal/core/model"
	apperrors "github.com/agenthands/graphkeeper/internal/errors"
	"github.com/agenthands/graphkeeper/internal/logger"
)

type Server struct {
	Keeper        *core.Keeper
	DefaultDomain string
	log           *zap.Logger
}

func NewServer(keeper *core.Keeper, defaultDomain string, log *zap.Logger) *Server {
	return &Server{
		Keeper:        keeper,
		DefaultDomain: defaultDomain,
		log:           logger.OrGlobal(log),
	}
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.New()
	r.Use(ginLogger(s.log))
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/relationship-types", s.RelationshipTypes)
	r.GET("/entity-sets", s.EntitySets)
	r.POST("/entity-sets", s.IngestEntitySet)
	r.POST("/entity-sets/extract", s.ExtractEntitySet)
	r.DELETE("/entity-sets/:id", s.DeleteEntitySet)
	r.GET("/entities", s.Entities)

	r.GET("/merge-candidates", s.MergeCandidates)
	merge := r.Group("/merge")
	{
		merge.POST("/auto", s.AutoMerge)
		merge.POST("/manual", s.ManualMerge)
		merge.GET("/history", s.MergeHistory)
		merge.GET("/history/:id", s.MergeRecord)
		merge.DELETE("/history", s.ClearHistory)
		merge.GET("/statistics", s.MergeStatistics)
		merge.POST("/undo", s.Undo)
		merge.POST("/redo", s.Redo)
		merge.GET("/chain/:entityId", s.MergeChain)
	}

	graph := r.Group("/graph")
	{
		graph.POST("/sync", s.SyncGraph)
		graph.GET("/clusters", s.Clusters)
		graph.GET("/clusters/summaries", s.ClusterSummaries)
	}
	return r
}

// domain reads the domain query parameter, falling back to the configured default.
func (s *Server) domain(c *gin.Context) string {
	if d := c.Query("domain"); d != "" {
		return d
	}
	return s.DefaultDomain
}

// fail writes err with the status its category maps to. Unclassified errors are logged and
// hidden behind a generic message.
func (s *Server) fail(c *gin.Context, err error, what string) {
	status := apperrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("Request failed",
			zap.String("operation", what),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
		c.JSON(status, gin.H{"error": "Failed to " + what})
		return
	}

	body := gin.H{"error": err.Error()}
	if t, ok := apperrors.TypeOf(err); ok {
		body["type"] = t
	}
	var base *apperrors.BaseError
	if errors.As(err, &base) {
		body["error"] = base.Message
	}
	var verr *apperrors.ValidationError
	if errors.As(err, &verr) {
		body["issues"] = verr.Issues
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "type": apperrors.ErrorTypeValidation})
}

func (s *Server) RelationshipTypes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"domain":            c.Query("domain"),
		"relationshipTypes": s.Keeper.RelationshipTypes(c.Query("domain")),
	})
}

func (s *Server) EntitySets(c *gin.Context) {
	sets, err := s.Keeper.EntitySets(c.Request.Context(), s.domain(c))
	if err != nil {
		s.fail(c, err, "load entity sets")
		return
	}
	c.JSON(http.StatusOK, sets)
}

func (s *Server) IngestEntitySet(c *gin.Context) {
	var set model.EntitySet
	if err := c.ShouldBindJSON(&set); err != nil {
		badRequest(c, err)
		return
	}
	if set.Domain == "" {
		set.Domain = s.domain(c)
	}

	res, err := s.Keeper.Ingest(c.Request.Context(), &set)
	if err != nil {
		s.fail(c, err, "ingest entity set")
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (s *Server) DeleteEntitySet(c *gin.Context) {
	domain, id := s.domain(c), c.Param("id")
	updated, err := s.Keeper.DeleteEntitySet(c.Request.Context(), domain, id)
	if err != nil {
		s.fail(c, err, "delete entity set")
		return
	}
	if updated == nil {
		updated = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id, "domain": domain, "updatedSets": updated})
}

type ExtractRequest struct {
	Domain string `json:"domain"`
	Text   string `json:"text" binding:"required"`
}

func (s *Server) ExtractEntitySet(c *gin.Context) {
	var req ExtractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Domain == "" {
		req.Domain = s.domain(c)
	}

	res, err := s.Keeper.ExtractAndIngest(c.Request.Context(), req.Domain, req.Text)
	if err != nil {
		s.fail(c, err, "extract entities")
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (s *Server) Entities(c *gin.Context) {
	entities, err := s.Keeper.Merges.ConsolidatedEntities(c.Request.Context(), s.domain(c))
	if err != nil {
		s.fail(c, err, "load entities")
		return
	}
	if entities == nil {
		entities = []model.Entity{}
	}
	c.JSON(http.StatusOK, entities)
}

func (s *Server) SyncGraph(c *gin.Context) {
	res, err := s.Keeper.SyncGraph(c.Request.Context(), s.domain(c))
	if err != nil {
		s.fail(c, err, "sync graph")
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) Clusters(c *gin.Context) {
	domain := s.domain(c)
	clusters, err := s.Keeper.Clusters(c.Request.Context(), domain)
	if err != nil {
		s.fail(c, err, "detect clusters")
		return
	}
	c.JSON(http.StatusOK, gin.H{"domain": domain, "clusters": clusters})
}

func (s *Server) ClusterSummaries(c *gin.Context) {
	domain := s.domain(c)
	summaries, err := s.Keeper.SummarizeClusters(c.Request.Context(), domain)
	if err != nil {
		s.fail(c, err, "summarize clusters")
		return
	}
	c.JSON(http.StatusOK, gin.H{"domain": domain, "clusters": summaries})
}

// ginLogger is a custom logger middleware for Gin
func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}
		log.Info("HTTP Request",
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
