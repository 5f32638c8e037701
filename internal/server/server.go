// Package server exposes the brain's operations over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/umeshshetty/peoples-agent/internal/core"
	"github.com/umeshshetty/peoples-agent/internal/core/insight"
	"github.com/umeshshetty/peoples-agent/internal/core/model"
	"github.com/umeshshetty/peoples-agent/internal/errs"
	"github.com/umeshshetty/peoples-agent/internal/logging"
	"github.com/umeshshetty/peoples-agent/internal/observability"
)

// Service is the subset of core.Brain the routes call.
type Service interface {
	Think(ctx context.Context, text string, opts ...core.ThinkOption) (*core.ThinkResult, error)
	DueReviewCards(ctx context.Context) ([]model.ReviewCard, error)
	RateReviewCard(ctx context.Context, thoughtID string, rating model.Rating) (model.ReviewCard, error)
	SerendipityNudges(ctx context.Context, focus string) ([]model.Nudge, error)
	DecomposeTask(ctx context.Context, text string) (model.TaskTree, error)
	Atomize(ctx context.Context, text string) ([]model.Thought, error)
	Search(ctx context.Context, query string, limit int) ([]model.ScoredThought, error)
	SimilarThoughts(ctx context.Context, thoughtID string, limit int) ([]model.ScoredThought, error)
	RelatedThoughts(ctx context.Context, thoughtID string, limit int) ([]insight.RelatedThought, error)
	CategoryThoughts(ctx context.Context, category string, limit int) ([]model.Thought, error)
	People(ctx context.Context) ([]insight.Person, error)
	Projects(ctx context.Context) ([]insight.Project, error)
	Stats(ctx context.Context) (insight.Stats, error)
	Briefing(ctx context.Context) (insight.Briefing, error)
	Feynman(ctx context.Context, topic string) (insight.Challenge, error)
}

type Server struct {
	Service Service
	Metrics *observability.Metrics
	Logger  *zap.Logger
}

func NewServer(svc Service, metrics *observability.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{Service: svc, Metrics: metrics, Logger: logger.Named("http")}
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logging.GinMiddleware(s.Logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.Metrics.Handler()))
	}

	api := r.Group("/api")
	api.POST("/think", s.Think)
	api.GET("/review/due", s.DueReviewCards)
	api.POST("/review/:id/rate", s.RateReviewCard)
	api.GET("/serendipity", s.SerendipityNudges)
	api.POST("/tasks/decompose", s.DecomposeTask)
	api.POST("/atomize", s.Atomize)
	api.GET("/search", s.Search)
	api.GET("/related/:id", s.RelatedThoughts)

	brain := api.Group("/brain")
	brain.GET("/similar/:id", s.SimilarThoughts)
	brain.GET("/category/:name", s.CategoryThoughts)
	brain.GET("/people", s.People)
	brain.GET("/projects", s.Projects)
	brain.GET("/stats", s.Stats)
	brain.GET("/briefing", s.Briefing)
	brain.GET("/feynman", s.Feynman)
	return r
}

type TextRequest struct {
	Text string `json:"text" binding:"required"`
}

type LimitQuery struct {
	Limit int `form:"limit" binding:"gte=0,lte=200"`
}

type SearchQuery struct {
	Q     string `form:"q" binding:"required"`
	Limit int    `form:"limit" binding:"gte=0,lte=200"`
}

type TopicQuery struct {
	Topic string `form:"topic" binding:"required"`
}

type RateRequest struct {
	Rating model.Rating `json:"rating" binding:"required,oneof=again hard good easy"`
}

func (s *Server) Think(c *gin.Context) {
	var req TextRequest
	if !s.bind(c, &req) {
		return
	}
	res, err := s.Service.Think(c.Request.Context(), req.Text)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) DueReviewCards(c *gin.Context) {
	cards, err := s.Service.DueReviewCards(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cards": cards})
}

func (s *Server) RateReviewCard(c *gin.Context) {
	var req RateRequest
	if !s.bind(c, &req) {
		return
	}
	card, err := s.Service.RateReviewCard(c.Request.Context(), c.Param("id"), req.Rating)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, card)
}

func (s *Server) SerendipityNudges(c *gin.Context) {
	nudges, err := s.Service.SerendipityNudges(c.Request.Context(), c.Query("focus"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"nudges": nudges})
}

func (s *Server) DecomposeTask(c *gin.Context) {
	var req TextRequest
	if !s.bind(c, &req) {
		return
	}
	tree, err := s.Service.DecomposeTask(c.Request.Context(), req.Text)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tree)
}

func (s *Server) Atomize(c *gin.Context) {
	var req TextRequest
	if !s.bind(c, &req) {
		return
	}
	atoms, err := s.Service.Atomize(c.Request.Context(), req.Text)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"atoms": atoms})
}

func (s *Server) Search(c *gin.Context) {
	var q SearchQuery
	if !s.bindQuery(c, &q) {
		return
	}
	results, err := s.Service.Search(c.Request.Context(), q.Q, q.Limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"query": q.Q, "results": results})
}

func (s *Server) SimilarThoughts(c *gin.Context) {
	var q LimitQuery
	if !s.bindQuery(c, &q) {
		return
	}
	similar, err := s.Service.SimilarThoughts(c.Request.Context(), c.Param("id"), q.Limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"thought_id": c.Param("id"), "similar": similar})
}

func (s *Server) RelatedThoughts(c *gin.Context) {
	var q LimitQuery
	if !s.bindQuery(c, &q) {
		return
	}
	related, err := s.Service.RelatedThoughts(c.Request.Context(), c.Param("id"), q.Limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"thought_id": c.Param("id"), "related": related})
}

func (s *Server) CategoryThoughts(c *gin.Context) {
	var q LimitQuery
	if !s.bindQuery(c, &q) {
		return
	}
	items, err := s.Service.CategoryThoughts(c.Request.Context(), c.Param("name"), q.Limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"category": c.Param("name"), "items": items})
}

func (s *Server) People(c *gin.Context) {
	people, err := s.Service.People(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"people": people})
}

func (s *Server) Projects(c *gin.Context) {
	projects, err := s.Service.Projects(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

func (s *Server) Stats(c *gin.Context) {
	stats, err := s.Service.Stats(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

func (s *Server) Briefing(c *gin.Context) {
	briefing, err := s.Service.Briefing(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, briefing)
}

func (s *Server) Feynman(c *gin.Context) {
	var q TopicQuery
	if !s.bindQuery(c, &q) {
		return
	}
	challenge, err := s.Service.Feynman(c.Request.Context(), q.Topic)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, challenge)
}

func (s *Server) bindQuery(c *gin.Context, q any) bool {
	if err := c.ShouldBindQuery(q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query: " + err.Error(), "kind": errs.KindPermanent})
		return false
	}
	return true
}

func (s *Server) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error(), "kind": errs.KindPermanent})
		return false
	}
	return true
}

func (s *Server) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	kind := errs.KindOf(err)
	c.JSON(StatusFor(err), gin.H{"error": err.Error(), "kind": kind})
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch errs.KindOf(err) {
	case errs.KindPermanent:
		return http.StatusBadRequest
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindConsistency:
		return http.StatusConflict
	case errs.KindTimeout:
		return http.StatusGatewayTimeout
	case errs.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
