package manage

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lexport/chatlink/logger"
	"github.com/lexport/chatlink/module/chat/model"
)

// ConvStore is the storage surface the management endpoints need.
type ConvStore interface {
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	InsertConversation(ctx context.Context, c *model.Conversation) error
	RenameConversation(ctx context.Context, id, title string) error
	SetConversationStatus(ctx context.Context, id, status string) error
}

// Service hosts the conversation-management API. Clients create and mutate
// conversations through these endpoints instead of writing to storage
// directly, which keeps authorization in one place.
type Service struct {
	store ConvStore
}

func NewService(store ConvStore) *Service {
	return &Service{store: store}
}

// Register mounts the routes on an authenticated router group.
func (s *Service) Register(g *gin.RouterGroup) {
	g.POST("/conversations", s.handleCreate)
	g.PATCH("/conversations/:id", s.handleRename)
	g.DELETE("/conversations/:id", s.handleDelete)
}

// Router builds a standalone engine with auth wired in.
func (s *Service) Router(jwtSecret []byte) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	api := r.Group("/api", AuthMiddleware(jwtSecret))
	s.Register(api)
	return r
}

type createReq struct {
	Title string `json:"title" binding:"required"`
	Topic string `json:"topic"`
}

func (s *Service) handleCreate(c *gin.Context) {
	var req createReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	conv := &model.Conversation{
		OwnerUserID: authedUser(c),
		Title:       req.Title,
		Topic:       req.Topic,
	}
	if err := s.store.InsertConversation(c.Request.Context(), conv); err != nil {
		logger.Error("create conversation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create failed"})
		return
	}
	c.JSON(http.StatusCreated, conv)
}

type renameReq struct {
	Title string `json:"title" binding:"required"`
}

func (s *Service) handleRename(c *gin.Context) {
	id := c.Param("id")
	var req renameReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !s.authorize(c, id) {
		return
	}
	if err := s.store.RenameConversation(c.Request.Context(), id, req.Title); err != nil {
		logger.Error("rename conversation", zap.String("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "rename failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "title": req.Title})
}

// handleDelete closes the conversation. Rows stay while messages reference
// them; deletion is a soft lifecycle move.
func (s *Service) handleDelete(c *gin.Context) {
	id := c.Param("id")
	if !s.authorize(c, id) {
		return
	}
	if err := s.store.SetConversationStatus(c.Request.Context(), id, model.ConvStatusClosed); err != nil {
		logger.Error("close conversation", zap.String("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// authorize loads the conversation and checks ownership, writing the
// failure response itself.
func (s *Service) authorize(c *gin.Context, id string) bool {
	conv, err := s.store.GetConversation(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return false
	}
	if conv.OwnerUserID != authedUser(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not the owner"})
		return false
	}
	return true
}
