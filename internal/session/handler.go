package session

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"arduinohub/internal/auth"
	"arduinohub/internal/components"
	"arduinohub/internal/detect"
	"arduinohub/internal/guide"
	"arduinohub/internal/sync"
	"arduinohub/pkg/models"
)

const defaultMaxUpload = 10 << 20

// Detector is the slice of detect.Client the handler needs.
type Detector interface {
	Detect(ctx context.Context, img detect.Image) (detect.Result, error)
}

// Archive stores confirmed projects.
type Archive interface {
	Save(ctx context.Context, p models.Project) (models.Project, error)
}

type Handler struct {
	Sessions *Manager
	Detector Detector
	// Archive is optional; without it /save answers 501.
	Archive   Archive
	Hub       *sync.Hub
	MaxUpload int64
}

func NewHandler(sessions *Manager, detector Detector, archive Archive, hub *sync.Hub) *Handler {
	return &Handler{
		Sessions:  sessions,
		Detector:  detector,
		Archive:   archive,
		Hub:       hub,
		MaxUpload: defaultMaxUpload,
	}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/sessions", h.create)
	rg.GET("/sessions/:id", h.withSession(h.get))
	rg.DELETE("/sessions/:id", h.remove)

	rg.POST("/sessions/:id/detect", h.withSession(h.detect))
	rg.GET("/sessions/:id/components", h.withSession(h.listComponents))
	rg.POST("/sessions/:id/components", h.withSession(h.addComponent))
	rg.PATCH("/sessions/:id/components/:cid", h.withSession(h.updateComponent))
	rg.DELETE("/sessions/:id/components/:cid", h.withSession(h.removeComponent))
	rg.PUT("/sessions/:id/description", h.withSession(h.setDescription))

	rg.POST("/sessions/:id/confirm", h.withSession(h.confirm))
	rg.POST("/sessions/:id/regenerate/:section", h.withSession(h.regenerate))
	rg.GET("/sessions/:id/results", h.withSession(h.results))
	rg.POST("/sessions/:id/save", h.withSession(h.save))
}

// RequireQuerySession rejects websocket upgrades for sessions the caller
// does not own. It expects AuthMiddleware to have run.
func (h *Handler) RequireQuerySession() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.Query("session"))
		if _, err := h.Sessions.Get(id, auth.UserID(c)); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			c.Abort()
			return
		}
		c.Next()
	}
}

// Snapshot feeds new websocket subscribers the current task states.
func (h *Handler) Snapshot(sessionID string) []models.TaskEvent {
	s, ok := h.Sessions.lookup(sessionID)
	if !ok {
		return nil
	}
	return s.Generation().Events()
}

type sessionHandler func(c *gin.Context, s *Session)

func (h *Handler) withSession(next sessionHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := auth.UserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		s, err := h.Sessions.Get(strings.TrimSpace(c.Param("id")), userID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		next(c, s)
	}
}

func (h *Handler) create(c *gin.Context) {
	userID := auth.UserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	s := h.Sessions.Create(userID)
	c.JSON(http.StatusCreated, s.View())
}

func (h *Handler) get(c *gin.Context, s *Session) {
	c.JSON(http.StatusOK, s.View())
}

func (h *Handler) remove(c *gin.Context) {
	if err := h.Sessions.Delete(strings.TrimSpace(c.Param("id")), auth.UserID(c)); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

func (h *Handler) detect(c *gin.Context, s *Session) {
	limit := h.MaxUpload
	if limit <= 0 {
		limit = defaultMaxUpload
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	fh, err := c.FormFile("image")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large", "kind": detect.KindInvalidInput.String()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": detect.ErrNoImage.Error(), "kind": detect.KindInvalidInput.String()})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read upload", "kind": detect.KindInvalidInput.String()})
		return
	}
	data, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read upload", "kind": detect.KindInvalidInput.String()})
		return
	}

	s.ImageReceived()
	res, err := h.Detector.Detect(c.Request.Context(), detect.Image{Filename: fh.Filename, Data: data})
	if err != nil {
		log.Printf("[session] %s detect: %v", s.ID, err)
		status, kind := detectStatus(err)
		c.JSON(status, gin.H{"error": err.Error(), "kind": kind})
		return
	}
	if err := s.Detected(res.Components); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "kind": detect.KindInvalidResponse.String()})
		return
	}

	c.JSON(http.StatusOK, models.DetectionView{
		Components: s.Store.List(),
		Summary:    res.Summary(),
	})
}

func detectStatus(err error) (int, string) {
	kind, ok := detect.KindOf(err)
	if !ok {
		return http.StatusBadGateway, "unknown"
	}
	switch kind {
	case detect.KindInvalidInput:
		return http.StatusBadRequest, kind.String()
	case detect.KindTimeout:
		return http.StatusGatewayTimeout, kind.String()
	default:
		return http.StatusBadGateway, kind.String()
	}
}

func (h *Handler) listComponents(c *gin.Context, s *Session) {
	c.JSON(http.StatusOK, gin.H{"items": s.Store.List()})
}

type addReq struct {
	Name     string `json:"name"`
	Quantity *int   `json:"quantity"`
}

// New rows start as the placeholder the upload page used.
const (
	defaultComponentName     = "New Component"
	defaultComponentQuantity = 1
)

func (h *Handler) addComponent(c *gin.Context, s *Session) {
	var req addReq
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = defaultComponentName
	}
	qty := defaultComponentQuantity
	if req.Quantity != nil {
		qty = *req.Quantity
	}

	comp, err := s.Store.Add(name, qty)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, comp)
}

type updateReq struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

func (h *Handler) updateComponent(c *gin.Context, s *Session) {
	id, err := strconv.Atoi(c.Param("cid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid component id"})
		return
	}
	var req updateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	comp, err := s.Store.Update(id, strings.TrimSpace(req.Field), req.Value)
	switch {
	case errors.Is(err, components.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, comp)
	}
}

func (h *Handler) removeComponent(c *gin.Context, s *Session) {
	id, err := strconv.Atoi(c.Param("cid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid component id"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": s.Store.Remove(id)})
}

type descriptionReq struct {
	Description string `json:"description"`
}

func (h *Handler) setDescription(c *gin.Context, s *Session) {
	var req descriptionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	s.SetDescription(req.Description)
	c.JSON(http.StatusOK, gin.H{"description": s.Description()})
}

// confirm starts all three sections. With ?wait=true it answers once they
// have all settled.
func (h *Handler) confirm(c *gin.Context, s *Session) {
	if err := s.Confirm(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	gen := s.Generation()
	if wantWait(c) {
		// failures are reported per section in the body
		if err := gen.RunAll(c.Request.Context()); err != nil && c.Request.Context().Err() != nil {
			return
		}
		c.JSON(http.StatusOK, h.resultsFor(s))
		return
	}

	for _, section := range models.Sections {
		if _, err := gen.Start(section); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusAccepted, h.resultsFor(s))
}

func (h *Handler) regenerate(c *gin.Context, s *Session) {
	section, err := models.ParseSection(c.Param("section"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !s.Confirmed() {
		c.JSON(http.StatusConflict, gin.H{"error": ErrNotConfirmed.Error()})
		return
	}

	gen := s.Generation()
	if wantWait(c) {
		if err := gen.Regenerate(c.Request.Context(), section); err != nil && c.Request.Context().Err() != nil {
			return
		}
		st, _ := gen.State(section)
		c.JSON(http.StatusOK, st)
		return
	}

	if _, err := gen.Start(section); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	st, _ := gen.State(section)
	c.JSON(http.StatusAccepted, st)
}

func (h *Handler) results(c *gin.Context, s *Session) {
	c.JSON(http.StatusOK, h.resultsFor(s))
}

func (h *Handler) resultsFor(s *Session) models.Results {
	out := models.Results{SessionID: s.ID, Tasks: s.Generation().States()}
	for _, st := range out.Tasks {
		if st.Section == models.SectionGuide && st.Status == models.StatusSucceeded {
			parsed := guide.Parse(st.Content)
			out.Guide = &parsed
		}
	}
	return out
}

func (h *Handler) save(c *gin.Context, s *Session) {
	if h.Archive == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "project archive not configured"})
		return
	}
	if !s.Confirmed() {
		c.JSON(http.StatusConflict, gin.H{"error": ErrNotConfirmed.Error()})
		return
	}

	p, err := h.Archive.Save(c.Request.Context(), s.Project(uuid.NewString()))
	if err != nil {
		log.Printf("[session] %s save: %v", s.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save failed"})
		return
	}

	if h.Hub != nil {
		go h.Hub.FeedJSON(sync.ProjectEvent{
			Type:      "project.saved",
			UserID:    p.UserID,
			ProjectID: p.ID,
			At:        time.Now().UTC(),
		})
	}
	c.JSON(http.StatusCreated, p)
}

func wantWait(c *gin.Context) bool {
	v, _ := strconv.ParseBool(c.Query("wait"))
	return v
}
