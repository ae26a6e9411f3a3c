package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmerrifield20/SubzoneRegistry/internal/identity"
	"github.com/jmerrifield20/SubzoneRegistry/internal/registry/model"
	"github.com/jmerrifield20/SubzoneRegistry/internal/registry/service"
	"go.uber.org/zap"
)

// SubdomainHandler handles HTTP requests for the subdomain registry.
type SubdomainHandler struct {
	reg    *service.Registry
	logger *zap.Logger
}

// NewSubdomainHandler creates a new SubdomainHandler.
func NewSubdomainHandler(reg *service.Registry, logger *zap.Logger) *SubdomainHandler {
	return &SubdomainHandler{reg: reg, logger: logger}
}

// Register mounts the subdomain routes. The group must already run
// identity.Authenticate.
func (h *SubdomainHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/availability/:label", h.CheckAvailability)

	subs := rg.Group("/subdomains", identity.RequireActor())
	{
		subs.POST("", h.Create)
		subs.GET("", h.List)
		subs.GET("/:id", h.Get)
		subs.PATCH("/:id", h.UpdateTarget)
		subs.POST("/:id/status", h.SetStatus)
		subs.POST("/:id/dns/sync", h.SyncDNS)
		subs.DELETE("/:id", h.Delete)
	}
}

// CheckAvailability handles GET /availability/:label.
func (h *SubdomainHandler) CheckAvailability(c *gin.Context) {
	avail, err := h.reg.CheckAvailability(c.Request.Context(), c.Param("label"))
	if err != nil {
		h.fail(c, "check availability", err)
		return
	}
	c.JSON(http.StatusOK, avail)
}

// Create handles POST /subdomains.
func (h *SubdomainHandler) Create(c *gin.Context) {
	var req model.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_request"})
		return
	}
	rec, err := h.reg.Create(c.Request.Context(), identity.ActorFromCtx(c), req)
	if err != nil {
		h.fail(c, "create subdomain", err)
		return
	}
	c.JSON(http.StatusCreated, mutation(rec))
}

// List handles GET /subdomains?status=&owner_id=&cursor=&limit=.
func (h *SubdomainHandler) List(c *gin.Context) {
	f := model.ListFilter{
		Status:  model.Status(c.Query("status")),
		OwnerID: c.Query("owner_id"),
	}
	if f.Status != "" && !f.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + strconv.Quote(string(f.Status)), "code": "invalid_request"})
		return
	}
	if raw := c.Query("cursor"); raw != "" {
		cur, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cursor must be a subdomain id", "code": "invalid_request"})
			return
		}
		f.Cursor = &cur
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer", "code": "invalid_request"})
			return
		}
		f.Limit = n
	}

	page, err := h.reg.List(c.Request.Context(), identity.ActorFromCtx(c), f)
	if err != nil {
		h.fail(c, "list subdomains", err)
		return
	}
	items := page.Items
	if items == nil {
		items = []*model.Subdomain{}
	}
	resp := gin.H{"subdomains": items, "count": len(items)}
	if page.NextCursor != nil {
		resp["next_cursor"] = page.NextCursor.String()
	}
	c.JSON(http.StatusOK, resp)
}

// Get handles GET /subdomains/:id.
func (h *SubdomainHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	rec, err := h.reg.Get(c.Request.Context(), identity.ActorFromCtx(c), id)
	if err != nil {
		h.fail(c, "get subdomain", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subdomain": rec, "dns": model.DNSStateOf(rec)})
}

// UpdateTarget handles PATCH /subdomains/:id.
func (h *SubdomainHandler) UpdateTarget(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req model.UpdateTargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_request"})
		return
	}
	rec, err := h.reg.UpdateTarget(c.Request.Context(), identity.ActorFromCtx(c), id, req.Target)
	if err != nil {
		h.fail(c, "update target", err)
		return
	}
	c.JSON(http.StatusOK, mutation(rec))
}

// SetStatus handles POST /subdomains/:id/status.
func (h *SubdomainHandler) SetStatus(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req model.SetStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_request"})
		return
	}
	rec, err := h.reg.SetStatus(c.Request.Context(), identity.ActorFromCtx(c), id, req.Status)
	if err != nil {
		h.fail(c, "set status", err)
		return
	}
	c.JSON(http.StatusOK, mutation(rec))
}

// SyncDNS handles POST /subdomains/:id/dns/sync.
func (h *SubdomainHandler) SyncDNS(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	rec, err := h.reg.SyncDNS(c.Request.Context(), identity.ActorFromCtx(c), id)
	if err != nil {
		h.fail(c, "sync dns", err)
		return
	}
	c.JSON(http.StatusOK, mutation(rec))
}

// Delete handles DELETE /subdomains/:id.
func (h *SubdomainHandler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.reg.Delete(c.Request.Context(), identity.ActorFromCtx(c), id); err != nil {
		h.fail(c, "delete subdomain", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func mutation(rec *model.Subdomain) gin.H {
	return gin.H{"subdomain": rec, "dns": model.DNSStateOf(rec)}
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		// Unparseable ids cannot name a stored record.
		c.JSON(http.StatusNotFound, gin.H{"error": service.ErrNotFound.Error(), "code": "not_found"})
		return uuid.Nil, false
	}
	return id, true
}

// fail maps a Registry error onto the API's status codes and error codes.
func (h *SubdomainHandler) fail(c *gin.Context, op string, err error) {
	status, code := errorStatus(err)
	msg := err.Error()
	if status == http.StatusServiceUnavailable {
		h.logger.Error(op, zap.Error(err))
		msg = service.ErrUpstreamUnavailable.Error()
	}
	c.JSON(status, gin.H{"error": msg, "code": code})
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidLabel):
		return http.StatusBadRequest, "invalid_label"
	case errors.Is(err, service.ErrInvalidTarget):
		return http.StatusBadRequest, "invalid_target"
	case errors.Is(err, service.ErrLabelTaken):
		return http.StatusConflict, "label_taken"
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, service.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	default:
		return http.StatusServiceUnavailable, "upstream_unavailable"
	}
}
