package handler

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/mmrag/internal/logger"
	"github.com/timmy/mmrag/internal/service"
	"github.com/timmy/mmrag/internal/source"
)

// AdminHandler triggers source ingestion runs. Only one run may be active.
type AdminHandler struct {
	ingestService *service.IngestService
	sources       map[string]source.Source

	mu            sync.RWMutex
	isRunning     bool
	currentSource string
	currentStats  *service.IngestStats
	lastRunTime   time.Time
	lastRunStatus string
}

// NewAdminHandler creates a new admin handler.
// Parameters:
//   - ingestService: ingest service instance.
//   - sources: configured source adapters keyed by name.
// Returns:
//   - *AdminHandler: initialized handler.
func NewAdminHandler(ingestService *service.IngestService, sources map[string]source.Source) *AdminHandler {
	return &AdminHandler{
		ingestService: ingestService,
		sources:       sources,
	}
}

// IngestRequest represents the ingest API request.
type IngestRequest struct {
	Source string `json:"source" binding:"required"`
	Limit  int    `json:"limit" binding:"min=0,max=100000"`
	DryRun bool   `json:"dry_run"`
}

// IngestResponse represents the ingest API response.
type IngestResponse struct {
	Message string               `json:"message"`
	Stats   *service.IngestStats `json:"stats,omitempty"`
}

// IngestStatusResponse represents the ingest status.
type IngestStatusResponse struct {
	IsRunning     bool                 `json:"is_running"`
	Source        string               `json:"source,omitempty"`
	LastRunTime   string               `json:"last_run_time,omitempty"`
	LastRunStatus string               `json:"last_run_status,omitempty"`
	CurrentStats  *service.IngestStats `json:"current_stats,omitempty"`
	Sources       []string             `json:"sources"`
}

// TriggerIngest runs an ingestion of one configured source and returns its
// stats. A second request while a run is active gets 409.
func (h *AdminHandler) TriggerIngest(c *gin.Context) {
	ctx := c.Request.Context()

	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.CtxWarn(ctx, "Invalid ingest request: client_ip=%s, error=%v", c.ClientIP(), err)
		badRequest(c, err.Error())
		return
	}

	src, ok := h.sources[req.Source]
	if !ok {
		logger.CtxWarn(ctx, "Unknown source requested: source=%s", req.Source)
		badRequest(c, "Unknown source: "+req.Source)
		return
	}

	h.mu.Lock()
	if h.isRunning {
		h.mu.Unlock()
		logger.CtxWarn(ctx, "Ingest request rejected: already running, source=%s", req.Source)
		c.JSON(http.StatusConflict, gin.H{"error": "Ingest is already running"})
		return
	}
	h.isRunning = true
	h.currentSource = req.Source
	h.currentStats = nil
	h.mu.Unlock()

	logger.CtxInfo(ctx, "Starting ingest: source=%s, limit=%d, dry_run=%v", req.Source, req.Limit, req.DryRun)

	// Detached from the request so a client timeout does not abort the run.
	ingestCtx := logger.WithFields(context.Background(), logger.Fields{
		logger.FieldRequestID: logger.GetRequestID(ctx),
		logger.FieldSource:    req.Source,
	})
	start := time.Now()
	stats, err := h.ingestService.IngestFromSource(ingestCtx, src, &service.IngestOptions{
		Limit:  req.Limit,
		DryRun: req.DryRun,
	})

	h.mu.Lock()
	h.isRunning = false
	h.currentStats = stats
	h.lastRunTime = time.Now()
	if err != nil {
		h.lastRunStatus = "failed: " + err.Error()
	} else {
		h.lastRunStatus = "success"
	}
	h.mu.Unlock()

	if err != nil {
		logger.With(logger.Fields{logger.FieldSource: req.Source}).WithSince(start).
			Error(ctx, "Ingest failed: %v", err)
		respondError(c, "Ingest", err)
		return
	}

	logger.With(logger.Fields{logger.FieldSource: req.Source}).WithSince(start).
		WithCount(int(stats.ProcessedItems)).
		Info(ctx, "Ingest completed: total=%d, processed=%d, failed=%d",
			stats.TotalItems, stats.ProcessedItems, stats.FailedItems)

	c.JSON(http.StatusOK, IngestResponse{
		Message: "Ingest completed",
		Stats:   stats,
	})
}

// GetIngestStatus returns the state of the current or last run.
func (h *AdminHandler) GetIngestStatus(c *gin.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	resp := IngestStatusResponse{
		IsRunning:     h.isRunning,
		Source:        h.currentSource,
		LastRunStatus: h.lastRunStatus,
		CurrentStats:  h.currentStats,
		Sources:       make([]string, 0, len(h.sources)),
	}
	for name := range h.sources {
		resp.Sources = append(resp.Sources, name)
	}
	sort.Strings(resp.Sources)

	if !h.lastRunTime.IsZero() {
		resp.LastRunTime = h.lastRunTime.Format(time.RFC3339)
	}

	c.JSON(http.StatusOK, resp)
}
