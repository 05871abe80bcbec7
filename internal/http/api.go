package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"torrra/internal/domain"
	"torrra/internal/service"
	"torrra/internal/storage"
	"torrra/internal/torrents"
	"torrra/internal/transcode"
)

// Handler wires HTTP routes to domain services.
type Handler struct {
	torrents  service.TorrentService
	users     service.UserService
	manager   *torrents.Manager
	scheduler *transcode.Scheduler
	matcher   *transcode.Matcher
	storage   storage.Service
	jwtSecret string
	tokenTTL  time.Duration
}

func NewHandler(
	torrentSvc service.TorrentService,
	users service.UserService,
	manager *torrents.Manager,
	scheduler *transcode.Scheduler,
	matcher *transcode.Matcher,
	storageSvc storage.Service,
	jwtSecret string,
	tokenTTL time.Duration,
) *Handler {
	return &Handler{
		torrents:  torrentSvc,
		users:     users,
		manager:   manager,
		scheduler: scheduler,
		matcher:   matcher,
		storage:   storageSvc,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	api := router.Group("/api")
	api.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
	})
	api.POST("/auth/register", h.register)
	api.POST("/auth/login", h.login)

	authed := api.Group("", h.authMiddleware())
	{
		authed.GET("/torrents", h.listTorrents)
		authed.POST("/torrents", h.addTorrent)
		authed.POST("/torrents/pause", h.togglePause)
		authed.GET("/torrents/files", h.listTorrentFiles)
		authed.DELETE("/torrents", h.removeTorrent)

		authed.GET("/jobs", h.listJobs)
		authed.POST("/jobs", h.queueJob)
		authed.POST("/jobs/:id/cancel", h.cancelJob)
		authed.DELETE("/jobs/:id", h.removeJob)

		authed.GET("/storage/objects", h.listStorageObjects)
		authed.DELETE("/storage/objects", h.deleteStoragePrefix)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

type credentialsRequest struct {
	Username       string `json:"username" binding:"required"`
	Password       string `json:"password" binding:"required"`
	RegisterSecret string `json:"register_secret"`
}

func (h *Handler) register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.users.Register(c.Request.Context(), req.Username, req.Password, req.RegisterSecret)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, service.ErrUserAlreadyExists) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": user.ID, "username": user.Username})
}

func (h *Handler) login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.users.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := h.issueToken(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

type addTorrentRequest struct {
	Magnet string `json:"magnet" binding:"required"`
	Source string `json:"source"`
	Paused bool   `json:"paused"`
}

func (h *Handler) addTorrent(c *gin.Context) {
	var req addTorrentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := h.torrents.CreateTorrent(c.Request.Context(), req.Magnet, req.Source, req.Paused)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := h.manager.Add(record.MagnetURI, req.Paused); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, h.torrentToResponse(*record))
}

func (h *Handler) listTorrents(c *gin.Context) {
	records, err := h.torrents.ListTorrents(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]TorrentResponse, len(records))
	for i := range records {
		resp[i] = h.torrentToResponse(records[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) togglePause(c *gin.Context) {
	magnet := c.Query("magnet")
	if magnet == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "magnet query parameter is required"})
		return
	}

	h.manager.TogglePause(magnet)
	if status, ok := h.manager.Status(magnet); ok {
		// persist the new user intent alongside the live flag
		if err := h.torrents.SetPaused(c.Request.Context(), magnet, status.IsPaused); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) listTorrentFiles(c *gin.Context) {
	magnet := c.Query("magnet")
	if magnet == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "magnet query parameter is required"})
		return
	}

	files := h.manager.Files(magnet)
	if files == nil {
		files = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

func (h *Handler) removeTorrent(c *gin.Context) {
	magnet := c.Query("magnet")
	if magnet == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "magnet query parameter is required"})
		return
	}

	// detach first: the record delete cascades to transcode jobs
	h.manager.Remove(magnet)
	if err := h.torrents.DeleteTorrent(c.Request.Context(), magnet); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": magnet})
}

func (h *Handler) listJobs(c *gin.Context) {
	jobs, err := h.scheduler.ListJobs(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]JobResponse, len(jobs))
	for i := range jobs {
		resp[i] = jobToResponse(jobs[i])
	}
	c.JSON(http.StatusOK, resp)
}

type queueJobRequest struct {
	Magnet     string `json:"magnet" binding:"required"`
	SourceFile string `json:"source_file" binding:"required"`
}

func (h *Handler) queueJob(c *gin.Context) {
	var req queueJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.scheduler.QueueJob(c.Request.Context(), req.Magnet, req.SourceFile)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, transcode.ErrNoMatchingRule) {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

func (h *Handler) cancelJob(c *gin.Context) {
	id, ok := jobIDParam(c)
	if !ok {
		return
	}
	if err := h.scheduler.CancelJob(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": id})
}

func (h *Handler) removeJob(c *gin.Context) {
	id, ok := jobIDParam(c)
	if !ok {
		return
	}
	if err := h.scheduler.RemoveJob(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (h *Handler) listStorageObjects(c *gin.Context) {
	if h.storage == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage is not configured"})
		return
	}
	objects, err := h.storage.ListObjects(c.Request.Context(), c.Query("prefix"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if objects == nil {
		objects = []storage.ObjectInfo{}
	}
	c.JSON(http.StatusOK, gin.H{"objects": objects})
}

func (h *Handler) deleteStoragePrefix(c *gin.Context) {
	if h.storage == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage is not configured"})
		return
	}
	prefix := c.Query("prefix")
	if prefix == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prefix query parameter is required"})
		return
	}
	if err := h.storage.DeletePrefix(c.Request.Context(), prefix); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": prefix})
}

func jobIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return 0, false
	}
	return id, true
}

type TorrentResponse struct {
	Magnet       string  `json:"magnet"`
	Title        string  `json:"title"`
	Size         int64   `json:"size"`
	Source       string  `json:"source"`
	IsPaused     bool    `json:"is_paused"`
	IsNotified   bool    `json:"is_notified"`
	State        string  `json:"state"`
	Progress     float64 `json:"progress"`
	DownloadRate int64   `json:"download_rate"`
	UploadRate   int64   `json:"upload_rate"`
	Seeders      int     `json:"seeders"`
	Leechers     int     `json:"leechers"`
	Attached     bool    `json:"attached"`
	Transcodable bool    `json:"transcodable"`
}

type JobResponse struct {
	ID              int64   `json:"id"`
	Magnet          string  `json:"magnet"`
	SourceFile      string  `json:"source_file"`
	DestinationFile string  `json:"destination_file"`
	Status          string  `json:"status"`
	Progress        float64 `json:"progress"`
	ErrorMessage    string  `json:"error_message,omitempty"`
	CreatedAt       string  `json:"created_at"`
}

func (h *Handler) torrentToResponse(record domain.Torrent) TorrentResponse {
	resp := TorrentResponse{
		Magnet:     record.MagnetURI,
		Title:      record.Title,
		Size:       record.Size,
		Source:     record.Source,
		IsPaused:   record.IsPaused,
		IsNotified: record.IsNotified,
		State:      string(domain.TorrentStateUnknown),
	}
	if ext := transcode.DetectVideoExtension(record.Title); ext != "" && h.matcher != nil {
		resp.Transcodable = h.matcher.Transcodable(ext)
	}
	if status, ok := h.manager.Status(record.MagnetURI); ok {
		resp.Attached = true
		resp.State = string(status.DisplayState())
		resp.Progress = status.Progress
		resp.DownloadRate = status.DownloadRate
		resp.UploadRate = status.UploadRate
		resp.Seeders = status.Seeders
		resp.Leechers = status.Leechers
	}
	return resp
}

func jobToResponse(job domain.TranscodeJob) JobResponse {
	return JobResponse{
		ID:              job.ID,
		Magnet:          job.MagnetURI,
		SourceFile:      job.SourceFile,
		DestinationFile: job.DestinationFile,
		Status:          string(job.Status),
		Progress:        job.Progress,
		ErrorMessage:    job.ErrorMessage,
		CreatedAt:       job.CreatedAt.Format(time.RFC3339),
	}
}
