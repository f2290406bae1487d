package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tamakara/bakabooru/internal/ingest"
	"github.com/tamakara/bakabooru/internal/models"
	"github.com/tamakara/bakabooru/internal/service"
)

type processingResponse struct {
	Task      models.UploadTask `json:"task"`
	Stage     string            `json:"stage"`
	StartedAt time.Time         `json:"startedAt"`
}

type taskInfoResponse struct {
	Pending    int64               `json:"pending"`
	Processing *processingResponse `json:"processing"`
	Failed     []models.UploadTask `json:"failed"`
}

func (h HandlerSet) Upload(c *gin.Context) {
	if h.cfg.HTTP.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.HTTP.MaxUploadBytes)
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file_required"})
		return
	}
	defer file.Close()

	task, err := h.uploads.Submit(c.Request.Context(), service.UploadInput{File: file, Header: header})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, task)
}

func (h HandlerSet) TaskInfo(c *gin.Context) {
	info, err := h.tasks.Info(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := taskInfoResponse{Pending: info.Pending, Failed: info.Failed}
	if resp.Failed == nil {
		resp.Failed = []models.UploadTask{}
	}
	if p := info.Processing; p != nil && p.Stage != ingest.StageDone && p.Stage != ingest.StageFailed {
		resp.Processing = &processingResponse{Task: p.Task, Stage: string(p.Stage), StartedAt: p.StartedAt}
	}
	c.JSON(http.StatusOK, resp)
}

func (h HandlerSet) RetryTask(c *gin.Context) {
	if err := h.tasks.Retry(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) DeleteTask(c *gin.Context) {
	if err := h.tasks.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) PurgeTasks(c *gin.Context) {
	n, err := h.tasks.Purge(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purged": n})
}
