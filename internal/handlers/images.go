package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tamakara/bakabooru/internal/media/sniffer"
	"github.com/tamakara/bakabooru/internal/models"
)

type tagResponse struct {
	ID    int64   `json:"id"`
	Name  string  `json:"name"`
	Type  string  `json:"type"`
	Score float64 `json:"score"`
}

type imageResponse struct {
	ID           int64         `json:"id"`
	Title        string        `json:"title"`
	FileName     string        `json:"fileName"`
	Extension    string        `json:"extension"`
	Size         int64         `json:"size"`
	Width        int           `json:"width"`
	Height       int           `json:"height"`
	Hash         string        `json:"hash"`
	ViewCount    int64         `json:"viewCount"`
	Tags         []tagResponse `json:"tags"`
	FileURL      string        `json:"fileUrl"`
	ThumbnailURL string        `json:"thumbnailUrl"`
	Distance     *float64      `json:"distance,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

type updateImageRequest struct {
	Title string `json:"title" binding:"required"`
}

func newImageResponse(img models.Image) imageResponse {
	tags := make([]tagResponse, 0, len(img.Tags))
	for _, rel := range img.Tags {
		tags = append(tags, tagResponse{ID: rel.Tag.ID, Name: rel.Tag.Name, Type: rel.Tag.Type, Score: rel.Score})
	}
	return imageResponse{
		ID:           img.ID,
		Title:        img.Title,
		FileName:     img.FileName,
		Extension:    img.Extension,
		Size:         img.Size,
		Width:        img.Width,
		Height:       img.Height,
		Hash:         img.Hash,
		ViewCount:    img.ViewCount,
		Tags:         tags,
		FileURL:      fmt.Sprintf("/api/v1/images/%d/file", img.ID),
		ThumbnailURL: fmt.Sprintf("/api/v1/images/%d/thumbnail", img.ID),
		CreatedAt:    img.CreatedAt,
		UpdatedAt:    img.UpdatedAt,
	}
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_" + name})
		return 0, false
	}
	return id, true
}

func (h HandlerSet) GetImage(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	img, err := h.images.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newImageResponse(img))
}

func (h HandlerSet) UpdateImage(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req updateImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body"})
		return
	}
	img, err := h.images.UpdateTitle(c.Request.Context(), id, req.Title)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newImageResponse(img))
}

func (h HandlerSet) DeleteImage(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.images.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) AddImageTag(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	tagID, ok := pathID(c, "tagId")
	if !ok {
		return
	}
	img, err := h.images.AddTag(c.Request.Context(), id, tagID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newImageResponse(img))
}

func (h HandlerSet) RemoveImageTag(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	tagID, ok := pathID(c, "tagId")
	if !ok {
		return
	}
	img, err := h.images.RemoveTag(c.Request.Context(), id, tagID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newImageResponse(img))
}

func (h HandlerSet) ImageFile(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	rc, img, err := h.images.Open(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	defer rc.Close()

	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", img.FileName))
	c.DataFromReader(http.StatusOK, img.Size, sniffer.ContentTypeForExtension(img.Extension), rc, nil)
}

func (h HandlerSet) ImageThumbnail(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	rc, err := h.images.Thumbnail(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	defer rc.Close()

	c.Header("Cache-Control", "public, max-age=86400")
	c.DataFromReader(http.StatusOK, -1, "image/jpeg", rc, nil)
}

func (h HandlerSet) ListTags(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 || v > 200 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		limit = v
	}

	tags, err := h.images.SearchTags(c.Request.Context(), c.Query("q"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}

	items := make([]gin.H, 0, len(tags))
	for _, t := range tags {
		items = append(items, gin.H{
			"id":    t.ID,
			"name":  t.Name,
			"type":  t.Type,
			"count": t.Count,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}
