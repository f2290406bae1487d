package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tamakara/bakabooru/internal/media/sniffer"
	"github.com/tamakara/bakabooru/internal/search"
	"github.com/tamakara/bakabooru/internal/service"
)

const defaultPageSize = 20

type pageResponse struct {
	Items         []imageResponse `json:"items"`
	Page          int             `json:"page"`
	Size          int             `json:"size"`
	TotalElements int64           `json:"totalElements"`
	TotalPages    int             `json:"totalPages"`
	Seed          string          `json:"seed,omitempty"`
}

func newPageResponse(page search.Page) pageResponse {
	items := make([]imageResponse, 0, len(page.Items))
	for _, it := range page.Items {
		resp := newImageResponse(it.Image)
		resp.Distance = it.Distance
		items = append(items, resp)
	}
	return pageResponse{
		Items:         items,
		Page:          page.Page,
		Size:          page.Size,
		TotalElements: page.TotalElements,
		TotalPages:    page.TotalPages,
		Seed:          page.Seed,
	}
}

type queryError struct{ param string }

func (e queryError) Error() string { return "invalid_" + e.param }

func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, queryError{name}
	}
	return v, nil
}

func queryRange(c *gin.Context, prefix string) (search.Range, error) {
	var r search.Range
	for _, b := range []struct {
		suffix string
		dst    **int64
	}{{"Min", &r.Min}, {"Max", &r.Max}} {
		raw := c.Query(prefix + b.suffix)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return search.Range{}, queryError{prefix + b.suffix}
		}
		*b.dst = &v
	}
	return r, nil
}

func parseSearchRequest(c *gin.Context) (search.Request, error) {
	req := search.Request{
		Tags:          c.Query("tags"),
		Keyword:       c.Query("keyword"),
		SemanticQuery: c.Query("query"),
		RandomSeed:    c.Query("randomSeed"),
		Sort:          c.Query("sort"),
	}
	var err error
	if req.Page, err = queryInt(c, "page", 0); err != nil {
		return req, err
	}
	if req.Size, err = queryInt(c, "size", defaultPageSize); err != nil {
		return req, err
	}
	if req.Width, err = queryRange(c, "width"); err != nil {
		return req, err
	}
	if req.Height, err = queryRange(c, "height"); err != nil {
		return req, err
	}
	if req.FileSize, err = queryRange(c, "size"); err != nil {
		return req, err
	}
	return req, nil
}

func (h HandlerSet) Search(c *gin.Context) {
	req, err := parseSearchRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	page, err := h.search.Search(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newPageResponse(page))
}

func (h HandlerSet) SearchSimilar(c *gin.Context) {
	if h.cfg.HTTP.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.HTTP.MaxUploadBytes)
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file_required"})
		return
	}
	defer file.Close()

	input := service.SimilarInput{
		File: file,
		Size: header.Size,
		MIME: sniffer.MimeTypeFromHTTP(http.Header(header.Header)),
	}
	if raw := c.PostForm("similarity"); raw != "" {
		if input.Similarity, err = strconv.ParseFloat(raw, 64); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_similarity"})
			return
		}
	}
	if input.Page, err = formInt(c, "page", 0); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if input.PageSize, err = formInt(c, "size", defaultPageSize); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	page, err := h.search.SearchByImage(c.Request.Context(), input)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newPageResponse(page))
}

func formInt(c *gin.Context, name string, def int) (int, error) {
	raw := c.PostForm(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, queryError{name}
	}
	return v, nil
}
