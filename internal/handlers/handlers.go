package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tamakara/bakabooru/internal/config"
	"github.com/tamakara/bakabooru/internal/models"
	"github.com/tamakara/bakabooru/internal/repository"
	"github.com/tamakara/bakabooru/internal/search"
	"github.com/tamakara/bakabooru/internal/service"
)

type Uploads interface {
	Submit(ctx context.Context, input service.UploadInput) (models.UploadTask, error)
}

type Tasks interface {
	Info(ctx context.Context) (service.TaskInfo, error)
	Retry(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	Purge(ctx context.Context) (int, error)
}

type Images interface {
	Get(ctx context.Context, id int64) (models.Image, error)
	UpdateTitle(ctx context.Context, id int64, title string) (models.Image, error)
	AddTag(ctx context.Context, imageID, tagID int64) (models.Image, error)
	RemoveTag(ctx context.Context, imageID, tagID int64) (models.Image, error)
	Delete(ctx context.Context, id int64) error
	Open(ctx context.Context, id int64) (io.ReadCloser, models.Image, error)
	Thumbnail(ctx context.Context, id int64) (io.ReadCloser, error)
	SearchTags(ctx context.Context, q string, limit int) ([]repository.TagUsage, error)
}

type Searcher interface {
	Search(ctx context.Context, req search.Request) (search.Page, error)
	SearchByImage(ctx context.Context, input service.SimilarInput) (search.Page, error)
}

type Settings interface {
	All(ctx context.Context) (map[string]string, error)
	Set(ctx context.Context, values map[string]string) error
}

// Check reports the health of one dependency.
type Check func(ctx context.Context) error

type Deps struct {
	Uploads  Uploads
	Tasks    Tasks
	Images   Images
	Search   Searcher
	Settings Settings
	Checks   map[string]Check
}

type HandlerSet struct {
	log      zerolog.Logger
	cfg      *config.AppConfig
	uploads  Uploads
	tasks    Tasks
	images   Images
	search   Searcher
	settings Settings
	checks   map[string]Check
}

func NewHandlerSet(log zerolog.Logger, cfg *config.AppConfig, deps Deps) HandlerSet {
	return HandlerSet{
		log:      log,
		cfg:      cfg,
		uploads:  deps.Uploads,
		tasks:    deps.Tasks,
		images:   deps.Images,
		search:   deps.Search,
		settings: deps.Settings,
		checks:   deps.Checks,
	}
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	v1 := router.Group("/v1")

	upload := v1.Group("/upload")
	upload.POST("", h.Upload)
	upload.GET("/tasks", h.TaskInfo)
	upload.POST("/tasks/:id/retry", h.RetryTask)
	upload.DELETE("/tasks/:id", h.DeleteTask)
	upload.DELETE("/tasks", h.PurgeTasks)

	v1.GET("/search", h.Search)
	v1.POST("/search/similar", h.SearchSimilar)

	images := v1.Group("/images")
	images.GET("/:id", h.GetImage)
	images.PUT("/:id", h.UpdateImage)
	images.DELETE("/:id", h.DeleteImage)
	images.GET("/:id/file", h.ImageFile)
	images.GET("/:id/thumbnail", h.ImageThumbnail)
	images.POST("/:id/tags/:tagId", h.AddImageTag)
	images.DELETE("/:id/tags/:tagId", h.RemoveImageTag)

	v1.GET("/tags", h.ListTags)

	v1.GET("/settings", h.GetSettings)
	v1.PUT("/settings", h.UpdateSettings)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrDuplicateContent):
		return http.StatusConflict
	case errors.Is(err, models.ErrUnsupportedContent):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, models.ErrExternalService):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h HandlerSet) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		c.JSON(status, gin.H{"error": "internal_server_error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
