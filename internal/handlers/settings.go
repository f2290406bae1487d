package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h HandlerSet) GetSettings(c *gin.Context) {
	values, err := h.settings.All(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, values)
}

func (h HandlerSet) UpdateSettings(c *gin.Context) {
	var values map[string]string
	if err := c.ShouldBindJSON(&values); err != nil || len(values) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body"})
		return
	}
	if err := h.settings.Set(c.Request.Context(), values); err != nil {
		h.fail(c, err)
		return
	}
	h.GetSettings(c)
}
