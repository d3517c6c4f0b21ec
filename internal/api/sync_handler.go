package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"SalesSync/internal/apperr"
	"SalesSync/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Updater 执行一次报表更新
type Updater interface {
	Run(ctx context.Context, theme string, opts service.RunOptions) (*service.UpdateSummary, error)
}

type SyncHandler struct {
	updater Updater
	theme   string
	logger  *logrus.Logger
}

func NewSyncHandler(updater Updater, theme string, logger *logrus.Logger) *SyncHandler {
	return &SyncHandler{
		updater: updater,
		theme:   theme,
		logger:  logger,
	}
}

// SyncReportHandler 手动触发一次报表更新
// @Summary 拉取最新销售报表并入库
// @Param theme query string false "邮件主题前缀（默认取配置）"
// @Param force query bool false "水位线未变化时也重新入库"
// @Success 200 {object} service.UpdateSummary
// @Failure 404,409,422,500 {object} map[string]string
// @Router /sync/report [post]
func (h *SyncHandler) SyncReportHandler(c *gin.Context) {
	theme := c.DefaultQuery("theme", h.theme)
	force, _ := strconv.ParseBool(c.DefaultQuery("force", "false"))

	summary, err := h.updater.Run(c.Request.Context(), theme, service.RunOptions{Force: force})
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.WithError(err).Error("手动更新失败")
		} else {
			h.logger.WithError(err).Warn("手动更新未完成")
		}
		c.JSON(status, gin.H{
			"error":   err.Error(),
			"summary": summary,
		})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// statusFor 更新错误 -> HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrSourceNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrMalformedReport), errors.Is(err, apperr.ErrUnknownUnit):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
