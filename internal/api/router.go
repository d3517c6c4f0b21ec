package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
)

// NewRouter 注册全部路由
func NewRouter(mode string, syncHandler *SyncHandler, reportHandler *ReportHandler) *gin.Engine {
	gin.SetMode(mode)
	r := gin.Default()

	// 注册ppof 方便调试和监测性能问题
	pprof.Register(r)

	// 看板前端跨域访问
	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	r.Use(cors.New(corsCfg))

	r.POST("/sync/report", syncHandler.SyncReportHandler)

	r.GET("/api/last-update", reportHandler.LastUpdate)
	r.GET("/api/runs", reportHandler.ListRuns)
	r.GET("/api/review", reportHandler.ListReview)
	r.POST("/api/review/:id/resolve", reportHandler.ResolveReview)
	r.GET("/api/reports/monthly", reportHandler.MonthlyTotals)
	r.GET("/api/reports/abc", reportHandler.ABC)
	r.GET("/api/reports/regions", reportHandler.RegionRevenue)
	r.GET("/api/reports/totals", reportHandler.GroupedTotals)
	return r
}
