// Package controller exposes the run service over HTTP.
package controller

import (
	commonmw "stressjudge/internal/common/http/middleware"

	"github.com/gin-gonic/gin"
)

// NewRouter builds the gin engine with the common middleware chain.
func NewRouter(ctrl *RunController) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceMiddleware())
	router.Use(commonmw.RequestLogger())
	RegisterRoutes(router, ctrl)
	return router
}

// RegisterRoutes mounts the run endpoints under /api/v1.
func RegisterRoutes(router gin.IRouter, ctrl *RunController) {
	api := router.Group("/api/v1")
	api.GET("/modes", ctrl.Modes)

	runs := api.Group("/runs", ctrl.requireOrigin)
	runs.POST("", ctrl.Start)
	runs.GET("", ctrl.List)
	runs.GET("/:id", ctrl.Get)
	runs.POST("/:id/stop", ctrl.Stop)
	runs.GET("/:id/events", ctrl.Events)
}
