package studio

import (
	"context"

	"github.com/gin-gonic/gin"
)

// StudioService 定义图层工作台服务接口
type StudioService interface {
	// 将工作台的路由注册到 engine 与 apiGroup
	Start(ctx context.Context, engine *gin.Engine, apiGroup *gin.RouterGroup) error

	// Stop 释放占用的Oracle资源
	Stop() error
}
