package studio

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"papercut-studio-go/src/configs"
	"papercut-studio-go/src/core/auth"
	"papercut-studio-go/src/core/image"
	"papercut-studio-go/src/core/pipeline"
	"papercut-studio-go/src/core/pool"
	"papercut-studio-go/src/core/providers/oracle"
	"papercut-studio-go/src/core/utils"
	"papercut-studio-go/src/task"
)

const (
	// 最大上传文件大小为10MB
	MAX_FILE_SIZE = 10 * 1024 * 1024
)

// DefaultStudioService 图层工作台HTTP服务。
// 慢阶段（分析、抠取、评测）提交为异步任务立即返回任务号，
// 进度经WebSocket推送；快阶段（确认、重抠、查询）同步处理。
type DefaultStudioService struct {
	logger    *utils.Logger
	config    *configs.Config
	pools     *pool.PoolManager
	pipeline  *pipeline.Pipeline
	provider  oracle.Provider
	taskMgr   *task.TaskManager
	hub       *ProgressHub
	authToken *auth.AuthToken
	validator *image.SecurityValidator
}

// NewDefaultStudioService 构造函数
func NewDefaultStudioService(config *configs.Config, logger *utils.Logger, pools *pool.PoolManager, store pipeline.Store, usage pipeline.UsageSink) (*DefaultStudioService, error) {
	provider, err := pools.GetOracle()
	if err != nil {
		return nil, fmt.Errorf("获取Oracle提供者失败: %v", err)
	}

	oracleName := config.SelectedModule["Oracle"]
	oracleConfig := config.Oracle[oracleName]

	service := &DefaultStudioService{
		logger:    logger,
		config:    config,
		pools:     pools,
		provider:  provider,
		pipeline:  pipeline.NewPipeline(provider, store, &config.Pipeline, logger),
		hub:       NewProgressHub(logger),
		authToken: auth.NewAuthToken(config.Server.Token),
		validator: image.NewSecurityValidator(&oracleConfig.Security, logger),
	}

	// 流水线事件直通推送中心，Oracle用量落库
	service.pipeline.OnEvent = service.hub.Broadcast
	service.pipeline.Usage = usage

	// 有存档就接着上次的进度干
	if resumed, err := service.pipeline.Resume(); err != nil {
		logger.FormatWarn("恢复项目存档失败: %v", err)
	} else if resumed {
		logger.Info("已从存档恢复项目进度")
	}

	service.taskMgr = task.NewTaskManager(task.ResourceConfig{
		MaxWorkers:        config.Pipeline.MaxWorkers,
		MaxTasksPerClient: config.Pipeline.MaxTasksPerClient,
	}, logger)
	service.taskMgr.Start()
	service.registerExecutors()

	return service, nil
}

// registerExecutors 注册异步任务执行器
func (s *DefaultStudioService) registerExecutors() {
	task.RegisterTaskExecutor(task.TaskTypeAnalyze, func(t *task.Task) error {
		if err := s.pipeline.Analyze(t.Context); err != nil {
			return err
		}
		return s.pipeline.PrepareIsolation(t.Context)
	})

	task.RegisterTaskExecutor(task.TaskTypeIsolate, func(t *task.Task) error {
		return s.pipeline.RunIsolation(t.Context, nil)
	})

	task.RegisterTaskExecutor(task.TaskTypeBenchmark, func(t *task.Task) error {
		req, _ := t.Params.(*BenchmarkRequest)
		if req == nil {
			req = &BenchmarkRequest{}
		}
		results, err := s.runBenchmark(t.Context, req)
		if err != nil {
			return err
		}
		t.Result = results
		return nil
	})
}

// Start 实现 StudioService 接口，注册所有工作台路由
func (s *DefaultStudioService) Start(ctx context.Context, engine *gin.Engine, apiGroup *gin.RouterGroup) error {
	apiGroup.GET("/studio", s.handleGet)
	apiGroup.OPTIONS("/studio", s.handleOptions)
	apiGroup.POST("/studio/auth", s.handleAuth)

	apiGroup.POST("/studio/upload", s.withAuth(s.handleUpload))
	apiGroup.POST("/studio/analyze", s.withAuth(s.handleAnalyze))
	apiGroup.POST("/studio/isolate", s.withAuth(s.handleIsolate))
	apiGroup.POST("/studio/isolation/approve", s.withAuth(s.handleApproveIsolation))
	apiGroup.POST("/studio/approve", s.withAuth(s.handleApproveLayer))
	apiGroup.POST("/studio/rerun", s.withAuth(s.handleRerun))
	apiGroup.POST("/studio/retry", s.withAuth(s.handleRetry))
	apiGroup.POST("/studio/benchmark", s.withAuth(s.handleBenchmark))
	apiGroup.GET("/studio/status", s.withAuth(s.handleStatus))
	apiGroup.GET("/studio/layers/:index/image", s.withAuth(s.handleLayerImage))
	apiGroup.GET("/studio/export", s.withAuth(s.handleExport))

	// 进度推送不走Bearer头（浏览器WebSocket设不了自定义头），令牌放查询参数
	apiGroup.GET("/studio/progress", s.handleProgress)

	s.logger.Info("工作台HTTP服务路由注册完成")
	return nil
}

// Stop 归还Oracle实例并关闭任务池与推送中心
func (s *DefaultStudioService) Stop() error {
	s.taskMgr.Stop()
	s.hub.Close()
	if s.provider != nil {
		s.pools.PutOracle(s.provider)
	}
	return nil
}

func (s *DefaultStudioService) addCORSHeaders(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, Client-Id")
}

func (s *DefaultStudioService) respondError(c *gin.Context, code int, message string) {
	c.JSON(code, StandardResponse{Success: false, Message: message})
}

// handleOptions 处理OPTIONS请求（CORS）
func (s *DefaultStudioService) handleOptions(c *gin.Context) {
	s.addCORSHeaders(c)
	c.Status(http.StatusOK)
}

// handleGet 处理GET请求（状态检查）
func (s *DefaultStudioService) handleGet(c *gin.Context) {
	s.addCORSHeaders(c)

	stats := s.pools.GetStats()
	message := fmt.Sprintf("图层工作台接口运行正常，Oracle实例 %d/%d，可用密钥 %d/%d",
		stats["oracle"]["available"], stats["oracle"]["total"],
		stats["credentials"]["available"], stats["credentials"]["total"])
	c.String(http.StatusOK, message)
}

// handleAuth 用服务端共享令牌换取操作端JWT
func (s *DefaultStudioService) handleAuth(c *gin.Context) {
	s.addCORSHeaders(c)

	var req AuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, "请求格式错误: "+err.Error())
		return
	}
	if req.AccessToken != s.config.Server.Token {
		s.logger.FormatWarn("客户端 %s 令牌交换失败", req.ClientID)
		s.respondError(c, http.StatusUnauthorized, "access_token无效")
		return
	}

	token, err := s.authToken.GenerateToken(req.ClientID)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "签发令牌失败")
		return
	}
	c.JSON(http.StatusOK, AuthResponse{Token: token})
}

// verifyAuth 验证Bearer令牌并匹配Client-Id
func (s *DefaultStudioService) verifyAuth(c *gin.Context) (*AuthVerifyResult, error) {
	authHeader := c.GetHeader("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return nil, fmt.Errorf("无效的认证token或token已过期")
	}
	token := authHeader[7:]

	isValid, clientID, err := s.authToken.VerifyToken(token)
	if err != nil || !isValid {
		return nil, fmt.Errorf("无效的认证token或token已过期")
	}

	requestClientID := c.GetHeader("Client-Id")
	if requestClientID != "" && requestClientID != clientID {
		return nil, fmt.Errorf("客户端ID与token不匹配")
	}

	return &AuthVerifyResult{IsValid: true, ClientID: clientID}, nil
}

// withAuth 包装需要认证的处理函数
func (s *DefaultStudioService) withAuth(handler func(c *gin.Context, clientID string)) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.addCORSHeaders(c)

		result, err := s.verifyAuth(c)
		if err != nil {
			s.logger.FormatWarn("工作台认证失败: %v", err)
			s.respondError(c, http.StatusUnauthorized, err.Error())
			return
		}
		handler(c, result.ClientID)
	}
}

// handleUpload 上传原图并创建项目
func (s *DefaultStudioService) handleUpload(c *gin.Context, clientID string) {
	if err := c.Request.ParseMultipartForm(MAX_FILE_SIZE); err != nil {
		s.respondError(c, http.StatusBadRequest, "解析multipart表单失败: "+err.Error())
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		s.respondError(c, http.StatusBadRequest, "缺少图片文件: "+err.Error())
		return
	}
	defer file.Close()

	if header.Size > MAX_FILE_SIZE {
		s.respondError(c, http.StatusBadRequest,
			fmt.Sprintf("图片大小超过限制，最大允许%dMB", MAX_FILE_SIZE/1024/1024))
		return
	}

	raw, err := io.ReadAll(file)
	if err != nil {
		s.respondError(c, http.StatusBadRequest, "读取图片数据失败: "+err.Error())
		return
	}

	img := image.ImageData{Data: base64.StdEncoding.EncodeToString(raw)}

	// 安全校验：签名、尺寸、深度扫描
	validation := s.validator.ValidateImageData(img)
	if !validation.IsValid {
		s.logger.FormatWarn("上传图片未通过安全校验: %v (%s)", validation.Error, validation.SecurityRisk)
		s.respondError(c, http.StatusBadRequest, fmt.Sprintf("图片校验失败: %v", validation.Error))
		return
	}
	img.Format = validation.Format
	if err := s.pipeline.Begin(c.Request.Context(), img); err != nil {
		s.respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.FormatInfo("客户端 %s 上传原图 %dx%d (%s)",
		clientID, validation.Width, validation.Height, validation.Format)
	c.JSON(http.StatusOK, StandardResponse{Success: true, Message: "项目已创建"})
}

// submitTask 提交异步任务并立即返回任务号
func (s *DefaultStudioService) submitTask(c *gin.Context, clientID string, taskType task.TaskType, params interface{}) {
	// 任务生命周期不能跟着HTTP请求的context走，请求返回后任务还在跑
	t, id := task.NewTask(context.Background(), taskType, params)
	t.Callback = task.NewCallBack(func(result interface{}) {
		if errMsg, ok := result.(map[string]interface{}); ok && errMsg["status"] == "failed" {
			s.hub.Broadcast(pipeline.Event{Stage: string(taskType), Message: "任务失败",
				Err: fmt.Sprintf("%v", errMsg["error"])})
			return
		}
		s.hub.Broadcast(pipeline.Event{Stage: string(taskType), Message: "任务完成"})
	}, s.logger)

	if err := s.taskMgr.SubmitTask(clientID, t); err != nil {
		s.respondError(c, http.StatusTooManyRequests, err.Error())
		return
	}
	c.JSON(http.StatusOK, TaskResponse{Success: true, TaskID: id})
}

// handleAnalyze 异步执行图层分析（描述+抠取指令）
func (s *DefaultStudioService) handleAnalyze(c *gin.Context, clientID string) {
	s.submitTask(c, clientID, task.TaskTypeAnalyze, nil)
}

// handleIsolate 异步执行图层抠取（带重试循环）
func (s *DefaultStudioService) handleIsolate(c *gin.Context, clientID string) {
	s.submitTask(c, clientID, task.TaskTypeIsolate, nil)
}

// handleBenchmark 异步执行策略对比
func (s *DefaultStudioService) handleBenchmark(c *gin.Context, clientID string) {
	var req BenchmarkRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		s.respondError(c, http.StatusBadRequest, "请求格式错误: "+err.Error())
		return
	}
	s.submitTask(c, clientID, task.TaskTypeBenchmark, &req)
}

// handleApproveIsolation 确认抠取结果，触发焊接
func (s *DefaultStudioService) handleApproveIsolation(c *gin.Context, clientID string) {
	if err := s.pipeline.ApproveIsolation(c.Request.Context()); err != nil {
		s.respondError(c, http.StatusConflict, err.Error())
		return
	}
	c.JSON(http.StatusOK, StandardResponse{Success: true, Message: "抠取已确认，焊接完成"})
}

// handleApproveLayer 最终定稿当前图层
func (s *DefaultStudioService) handleApproveLayer(c *gin.Context, clientID string) {
	if err := s.pipeline.ApproveLayer(c.Request.Context()); err != nil {
		s.respondError(c, http.StatusConflict, err.Error())
		return
	}
	c.JSON(http.StatusOK, StandardResponse{Success: true, Message: "图层已定稿"})
}

// handleRerun 丢弃当前抠取产物重抠
func (s *DefaultStudioService) handleRerun(c *gin.Context, clientID string) {
	if err := s.pipeline.Rerun(c.Request.Context()); err != nil {
		s.respondError(c, http.StatusConflict, err.Error())
		return
	}
	c.JSON(http.StatusOK, StandardResponse{Success: true, Message: "已重置，可重新抠取"})
}

// handleRetry 失败后回到可重试状态
func (s *DefaultStudioService) handleRetry(c *gin.Context, clientID string) {
	if err := s.pipeline.Retry(c.Request.Context()); err != nil {
		s.respondError(c, http.StatusConflict, err.Error())
		return
	}
	c.JSON(http.StatusOK, StandardResponse{Success: true, Message: "已重置失败状态"})
}

// handleStatus 查询项目状态
func (s *DefaultStudioService) handleStatus(c *gin.Context, clientID string) {
	snap := s.pipeline.Snapshot()
	if snap == nil {
		c.JSON(http.StatusOK, StatusResponse{Success: true, HasProject: false,
			Message: "尚未创建项目"})
		return
	}

	resp := StatusResponse{
		Success:           true,
		HasProject:        true,
		CurrentLayerIndex: snap.CurrentLayerIndex,
	}
	for _, layer := range snap.ApprovedLayers {
		resp.ApprovedLayers = append(resp.ApprovedLayers, layerView(layer))
	}
	if snap.Working != nil {
		view := layerView(snap.Working)
		resp.Working = &view
	}
	c.JSON(http.StatusOK, resp)
}

// handleLayerImage 下载图层图片，kind取isolated/welded/original
func (s *DefaultStudioService) handleLayerImage(c *gin.Context, clientID string) {
	snap := s.pipeline.Snapshot()
	if snap == nil {
		s.respondError(c, http.StatusNotFound, "尚未创建项目")
		return
	}

	kind := c.DefaultQuery("kind", "welded")
	if kind == "original" {
		s.writeImage(c, &snap.OriginalImage)
		return
	}

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 1 {
		s.respondError(c, http.StatusBadRequest, "图层序号无效")
		return
	}

	var layer *pipeline.LayerDescriptor
	if index <= len(snap.ApprovedLayers) {
		layer = snap.ApprovedLayers[index-1]
	} else if snap.Working != nil && snap.Working.Index == index {
		layer = snap.Working
	}
	if layer == nil {
		s.respondError(c, http.StatusNotFound, fmt.Sprintf("找不到第%d层", index))
		return
	}

	var img *image.ImageData
	switch kind {
	case "isolated":
		img = layer.IsolatedImage
	case "welded":
		img = layer.WeldedImage
	default:
		s.respondError(c, http.StatusBadRequest, "kind取值应为isolated/welded/original")
		return
	}
	if img == nil {
		s.respondError(c, http.StatusNotFound, fmt.Sprintf("第%d层还没有%s图", index, kind))
		return
	}
	s.writeImage(c, img)
}

func (s *DefaultStudioService) writeImage(c *gin.Context, img *image.ImageData) {
	raw, err := base64.StdEncoding.DecodeString(img.Data)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "图片数据损坏")
		return
	}
	c.Data(http.StatusOK, img.MIMEType(), raw)
}

// handleExport 导出项目为zip包
func (s *DefaultStudioService) handleExport(c *gin.Context, clientID string) {
	snap := s.pipeline.Snapshot()
	files, err := pipeline.Export(snap)
	if err != nil {
		s.respondError(c, http.StatusConflict, err.Error())
		return
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, file := range files {
		w, err := zw.Create(file.Name)
		if err != nil {
			s.respondError(c, http.StatusInternalServerError, "打包失败: "+err.Error())
			return
		}
		if _, err := w.Write(file.Data); err != nil {
			s.respondError(c, http.StatusInternalServerError, "打包失败: "+err.Error())
			return
		}
	}
	if err := zw.Close(); err != nil {
		s.respondError(c, http.StatusInternalServerError, "打包失败: "+err.Error())
		return
	}

	s.logger.FormatInfo("客户端 %s 导出项目，共%d个文件", clientID, len(files))
	c.Header("Content-Disposition", `attachment; filename="papercut-layers.zip"`)
	c.Data(http.StatusOK, "application/zip", buf.Bytes())
}

// handleProgress WebSocket进度推送，令牌经查询参数传入
func (s *DefaultStudioService) handleProgress(c *gin.Context) {
	token := c.Query("token")
	if isValid, _, err := s.authToken.VerifyToken(token); err != nil || !isValid {
		s.respondError(c, http.StatusUnauthorized, "无效的认证token或token已过期")
		return
	}
	s.hub.HandleWS(c)
}

// runBenchmark 为每个待对比的Oracle配置建独立提供者并发评测
func (s *DefaultStudioService) runBenchmark(ctx context.Context, req *BenchmarkRequest) ([]pipeline.StrategyResult, error) {
	snap := s.pipeline.Snapshot()
	if snap == nil || snap.Working == nil || snap.Working.IsolationDescription == "" {
		return nil, fmt.Errorf("当前图层还没有抠取指令，无法评测")
	}

	names := req.Strategies
	if len(names) == 0 {
		for name := range s.config.Oracle {
			names = append(names, name)
		}
	}

	selected := s.config.SelectedModule["Oracle"]

	strategies := make([]pipeline.Strategy, 0, len(names))
	for _, name := range names {
		cfg, ok := s.config.Oracle[name]
		if !ok {
			return nil, fmt.Errorf("找不到Oracle配置: %s", name)
		}

		// 当前选中的配置直接从资源池取实例，评测完归还
		if name == selected {
			provider, err := s.pools.GetOracle()
			if err != nil {
				return nil, fmt.Errorf("获取策略 %s 的池化实例失败: %v", name, err)
			}
			defer s.pools.PutOracle(provider)
			strategies = append(strategies, pipeline.Strategy{Name: name, Provider: provider})
			continue
		}
		credentials, err := pool.NewCredentialPool(cfg.APIKeys, s.logger)
		if err != nil {
			return nil, fmt.Errorf("策略 %s 密钥池初始化失败: %v", name, err)
		}
		provider, err := oracle.Create(cfg.Type, &oracle.Config{
			Type:        cfg.Type,
			ModelName:   cfg.ModelName,
			BaseURL:     cfg.BaseURL,
			Credentials: credentials,
			Analysis:    cfg.Analysis,
			Isolation:   cfg.Isolation,
			Security:    cfg.Security,
		}, s.logger)
		if err != nil {
			return nil, fmt.Errorf("创建策略 %s 的提供者失败: %v", name, err)
		}
		if err := provider.Initialize(); err != nil {
			return nil, fmt.Errorf("初始化策略 %s 的提供者失败: %v", name, err)
		}
		defer provider.Cleanup()

		strategies = append(strategies, pipeline.Strategy{Name: name, Provider: provider})
	}

	return pipeline.RunBenchmark(ctx, strategies, snap.OriginalImage,
		snap.Working.IsolationDescription, &s.config.Pipeline, s.logger)
}
