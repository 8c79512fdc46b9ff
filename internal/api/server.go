// Package api 提供 HTTP 接口：提交回测、查询进度与结果、
// 同步行情数据、生成报告。
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"quantra/internal/logger"
	"quantra/internal/report"
	"quantra/internal/source"
	"quantra/internal/store"
	"quantra/internal/strategy"
	"quantra/internal/task"
)

// Server 组合各服务并暴露路由。
type Server struct {
	addr    string
	tasks   *task.Service
	fetch   *source.FetchService
	candles *store.CandleStore
	results *store.ResultStore
	router  *gin.Engine
}

type Config struct {
	Addr    string
	Tasks   *task.Service
	Fetch   *source.FetchService
	Candles *store.CandleStore
	Results *store.ResultStore
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Tasks == nil {
		return nil, errors.New("task service 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9980"
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		addr:    cfg.Addr,
		tasks:   cfg.Tasks,
		fetch:   cfg.Fetch,
		candles: cfg.Candles,
		results: cfg.Results,
		router:  router,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	api := s.router.Group("/api")

	api.GET("/strategies", s.handleStrategies)

	api.POST("/runs", s.handleRunSubmit)
	api.GET("/runs", s.handleRunList)
	api.GET("/runs/:id", s.handleRunDetail)
	api.DELETE("/runs/:id", s.handleRunCancel)
	api.GET("/runs/:id/stream", s.handleRunStream)
	api.GET("/runs/:id/trades", s.handleRunTrades)
	api.GET("/runs/:id/equity", s.handleRunEquity)
	api.GET("/runs/:id/logs", s.handleRunLogs)
	api.GET("/runs/:id/report", s.handleRunReport)
	api.GET("/history", s.handleHistory)

	api.POST("/fetch", s.handleFetch)
	api.GET("/fetch", s.handleFetchJobs)
	api.GET("/fetch/:id", s.handleFetchStatus)
	api.GET("/candles", s.handleCandles)
	api.GET("/manifest", s.handleManifest)
}

// Run 启动 HTTP 服务，ctx 结束时优雅退出。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("[api] 监听 %s", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleStrategies(c *gin.Context) {
	names := strategy.Names()
	out := make([]gin.H, 0, len(names))
	for _, name := range names {
		def, ok := strategy.Describe(name)
		if !ok {
			continue
		}
		out = append(out, gin.H{
			"name":        def.Name,
			"description": def.Description,
			"schema":      def.Schema,
		})
	}
	c.JSON(http.StatusOK, gin.H{"strategies": out})
}

func (s *Server) handleRunSubmit(c *gin.Context) {
	var params task.Params
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	run, err := s.tasks.Submit(params)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run": run})
}

func (s *Server) handleRunList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"runs": s.tasks.List()})
}

func (s *Server) handleRunDetail(c *gin.Context) {
	run, ok := s.tasks.Snapshot(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "任务不存在"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (s *Server) handleRunCancel(c *gin.Context) {
	if !s.tasks.Cancel(c.Param("id")) {
		c.JSON(http.StatusConflict, gin.H{"error": "任务不存在或已结束"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"canceled": true})
}

// handleRunStream 以 SSE 推送任务进度，终态事件后关闭连接。
func (s *Server) handleRunStream(c *gin.Context) {
	events, ok := s.tasks.Watch(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "任务不存在"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			return
		case event, open := <-events:
			if !open {
				return
			}
			c.SSEvent(string(event.Kind), event)
			c.Writer.Flush()
		}
	}
}

func (s *Server) handleRunTrades(c *gin.Context) {
	if s.results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "结果存储未启用"})
		return
	}
	trades, err := s.results.RunTrades(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleRunEquity(c *gin.Context) {
	if s.results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "结果存储未启用"})
		return
	}
	curve, err := s.results.RunEquity(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"equity": curve})
}

func (s *Server) handleRunLogs(c *gin.Context) {
	if s.results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "结果存储未启用"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "500"))
	logs, err := s.results.RunLogs(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// handleRunReport 输出 HTML 报告，只对已完成的任务可用。
func (s *Server) handleRunReport(c *gin.Context) {
	id := c.Param("id")
	run, ok := s.tasks.Snapshot(id)
	if !ok || run.Result == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "任务不存在或尚未完成"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := report.Render(c.Writer, report.Input{RunID: id, Result: *run.Result}); err != nil {
		logger.Errorf("[api] 渲染报告失败: %v", err)
	}
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "结果存储未启用"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.results.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleFetch(c *gin.Context) {
	if s.fetch == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "数据同步未启用"})
		return
	}
	var req struct {
		Exchange  string `json:"exchange"`
		Symbol    string `json:"symbol" binding:"required"`
		Timeframe string `json:"timeframe" binding:"required"`
		StartTS   int64  `json:"start_ts" binding:"required"`
		EndTS     int64  `json:"end_ts" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	job, err := s.fetch.Submit(source.FetchParams{
		Exchange:  req.Exchange,
		Symbol:    req.Symbol,
		Timeframe: req.Timeframe,
		Start:     req.StartTS,
		End:       req.EndTS,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

func (s *Server) handleFetchJobs(c *gin.Context) {
	if s.fetch == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "数据同步未启用"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": s.fetch.JobsSnapshot()})
}

func (s *Server) handleFetchStatus(c *gin.Context) {
	if s.fetch == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "数据同步未启用"})
		return
	}
	job, ok := s.fetch.JobSnapshot(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "任务不存在"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

func (s *Server) handleCandles(c *gin.Context) {
	if s.candles == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "行情存储未启用"})
		return
	}
	symbol := c.Query("symbol")
	tf := c.Query("timeframe")
	if symbol == "" || tf == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol/timeframe 必填"})
		return
	}
	start, _ := strconv.ParseInt(c.Query("start_ts"), 10, 64)
	end, _ := strconv.ParseInt(c.Query("end_ts"), 10, 64)
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "200"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit 非法"})
		return
	}
	data, err := s.candles.QueryCandles(c.Request.Context(), symbol, tf, start, end, limit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"candles": data})
}

func (s *Server) handleManifest(c *gin.Context) {
	if s.candles == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "行情存储未启用"})
		return
	}
	symbol := c.Query("symbol")
	tf := c.Query("timeframe")
	if symbol == "" || tf == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol/timeframe 必填"})
		return
	}
	info, err := s.candles.Manifest(c.Request.Context(), symbol, tf)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"manifest": info})
}
