package dashboardhttp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tapelens/internal/charts"
	"tapelens/internal/importer"
	"tapelens/internal/stats"
	"tapelens/internal/store"
	"tapelens/internal/store/importlog"
	"tapelens/internal/template"
	"tapelens/internal/trades"
	"tapelens/internal/transport/http/dashboard/ui"

	"github.com/gin-gonic/gin"
)

const maxUploadBytes = 32 << 20

// Server 提供仪表盘页面与回测 API。
type Server struct {
	addr      string
	svc       *importer.Service
	results   *store.ResultStore
	templates *template.Registry
	imports   *importlog.Store
	router    *gin.Engine
	indexHTML []byte
}

// Config 描述仪表盘 HTTP Server 的依赖。
type Config struct {
	Addr      string
	Importer  *importer.Service
	Results   *store.ResultStore
	Templates *template.Registry
	Imports   *importlog.Store
}

// NewServer 构建仪表盘 HTTP Server。
func NewServer(cfg Config) (*Server, error) {
	if cfg.Importer == nil {
		return nil, errors.New("importer 不能为空")
	}
	if cfg.Results == nil {
		return nil, errors.New("result store 不能为空")
	}
	if cfg.Templates == nil {
		return nil, errors.New("template registry 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8087"
	}
	staticFS, err := ui.StaticFS()
	if err != nil {
		return nil, fmt.Errorf("加载前端静态资源失败: %w", err)
	}
	indexHTML, err := ui.Index()
	if err != nil {
		return nil, fmt.Errorf("加载前端首页失败: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.MaxMultipartMemory = maxUploadBytes
	router.StaticFS("/static", staticFS)

	s := &Server{
		addr:      cfg.Addr,
		svc:       cfg.Importer,
		results:   cfg.Results,
		templates: cfg.Templates,
		imports:   cfg.Imports,
		router:    router,
		indexHTML: indexHTML,
	}
	s.registerRoutes()
	return s, nil
}

// Router 暴露底层 gin.Engine，测试用。
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.GET("/", s.handleIndex)
	s.router.GET("/backtests/:id/charts", s.handleChartsPage)

	api := s.router.Group("/api")
	api.GET("/backtests", s.handleList)
	api.POST("/backtests", s.handleUpload)
	api.GET("/backtests/:id", s.handleDetail)
	api.DELETE("/backtests/:id", s.handleDelete)
	api.GET("/backtests/:id/trades", s.handleTrades)
	api.GET("/backtests/:id/equity", s.handleEquity)
	api.GET("/backtests/:id/monthly", s.handleMonthly)
	api.GET("/backtests/:id/report.png", s.handleReportPNG)
	api.GET("/combined", s.handleCombined)
	api.GET("/imports", s.handleImports)
	api.GET("/templates", s.handleTemplates)
}

func (s *Server) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", s.indexHTML)
}

func (s *Server) handleList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	backtests, err := s.results.ListBacktests(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"backtests": backtests})
}

func (s *Server) handleUpload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 file 字段: " + err.Error()})
		return
	}
	capital := 0.0
	if raw := strings.TrimSpace(c.PostForm("capital")); raw != "" {
		capital, err = strconv.ParseFloat(raw, 64)
		if err != nil || capital <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "capital 必须是正数"})
			return
		}
	}
	templateID := strings.TrimSpace(c.PostForm("template"))

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()
	csvText, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(csvText) > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "文件超出大小限制"})
		return
	}

	bt, err := s.svc.Import(c.Request.Context(), fileHeader.Filename, csvText, templateID, capital)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, gin.H{"backtest": bt})
	case errors.Is(err, importer.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "backtest": bt})
	default:
		var perr *trades.ParseError
		if errors.As(err, &perr) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": perr.Error(),
				"kind":  string(perr.Kind),
				"field": string(perr.Field),
				"row":   perr.Row,
			})
			return
		}
		if _, ok := s.templates.Template(templateID); !ok && templateID != "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) handleDetail(c *gin.Context) {
	bt, err := s.results.GetBacktest(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(notFoundStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"backtest": bt})
}

func (s *Server) handleDelete(c *gin.Context) {
	if err := s.results.DeleteBacktest(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(notFoundStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": c.Param("id")})
}

func (s *Server) handleTrades(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "500"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	records, err := s.results.ListTrades(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": records})
}

func (s *Server) handleEquity(c *gin.Context) {
	bt, err := s.results.GetBacktest(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(notFoundStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"equity":   bt.Stats.Equity,
		"drawdown": bt.Stats.Drawdown,
	})
}

func (s *Server) handleMonthly(c *gin.Context) {
	bt, records, err := s.loadBacktest(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(notFoundStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"monthly": stats.MonthlyReturns(records, bt.InitialCapital)})
}

// handleCombined 把多个回测按求和的初始资金合并成一条组合曲线。
func (s *Server) handleCombined(c *gin.Context) {
	ids := splitIDs(c.Query("ids"))
	if len(ids) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ids 参数不能为空"})
		return
	}
	var start time.Time
	if raw := c.Query("start"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start 格式应为 YYYY-MM-DD"})
			return
		}
		start = parsed
	}

	var (
		combined []trades.TradeRecord
		capital  float64
		names    []string
	)
	for _, id := range ids {
		bt, records, err := s.loadBacktest(c.Request.Context(), id)
		if err != nil {
			c.JSON(notFoundStatus(err), gin.H{"error": fmt.Sprintf("%s: %v", id, err)})
			return
		}
		capital += bt.InitialCapital
		names = append(names, bt.Name)
		combined = append(combined, records...)
	}
	combined = stats.FilterFrom(stats.SortByExit(combined), start)
	summary := stats.Compute(combined, capital)
	c.JSON(http.StatusOK, gin.H{
		"names":   names,
		"summary": summary,
		"monthly": stats.MonthlyReturns(combined, capital),
	})
}

func (s *Server) handleImports(c *gin.Context) {
	if s.imports == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "导入历史未启用"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	entries, err := s.imports.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"imports": entries})
}

func (s *Server) handleTemplates(c *gin.Context) {
	snap := s.templates.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"version":   snap.Version,
		"loaded_at": snap.LoadedAt,
		"templates": snap.Templates,
	})
}

func (s *Server) handleChartsPage(c *gin.Context) {
	input, err := s.chartInput(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(notFoundStatus(err), gin.H{"error": err.Error()})
		return
	}
	html, err := charts.BuildDashboardHTML(input)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

func (s *Server) handleReportPNG(c *gin.Context) {
	input, err := s.chartInput(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(notFoundStatus(err), gin.H{"error": err.Error()})
		return
	}
	png, err := charts.RenderPNG(c.Request.Context(), input)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "渲染报表失败: " + err.Error()})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s_report.png", c.Param("id")))
	c.Data(http.StatusOK, "image/png", png)
}

func (s *Server) chartInput(ctx context.Context, id string) (charts.Input, error) {
	bt, records, err := s.loadBacktest(ctx, id)
	if err != nil {
		return charts.Input{}, err
	}
	return charts.Input{
		Title:   bt.Name,
		Summary: bt.Stats,
		Monthly: stats.MonthlyReturns(records, bt.InitialCapital),
	}, nil
}

func (s *Server) loadBacktest(ctx context.Context, id string) (store.Backtest, []trades.TradeRecord, error) {
	bt, err := s.results.GetBacktest(ctx, id)
	if err != nil {
		return store.Backtest{}, nil, err
	}
	records, err := s.results.ListTrades(ctx, id, 0, 0)
	if err != nil {
		return store.Backtest{}, nil, err
	}
	return bt, records, nil
}

func splitIDs(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func notFoundStatus(err error) int {
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
