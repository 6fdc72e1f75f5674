package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/modvisr/internal/manager"
)

// Supervisor is the part of the module manager exposed over HTTP.
type Supervisor interface {
	List() []manager.ModuleStatus
	Status(name string) (manager.ModuleStatus, error)
	Start(name string) error
	Stop(name string) error
	Toggle(name string) error
	Autostart(ctx context.Context, names []string) []manager.StartResult
}

// Router provides embeddable HTTP handlers for the module supervisor.
// Endpoints:
//
//	GET  {basePath}/modules              all modules in discovery order
//	GET  {basePath}/modules/:name        one module, 404 when unknown
//	POST {basePath}/modules/:name/start
//	POST {basePath}/modules/:name/stop
//	POST {basePath}/modules/:name/toggle
//	POST {basePath}/autostart            body: {"modules": ["aw-server", ...]}
//	GET  /metrics                        when a metrics handler is set
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	sup      Supervisor
	basePath string
	metrics  http.Handler
	log      *slog.Logger
}

// NewRouter constructs a Router serving sup under basePath.
func NewRouter(sup Supervisor, basePath string) *Router {
	return &Router{sup: sup, basePath: sanitizeBase(basePath), log: slog.Default()}
}

// WithMetrics mounts h at /metrics.
func (r *Router) WithMetrics(h http.Handler) *Router {
	r.metrics = h
	return r
}

// WithLogger sets the request logger.
func (r *Router) WithLogger(l *slog.Logger) *Router {
	if l != nil {
		r.log = l
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), r.requestLog)
	group := g.Group(r.basePath)
	group.GET("/modules", r.handleList)
	group.GET("/modules/:name", r.handleStatus)
	group.POST("/modules/:name/start", r.handleAction(r.sup.Start))
	group.POST("/modules/:name/stop", r.handleAction(r.sup.Stop))
	group.POST("/modules/:name/toggle", r.handleAction(r.sup.Toggle))
	group.POST("/autostart", r.handleAutostart)
	if r.metrics != nil {
		g.GET("/metrics", gin.WrapH(r.metrics))
	}
	return g
}

func (r *Router) requestLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	r.log.Debug("http request",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"status", c.Writer.Status(),
		"duration", time.Since(start).String())
}

// NewServer listens on addr and serves h in the background. Listen errors
// are returned; serve errors after that are logged.
func NewServer(addr string, h http.Handler, log *slog.Logger) (*http.Server, net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}
	server := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) && log != nil {
			log.Error("http server stopped", "addr", ln.Addr().String(), "error", err)
		}
	}()
	return server, ln.Addr(), nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type actionResp struct {
	OK     bool                 `json:"ok"`
	Module manager.ModuleStatus `json:"module"`
}

type autostartReq struct {
	Modules []string `json:"modules"`
}

type autostartResult struct {
	Name  string        `json:"name"`
	Phase manager.Phase `json:"phase"`
	OK    bool          `json:"ok"`
	Error string        `json:"error,omitempty"`
}

func (r *Router) handleList(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.List())
}

func (r *Router) handleStatus(c *gin.Context) {
	name := c.Param("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid module name"})
		return
	}
	st, err := r.sup.Status(name)
	if err != nil {
		writeJSON(c, statusCode(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleAction(fn func(string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		if !isSafeName(name) {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid module name"})
			return
		}
		if err := fn(name); err != nil {
			writeJSON(c, statusCode(err), errorResp{Error: err.Error()})
			return
		}
		st, _ := r.sup.Status(name)
		writeJSON(c, http.StatusOK, actionResp{OK: true, Module: st})
	}
}

func (r *Router) handleAutostart(c *gin.Context) {
	var req autostartReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	for _, n := range req.Modules {
		if !isSafeName(n) {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid module name: " + n})
			return
		}
	}
	results := r.sup.Autostart(c.Request.Context(), req.Modules)
	out := make([]autostartResult, 0, len(results))
	for _, res := range results {
		ar := autostartResult{Name: res.Name, Phase: res.Phase, OK: res.Err == nil}
		if res.Err != nil {
			ar.Error = res.Err.Error()
		}
		out = append(out, ar)
	}
	writeJSON(c, http.StatusOK, out)
}

func statusCode(err error) int {
	var spawn *manager.SpawnError
	switch {
	case errors.Is(err, manager.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, manager.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, manager.ErrAlreadyRunning), errors.As(err, &spawn):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
