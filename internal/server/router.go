package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/nodevisor/internal/process"
)

// Node is the control surface the router drives. *manager.Actor implements it.
type Node interface {
	Run(ctx context.Context, envSpec, argSpec string) error
	Stop(ctx context.Context) error
	Quit(ctx context.Context) error
	Info(ctx context.Context) (process.Info, error)
	Log(ctx context.Context) (string, error)
	CallRPC(ctx context.Context, method string, args ...json.RawMessage) (json.RawMessage, error)
}

// Router provides embeddable HTTP handlers for the supervised node.
// Endpoints:
//
//	POST {basePath}/run     body: {"env":"K=V ...","args":"--flag v ..."}
//	POST {basePath}/stop
//	POST {basePath}/quit
//	GET  {basePath}/status
//	GET  {basePath}/log     text/plain, the whole captured log
//	POST {basePath}/rpc     body: {"method":"...","params":[...]}
//	GET  {basePath}/metrics only when a metrics handler is set
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	node     Node
	basePath string
	metrics  http.Handler
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(node Node, basePath string) *Router {
	return &Router{node: node, basePath: sanitizeBase(basePath)}
}

// WithMetrics exposes h at {basePath}/metrics.
func (r *Router) WithMetrics(h http.Handler) *Router {
	r.metrics = h
	return r
}

// Register adds the routes to an existing gin group, for embedding.
func (r *Router) Register(group *gin.RouterGroup) {
	group.POST("/run", r.handleRun)
	group.POST("/stop", r.handleStop)
	group.POST("/quit", r.handleQuit)
	group.GET("/status", r.handleStatus)
	group.GET("/log", r.handleLog)
	group.POST("/rpc", r.handleRPC)
	if r.metrics != nil {
		group.GET("/metrics", gin.WrapH(r.metrics))
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	r.Register(g.Group(r.basePath))
	return g
}

// NewServer binds addr and serves the router in the background. Stop and
// rpc requests can hold the actor for the stop or rpc timeout, so the write
// timeout is generous.
func NewServer(addr string, r *Router) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.Serve(ln) }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// RunRequest is the body of POST /run. Both fields may be empty.
type RunRequest struct {
	Env  string `json:"env"`
	Args string `json:"args"`
}

// RPCRequest is the body of POST /rpc. Params keep their order and raw JSON.
type RPCRequest struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

func (r *Router) handleRun(c *gin.Context) {
	var req RunRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
			return
		}
	}
	if err := r.node.Run(c.Request.Context(), req.Env, req.Args); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStop(c *gin.Context) {
	if err := r.node.Stop(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleQuit(c *gin.Context) {
	if err := r.node.Quit(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStatus(c *gin.Context) {
	info, err := r.node.Info(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, info)
}

func (r *Router) handleLog(c *gin.Context) {
	s, err := r.node.Log(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(s))
}

func (r *Router) handleRPC(c *gin.Context) {
	var req RPCRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if !validMethod(req.Method) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "method required"})
		return
	}
	res, err := r.node.CallRPC(c.Request.Context(), req.Method, req.Params...)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", res)
}
