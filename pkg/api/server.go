// Package api provides the REST control surface for legatoctl
package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/james-see/legatoctl/pkg/host"
	"github.com/james-see/legatoctl/pkg/legato"
)

// @title legatoctl API
// @version 1.0
// @description Control a running legato engine and render MIDI files through it
// @host localhost:8080
// @BasePath /api/v1

// Engine is a running controller the API can drive
type Engine interface {
	Do(fn func(*legato.Controller)) error
	Reset() error
	Stats() (host.Stats, error)
}

// Server serves the control API. Without an engine only the parameter list
// and rendering are available.
type Server struct {
	engine Engine
	opts   host.Options
	log    logrus.FieldLogger
}

// NewServer creates a server. opts are the defaults used for renders when
// there is no engine to copy settings from.
func NewServer(engine Engine, opts host.Options, log logrus.FieldLogger) *Server {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Server{engine: engine, opts: opts, log: log}
}

// Router builds the gin engine with every route registered
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), corsMiddleware())

	r.GET("/health", s.healthCheck)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", s.healthCheck)
		v1.GET("/params", s.listParams)
		v1.GET("/config", s.getConfig)
		v1.PUT("/config/:param", s.setParam)
		v1.GET("/state", s.getState)
		v1.POST("/reset", s.reset)
		v1.POST("/render", s.render)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	return r
}

// Run listens on port until the server fails
func (s *Server) Run(port int) error {
	s.log.WithField("port", port).Info("API server listening")
	return s.Router().Run(fmt.Sprintf(":%d", port))
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.log.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": c.Writer.Status(),
		}).Debug("request")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// healthCheck godoc
// @Summary Health check endpoint
// @Description Returns the health status of the API and whether an engine is attached
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "legatoctl",
		"engine":  s.engine != nil,
	})
}

// ParamInfo is a parameter with its current value
type ParamInfo struct {
	legato.Param
	Value *float64 `json:"value,omitempty"`
	Text  string   `json:"text,omitempty"`
}

// listParams godoc
// @Summary List parameters
// @Description Returns every engine parameter with its range, default and current value
// @Tags config
// @Produce json
// @Success 200 {object} map[string][]ParamInfo
// @Router /api/v1/params [get]
func (s *Server) listParams(c *gin.Context) {
	var cfg *legato.Config
	if s.engine != nil {
		var current legato.Config
		if err := s.engine.Do(func(ctrl *legato.Controller) { current = ctrl.Config() }); err != nil {
			s.unavailable(c, err)
			return
		}
		cfg = &current
	}

	out := make([]ParamInfo, 0, len(legato.Params()))
	for _, p := range legato.Params() {
		info := ParamInfo{Param: p}
		if cfg != nil {
			v, _ := cfg.Get(p.Name)
			info.Value = &v
			info.Text = describe(p.Name, v)
		}
		out = append(out, info)
	}
	c.JSON(http.StatusOK, gin.H{"params": out})
}

// getConfig godoc
// @Summary Current configuration
// @Description Returns every parameter value keyed by name
// @Tags config
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]string
// @Router /api/v1/config [get]
func (s *Server) getConfig(c *gin.Context) {
	if !s.requireEngine(c) {
		return
	}
	var cfg legato.Config
	if err := s.engine.Do(func(ctrl *legato.Controller) { cfg = ctrl.Config() }); err != nil {
		s.unavailable(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"mode":   cfg.Mode.String(),
		"rate":   legato.RateLabel(cfg.Rate),
		"values": cfg.Values(),
	})
}

// SetRequest is the body of a parameter change
type SetRequest struct {
	Value *float64 `json:"value"`
	Mode  string   `json:"mode,omitempty"`
}

// setParam godoc
// @Summary Change a parameter
// @Description Sets one parameter; the value is clamped to the parameter range. The mode parameter also accepts a mode name.
// @Tags config
// @Accept json
// @Produce json
// @Param param path string true "Parameter name"
// @Param body body SetRequest true "New value"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /api/v1/config/{param} [put]
func (s *Server) setParam(c *gin.Context) {
	if !s.requireEngine(c) {
		return
	}
	name := c.Param("param")

	var req SetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	var value float64
	switch {
	case req.Value != nil:
		value = *req.Value
	case name == legato.ParamMode && req.Mode != "":
		m, ok := legato.ParseMode(strings.ToLower(req.Mode))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Unknown mode %q", req.Mode)})
			return
		}
		value = float64(m)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing value"})
		return
	}

	var setErr error
	var got float64
	err := s.engine.Do(func(ctrl *legato.Controller) {
		if setErr = ctrl.SetParam(name, value); setErr == nil {
			got, _ = ctrl.Config().Get(name)
		}
	})
	if err != nil {
		s.unavailable(c, err)
		return
	}
	if errors.Is(setErr, legato.ErrUnknownParam) {
		c.JSON(http.StatusNotFound, gin.H{"error": setErr.Error()})
		return
	}
	if setErr != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": setErr.Error()})
		return
	}

	s.log.WithFields(logrus.Fields{"param": name, "value": got}).Info("parameter changed")
	c.JSON(http.StatusOK, gin.H{"param": name, "value": got, "text": describe(name, got)})
}

// getState godoc
// @Summary Phrase state
// @Description Returns the phrase state, any running glide or trill and input counters
// @Tags state
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]string
// @Router /api/v1/state [get]
func (s *Server) getState(c *gin.Context) {
	if !s.requireEngine(c) {
		return
	}
	var snap legato.Snapshot
	if err := s.engine.Do(func(ctrl *legato.Controller) { snap = ctrl.State() }); err != nil {
		s.unavailable(c, err)
		return
	}
	stats, err := s.engine.Stats()
	if err != nil {
		s.unavailable(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"mode":  snap.Config.Mode.String(),
		"state": snap,
		"stats": stats,
	})
}

// reset godoc
// @Summary Reset the engine
// @Description Stops any glide or trill, silences every voice and forgets the phrase
// @Tags state
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /api/v1/reset [post]
func (s *Server) reset(c *gin.Context) {
	if !s.requireEngine(c) {
		return
	}
	if err := s.engine.Reset(); err != nil {
		s.unavailable(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

// render godoc
// @Summary Render a MIDI file
// @Description Upload a MIDI file and receive it rendered through the engine's current settings
// @Tags render
// @Accept multipart/form-data
// @Produce application/octet-stream
// @Param file formData file true "MIDI file to render"
// @Param tail query number false "Milliseconds rendered after the last event (default 2000)"
// @Success 200 {file} binary
// @Failure 400 {object} map[string]string
// @Router /api/v1/render [post]
func (s *Server) render(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}
	defer func() { _ = file.Close() }()

	tail := host.DefaultTailMs
	if q := c.Query("tail"); q != "" {
		if tail, err = strconv.ParseFloat(q, 64); err != nil || tail < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid tail"})
			return
		}
	}

	opts := s.opts
	opts.Logger = s.log
	if s.engine != nil {
		_ = s.engine.Do(func(ctrl *legato.Controller) { opts.Engine = ctrl.Config() })
	}

	var out bytes.Buffer
	res, err := host.Render(file, &out, opts, tail)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.log.WithFields(logrus.Fields{
		"file": header.Filename, "notes": res.NotesIn, "messages": res.Messages,
	}).Info("rendered file")

	outputName := strings.TrimSuffix(header.Filename, ".mid") + "-legato.mid"
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", outputName))
	c.Data(http.StatusOK, "audio/midi", out.Bytes())
}

func (s *Server) requireEngine(c *gin.Context) bool {
	if s.engine == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "No engine running"})
		return false
	}
	return true
}

func (s *Server) unavailable(c *gin.Context, err error) {
	s.log.WithError(err).Warn("engine call failed")
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
}

// describe renders a parameter value the way the panel shows it
func describe(name string, v float64) string {
	switch name {
	case legato.ParamMode:
		return legato.Mode(int(v)).String()
	case legato.ParamRate:
		return legato.RateLabel(int(v))
	case legato.ParamWholeStepGlide, legato.ParamSameNoteLegato:
		if v >= 0.5 {
			return "on"
		}
		return "off"
	}
	if p, ok := legato.LookupParam(name); ok && p.Unit != "" {
		return strconv.FormatFloat(v, 'f', -1, 64) + " " + p.Unit
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
