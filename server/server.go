// Package server exposes the engine over HTTP: inbound messages, flow
// definition management, run inspection, and experiment results. Channel
// adapters (chat transports) call the message endpoint after resolving
// session identity and intent.
package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"convoflow/runtime"
	"convoflow/store"
)

type Server struct {
	engine   *runtime.Engine
	registry *runtime.DefinitionRegistry
	versions *runtime.VersionManager
	store    store.Store
	l        *slog.Logger
}

func New(engine *runtime.Engine, registry *runtime.DefinitionRegistry, versions *runtime.VersionManager, st store.Store, l *slog.Logger) *Server {
	return &Server{
		engine:   engine,
		registry: registry,
		versions: versions,
		store:    st,
		l:        l,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	g := gin.New()
	g.Use(gin.Recovery())

	g.POST("/sessions/:sessionID/messages", s.handleMessage)

	g.POST("/flows", s.handleRegisterFlow)
	g.GET("/flows", s.handleListFlows)
	g.GET("/flows/:flowID", s.handleGetFlow)
	g.GET("/flows/:flowID/experiments", s.handleExperimentResults)
	g.POST("/flows/:flowID/outcomes", s.handleRecordOutcome)

	g.GET("/runs", s.handleListRuns)
	g.GET("/runs/:runID", s.handleGetRun)
	g.GET("/runs/:runID/steps", s.handleListSteps)
	g.POST("/runs/:runID/cancel", s.handleCancelRun)

	return g
}

type messageRequest struct {
	Text       string           `json:"text" binding:"required"`
	Intent     string           `json:"intent"`
	Confidence float64          `json:"confidence"`
	Entities   []map[string]any `json:"entities"`
}

type messageResponse struct {
	RunID        string         `json:"runId"`
	FlowID       string         `json:"flowId"`
	FlowVersion  string         `json:"flowVersion"`
	Status       string         `json:"status"`
	CurrentState string         `json:"currentState"`
	Reply        *runtime.Reply `json:"reply,omitempty"`
}

// handleMessage is the inbound entry point. An active run for the session
// consumes the message; otherwise the resolved intent picks a flow to
// start. A message that matches nothing is the caller's problem to handle
// (small talk, unsupported intent), reported as 422.
func (s *Server) handleMessage(c *gin.Context) {
	sessionID := c.Param("sessionID")

	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid message payload: " + err.Error()})
		return
	}

	input := runtime.Input{
		Text:       req.Text,
		Intent:     req.Intent,
		Confidence: req.Confidence,
		Entities:   req.Entities,
	}

	run, reply, err := s.engine.Resume(c.Request.Context(), sessionID, input)
	if errors.Is(err, runtime.ErrRunNotFound) {
		def, ok := s.registry.FindByTrigger(req.Intent)
		if !ok {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"message": "no active conversation and no flow triggered by intent " + req.Intent})
			return
		}
		run, reply, err = s.engine.Start(c.Request.Context(), def.ID, sessionID, input)
	}
	if err != nil {
		s.l.Error("message handling failed", "session", sessionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "error executing flow: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, messageResponse{
		RunID:        run.ID,
		FlowID:       run.FlowID,
		FlowVersion:  run.FlowVersion,
		Status:       string(run.Status),
		CurrentState: run.CurrentState,
		Reply:        reply,
	})
}

type registerFlowRequest struct {
	Definition runtime.FlowDefinition `json:"definition" binding:"required"`
	Weight     int                    `json:"weight"`
	IsDefault  bool                   `json:"isDefault"`
}

func (s *Server) handleRegisterFlow(c *gin.Context) {
	var req registerFlowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid flow payload: " + err.Error()})
		return
	}

	def := req.Definition
	if err := s.versions.RegisterVersion(&def, req.Weight, req.IsDefault); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"message": err.Error()})
		return
	}
	if err := s.store.SaveDefinition(&def); err != nil {
		s.l.Error("error persisting flow definition", "flow", def.ID, "version", def.Version, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "flow registered but not persisted: " + err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"flowId": def.ID, "version": def.Version})
}

func (s *Server) handleListFlows(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"flows": s.registry.FlowIDs()})
}

func (s *Server) handleGetFlow(c *gin.Context) {
	flowID := c.Param("flowID")

	var def *runtime.FlowDefinition
	var err error
	if version := c.Query("version"); version != "" {
		def, err = s.registry.GetVersion(flowID, version)
	} else {
		def, err = s.registry.Get(flowID)
	}
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, def)
}

func (s *Server) handleExperimentResults(c *gin.Context) {
	results, err := s.versions.Results(c.Param("flowID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

type outcomeRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
	Converted bool   `json:"converted"`
	Metric    string `json:"metric"`
}

func (s *Server) handleRecordOutcome(c *gin.Context) {
	var req outcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid outcome payload: " + err.Error()})
		return
	}
	if err := s.versions.RecordOutcome(c.Param("flowID"), req.SessionID, req.Converted, req.Metric); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"message": err.Error()})
		return
	}
	c.JSON(http.StatusNoContent, nil)
}

func (s *Server) handleListRuns(c *gin.Context) {
	runs, err := s.store.ListRuns(store.RunFilter{
		FlowID:    c.Query("flowId"),
		SessionID: c.Query("sessionId"),
		Status:    runtime.RunStatus(c.Query("status")),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleGetRun(c *gin.Context) {
	run, err := s.store.GetRun(c.Param("runID"))
	if err != nil {
		if errors.Is(err, runtime.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "run not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleListSteps(c *gin.Context) {
	steps, err := s.store.ListSteps(c.Param("runID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"steps": steps})
}

func (s *Server) handleCancelRun(c *gin.Context) {
	if err := s.engine.Cancel(c.Param("runID")); err != nil {
		if errors.Is(err, runtime.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "run not found"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"message": err.Error()})
		return
	}
	c.JSON(http.StatusNoContent, nil)
}
