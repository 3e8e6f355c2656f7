package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"cwebp-go/internal/batch"
	"cwebp-go/internal/compressor"
	"cwebp-go/internal/config"
	"cwebp-go/internal/inspector"
	"cwebp-go/internal/platform"
	"cwebp-go/internal/statistics"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	resolver   *platform.Resolver
	compressor compressor.Compressor
	inspector  inspector.Inspector
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.RWMutex

	// Current batch state
	operationMutex sync.RWMutex
	isRunning      bool
	currentJobID   string
	cancelJob      context.CancelFunc
	currentStats   *statistics.Statistics
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type CompressRequest struct {
	InputPath string              `json:"input_path"`
	Options   *compressor.Options `json:"options,omitempty"`
}

type BatchRequest struct {
	Directory string              `json:"directory"`
	Options   *compressor.Options `json:"options,omitempty"`
	DryRun    bool                `json:"dry_run"`
}

type DirectoryInfo struct {
	Path         string `json:"path"`
	Name         string `json:"name"`
	IsDirectory  bool   `json:"is_directory"`
	Size         int64  `json:"size"`
	ModifiedTime string `json:"modified_time"`
}

type WSMessage struct {
	Type  string      `json:"type"`
	JobID string      `json:"job_id,omitempty"`
	Data  interface{} `json:"data"`
}

func NewServer(
	cfg *config.Config,
	log *logrus.Logger,
	resolver *platform.Resolver,
	comp compressor.Compressor,
	insp inspector.Inspector,
) *Server {
	s := &Server{
		cfg:        cfg,
		log:        log,
		resolver:   resolver,
		compressor: comp,
		inspector:  insp,
		router:     mux.NewRouter(),
		wsClients:  make(map[*websocket.Conn]bool),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins in development
			},
		},
	}

	s.setupRoutes()
	return s
}

// Handler returns the router, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/platform", s.handlePlatform).Methods("GET")
	api.HandleFunc("/compress", s.handleCompress).Methods("POST")
	api.HandleFunc("/batch", s.handleBatch).Methods("POST")
	api.HandleFunc("/stop", s.handleStop).Methods("POST")
	api.HandleFunc("/statistics", s.handleGetStatistics).Methods("GET")
	api.HandleFunc("/inspect", s.handleInspect).Methods("GET")
	api.HandleFunc("/directories", s.handleListDirectories).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	s.log.Infof("Starting API server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.operationMutex.Lock()
	if s.cancelJob != nil {
		s.cancelJob()
	}
	s.operationMutex.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	running := s.isRunning
	jobID := s.currentJobID
	stats := s.currentStats
	s.operationMutex.RUnlock()

	var statsData interface{}
	if stats != nil {
		statsData = stats.Snapshot()
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"running":    running,
			"job_id":     jobID,
			"statistics": statsData,
		},
	})
}

func (s *Server) handlePlatform(w http.ResponseWriter, r *http.Request) {
	paths, err := s.resolver.ResolveAll()
	if err != nil {
		s.writeError(w, err.Error(), http.StatusNotImplemented)
		return
	}

	tools := map[string]interface{}{}
	for tool, path := range paths {
		_, statErr := os.Stat(path)
		tools[string(tool)] = map[string]interface{}{
			"path":    path,
			"present": statErr == nil,
		}
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"goos":  s.resolver.GOOS,
			"arch":  runtime.GOARCH,
			"tools": tools,
		},
	})
}

func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	var req CompressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.InputPath == "" {
		s.writeError(w, "input_path is required", http.StatusBadRequest)
		return
	}

	opts := s.cfg.Compress.Merge(req.Options)
	if err := opts.Validate(); err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := s.compressor.Compress(r.Context(), req.InputPath, opts)
	if err != nil {
		var execErr *compressor.ExecutionError
		var initErr *compressor.InitError
		switch {
		case errors.As(err, &execErr):
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(APIResponse{
				Success: false,
				Error:   "encoder failed",
				Data:    map[string]string{"log": execErr.Log},
			})
		case errors.As(err, &initErr):
			s.writeError(w, err.Error(), http.StatusServiceUnavailable)
		default:
			s.writeError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    result,
	})
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Directory == "" {
		s.writeError(w, "Directory is required", http.StatusBadRequest)
		return
	}

	opts := s.cfg.Compress.Merge(req.Options)
	if err := opts.Validate(); err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Check if directory exists
	if info, err := os.Stat(req.Directory); err != nil || !info.IsDir() {
		s.writeError(w, "Directory does not exist", http.StatusBadRequest)
		return
	}

	s.operationMutex.Lock()
	if s.isRunning {
		s.operationMutex.Unlock()
		s.writeError(w, "Batch already in progress", http.StatusConflict)
		return
	}
	jobID := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	s.isRunning = true
	s.currentJobID = jobID
	s.cancelJob = cancel
	s.currentStats = statistics.NewStatistics()
	stats := s.currentStats
	s.operationMutex.Unlock()

	go s.runBatchAsync(ctx, jobID, req, opts, stats)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(APIResponse{
		Success: true,
		Message: "Batch started",
		Data:    map[string]string{"job_id": jobID},
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.Lock()
	running := s.isRunning
	jobID := s.currentJobID
	if s.cancelJob != nil {
		s.cancelJob()
	}
	s.operationMutex.Unlock()

	if !running {
		s.writeError(w, "No batch in progress", http.StatusConflict)
		return
	}

	s.broadcastWSMessage("batch_stopping", jobID, map[string]interface{}{
		"message": "Batch stopped by user",
	})

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Batch stopping",
	})
}

func (s *Server) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	stats := s.currentStats
	s.operationMutex.RUnlock()

	if stats == nil {
		s.writeJSON(w, APIResponse{Success: true})
		return
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"summary":  stats.GetSummary(),
			"snapshot": stats.Snapshot(),
		},
	})
}

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.writeError(w, "path is required", http.StatusBadRequest)
		return
	}
	if !s.inspector.SupportsFile(path) {
		s.writeError(w, "Unsupported image type", http.StatusBadRequest)
		return
	}

	info, err := s.inspector.Inspect(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.writeError(w, "File does not exist", http.StatusNotFound)
			return
		}
		s.writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    info,
	})
}

func (s *Server) handleListDirectories(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		path = "."
	}

	// Security check - prevent directory traversal
	if strings.Contains(filepath.ToSlash(path), "..") {
		s.writeError(w, "Invalid path", http.StatusBadRequest)
		return
	}
	path = filepath.Clean(path)

	entries, err := os.ReadDir(path)
	if err != nil {
		s.writeError(w, fmt.Sprintf("Failed to read directory: %v", err), http.StatusInternalServerError)
		return
	}

	directories := make([]DirectoryInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && !s.cfg.IsSupportedExtension(filepath.Ext(entry.Name())) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}

		directories = append(directories, DirectoryInfo{
			Path:         filepath.Join(path, entry.Name()),
			Name:         entry.Name(),
			IsDirectory:  entry.IsDir(),
			Size:         info.Size(),
			ModifiedTime: info.ModTime().Format(time.RFC3339),
		})
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    directories,
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.wsMutex.Lock()
	s.wsClients[conn] = true
	s.wsMutex.Unlock()

	s.log.Debug("WebSocket client connected")

	// Remove client on disconnect
	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	// Keep connection alive
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (s *Server) runBatchAsync(ctx context.Context, jobID string, req BatchRequest, opts *compressor.Options, stats *statistics.Statistics) {
	defer func() {
		s.operationMutex.Lock()
		s.isRunning = false
		s.cancelJob = nil
		s.operationMutex.Unlock()
	}()

	s.broadcastWSMessage("batch_started", jobID, map[string]interface{}{
		"directory": req.Directory,
		"dry_run":   req.DryRun,
	})

	cfg := s.cfg.Batch
	cfg.DryRun = cfg.DryRun || req.DryRun

	hook := func(level, message string) {
		s.broadcastWSMessage("log", jobID, map[string]string{
			"level":   level,
			"message": message,
		})
	}
	runner := batch.NewRunnerWithLogHook(cfg, opts, s.compressor, s.inspector, s.log, stats, hook)

	results, err := runner.Run(ctx, req.Directory)
	if err != nil {
		s.broadcastWSMessage("batch_error", jobID, map[string]interface{}{
			"error":   err.Error(),
			"results": results,
		})
		return
	}

	s.broadcastWSMessage("batch_completed", jobID, map[string]interface{}{
		"statistics": stats.Snapshot(),
		"results":    results,
	})
}

func (s *Server) broadcastWSMessage(messageType, jobID string, data interface{}) {
	msgBytes, err := json.Marshal(WSMessage{
		Type:  messageType,
		JobID: jobID,
		Data:  data,
	})
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()

	for conn := range s.wsClients {
		if err := conn.WriteMessage(websocket.TextMessage, msgBytes); err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			delete(s.wsClients, conn)
			conn.Close()
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
	})
}
