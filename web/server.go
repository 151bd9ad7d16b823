package web

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"fdsn-service/config"
	"fdsn-service/pkg/common"
	"fdsn-service/pkg/geo"
	"fdsn-service/pkg/models"
	"fdsn-service/services"
)

type Server struct {
	config     *config.Config
	db         *sql.DB
	wsHub      *Hub
	httpServer *http.Server
	upgrader   websocket.Upgrader

	stations *services.StationService
	events   *services.EventService
	planner  *services.DownloadPlanner
	executor *services.DownloadExecutor
	archive  *services.ArchiveService
	session  *services.Session
	writer   *services.WaveformWriter

	// 运行中的下载任务状态
	mu             sync.Mutex
	plan           *services.DownloadPlan
	downloadCancel context.CancelFunc
	downloading    bool
}

// Services 注入到 HTTP 层的业务服务集合
type Services struct {
	Stations *services.StationService
	Events   *services.EventService
	Planner  *services.DownloadPlanner
	Executor *services.DownloadExecutor
	Archive  *services.ArchiveService
	Session  *services.Session
	Writer   *services.WaveformWriter
}

func NewServer(cfg *config.Config, db *sql.DB, hub *Hub, svcs Services) *Server {
	return &Server{
		config:   cfg,
		db:       db,
		wsHub:    hub,
		stations: svcs.Stations,
		events:   svcs.Events,
		planner:  svcs.Planner,
		executor: svcs.Executor,
		archive:  svcs.Archive,
		session:  svcs.Session,
		writer:   svcs.Writer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有来源(生产环境需要限制)
			},
		},
	}
}

func (s *Server) Start() error {
	router := mux.NewRouter()

	// API路由
	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/stations/search", s.handleStationSearch).Methods("POST")
	api.HandleFunc("/events/search", s.handleEventSearch).Methods("POST")
	api.HandleFunc("/events/filter", s.handleEventFilter).Methods("POST")
	api.HandleFunc("/events/filter/preview", s.handleFilterPreview).Methods("GET")
	api.HandleFunc("/download/plan", s.handleDownloadPlan).Methods("POST")
	api.HandleFunc("/download/start", s.handleDownloadStart).Methods("POST")
	api.HandleFunc("/download/cancel", s.handleDownloadCancel).Methods("POST")
	api.HandleFunc("/download/status", s.handleDownloadStatus).Methods("GET")
	api.HandleFunc("/stats", s.handleGetStats).Methods("GET")

	// WebSocket路由
	router.HandleFunc("/ws", s.handleWebSocket)

	// 静态文件(如果需要)
	router.PathPrefix("/").Handler(http.FileServer(http.Dir("./static")))

	// CORS配置
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	handler := c.Handler(router)

	s.httpServer = &http.Server{
		Addr:         ":" + s.config.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}

// searchRequest 台站/事件联合查询请求体
type searchRequest struct {
	Providers []string `json:"providers"`
	Start     string   `json:"start"`
	End       string   `json:"end"`

	// 矩形区域
	MinLat *float64 `json:"min_lat,omitempty"`
	MaxLat *float64 `json:"max_lat,omitempty"`
	MinLon *float64 `json:"min_lon,omitempty"`
	MaxLon *float64 `json:"max_lon,omitempty"`

	// 事件中心模式
	CenterLat      *float64 `json:"center_lat,omitempty"`
	CenterLon      *float64 `json:"center_lon,omitempty"`
	MinDistanceDeg float64  `json:"min_distance_deg,omitempty"`
	MaxDistanceDeg float64  `json:"max_distance_deg,omitempty"`

	Networks      string `json:"networks,omitempty"`
	Stations      string `json:"stations,omitempty"`
	Channels      string `json:"channels,omitempty"`
	IncludeClosed bool   `json:"include_closed,omitempty"`

	MinMagnitude float64 `json:"min_magnitude,omitempty"`
	MaxMagnitude float64 `json:"max_magnitude,omitempty"`
	MinDepthKm   float64 `json:"min_depth_km,omitempty"`
	MaxDepthKm   float64 `json:"max_depth_km,omitempty"`
}

// toFilters 把请求体转换为查询过滤器
func (req *searchRequest) toFilters() (models.QueryFilters, error) {
	var filters models.QueryFilters

	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		return filters, err
	}
	end, err := time.Parse(time.RFC3339, req.End)
	if err != nil {
		return filters, err
	}
	filters.Start = start
	filters.End = end

	if req.MinLat != nil && req.MaxLat != nil && req.MinLon != nil && req.MaxLon != nil {
		filters.ROI = geo.Rectangle{
			MinLat: *req.MinLat,
			MaxLat: *req.MaxLat,
			MinLon: *req.MinLon,
			MaxLon: *req.MaxLon,
		}
	}
	if req.CenterLat != nil && req.CenterLon != nil {
		filters.Center = &models.Point{Latitude: *req.CenterLat, Longitude: *req.CenterLon}
		filters.MinDistanceDeg = req.MinDistanceDeg
		filters.MaxDistanceDeg = req.MaxDistanceDeg
	}

	filters.Networks = req.Networks
	filters.Stations = req.Stations
	filters.Channels = req.Channels
	filters.IncludeClosed = req.IncludeClosed
	filters.MinMagnitude = req.MinMagnitude
	filters.MaxMagnitude = req.MaxMagnitude
	filters.MinDepthKm = req.MinDepthKm
	filters.MaxDepthKm = req.MaxDepthKm
	return filters, nil
}

// handleHealth 健康检查
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

// handleStationSearch 台站联合查询
func (s *Server) handleStationSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	filters, err := req.toFilters()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	providers := req.Providers
	if len(providers) == 0 {
		providers = s.config.Providers
	}

	result, err := s.stations.Search(r.Context(), providers, filters)
	if err != nil {
		writeSearchError(w, err)
		return
	}

	s.session.SetStations(result.Stations)
	if s.archive != nil {
		if err := s.archive.SaveStations(result.Stations); err != nil {
			log.Printf("Failed to archive stations: %v", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// handleEventSearch 事件目录联合查询
func (s *Server) handleEventSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	filters, err := req.toFilters()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	providers := req.Providers
	if len(providers) == 0 {
		providers = s.config.Providers
	}

	result, err := s.events.Search(r.Context(), providers, filters)
	if err != nil {
		writeSearchError(w, err)
		return
	}

	s.session.SetEvents(result.Events)
	if s.archive != nil {
		if err := s.archive.SaveEvents(result.Events); err != nil {
			log.Printf("Failed to archive events: %v", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// handleEventFilter 对会话中的事件应用动态震级过滤
func (s *Server) handleEventFilter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CenterLat float64              `json:"center_lat"`
		CenterLon float64              `json:"center_lon"`
		Curve     []services.CurvePoint `json:"curve,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	filter := services.NewMagnitudeFilter()
	if len(req.Curve) > 0 {
		var err error
		filter, err = services.NewCurveFilter(req.Curve)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	center := models.Point{Latitude: req.CenterLat, Longitude: req.CenterLon}
	passing, filteredOut := filter.Apply(s.session.Events(), center)
	s.session.SetEvents(passing)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"events":       passing,
		"filtered_out": filteredOut,
	})
}

// handleFilterPreview 生成震级过滤曲线的预览数据
func (s *Server) handleFilterPreview(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	minDist, _ := strconv.ParseFloat(query.Get("min_dist"), 64)
	maxDist, _ := strconv.ParseFloat(query.Get("max_dist"), 64)
	if maxDist <= minDist {
		minDist, maxDist = 0, 180
	}

	points, _ := strconv.Atoi(query.Get("points"))
	if points <= 0 {
		points = 100
	}

	var depths []float64
	for _, raw := range query["depth"] {
		if d, err := strconv.ParseFloat(raw, 64); err == nil {
			depths = append(depths, d)
		}
	}

	filter := services.NewMagnitudeFilter()
	preview := filter.PreviewCurve(minDist, maxDist, depths, points)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(preview)
}

// planRequest 下载规划请求体
type planRequest struct {
	TimeBefore    float64  `json:"time_before,omitempty"`
	TimeAfter     float64  `json:"time_after,omitempty"`
	Channels      []string `json:"channels,omitempty"`
	Location      string   `json:"location,omitempty"`
	Phase         string   `json:"phase,omitempty"`
	VelocityModel string   `json:"velocity_model,omitempty"`
	Provider      string   `json:"provider,omitempty"`
}

// handleDownloadPlan 基于会话中的事件和台站生成下载规划
func (s *Server) handleDownloadPlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	events := s.session.Events()
	stations := s.session.Stations()
	if len(events) == 0 || len(stations) == 0 {
		http.Error(w, "no events or stations selected", http.StatusBadRequest)
		return
	}

	params := services.PlanParams{
		TimeBefore:    req.TimeBefore,
		TimeAfter:     req.TimeAfter,
		Channels:      req.Channels,
		Location:      req.Location,
		Phase:         req.Phase,
		VelocityModel: req.VelocityModel,
		BulkDownload:  s.config.BulkDownload,
		ChunkSize:     s.config.ChunkSize,
		Provider:      req.Provider,
	}

	plan, err := s.planner.Plan(r.Context(), events, stations, params)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	for _, a := range plan.Arrivals {
		s.session.SetArrival(a.EventID, a.StationKey, a.Phase, a.TravelTimeSec)
	}

	s.mu.Lock()
	s.plan = plan
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(plan)
}

// handleDownloadStart 异步执行当前下载规划
func (s *Server) handleDownloadStart(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.downloading {
		s.mu.Unlock()
		http.Error(w, "download already in progress", http.StatusConflict)
		return
	}
	plan := s.plan
	if plan == nil {
		s.mu.Unlock()
		http.Error(w, "no download plan; call /api/download/plan first", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.downloadCancel = cancel
	s.downloading = true
	s.mu.Unlock()

	go s.runDownload(ctx, plan)

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "started",
		"units":  plan.Units(),
	})
}

// runDownload 执行下载、清理并持久化结果
func (s *Server) runDownload(ctx context.Context, plan *services.DownloadPlan) {
	started := time.Now()
	outcome := s.executor.Execute(ctx, plan)
	finished := time.Now()

	s.session.SetOutcome(outcome)

	var fill *float64
	if s.config.CleanupMerge {
		v := s.config.FillValue
		fill = &v
	}
	cleaned := services.CleanTraces(outcome.Traces, services.CleanupOptions{
		Merge:         s.config.CleanupMerge,
		FillValue:     fill,
		MaxGapSeconds: s.config.MaxGapSeconds,
	})

	if _, err := s.writer.Save(cleaned.Traces); err != nil {
		log.Printf("Failed to save waveforms: %v", err)
	}
	if err := s.session.Save(); err != nil {
		log.Printf("Failed to save session: %v", err)
	}

	if s.archive != nil {
		runID, err := s.archive.RecordRun(outcome, started, finished)
		if err != nil {
			log.Printf("Failed to record download run: %v", err)
		} else if err := s.archive.SaveManifest(runID, cleaned); err != nil {
			log.Printf("Failed to save manifest: %v", err)
		}
	}

	s.mu.Lock()
	s.downloading = false
	s.downloadCancel = nil
	s.mu.Unlock()
}

// handleDownloadCancel 取消正在执行的下载
func (s *Server) handleDownloadCancel(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	cancel := s.downloadCancel
	s.mu.Unlock()

	if cancel == nil {
		http.Error(w, "no download in progress", http.StatusBadRequest)
		return
	}
	cancel()

	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "cancelling",
	})
}

// handleDownloadStatus 查询最近一次下载的状态
func (s *Server) handleDownloadStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	downloading := s.downloading
	s.mu.Unlock()

	outcome := s.session.Outcome()

	resp := map[string]interface{}{
		"downloading": downloading,
	}
	if outcome != nil {
		resp["requested"] = outcome.Requested
		resp["completed"] = outcome.Completed
		resp["failures"] = len(outcome.Failures)
		resp["abandoned"] = len(outcome.Abandoned)
		resp["cancelled"] = outcome.Cancelled
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleGetStats 获取统计信息
func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	var stats struct {
		TotalEvents   int `json:"total_events"`
		TotalStations int `json:"total_stations"`
		DownloadRuns  int `json:"download_runs"`
		Failures      int `json:"failures"`
		Gaps          int `json:"gaps"`
	}

	if s.db != nil {
		s.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&stats.TotalEvents)
		s.db.QueryRow("SELECT COUNT(*) FROM stations").Scan(&stats.TotalStations)
		s.db.QueryRow("SELECT COUNT(*) FROM download_runs").Scan(&stats.DownloadRuns)
		s.db.QueryRow("SELECT COUNT(*) FROM download_failures").Scan(&stats.Failures)
		s.db.QueryRow("SELECT COUNT(*) FROM trace_gaps").Scan(&stats.Gaps)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// writeSearchError 按错误类型映射 HTTP 状态码
func writeSearchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, common.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, common.ErrAllProvidersUnavailable):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleWebSocket WebSocket连接处理
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := &Client{
		hub:    s.wsHub,
		conn:   conn,
		send:   make(chan []byte, 256),
		stages: make(map[string]bool),
	}

	client.hub.register <- client

	// 发送欢迎消息
	welcomeMsg := &WSMessage{
		Type: "connected",
		Data: map[string]interface{}{
			"message": "Connected to progress stream",
			"time":    time.Now().Unix(),
		},
	}
	welcomeData, _ := json.Marshal(welcomeMsg)
	client.send <- welcomeData

	go client.writePump()
	go client.readPump()
}
