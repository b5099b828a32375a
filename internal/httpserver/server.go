package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pulsemetric/attribution-engine/internal/attribution"
	"github.com/pulsemetric/attribution-engine/internal/channel"
	"github.com/pulsemetric/attribution-engine/internal/config"
	"github.com/pulsemetric/attribution-engine/internal/database"
	"github.com/pulsemetric/attribution-engine/internal/geo"
	"github.com/pulsemetric/attribution-engine/internal/ingest"
	"github.com/pulsemetric/attribution-engine/internal/kpi"
	"github.com/pulsemetric/attribution-engine/internal/metrics"
	"github.com/pulsemetric/attribution-engine/internal/middleware"
	"github.com/pulsemetric/attribution-engine/internal/models"
	"github.com/pulsemetric/attribution-engine/internal/ratelimit"
	"github.com/pulsemetric/attribution-engine/internal/storage"
	"go.uber.org/zap"
)

// topPathsLimit bounds the ranked path list in attribution responses.
const topPathsLimit = 10

// maxTrackBodyBytes caps the tracking request body size.
const maxTrackBodyBytes = 1 << 20

// Dependencies holds all external dependencies for the server.
type Dependencies struct {
	DB         *database.PostgresDB
	Redis      *database.RedisDB
	ClickHouse *database.ClickHouseDB
	Config     *config.Config
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// Server wraps HTTP handlers and attribution services.
type Server struct {
	ingestSvc     *ingest.Service
	reconstructor *attribution.Reconstructor
	engine        *attribution.Engine
	aggregator    *kpi.Aggregator
	recommender   *kpi.Recommender
	brands        storage.BrandRepo
	spend         storage.SpendRepo
	logger        *zap.Logger
	config        *config.Config
	metrics       *metrics.Metrics
}

// NewServer constructs a new http.Handler with all routes registered.
func NewServer(deps *Dependencies) http.Handler {
	cfg := deps.Config

	// Initialize repositories
	var brandRepo storage.BrandRepo
	if deps.DB != nil {
		brandRepo = storage.NewPostgresBrandRepo(deps.DB.Pool)
	} else {
		brandRepo = storage.NewInMemoryBrandRepo()
	}

	var eventStore storage.EventStore
	if deps.ClickHouse != nil {
		eventStore = storage.NewClickHouseEventStore(deps.ClickHouse.Conn)
	} else {
		eventStore = storage.NewInMemoryEventStore()
	}

	var spendRepo storage.SpendRepo
	var limiter ratelimit.Limiter
	if deps.Redis != nil {
		spendRepo = storage.NewRedisSpendRepo(deps.Redis.Client)
		limiter = ratelimit.NewRedisWindowLimiter(deps.Redis.Client, int64(cfg.Ingest.EventsPerMinute), time.Minute, deps.Logger)
	} else {
		spendRepo = storage.NewInMemorySpendRepo()
		limiter = ratelimit.NewWindowLimiter(int64(cfg.Ingest.EventsPerMinute), time.Minute)
	}

	// Initialize geo enrichment
	var geoResolver *geo.Resolver
	if cfg.Geo.Enabled {
		resolver, err := geo.NewResolver(cfg.Geo.DatabasePath, cfg.Geo.CacheSize, cfg.Geo.CacheTTL, deps.Metrics)
		if err != nil {
			deps.Logger.Warn("failed to initialize geo resolver, skipping enrichment", zap.Error(err))
		} else {
			geoResolver = resolver
		}
	}

	// Initialize services
	classifier := channel.NewClassifier(channel.DefaultRules())

	ingestSvc := ingest.NewService(brandRepo, eventStore, limiter, geoResolver, deps.Metrics, deps.Logger)

	reconstructor := attribution.NewReconstructor(eventStore, classifier, attribution.ReconstructorConfig{
		Lookback:         cfg.Attribution.LookbackWindow,
		CollapseInterval: cfg.Attribution.CollapseInterval,
		ConversionTypes:  cfg.Attribution.ConversionTypes,
	}, deps.Logger)

	engine := attribution.NewEngine(attribution.CreditConfig{
		HalfLife: cfg.Attribution.HalfLife,
	}, deps.Logger)

	aggregator := kpi.NewAggregator(eventStore, spendRepo, classifier, deps.Logger)
	recommender := kpi.NewRecommender(aggregator, deps.Logger)

	s := &Server{
		ingestSvc:     ingestSvc,
		reconstructor: reconstructor,
		engine:        engine,
		aggregator:    aggregator,
		recommender:   recommender,
		brands:        brandRepo,
		spend:         spendRepo,
		logger:        deps.Logger,
		config:        cfg,
		metrics:       deps.Metrics,
	}

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", s.handleHealth)

	// Prometheus metrics
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
	}

	// Public tracking endpoint
	mux.Handle("/track", middleware.TrackingCORS(http.HandlerFunc(s.handleTrack)))

	// Dashboard API
	mux.HandleFunc("/v1/kpis", s.handleKPIs)
	mux.HandleFunc("/v1/attribution", s.handleAttribution)
	mux.HandleFunc("/v1/budget/recommendation", s.handleBudgetRecommendation)
	mux.HandleFunc("/v1/spend", s.handleSpend)

	// Brand management
	mux.HandleFunc("/v1/brands", s.handleBrands)
	mux.HandleFunc("/v1/brands/", s.handleBrandByID)

	return mux
}

// APIResponse is the envelope for every JSON response.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// BatchData is the response payload for a batched tracking request.
type BatchData struct {
	Accepted         int      `json:"accepted"`
	Rejected         int      `json:"rejected"`
	Errors           []string `json:"errors,omitempty"`
	ProcessingTimeMs int64    `json:"processingTimeMs"`
}

// SingleData is the response payload for a single tracking event.
type SingleData struct {
	EventID          string `json:"eventId"`
	ProcessingTimeMs int64  `json:"processingTimeMs"`
}

// ---- Health Check ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ---- Tracking ----

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()
	ctx := r.Context()

	brand, err := s.ingestSvc.Authenticate(ctx, r.Header.Get("X-API-Key"))
	if err != nil {
		if errors.Is(err, ingest.ErrUnauthorized) {
			s.errorResponse(w, "missing or invalid API key", http.StatusUnauthorized)
			return
		}
		s.logger.Error("authentication failed", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxTrackBodyBytes))
	if err != nil {
		s.errorResponse(w, "failed to read body", http.StatusBadRequest)
		return
	}

	var batch ingest.BatchRequest
	if err := json.Unmarshal(body, &batch); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}

	clientIP := middleware.ClientIP(r, s.config.Ingest.TrustProxyHeaders)

	// A body without an events array is treated as a single event.
	if batch.Events == nil {
		s.handleTrackSingle(w, r, body, brand, clientIP, start)
		return
	}

	result, err := s.ingestSvc.ProcessBatch(ctx, brand, &batch, clientIP)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordBatch(len(batch.Events), "rejected", time.Since(start))
		}
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	if s.metrics != nil {
		s.metrics.RecordBatch(len(batch.Events), "processed", time.Since(start))
	}

	s.jsonResponse(w, &BatchData{
		Accepted:         result.Accepted,
		Rejected:         result.Rejected,
		Errors:           result.Errors,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleTrackSingle(w http.ResponseWriter, r *http.Request, body []byte, brand *models.Brand, clientIP string, start time.Time) {
	var in ingest.IncomingEvent
	if err := json.Unmarshal(body, &in); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}

	eventID, err := s.ingestSvc.ProcessSingle(r.Context(), brand, &in, clientIP)
	if err != nil {
		if errors.Is(err, ingest.ErrRateLimited) {
			s.errorResponse(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	if s.metrics != nil {
		s.metrics.RecordBatch(1, "processed", time.Since(start))
	}

	s.jsonResponse(w, &SingleData{
		EventID:          eventID,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	})
}

// ---- KPIs ----

func (s *Server) handleKPIs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	brandID := q.Get("brand_id")
	if brandID == "" {
		s.errorResponse(w, "brand_id is required", http.StatusBadRequest)
		return
	}

	period := kpi.Daily
	if p := q.Get("period"); p != "" {
		parsed, err := kpi.ParsePeriod(p)
		if err != nil {
			s.errorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
		period = parsed
	}

	start := time.Now()
	asOf := start.UTC()
	nextUpdate := asOf.Add(kpi.RefreshInterval(period))

	if q.Get("compare") == "true" {
		comparison, err := s.aggregator.Compare(r.Context(), brandID, period, asOf)
		if err != nil {
			s.logger.Error("kpi comparison failed", zap.Error(err))
			s.errorResponse(w, "failed to compute KPIs", http.StatusInternalServerError)
			return
		}
		if s.metrics != nil {
			s.metrics.RecordKPISnapshot(string(period), "ok", time.Since(start))
		}
		s.jsonResponse(w, &kpiComparisonData{
			Comparison:  comparison,
			LastUpdated: asOf,
			NextUpdate:  nextUpdate,
		})
		return
	}

	snapshot, err := s.aggregator.Snapshot(r.Context(), brandID, period, asOf)
	if err != nil {
		s.logger.Error("kpi snapshot failed", zap.Error(err))
		if s.metrics != nil {
			s.metrics.RecordKPISnapshot(string(period), "error", time.Since(start))
		}
		s.errorResponse(w, "failed to compute KPIs", http.StatusInternalServerError)
		return
	}

	if s.metrics != nil {
		s.metrics.RecordKPISnapshot(string(period), "ok", time.Since(start))
	}
	s.jsonResponse(w, &kpiData{
		Snapshot:    snapshot,
		LastUpdated: asOf,
		NextUpdate:  nextUpdate,
	})
}

// kpiData decorates a snapshot with the refresh schedule dashboards
// poll against.
type kpiData struct {
	*kpi.Snapshot
	LastUpdated time.Time `json:"lastUpdated"`
	NextUpdate  time.Time `json:"nextUpdate"`
}

type kpiComparisonData struct {
	*kpi.Comparison
	LastUpdated time.Time `json:"lastUpdated"`
	NextUpdate  time.Time `json:"nextUpdate"`
}

// ---- Attribution ----

func (s *Server) handleAttribution(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	brandID := q.Get("brand_id")
	if brandID == "" {
		s.errorResponse(w, "brand_id is required", http.StatusBadRequest)
		return
	}

	from, to, err := parseDateRange(q.Get("from"), q.Get("to"))
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	start := time.Now()

	paths, err := s.reconstructor.Paths(r.Context(), brandID, from, to)
	if err != nil {
		s.logger.Error("path reconstruction failed", zap.Error(err))
		s.errorResponse(w, "failed to compute attribution", http.StatusInternalServerError)
		return
	}

	if s.metrics != nil {
		s.metrics.RecordPathsReconstructed(brandID, len(paths))
	}

	response := map[string]interface{}{
		"brand_id":    brandID,
		"from":        from,
		"to":          to,
		"conversions": len(paths),
		"top_paths":   attribution.TopPaths(paths, topPathsLimit),
	}

	if m := q.Get("model"); m != "" {
		model, err := attribution.ParseModel(m)
		if err != nil {
			s.errorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
		report, err := s.engine.Attribute(model, paths)
		if err != nil {
			s.logger.Error("attribution failed", zap.Error(err))
			if s.metrics != nil {
				s.metrics.RecordAttributionRun(string(model), "error", time.Since(start))
			}
			s.errorResponse(w, "failed to compute attribution", http.StatusInternalServerError)
			return
		}
		if s.metrics != nil {
			s.metrics.RecordAttributionRun(string(model), "ok", time.Since(start))
		}
		response["models"] = map[attribution.Model]*attribution.Report{model: report}
	} else {
		reports, err := s.engine.AttributeAll(paths)
		if err != nil {
			s.logger.Error("attribution failed", zap.Error(err))
			s.errorResponse(w, "failed to compute attribution", http.StatusInternalServerError)
			return
		}
		if s.metrics != nil {
			s.metrics.RecordAttributionRun("all", "ok", time.Since(start))
		}
		response["models"] = reports
	}

	s.jsonResponse(w, response)
}

// ---- Budget ----

func (s *Server) handleBudgetRecommendation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var in kpi.BudgetInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}
	if in.BrandID == "" {
		s.errorResponse(w, "brand_id is required", http.StatusBadRequest)
		return
	}

	rec, err := s.recommender.Recommend(r.Context(), in)
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.jsonResponse(w, rec)
}

// ---- Spend ----

type spendRequest struct {
	BrandID string  `json:"brand_id"`
	Date    string  `json:"date"`
	Amount  float64 `json:"amount"`
}

func (s *Server) handleSpend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req spendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.BrandID == "" {
		s.errorResponse(w, "brand_id is required", http.StatusBadRequest)
		return
	}
	if req.Amount < 0 {
		s.errorResponse(w, "amount must be non-negative", http.StatusBadRequest)
		return
	}

	day, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		s.errorResponse(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	if err := s.spend.RecordSpend(r.Context(), req.BrandID, day, req.Amount); err != nil {
		s.logger.Error("failed to record spend", zap.Error(err))
		s.errorResponse(w, "failed to record spend", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, map[string]interface{}{
		"brand_id": req.BrandID,
		"date":     req.Date,
		"amount":   req.Amount,
	})
}

// ---- Brands ----

func (s *Server) handleBrands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var b models.Brand
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}
	if b.ID == "" || b.APIKey == "" {
		s.errorResponse(w, "id and api_key are required", http.StatusBadRequest)
		return
	}

	if err := s.brands.Upsert(r.Context(), &b); err != nil {
		s.logger.Error("failed to save brand", zap.Error(err))
		s.errorResponse(w, "failed to save brand", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, &b)
}

func (s *Server) handleBrandByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/brands/")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	b, err := s.brands.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get brand", zap.Error(err))
		s.errorResponse(w, "failed to get brand", http.StatusInternalServerError)
		return
	}
	if b == nil {
		http.NotFound(w, r)
		return
	}

	s.jsonResponse(w, b)
}

// ---- Helpers ----

// parseDateRange parses from/to query params, defaulting to the last
// 30 days ending now.
func parseDateRange(fromStr, toStr string) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -30)
	to := now

	if fromStr != "" {
		parsed, err := time.Parse("2006-01-02", fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("from must be YYYY-MM-DD")
		}
		from = parsed
	}
	if toStr != "" {
		parsed, err := time.Parse("2006-01-02", toStr)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("to must be YYYY-MM-DD")
		}
		// End dates are inclusive on the wire, exclusive internally.
		to = parsed.AddDate(0, 0, 1)
	}

	if !from.Before(to) {
		return time.Time{}, time.Time{}, errors.New("from must be before to")
	}

	return from, to, nil
}

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(&APIResponse{Success: true, Data: data})
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(&APIResponse{Success: false, Error: message})
}
