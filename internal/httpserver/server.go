package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/radiusdt/orion-attribution/internal/attribution"
	"github.com/radiusdt/orion-attribution/internal/config"
	"github.com/radiusdt/orion-attribution/internal/database"
	"github.com/radiusdt/orion-attribution/internal/metrics"
	"github.com/radiusdt/orion-attribution/internal/middleware"
	"github.com/radiusdt/orion-attribution/internal/orders"
	"github.com/radiusdt/orion-attribution/internal/storage"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// Dependencies holds all external dependencies for the server. Stores left
// nil are built from the database handles, falling back to memory.
type Dependencies struct {
	DB         *database.PostgresDB
	Redis      *database.RedisDB
	ClickHouse *database.ClickHouseDB
	Config     *config.Config
	Logger     *zap.Logger
	Metrics    *metrics.Metrics

	Sources  *storage.Sources
	Orders   storage.OrderRepo
	Agencies storage.AgencyLister
}

// Server wraps HTTP handlers and the report and order services.
type Server struct {
	engine   *attribution.Engine
	orders   *orders.Service
	agencies storage.AgencyLister
	deps     *Dependencies
	logger   *zap.Logger
	config   *config.Config
	metrics  *metrics.Metrics
}

// NewServer constructs a new http.Handler with all routes registered.
func NewServer(deps *Dependencies) http.Handler {
	resolveStores(deps)

	s := &Server{
		engine:   attribution.NewEngine(*deps.Sources, deps.Config.Report, deps.Metrics, deps.Logger),
		orders:   orders.NewService(deps.Orders, deps.Metrics, deps.Logger),
		agencies: deps.Agencies,
		deps:     deps,
		logger:   deps.Logger,
		config:   deps.Config,
		metrics:  deps.Metrics,
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger).Handler)
	r.Use(middleware.RequestID)
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, "/api/health", deps.Config.Metrics.Path).Handler)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: deps.Config.CORS.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", middleware.AuthHeaderName, middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))
	r.Use(middleware.NewRateLimitMiddleware(deps.Config.RateLimit, deps.Metrics, deps.Logger).Handler)
	r.Use(middleware.NewAuthMiddleware(deps.Config.Auth, deps.Logger).Handler)

	if deps.Config.Metrics.Enabled {
		r.Handle(deps.Config.Metrics.Path, deps.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/tracking", func(r chi.Router) {
			r.Post("/stats", s.handleStats)
			r.Get("/agencies", s.handleAgencies)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/list", s.handleOrdersList)
			r.Put("/update", s.handleOrdersUpdate)
		})
	})

	return r
}

// resolveStores fills unset stores from the database handles. Without
// PostgreSQL everything is served from memory.
func resolveStores(deps *Dependencies) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Config == nil {
		deps.Config = config.Default()
	}

	var pg *storage.PostgresSource
	var mem *storage.InMemorySource
	if deps.DB != nil {
		pg = storage.NewPostgresSource(deps.DB.Pool)
	} else if deps.Sources == nil || deps.Orders == nil || deps.Agencies == nil {
		deps.Logger.Warn("no database configured, serving from memory")
		mem = storage.NewInMemorySource()
	}

	if deps.Sources == nil {
		var src storage.Sources
		if pg != nil {
			src = storage.Sources{Events: pg, Visits: pg, Orders: pg, Coupons: pg, Agencies: pg}
		} else {
			src = storage.Sources{Events: mem, Visits: mem, Orders: mem, Coupons: mem, Agencies: mem}
		}
		if deps.ClickHouse != nil {
			src.Visits = storage.NewClickHouseVisitSource(deps.ClickHouse.DB)
		}
		if deps.Redis != nil && deps.Config.Cache.Enabled {
			cached := storage.NewCachedReferenceSource(deps.Redis.Client, src.Coupons, src.Agencies,
				deps.Config.Cache.TTL, deps.Config.Cache.Prefix, deps.Metrics, deps.Logger)
			src.Coupons, src.Agencies = cached, cached
		}
		deps.Sources = &src
	}

	if deps.Orders == nil {
		if pg != nil {
			deps.Orders = pg
		} else {
			deps.Orders = mem
		}
	}
	if deps.Agencies == nil {
		if pg != nil {
			deps.Agencies = pg
		} else {
			deps.Agencies = mem
		}
	}
}

// ---- Health Check ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true
	check := func(name string, fn func(context.Context) error) {
		if err := fn(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
			return
		}
		checks[name] = "ok"
	}

	if s.deps.DB != nil {
		check("postgres", s.deps.DB.Health)
		s.deps.DB.ReportStats(s.metrics)
	}
	if s.deps.Redis != nil {
		check("redis", s.deps.Redis.Health)
	}
	if s.deps.ClickHouse != nil {
		check("clickhouse", s.deps.ClickHouse.Health)
	}

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	s.jsonStatus(w, code, map[string]any{"status": status, "checks": checks})
}

// ---- Tracking ----

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var req attribution.Request
	if !s.decode(w, r, &req) {
		return
	}

	report, err := s.engine.Build(r.Context(), req)
	switch {
	case errors.Is(err, attribution.ErrInvalidDate):
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, attribution.ErrSourceUnavailable):
		s.logger.Error("failed to fetch tracking data",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err),
		)
		s.errorResponse(w, "failed to fetch tracking data", http.StatusBadGateway)
		return
	case err != nil:
		s.logger.Error("failed to build report", zap.Error(err))
		s.errorResponse(w, "internal server error", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, map[string]any{"success": true, "stats": report})
}

func (s *Server) handleAgencies(w http.ResponseWriter, r *http.Request) {
	agencies, err := s.agencies.ListActiveAgencies(r.Context())
	if err != nil {
		s.logger.Error("failed to list agencies", zap.Error(err))
		s.errorResponse(w, "failed to fetch agencies", http.StatusBadGateway)
		return
	}
	s.jsonResponse(w, map[string]any{"success": true, "agencies": agencies})
}

// ---- Orders ----

func (s *Server) handleOrdersList(w http.ResponseWriter, r *http.Request) {
	var req orders.ListRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.orders.List(r.Context(), req)
	if errors.Is(err, orders.ErrInvalidStatus) {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		s.logger.Error("failed to list orders", zap.Error(err))
		s.errorResponse(w, "failed to fetch orders", http.StatusBadGateway)
		return
	}

	s.jsonResponse(w, struct {
		Success bool `json:"success"`
		*orders.ListResult
	}{true, res})
}

func (s *Server) handleOrdersUpdate(w http.ResponseWriter, r *http.Request) {
	var req orders.UpdateRequest
	if !s.decode(w, r, &req) {
		return
	}

	order, err := s.orders.UpdateStatus(r.Context(), req)
	switch {
	case errors.Is(err, orders.ErrMissingFields),
		errors.Is(err, orders.ErrInvalidStatus),
		errors.Is(err, orders.ErrStatusNotForward):
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, orders.ErrOrderNotFound):
		s.errorResponse(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, orders.ErrConcurrentUpdate):
		s.errorResponse(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		s.logger.Error("failed to update order", zap.Error(err))
		s.errorResponse(w, "failed to update order", http.StatusBadGateway)
		return
	}

	s.jsonResponse(w, map[string]any{"success": true, "order": order})
}

// ---- Helper Methods ----

// decode reads a JSON body into v. An empty body leaves v untouched.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	s.jsonStatus(w, http.StatusOK, data)
}

func (s *Server) jsonStatus(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
