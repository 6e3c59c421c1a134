package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joeblew999/plat-defects/internal/api"
	"github.com/joeblew999/plat-defects/internal/api/mapview"
	"github.com/joeblew999/plat-defects/internal/db"
	"github.com/joeblew999/plat-defects/internal/events"
	"github.com/joeblew999/plat-defects/internal/mapsurface"
	"github.com/joeblew999/plat-defects/internal/metrics"
	"github.com/joeblew999/plat-defects/internal/page"
	"github.com/joeblew999/plat-defects/internal/service"
	"github.com/joeblew999/plat-defects/internal/templates"
	"github.com/joeblew999/plat-defects/pkg/defectclient"
	"github.com/joeblew999/plat-defects/web"
)

// DefaultMapStyle is the MapLibre style used when none is configured.
const DefaultMapStyle = "https://demotiles.maplibre.org/style.json"

// Config holds the server configuration.
type Config struct {
	Host    string
	Port    string
	DataDir string // DuckDB files; empty keeps the database in memory
	WebDir  string // Path to web/ directory; empty serves the embedded copy

	// DatabaseURL selects Postgres when set to a postgres:// URL.
	DatabaseURL string

	// BackendURL is the defect API the map pages call. Empty means this
	// server's own /api.
	BackendURL   string
	MapStyle     string
	FetchTimeout time.Duration
	FetchLimit   int

	// AttachTimeout closes map sessions whose stream never connects.
	AttachTimeout time.Duration

	// KafkaBrokers enables the event forwarder when set.
	KafkaBrokers string
	KafkaTopic   string

	Log log.Interface
}

// Server is the defect HTTP server.
type Server struct {
	config   Config
	mux      *http.ServeMux
	humaAPI  huma.API
	db       *sql.DB
	driver   string
	defects  *service.DefectService
	sessions *page.Registry
	renderer *templates.Renderer
	static   http.Handler
	log      log.Interface
	cancel   context.CancelFunc
	workers  sync.WaitGroup
}

// New creates a defect server. A database that cannot be opened is logged
// and the defect routes answer 503.
func New(cfg Config) *Server {
	l := cfg.Log
	if l == nil {
		l = log.Log
	}
	if cfg.MapStyle == "" {
		cfg.MapStyle = DefaultMapStyle
	}
	if cfg.BackendURL == "" {
		cfg.BackendURL = selfURL(cfg) + "/api"
	}

	mux := http.NewServeMux()

	humaConfig := huma.DefaultConfig("plat-defects API", "1.0.0")
	humaConfig.Info.Description = "Road defect reports: map page, REST API, analytics and vehicle uploads."
	humaConfig.Servers = []*huma.Server{
		{URL: selfURL(cfg), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, api.LinkTransformer())

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:   cfg,
		mux:      mux,
		humaAPI:  humago.New(mux, humaConfig),
		sessions: page.NewRegistry(cfg.AttachTimeout, l),
		log:      l,
		cancel:   cancel,
	}

	dbCfg := db.Config{DataDir: cfg.DataDir, DBName: "defects", URL: cfg.DatabaseURL}
	s.driver = dbCfg.Driver()
	conn, err := db.Open(ctx, dbCfg)
	if err != nil {
		l.WithError(err).WithField("driver", s.driver).Error("database unavailable")
	} else {
		s.db = conn
		s.defects = service.NewDefectService(conn, service.WithLogger(l))
	}

	s.renderer, s.static = s.loadWeb()

	metrics.Register()
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		metrics.Observe(ctx, service.DefaultBus)
	}()

	if cfg.KafkaBrokers != "" {
		pub := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, l)
		s.workers.Add(1)
		go func() {
			defer s.workers.Done()
			if err := pub.Run(ctx, service.DefaultBus); err != nil && !errors.Is(err, context.Canceled) {
				l.WithError(err).Error("kafka forwarder stopped")
			}
		}()
	}

	s.routes()
	return s
}

func selfURL(cfg Config) string {
	host := cfg.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%s", host, cfg.Port)
}

// loadWeb parses the page templates from WebDir, falling back to the
// embedded copy.
func (s *Server) loadWeb() (*templates.Renderer, http.Handler) {
	var root fs.FS = web.FS
	if s.config.WebDir != "" {
		root = os.DirFS(s.config.WebDir)
	}
	r, err := templates.NewFS(root, web.TemplatePatterns...)
	if err != nil && s.config.WebDir != "" {
		s.log.WithError(err).WithField("dir", s.config.WebDir).Warn("using embedded templates")
		root = web.FS
		r, err = templates.NewFS(root, web.TemplatePatterns...)
	}
	if err != nil {
		s.log.WithError(err).Error("templates unavailable")
		return nil, http.NotFoundHandler()
	}
	static, err := fs.Sub(root, "static")
	if err != nil {
		return r, http.NotFoundHandler()
	}
	return r, http.FileServerFS(static)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// OpenAPI returns the generated OpenAPI document.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Defects returns the defect service, or nil without a database.
func (s *Server) Defects() *service.DefectService {
	return s.defects
}

// Close ends every map session, stops the event subscribers and closes the
// database.
func (s *Server) Close() error {
	s.sessions.Close()
	s.cancel()
	s.workers.Wait()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Server) routes() {
	services := &api.Services{}
	if s.defects != nil {
		services.Defects = s.defects
	}
	// Register Huma REST API routes (OpenAPI-documented JSON endpoints)
	api.RegisterRoutes(s.humaAPI, services)
	api.NewInfoHandler(s.driver, s.db != nil, s.config.BackendURL, s.config.KafkaBrokers != "", s.sessions.Len).
		RegisterRoutes(s.humaAPI)

	// Map page: Huma + Datastar SSE
	if s.renderer != nil {
		client := defectclient.New(s.config.BackendURL, defectclient.WithTimeout(s.config.FetchTimeout))
		mapview.NewHandler(mapview.Config{
			Sessions:   s.sessions,
			API:        client,
			Renderer:   s.renderer,
			Map:        mapsurface.DefaultOptions(s.config.MapStyle),
			FetchLimit: s.config.FetchLimit,
			Log:        s.log,
		}).RegisterRoutes(s.humaAPI)
	}

	s.mux.Handle("/static/", http.StripPrefix("/static/", s.static))
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/", s.handleRoot)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	target := mapview.Prefix
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	http.Redirect(w, r, target, http.StatusFound)
}
