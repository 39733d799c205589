package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"proctor-stream/internal/auth"
	"proctor-stream/internal/detect"
	"proctor-stream/internal/frame"
	"proctor-stream/internal/handler"
	"proctor-stream/internal/hub"
	"proctor-stream/internal/ingest"
	"proctor-stream/internal/logwriter"
	"proctor-stream/internal/middleware"
	"proctor-stream/internal/publish"
	"proctor-stream/internal/session"
	"proctor-stream/internal/store"
)

// StreamOptions tunes the stream endpoint. MaxFramePixels caps declared
// image dimensions; 0 keeps the decoder default.
type StreamOptions struct {
	Ingest         ingest.Config
	Retry          logwriter.Config
	MinFrameBytes  int
	MaxFrameBytes  int64
	MaxFramePixels int
}

type Deps struct {
	Store       store.LogStore
	Hub         *hub.Hub
	TokenConfig auth.TokenConfig
	Detectors   []detect.Detector
	Publisher   publish.Publisher
	Stream      StreamOptions
	WSBaseURL   string
	Logger      *zap.Logger

	// StartLimit caps start calls per client per minute; 0 uses the default.
	StartLimit int
}

// App is the wired request graph. Hub and Sessions are exposed so the
// caller can shut connections down and tests can inspect state.
type App struct {
	Router   *gin.Engine
	Hub      *hub.Hub
	Sessions *session.Registry

	limiter *middleware.FixedWindowLimiter
}

// Close stops background work owned by the router. It does not touch the
// hub or the store.
func (a *App) Close() {
	if a.limiter != nil {
		a.limiter.Stop()
	}
}

func NewRouter(deps Deps) *gin.Engine {
	return NewApp(deps).Router
}

func NewApp(deps Deps) *App {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if deps.Store == nil {
		deps.Store = store.New()
	}
	if deps.Hub == nil {
		deps.Hub = hub.New(log.Named("hub"))
	}
	if deps.Publisher == nil {
		deps.Publisher = publish.Nop{}
	}
	if deps.StartLimit <= 0 {
		deps.StartLimit = 30
	}

	decoder := frame.NewDecoder(deps.Stream.MinFrameBytes)
	if deps.Stream.MaxFramePixels > 0 {
		decoder.MaxPixels = deps.Stream.MaxFramePixels
	}
	writer := logwriter.New(deps.Store, deps.Stream.Retry, log.Named("logwriter"))
	sessions := session.NewRegistry(deps.Hub, writer, deps.Store, log.Named("session"))
	orchestrator := detect.NewOrchestrator(log.Named("detect"), deps.Detectors...)
	loop := ingest.New(ingest.Deps{
		Hub:       deps.Hub,
		Sessions:  sessions,
		Decoder:   decoder,
		Detector:  orchestrator,
		Writer:    writer,
		Publisher: deps.Publisher,
		Logger:    log.Named("ingest"),
	}, deps.Stream.Ingest)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(log.Named("http")))

	info := &handler.InfoHandler{}
	r.GET("/", info.Root)
	r.GET("/health", info.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	stream := &handler.StreamHandler{
		Sessions:      sessions,
		Loop:          loop,
		TokenConfig:   deps.TokenConfig,
		MaxFrameBytes: deps.Stream.MaxFrameBytes,
		Logger:        log.Named("stream"),
	}
	r.GET("/stream/:userId", stream.Serve)

	exam := &handler.ExamHandler{
		Sessions:    sessions,
		TokenConfig: deps.TokenConfig,
		WSBaseURL:   deps.WSBaseURL,
		Logger:      log.Named("exam"),
	}
	requireAuth := middleware.RequireAuth(deps.TokenConfig)
	requireSelf := middleware.RequireSelf("userId")
	startLimiter := middleware.NewFixedWindowLimiter(deps.StartLimit, time.Minute)

	api := r.Group("/api/v1/exam")
	api.GET("/session/:userId", exam.Get)
	api.POST("/start/:userId", middleware.RateLimit(startLimiter, middleware.UserClientKey("userId")), requireAuth, requireSelf, exam.Start)
	api.POST("/pause/:userId", exam.Pause)
	api.POST("/resume/:userId", exam.Resume)
	api.POST("/stop/:userId", requireAuth, requireSelf, exam.Stop)
	api.GET("/summary/:userId", exam.Summary)
	api.POST("/clear-logs/:userId", requireAuth, exam.ClearLogs)

	return &App{Router: r, Hub: deps.Hub, Sessions: sessions, limiter: startLimiter}
}
