package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"attendtrack/internal/attendance"
	"attendtrack/internal/auth"
	"attendtrack/internal/clock"
	"attendtrack/internal/cloudinary"
	"attendtrack/internal/config"
	"attendtrack/internal/directory"
	"attendtrack/internal/httpmiddleware"
	"attendtrack/internal/logging"
	"attendtrack/internal/notify"
	"attendtrack/internal/registration"
	"attendtrack/internal/scanner"
	"attendtrack/internal/sms"
)

// PhotoUploader stores a student photo and returns where it lives.
type PhotoUploader interface {
	UploadStudentPhoto(ctx context.Context, studentID, data string) (cloudinary.UploadResult, error)
}

// PhotoStore persists a student's photo URL outside the directory cache.
type PhotoStore interface {
	SetPhoto(ctx context.Context, studentID, url string) error
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Deps are the containers the API serves.
type Deps struct {
	Sessions      *auth.Sessions
	Directory     *directory.Cache
	Ledger        *attendance.Ledger
	SMS           *sms.Sender
	Scanner       *scanner.Scanner
	Registrations *registration.Registry
	Bus           *notify.Bus
	Hub           *notify.Hub
	Settings      *config.LiveSettings
	Limiter       *httpmiddleware.TokenBucket
	Photos        PhotoUploader
	PhotoStore    PhotoStore
	Gatherer      prometheus.Gatherer
	Health        map[string]HealthCheck
	Clock         clock.Clock
	Location      *time.Location
	Logger        *logrus.Logger
}

// Options tune the router.
type Options struct {
	AllowOrigins []string
	Production   bool
}

// Server holds the handlers' dependencies.
type Server struct {
	deps Deps
	log  *logrus.Entry
}

// NewRouter builds the gin engine with every route mounted.
func NewRouter(deps Deps, opts Options) *gin.Engine {
	if deps.Location == nil {
		deps.Location = time.Local
	}
	s := &Server{deps: deps, log: logging.Component(deps.Logger, "http")}

	r := gin.New()
	r.Use(gin.CustomRecovery(func(c *gin.Context, rec any) {
		s.log.WithField("panic", rec).Error("handler panic")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "internal server error"})
	}))
	r.Use(logging.GinMiddleware(deps.Logger, "/healthz", "/metrics"))
	r.Use(corsMiddleware(opts.AllowOrigins))
	r.Use(securityHeaders(opts.Production))

	r.GET("/healthz", s.health)
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	public := r.Group("/api")
	if deps.Limiter != nil {
		public.Use(deps.Limiter.Middleware(httpmiddleware.ClientIP))
	}
	public.POST("/auth/login", s.login)

	authed := r.Group("/", auth.Authenticate(deps.Sessions))
	if deps.Limiter != nil {
		authed.Use(deps.Limiter.Middleware(userKey))
	}
	s.mountRoutes(authed)
	return r
}

func (s *Server) mountRoutes(g *gin.RouterGroup) {
	api := g.Group("/api")

	api.POST("/auth/logout", s.logout)
	api.GET("/auth/me", s.me)

	api.GET("/dashboard", auth.RequirePage(auth.PageDashboard), s.dashboard)

	scan := api.Group("", auth.RequirePage(auth.PageScan))
	scan.GET("/scanner", s.scannerState)
	scan.POST("/scanner/simulate", s.simulateScan)
	scan.DELETE("/scanner/pending", s.clearPending)
	scan.POST("/hardware/events", s.hardwareEvent)
	scan.POST("/attendance/scan", s.scanNow)
	scan.POST("/attendance", s.manualAttendance)

	students := api.Group("/students")
	students.GET("", auth.RequirePage(auth.PageStudents), s.listStudents)
	students.GET("/:studentId", auth.RequirePage(auth.PageStudents), s.getStudent)
	students.POST("", auth.RequirePage(auth.PageRegister), s.createStudent)
	students.POST("/reload", auth.RequirePage(auth.PageRegister), s.reloadStudents)
	students.POST("/:studentId/photo", auth.RequirePage(auth.PageRegister), s.uploadPhoto)

	reg := api.Group("/registrations", auth.RequirePage(auth.PageRegister))
	reg.GET("", s.listRegistrations)
	reg.POST("", s.startRegistration)
	reg.GET("/:id", s.getRegistration)
	reg.PATCH("/:id", s.updateRegistration)
	reg.DELETE("/:id", s.deleteRegistration)
	reg.POST("/:id/next", s.registrationStep(s.deps.Registrations.Next))
	reg.POST("/:id/back", s.registrationStep(s.deps.Registrations.Back))
	reg.POST("/:id/review", s.registrationStep(s.deps.Registrations.Review))
	reg.POST("/:id/confirm", s.confirmRegistration)

	records := api.Group("/attendance", auth.RequirePage(auth.PageRecords))
	records.GET("", s.listAttendance)
	records.GET("/stats", s.attendanceStats)
	records.GET("/export", s.exportAttendance)

	smsLogs := api.Group("/sms", auth.RequirePage(auth.PageSMSLogs))
	smsLogs.GET("", s.listSMS)
	smsLogs.GET("/stats", s.smsStats)
	smsLogs.POST("", s.sendSMS)

	settings := api.Group("/settings", auth.RequirePage(auth.PageSettings))
	settings.GET("", s.getSettings)
	settings.PUT("", s.putSettings)

	api.GET("/notifications", s.listNotifications)
	api.DELETE("/notifications/:id", s.dismissNotification)
	g.GET("/ws/notifications", s.notificationStream)
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	body := gin.H{"status": "ok", "students": s.deps.Directory.Size()}
	status := http.StatusOK
	for name, check := range s.deps.Health {
		ok := check(ctx)
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

func userKey(c *gin.Context) string {
	if u := auth.CurrentUser(c); u != nil {
		return "user:" + u.Username
	}
	return httpmiddleware.ClientIP(c)
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

func securityHeaders(production bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if production {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}

func respondError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": code, "message": message})
}
