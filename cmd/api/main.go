package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"attendtrack/internal/attendance"
	"attendtrack/internal/auth"
	"attendtrack/internal/backend"
	"attendtrack/internal/clock"
	"attendtrack/internal/cloudinary"
	"attendtrack/internal/config"
	"attendtrack/internal/directory"
	"attendtrack/internal/httpapi"
	"attendtrack/internal/httpmiddleware"
	"attendtrack/internal/jobs"
	"attendtrack/internal/logging"
	"attendtrack/internal/metrics"
	"attendtrack/internal/notify"
	"attendtrack/internal/queue"
	"attendtrack/internal/registration"
	"attendtrack/internal/scanner"
	"attendtrack/internal/sms"
	"attendtrack/internal/store"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("api stopped")
	}
}

func run(cfg config.App, logger *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := logging.Component(logger, "api")
	clk := clock.Real()
	loc := cfg.Location()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	health := map[string]httpapi.HealthCheck{}

	var redisClient *store.Redis
	if cfg.SessionBackend == "redis" || cfg.QueueBackend == "redis" {
		redisClient = store.NewRedis(cfg.RedisAddr, cfg.RedisPassword)
		defer redisClient.Close()
		health["redis"] = redisClient.Healthy
	}

	var db *store.DB
	if cfg.DirectoryBackend == "postgres" {
		var err error
		db, err = store.NewDB(ctx, cfg.DatabaseURL)
		if db == nil {
			return err
		}
		if err != nil {
			log.WithError(err).Warn("postgres not reachable at startup")
		} else if err := db.Migrate(ctx); err != nil {
			log.WithError(err).Warn("schema migration failed")
		}
		defer db.Close()
		health["db"] = db.Healthy
	}

	client := backend.New(cfg.BackendURL, cfg.BackendTimeout)
	settings := config.NewLiveSettings(cfg.Settings)
	bus := notify.NewBus(clk, cfg.ToastTTL, logging.Component(logger, "notify"))
	defer bus.Close()
	hub := notify.NewHub(bus, logging.Component(logger, "ws"))

	var remote directory.Remote
	var photoStore httpapi.PhotoStore
	switch cfg.DirectoryBackend {
	case "postgres":
		repo := store.NewStudentRepository(db.Client)
		remote, photoStore = repo, repo
	case "remote":
		remote = client
	default:
		remote = directory.NewMemoryRemote(directory.SampleStudents()...)
	}
	dir := directory.New(remote, clk, logging.Component(logger, "directory"))
	dir.OnChange(m.DirectorySize)
	if err := dir.LoadAll(ctx); err != nil {
		bus.Publish(notify.KindWarning, "Directory Unavailable", "Could not load the student list. Scans will not resolve until it is refreshed.")
	}

	ledger := attendance.NewLedger(dir, clk, loc, logging.Component(logger, "attendance"))
	ledger.SetMetrics(m)
	ledger.SetLocationSource(func() string { return settings.Get().ScannerLocation })
	if db != nil {
		ledger.SetArchive(attendance.NewRepository(db.Client))
		now := clk.Now().In(loc)
		since := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, -30)
		if n, err := ledger.Restore(ctx, since); err != nil {
			log.WithError(err).Warn("attendance restore failed")
		} else {
			log.WithField("records", n).Info("attendance restored")
		}
	}

	modem := sms.NewSimulatedModem()
	sender := sms.NewSender(dir, ledger, modem, bus, clk, cfg.SMSDeliveryDelay, logging.Component(logger, "sms"))
	sender.SetMetrics(m)
	defer sender.Close()

	switch cfg.QueueBackend {
	case "redis":
		sender.SetOutbox(queue.NewRedisQueue(redisClient.Client, queue.DefaultKey))
	default:
		// no separate worker in memory mode; drain the outbox in process
		outbox := queue.NewInMemory(256)
		sender.SetOutbox(outbox)
		var gw sms.Gateway = logGateway{logging.Component(logger, "gateway")}
		if cfg.DirectoryBackend == "remote" {
			gw = client
		}
		go func() {
			if _, err := sms.ForwardOutbox(ctx, outbox, gw, cfg.BackendTimeout, logging.Component(logger, "outbox")); err != nil {
				log.WithError(err).Error("outbox forwarder stopped")
			}
		}()
	}

	deps := scanner.Deps{
		Directory: dir,
		Recorder:  ledger,
		SMS:       sender,
		Module:    modem,
		Toasts:    bus,
		Settings:  settings,
		Clock:     clk,
		Metrics:   m,
		Log:       logging.Component(logger, "scanner"),
	}
	if cfg.ReportScans {
		deps.Reporter = client
	}
	scn := scanner.New(deps, scanner.Options{
		Latency:    cfg.ScanLatency,
		ResetAfter: cfg.ScanResetAfter,
		Firmware:   cfg.ScannerFirmware,
		Location:   loc,
	})
	defer scn.Close()
	scn.OnUnregistered(func(ev scanner.Event) {
		log.WithFields(logrus.Fields{"card_id": ev.CardID, "location": ev.Location}).Info("unregistered card awaiting registration")
	})

	registry := registration.NewRegistry(dir, scn, bus, registration.NewValidator(), clk, logging.Component(logger, "registration"))
	registry.SetMetrics(m)

	var kv auth.KV = store.NewMemoryKV(clk)
	if cfg.SessionBackend == "redis" {
		kv = store.NewRedisKV(redisClient.Client)
	}
	creds, err := auth.DemoCredentials(bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	sessions := auth.NewSessions(creds, kv, auth.SessionOptions{
		Issuer:     cfg.JWTIssuer,
		SigningKey: cfg.JWTSigningKey,
		TTL:        cfg.SessionTTL,
	}, clk, logging.Component(logger, "auth"))

	var photos httpapi.PhotoUploader
	cdn := cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder, clk)
	if cdn.Configured() {
		photos = cdn
		log.WithField("cloud", cfg.CloudinaryCloudName).Info("cloudinary configured")
	} else {
		log.Info("cloudinary not configured, photo uploads disabled")
	}

	sched := jobs.New(loc, logging.Component(logger, "jobs"))
	if err := sched.AddHeartbeat(cfg.HeartbeatInterval, scn); err != nil {
		return err
	}
	if err := sched.AddAbsentSweep(cfg.AbsentSweepCron, ledger, time.Minute); err != nil {
		return err
	}
	sched.Start()

	router := httpapi.NewRouter(httpapi.Deps{
		Sessions:      sessions,
		Directory:     dir,
		Ledger:        ledger,
		SMS:           sender,
		Scanner:       scn,
		Registrations: registry,
		Bus:           bus,
		Hub:           hub,
		Settings:      settings,
		Limiter:       httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin, clk),
		Photos:        photos,
		PhotoStore:    photoStore,
		Gatherer:      reg,
		Health:        health,
		Clock:         clk,
		Location:      loc,
		Logger:        logger,
	}, httpapi.Options{AllowOrigins: cfg.CORSOrigins, Production: cfg.Production()})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		return errors.Wrap(err, "http server")
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("forced shutdown")
	}
	sched.Stop(shutdownCtx)
	log.Info("server exited")
	return nil
}

// logGateway stands in for the carrier when no backend is configured.
type logGateway struct{ log *logrus.Entry }

func (g logGateway) SendSMS(ctx context.Context, phone, message string) error {
	g.log.WithFields(logrus.Fields{"phone": phone, "length": len(message)}).Info("sms handed to simulated gateway")
	return nil
}
