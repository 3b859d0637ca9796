package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"energo/config"
	"energo/internal/api"
	"energo/internal/bus"
	"energo/internal/db"
	"energo/internal/health"
	"energo/internal/ingest"
	"energo/internal/logs"
	"energo/internal/middleware"
	"energo/internal/models"
	"energo/internal/query"
	"energo/internal/repo"
	"energo/internal/tstore"

	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

type App struct {
	cfg        *config.Config
	db         *gorm.DB
	pub        bus.Publisher
	Router     *mux.Router
	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
}

func (a *App) Initialize(cfg *config.Config) {
	a.cfg = cfg

	/* 1) Логи */
	logs.Init(logs.Options{
		Level:  a.cfg.Logging.Level,
		Format: a.cfg.Logging.Format,
		File:   a.cfg.Logging.File,
	})

	/* 2) DB — без неё ядру делать нечего */
	d, err := db.Open(a.cfg.Database.DSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}
	a.db = d

	// реестр устройств; реляции измерений живут вне gorm-миграций
	if err := a.db.AutoMigrate(&models.Device{}); err != nil {
		log.Fatalf("db migrate failed: %v", err)
	}

	/* 3) Ядро */
	tsm := tstore.NewManager(a.db, tstore.Options{
		ChunkDays:         a.cfg.Compression.ChunkDays,
		CompressAfterDays: a.cfg.Compression.AfterDays,
		RetentionDays:     a.cfg.Retention.DefaultDays,
	})
	ds := repo.NewDeviceStore(a.db, tsm)

	a.pub = bus.Publisher(bus.Noop{})
	if a.cfg.Kafka.Enabled {
		p, err := bus.NewKafka(a.cfg.Kafka.Brokers, a.cfg.Kafka.TopicPrefix)
		if err != nil {
			// оператор явно включил поток: молча деградировать до
			// заглушки нельзя, падаем на старте
			log.Fatalf("kafka producer init failed: %v", err)
		}
		a.pub = p
	}

	coord := ingest.NewCoordinator(a.db, ds, a.pub, ingest.AllowAll{})
	qs := query.NewService(a.db, a.cfg.Query.DefaultLimit, a.cfg.Query.MaxLimit)

	/* 4) Стартовый обход сирот — строго до приёма трафика: снимок
	   реестра берётся один раз, гонок с созданием устройств ещё нет */
	startupCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	ids, err := ds.LiveIDs(startupCtx)
	if err != nil {
		log.Fatalf("orphan sweep: snapshot failed: %v", err)
	}
	dropped, err := tsm.ReclaimOrphans(startupCtx, ids)
	if err != nil {
		log.Fatalf("orphan sweep failed: %v", err)
	}
	logs.Logger.Infof("orphan sweep done: %d relation(s) dropped", dropped)

	/* 5) Router + middleware */
	a.Router = mux.NewRouter().StrictSlash(true)
	a.Router.Use(
		middleware.RequestID,
		middleware.Recoverer,
		middleware.LoggerMW,
	)

	health.RegisterRoutesWithDB(a.Router, a.db) // /healthz, /readyz
	api.RegisterRoutes(a.Router, api.New(ds, coord, qs, tsm))

	/* (необязательно) вывести известные маршруты в лог при старте */
	_ = a.Router.Walk(func(rt *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		path, _ := rt.GetPathTemplate()
		methods, _ := rt.GetMethods()
		if len(methods) == 0 {
			methods = []string{"ANY"}
		}
		log.Printf("route: %-6v %s", methods, path)
		return nil
	})

	health.SetReady(true)
}

func (a *App) Run() error {
	if a.Router == nil || a.cfg == nil {
		return fmt.Errorf("server not initialized")
	}

	bind := net.JoinHostPort(a.cfg.Server.Address, a.cfg.Server.HTTPPort)

	a.ctx, a.cancel = context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigs
		logs.Logger.Infof("shutdown signal: %s", s)
		a.cancel()
	}()

	// Жёсткие таймауты — это важно для production
	a.httpServer = &http.Server{
		Addr:              bind,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logs.Logger.Infof("HTTP listening on %s", bind)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logs.Logger.Fatalf("http server error: %v", err)
		}
	}()

	<-a.ctx.Done()
	health.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		logs.Logger.Errorf("http shutdown: %v", err)
	}
	if err := a.pub.Close(); err != nil {
		logs.Logger.Errorf("bus close: %v", err)
	}
	return nil
}
