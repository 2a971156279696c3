package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"

	"ELMS-backend/internal/booking/reservations"
	"ELMS-backend/internal/booking/rooms"
	"ELMS-backend/internal/lending/borrows"
	"ELMS-backend/internal/lending/equipment"
	"ELMS-backend/internal/lending/labels"
	"ELMS-backend/internal/lending/units"
	"ELMS-backend/internal/platform/auth"
	"ELMS-backend/internal/platform/db"
	"ELMS-backend/internal/platform/idem"
	"ELMS-backend/internal/platform/notify"
)

func main() {
	// 設定読み込み
	cfg, err := db.LoadConfig("config/config.yaml")
	if err != nil {
		panic(err)
	}

	mode := cfg.Mode
	log.Printf("[INFO] mode:%s\n", mode)

	if mode != "dev" && mode != "release" {
		log.Fatal("config: mode must be dev or release")
	}
	if cfg.Auth.JWTSecret == "" {
		log.Fatal("config: auth.jwt_secret (or ELMS_JWT_SECRET) is required")
	}

	conn, err := db.Connect(cfg.DB)
	if err != nil {
		panic(err)
	}
	defer conn.Close()

	log.Printf("[INFO] connected to DB: %s", cfg.DB.DBName)

	// 通知は mutation-then-emit。配送失敗は遷移結果に影響しない
	dispatcher := notify.NewDispatcher(notify.LogSink{}, 256)
	dispatcher.Start()
	defer dispatcher.Close()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	_ = r.SetTrustedProxies(nil)

	if mode == "dev" {
		// CORS（開発中のみ必要）
		r.Use(cors.New(cors.Config{
			AllowOrigins:     []string{"http://localhost:3000"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Idempotency-Key"},
			ExposeHeaders:    []string{"Content-Length", "Location"},
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowCredentials: true,
		}))
	}

	// ヘルス
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	// /api/v1
	api := r.Group("/api/v1")

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		api.Use(idem.Middleware(rdb))
		log.Printf("[INFO] idempotency keys enabled via redis: %s", cfg.Redis.Addr)
	}

	authSvc := auth.NewService(conn, []byte(cfg.Auth.JWTSecret))
	auth.RegisterRoutes(api, authSvc)

	authed := api.Group("", auth.RequireAuth(authSvc.Secret()))

	equipment.RegisterRoutes(authed, equipment.NewService(conn))
	units.RegisterRoutes(authed, units.NewService(conn))
	labels.RegisterRoutes(authed, labels.NewService(conn))

	borrowSvc := borrows.NewService(conn, dispatcher, borrows.Options{
		ReleaseOnCancel: cfg.Lending.ReleaseOnCancel,
		ApproverEmail:   cfg.Lending.ApproverEmail,
	})
	borrows.RegisterRoutes(authed, borrowSvc)

	resSvc := reservations.NewService(conn, dispatcher)
	reservations.RegisterRoutes(authed, resSvc)

	roomSvc := rooms.NewService(conn)
	rooms.RegisterRoutes(authed, roomSvc)

	// 承認系は admin のみ
	admin := authed.Group("", auth.RequireRole("admin"))
	borrows.RegisterApprovalRoutes(admin, borrowSvc)
	reservations.RegisterApprovalRoutes(admin, resSvc)
	rooms.RegisterAdminRoutes(admin, roomSvc)
	auth.RegisterAdminRoutes(admin, authSvc)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: r,
	}

	go func() {
		log.Printf("[INFO] listening on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit
	log.Println("[INFO] shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal(err)
	}
}
