package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"arduinohub/internal/auth"
	"arduinohub/internal/detect"
	"arduinohub/internal/generate"
	"arduinohub/internal/projects"
	"arduinohub/internal/session"
	synchub "arduinohub/internal/sync"
	"arduinohub/pkg/database"
	"arduinohub/pkg/utils"
)

func main() {
	utils.LoadEnv()

	dbCfg := database.DefaultConfig()
	db := database.MustOpen(dbCfg)
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("db migrate failed: %v", err)
	}

	srvCfg := utils.LoadServerConfig()
	detectCfg := utils.LoadDetectConfig()
	genCfg := utils.LoadGenerateConfig()
	sessCfg := utils.LoadSessionConfig()

	if genCfg.APIKey == "" {
		log.Println("[api] ARDUINOHUB_GEMINI_API_KEY is not set; every section will fail until it is")
	}

	router := gin.Default()
	_ = router.SetTrustedProxies([]string{"127.0.0.1"})

	hub := synchub.NewHub()
	tcpSrv := synchub.NewServer(srvCfg.TCPAddr, hub)

	detector := detect.NewClient(detectCfg.BaseURL)
	detector.Timeout = detectCfg.Timeout
	detector.MaxDimension = detectCfg.MaxDimension

	gemini := generate.NewGemini(genCfg.APIKey, genCfg.Model, genCfg.Endpoint)
	sessions := session.NewManager(gemini, generate.Options{
		Timeout:  genCfg.Timeout,
		Notifier: hub,
	})
	sessions.OnClose(hub.CloseSession)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "db": dbCfg.Path})
	})

	router.GET("/ready", func(c *gin.Context) {
		stats := hub.Stats()
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		body := gin.H{
			"tcp_clients": stats.TCPClients,
			"ws_clients":  stats.WSClients,
			"sessions":    sessions.Len(),
		}
		status := http.StatusOK
		body["status"] = "ready"
		body["db"] = "ok"
		body["detector"] = "ok"

		if err := db.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "not_ready"
			body["db"] = err.Error()
		}
		if err := detector.Health(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "not_ready"
			body["detector"] = err.Error()
		}
		c.JSON(status, body)
	})

	// Auth
	authCfg := utils.LoadAuthConfig()
	tokenSvc := auth.TokenService{
		Secret:   []byte(authCfg.JWTSecret),
		Issuer:   authCfg.JWTIssuer,
		Duration: authCfg.JWTDuration,
	}
	authRepo := auth.NewRepo(db)
	authHandler := auth.NewHandler(authRepo, tokenSvc)
	authHandler.OnRevoke = func(userID string) { sessions.CloseOwner(userID) }
	authHandler.RegisterRoutes(router.Group("/auth"))

	// Protected routes
	protected := router.Group("")
	protected.Use(auth.AuthMiddleware(tokenSvc, authRepo))

	projectRepo := projects.NewRepo(db)
	projects.NewHandler(projectRepo, hub).RegisterRoutes(protected)

	sessionHandler := session.NewHandler(sessions, detector, projectRepo, hub)
	sessionHandler.RegisterRoutes(protected)

	protected.GET("/ws",
		sessionHandler.RequireQuerySession(),
		synchub.WSHandler(hub, srvCfg.AllowedOrigins, sessionHandler.Snapshot),
	)

	protected.GET("/debug", func(c *gin.Context) {
		stats := hub.Stats()
		c.JSON(http.StatusOK, gin.H{
			"db":          dbCfg.Path,
			"tcp_clients": stats.TCPClients,
			"ws_clients":  stats.WSClients,
			"ws_sessions": stats.Sessions,
			"sessions":    sessions.Len(),
		})
	})

	httpSrv := &http.Server{
		Addr:    srvCfg.HTTPAddr,
		Handler: router,
	}

	errCh := make(chan error, 2)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := tcpSrv.Run(); err != nil {
			errCh <- err
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("HTTP API server listening on %s", srvCfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	if sessCfg.IdleTimeout > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sweepSessions(sweepCtx, sessions, sessCfg)
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("shutdown signal received: %s", sig)
	case err := <-errCh:
		log.Printf("server error: %v", err)
	}

	log.Println("shutting down servers")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stopSweep()
	sessions.CloseAll()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}
	if err := tcpSrv.Close(); err != nil {
		log.Printf("tcp shutdown error: %v", err)
	}

	wg.Wait()
	log.Println("servers stopped")
}

func sweepSessions(ctx context.Context, sessions *session.Manager, cfg utils.SessionConfig) {
	t := time.NewTicker(cfg.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sessions.Sweep(cfg.IdleTimeout)
		}
	}
}
