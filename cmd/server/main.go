package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/barelyworkingcode/eve/api/handlers"
	"github.com/barelyworkingcode/eve/internal/auth"
	"github.com/barelyworkingcode/eve/internal/config"
	"github.com/barelyworkingcode/eve/internal/db"
	"github.com/barelyworkingcode/eve/internal/files"
	"github.com/barelyworkingcode/eve/internal/hook"
	"github.com/barelyworkingcode/eve/internal/provider"
	"github.com/barelyworkingcode/eve/internal/repository"
	"github.com/barelyworkingcode/eve/internal/sched"
	"github.com/barelyworkingcode/eve/internal/session"
	"github.com/barelyworkingcode/eve/internal/store"
	"github.com/barelyworkingcode/eve/internal/term"
	"github.com/barelyworkingcode/eve/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	// Usage ledger
	database, err := db.InitDB(cfg.UsageDBPath())
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.CloseDB()
	usage := repository.NewUsageRepository(database)

	// Stores
	sessionStore, err := store.NewSessionStore(cfg.SessionsDir())
	if err != nil {
		log.Fatalf("Failed to open session store: %v", err)
	}
	projectStore, err := store.NewProjectStore(cfg.ProjectsPath())
	if err != nil {
		log.Fatalf("Failed to open project store: %v", err)
	}
	taskLogs, err := store.NewTaskLogStore(cfg.TaskLogsDir())
	if err != nil {
		log.Fatalf("Failed to open task log store: %v", err)
	}

	// Auth
	var authn auth.Authenticator
	if cfg.NoAuth {
		log.Println("Authentication disabled (EVE_NO_AUTH)")
		authn = auth.NoAuth{}
	} else {
		authn = auth.NewTokenFile(cfg.DataDir)
	}

	scheme := "http"
	if cfg.HTTPSKey != "" && cfg.HTTPSCert != "" {
		scheme = "https"
	}
	hookURL := scheme + "://127.0.0.1:" + cfg.Port + "/api/permission"

	// Core services
	bridge := hook.NewBridge()
	terminals := term.NewManager(cfg.Shell, filepath.Join(cfg.DataDir, "terminal-logs"))
	sessions := session.NewManager(session.ManagerOptions{
		Store:    sessionStore,
		Projects: projectStore,
		Factory:  provider.NewFactory(&cfg.Settings),
		Bridge:   bridge,
		Usage:    usage,
		HookURL:  hookURL,
		Shell:    cfg.Shell,
	})

	hub := ws.NewHub()
	scheduler, err := sched.New(taskLogs, &ws.SchedulerEvents{Hub: hub})
	if err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	for _, project := range projectStore.List() {
		if err := scheduler.AddProject(project); err != nil {
			log.Printf("Failed to watch project %s: %v", project.ID, err)
		}
	}
	go sessions.ServeRuns(scheduler.Runs)

	wsHandler := ws.NewHandler(ws.HandlerOptions{
		Hub:       hub,
		Auth:      authn,
		Sessions:  sessions,
		Terminals: terminals,
		Files:     files.NewService(),
		Projects:  projectStore,
		Bridge:    bridge,
	})

	// HTTP surface
	r := gin.Default()
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ws", func(c *gin.Context) {
		wsHandler.HandleConnection(c.Writer, c.Request)
	})

	api := r.Group("/api")
	{
		handlers.NewPermissionHandler(bridge, sessions).RegisterRoutes(api)
		handlers.NewUsageHandler(usage).RegisterRoutes(api)
		handlers.NewSessionHandler(sessions).RegisterRoutes(api)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		log.Printf("Starting server on port %s (%s)", cfg.Port, scheme)
		var err error
		if scheme == "https" {
			err = srv.ListenAndServeTLS(cfg.HTTPSCert, cfg.HTTPSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	})
	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigCh:
			log.Printf("Shutting down on %v...", sig)
		case <-ctx.Done():
		}

		scheduler.Close()
		sessions.Shutdown()
		terminals.CloseAll()
		hub.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
