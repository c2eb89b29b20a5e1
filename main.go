package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"propingest/config"
	"propingest/faults"
	"propingest/httputil"
	"propingest/logging"
	"propingest/models"
	"propingest/queue"
	"propingest/scheduler"
	"propingest/scraper"
	"propingest/server"
	"propingest/storage"
	"propingest/workers"
)

var (
	scrapeNow = flag.Bool("scrape", false, "Submit default searches once, drain, and exit")
)

func main() {
	flag.Parse()

	logFile, err := logging.Setup("pipeline.log")
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting propingest...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Loaded %d source configs", len(cfg.Sources))
	for id, src := range cfg.Sources {
		log.Printf("  - %s (concurrency %d, %d starts/min)", id, src.Concurrency, src.StartsPerMinute)
	}

	clients := httputil.NewClients(&cfg.Proxy)
	if cfg.Proxy.URL != "" {
		log.Printf("Proxy: %s", cfg.Proxy.URL)
	}

	ctx := context.Background()

	pgStore, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer pgStore.Close()
	log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.DatabaseURL))

	sqliteStore, err := storage.NewSQLiteStore(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("Failed to open SQLite: %v", err)
	}
	defer sqliteStore.Close()
	log.Printf("Operational database: %s", cfg.SQLitePath)

	classifier := faults.NewHandler()
	classifier.SetAuditSink(sqliteStore)

	sources := make(map[models.SourceID]scraper.Source, len(cfg.Sources))
	for id, srcCfg := range cfg.Sources {
		src, err := scraper.New(id, srcCfg, cfg.Jurisdiction, clients)
		if err != nil {
			log.Fatalf("Failed to build scraper %s: %v", id, err)
		}
		sources[id] = src
	}
	defer func() {
		for _, src := range sources {
			src.Close()
		}
	}()

	manager := queue.NewManager(cfg.Sources, sources, classifier, pgStore, pgStore)
	manager.SetJobHistory(sqliteStore)
	manager.Start()
	defer manager.Stop()

	sched := scheduler.New(cfg, manager)
	sched.SetPruner(sqliteStore)

	if *scrapeNow {
		runOnce(sched, manager)
		return
	}

	if err := sched.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	var uploader workers.S3Uploader
	if cfg.S3.Bucket != "" {
		s3Uploader, err := storage.NewS3Uploader(ctx, cfg.S3)
		if err != nil {
			log.Fatalf("Failed to init S3 uploader: %v", err)
		}
		uploader = s3Uploader
		log.Printf("Image archival: s3://%s", cfg.S3.Bucket)
	} else {
		uploader = workers.NewNoOpUploader()
		log.Println("Image archival: disabled (no S3_BUCKET)")
	}

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	mediaWorker := workers.NewMediaWorker(pgStore, uploader, clients.API)
	go mediaWorker.Run(workerCtx, 20, 2*time.Minute)
	log.Println("Media worker started")
	sched.SetWorkers(mediaWorker)

	srv := server.New(cfg.HTTPAddr, manager, classifier, sched, sqliteStore, pgStore)
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatalf("HTTP server: %v", err)
		}
	}()

	log.Println("Pipeline running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	log.Println("Goodbye!")
}

// runOnce submits the default searches and polls until the queues drain.
func runOnce(sched *scheduler.Scheduler, manager *queue.Manager) {
	count, err := sched.SubmitDefaultSearches()
	if err != nil {
		log.Fatalf("Submit searches: %v", err)
	}
	if count == 0 {
		log.Println("No sources have a default search configured")
		return
	}
	log.Printf("Submitted %d search jobs, waiting for queues to drain...", count)

	for {
		time.Sleep(2 * time.Second)
		busy := 0
		for _, st := range manager.GetQueueStats() {
			busy += st.Pending + st.Active
		}
		if busy == 0 {
			break
		}
	}
	log.Println("Scrape complete!")
}

// maskConnectionString masks the password in a connection string for logging
func maskConnectionString(connStr string) string {
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}
