package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"rollcall/internal/classify"
	"rollcall/internal/config"
	"rollcall/internal/extract"
	"rollcall/internal/identity"
	"rollcall/internal/ledger"
	"rollcall/internal/match"
	"rollcall/internal/queue"
	"rollcall/internal/session"
	"rollcall/internal/store"
	"rollcall/internal/token"
	"rollcall/internal/verify"
)

// Worker consumes queued check-in scans, extracts a probe descriptor through
// the external extractor, and runs the biometric verification path.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "rollcall:scans")
	}

	idRepo := identity.NewPostgresRepository(db.Client)
	ledRepo := ledger.NewPostgresRepository(db.Client)
	sessRepo := session.NewPostgresRepository(db.Client)

	loc := cfg.Location()
	codec := token.NewCodec(cfg.JWTIssuer, cfg.JWTSigningKey)
	ids := identity.NewService(idRepo, cfg.MinEnrollSamples, cfg.MinDescriptorQuality, cfg.DescriptorDim)
	engine := match.NewEngine(cfg.MatchThreshold)
	cls := classify.NewClassifier(cfg.MatchThreshold, cfg.MatchLateBand)
	sessions := session.NewManager(sessRepo, ledRepo, codec, session.Defaults{
		Duration:      cfg.DefaultSessionDuration,
		LateThreshold: cfg.DefaultLateThreshold,
	}, loc)
	ver := verify.NewService(ids, engine, cls, ledRepo, sessions, codec, loc)

	extractor := extract.New(cfg.ExtractorURL, cfg.ExtractorSkip, cfg.DescriptorDim)
	if !cfg.ExtractorSkip {
		if err := extractor.Health(ctx); err != nil {
			log.Printf("WARNING: extractor not available: %v", err)
			log.Println("worker will retry extraction when scans arrive")
		} else {
			log.Println("extractor connected")
		}
	}

	jobs, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for scans...")
	for job := range jobs {
		processScan(ctx, ver, extractor, job)
	}
	log.Println("worker exited")
}

func processScan(ctx context.Context, ver *verify.Service, extractor extract.Extractor, job queue.ScanJob) {
	probe, err := extractor.Extract(ctx, job.ImageURL)
	if err != nil {
		log.Printf("extract failed for %s: %v", job.ImageURL, err)
		return
	}

	var sessionID *string
	if job.SessionID != "" {
		sessionID = &job.SessionID
	}
	res, err := ver.VerifyFace(ctx, probe.Vector, job.Subject, sessionID)
	if err != nil {
		log.Printf("verification failed for %s: %v", job.ImageURL, err)
		return
	}

	switch res.Outcome {
	case verify.OutcomeNoMatch:
		log.Printf("scan %s: no match", job.ImageURL)
	case verify.OutcomeAlreadyMarked:
		log.Printf("scan %s: %s already marked for %s", job.ImageURL, res.IdentityID, job.Subject)
	default:
		log.Printf("scan %s: recorded %s as %s (score %.3f)", job.ImageURL, res.IdentityID, res.Status, *res.Score)
	}
}
