// Command blueflame runs a single Blue Flame governance mesh node: it
// serves the mesh gRPC services, announces itself over mDNS, and drives
// the compliance, consensus, and memory-maintenance background loops.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/codeready-toolchain/tarsy/pkg/api"
	"github.com/codeready-toolchain/tarsy/pkg/bus"
	"github.com/codeready-toolchain/tarsy/pkg/compliance"
	"github.com/codeready-toolchain/tarsy/pkg/config"
	"github.com/codeready-toolchain/tarsy/pkg/database"
	"github.com/codeready-toolchain/tarsy/pkg/discovery"
	"github.com/codeready-toolchain/tarsy/pkg/gitstore"
	"github.com/codeready-toolchain/tarsy/pkg/identity"
	"github.com/codeready-toolchain/tarsy/pkg/memory"
	"github.com/codeready-toolchain/tarsy/pkg/mesh/consensus"
	"github.com/codeready-toolchain/tarsy/pkg/mesh/fleet"
	"github.com/codeready-toolchain/tarsy/pkg/mesh/handshake"
	"github.com/codeready-toolchain/tarsy/pkg/mesh/health"
	"github.com/codeready-toolchain/tarsy/pkg/mesh/immune"
	"github.com/codeready-toolchain/tarsy/pkg/meshrpc"
	"github.com/codeready-toolchain/tarsy/pkg/quarantine"
	"github.com/codeready-toolchain/tarsy/pkg/review"
	"github.com/codeready-toolchain/tarsy/pkg/review/personastore"
	"github.com/codeready-toolchain/tarsy/pkg/vectorstore"
	"github.com/codeready-toolchain/tarsy/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: could not load %s: %v", envPath, err)
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	ginMode := getEnv("GIN_MODE", "release")
	gin.SetMode(ginMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, filepath.Join(*configDir, "config.yaml"))
	if err != nil {
		log.Fatalf("failed to initialize configuration: %v", err)
	}

	id, err := identity.Load(cfg.Node.IdentityPath)
	if err != nil {
		log.Fatalf("failed to load node identity: %v", err)
	}
	slog.Info("node identity ready", "node_id", id.NodeID())

	nodeManifestHash, err := identity.ComputeNodeManifestHash(cfg.Node.AgentRepoPath)
	if err != nil {
		slog.Warn("could not compute node manifest hash, mesh alignment checks will treat this node as unaligned", "error", err)
	}

	vs, err := newVectorStore(ctx, cfg.VectorDB.URL)
	if err != nil {
		log.Fatalf("failed to connect to vector store: %v", err)
	}

	quar := quarantine.New(vs, cfg.Quarantine.RequireRemoteAddress)
	if err := quar.Load(ctx); err != nil {
		log.Fatalf("failed to load quarantine registry: %v", err)
	}

	repo, err := gitstore.Open(cfg.Node.AgentRepoPath)
	if err != nil {
		log.Fatalf("failed to open agent repository: %v", err)
	}

	eventBus := bus.New()

	if cfg.Ledger.Enabled {
		ledgerClient, err := database.NewClient(ctx, database.Config{
			Host:            cfg.Ledger.Host,
			Port:            cfg.Ledger.Port,
			User:            cfg.Ledger.User,
			Password:        cfg.Ledger.Password,
			Database:        cfg.Ledger.Database,
			SSLMode:         cfg.Ledger.SSLMode,
			MaxOpenConns:    cfg.Ledger.MaxOpenConns,
			MaxIdleConns:    cfg.Ledger.MaxIdleConns,
			ConnMaxLifetime: cfg.Ledger.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Ledger.ConnMaxIdleTime,
		})
		if err != nil {
			log.Fatalf("failed to connect to ledger database: %v", err)
		}
		defer ledgerClient.Close()
		go runLedgerSubscriber(ctx, eventBus.Subscribe(), database.NewLedger(ledgerClient))
	}

	dialer := func(ctx context.Context, address string) (*grpc.ClientConn, error) {
		return grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	handshakeSvc := handshake.New(id, quar, eventBus, handshake.Options{
		NonceTTL:                   cfg.Mesh.NonceTTL,
		RequireManifestAlignment:   cfg.Mesh.RequireManifestAlignment,
		LocalManifestHash:          nodeManifestHash,
		LocalSoftwareVersion:       version.Full(),
		CompatibleSoftwareVersions: cfg.Mesh.CompatibleSoftwareVersions,
	})

	immuneResp := immune.New(quar, eventBus, handshakeSvc, dialer, cfg.Mesh.PropagateQuarantineTimeout, id.NodeID())
	handshakeSvc.SetQuarantineHandler(immuneResp)

	complianceMonitor := compliance.New(compliance.Options{
		Enabled:     cfg.Compliance.Enabled,
		Threshold:   cfg.Compliance.Threshold,
		MinFailures: cfg.Compliance.MinFailures,
		WindowSize:  cfg.Compliance.WindowSize,
	}, repo, immuneResp, eventBus, identity.ComputeAgentManifestHash, cfg.Node.AgentRepoPath)

	consensusEngine := consensus.New(id.NodeID(), consensus.Options{
		ApprovalThreshold: cfg.Consensus.ApprovalThreshold,
		ScoreThreshold:    cfg.Consensus.ScoreThreshold,
		RoundDeadline:     cfg.Consensus.RoundDeadline,
		MinVotes:          cfg.Consensus.MinVotes,
	}, selfScorer(complianceMonitor), handshakeSvc, dialer, eventBus)

	fleetRegistry := fleet.New(cfg.Mesh.StaleDiscoveryAfter)
	fleetRegistry.Heartbeat(id.NodeID(), hostname(), version.Full())

	healthSvc := health.New(handshakeSvc, quar, func() string { return nodeManifestHash })

	personas := personastore.New(vs)
	if err := personas.EnsureCollection(ctx); err != nil {
		log.Fatalf("failed to ensure persona collection: %v", err)
	}
	reviewEngine := review.New(personas, eventBus)

	memoryEngine := memory.New(vs, eventBus, memory.Options{
		RetentionDays:       cfg.Memory.RetentionDays,
		ImportanceThreshold: cfg.Memory.ImportanceThreshold,
		PruningInterval:     cfg.Memory.PruningInterval,
		ScrollBatchSize:     cfg.Memory.ScrollBatchSize,
		PruneCollections:    cfg.Memory.PruneCollections,
		ReindexCollections:  cfg.Memory.ReindexCollections,
		HNSWM:               cfg.Memory.HNSWM,
		HNSWEfConstruct:     cfg.Memory.HNSWEfConstruct,
	})
	go memoryEngine.RunForever(ctx)

	mdns := discovery.New(discovery.Options{
		ServiceName:         cfg.Mesh.ServiceName,
		Port:                cfg.Mesh.HandshakePort,
		NodeID:              id.NodeID(),
		SoftwareVersion:     version.Full(),
		ManifestHash:        nodeManifestHash,
		StaleDiscoveryAfter: cfg.Mesh.StaleDiscoveryAfter,
	}, eventBus)
	if err := mdns.Start(); err != nil {
		slog.Error("mDNS registration failed, continuing without discovery", "error", err)
	} else {
		defer mdns.Stop()
		go func() {
			if err := mdns.Browse(ctx); err != nil {
				slog.Error("mDNS browse stopped", "error", err)
			}
		}()
	}

	grpcServer := grpc.NewServer()
	meshrpc.RegisterNodeHandshakeServer(grpcServer, handshakeSvc)
	meshrpc.RegisterConsensusServer(grpcServer, consensus.Server{Engine: consensusEngine})
	meshrpc.RegisterMemoryExchangeServer(grpcServer, memoryEngine)

	lis, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.Mesh.HandshakePort))
	if err != nil {
		log.Fatalf("failed to bind mesh gRPC listener: %v", err)
	}
	go func() {
		slog.Info("mesh gRPC server listening", "port", cfg.Mesh.HandshakePort)
		if err := grpcServer.Serve(lis); err != nil {
			slog.Error("mesh gRPC server stopped", "error", err)
		}
	}()

	router := gin.Default()
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":         "healthy",
			"node_id":        id.NodeID(),
			"version":        version.Full(),
			"mesh_health":    healthSvc.GetReport(),
			"fleet":          fleetRegistry.GetHealth(),
			"verified_peers": len(handshakeSvc.GetVerifiedPeers()),
		})
	})

	router.POST("/tool-proposals", func(c *gin.Context) {
		var proposal review.ToolProposal
		if err := c.ShouldBindJSON(&proposal); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := reviewEngine.Review(c.Request.Context(), proposal)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	router.POST("/compliance/tests", func(c *gin.Context) {
		var body struct {
			AgentID    string              `json:"agent_id" binding:"required"`
			CommitHash string              `json:"commit_hash" binding:"required"`
			Outcome    compliance.Outcome  `json:"outcome"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		record := complianceMonitor.RecordTest(c.Request.Context(), body.AgentID, body.CommitHash, body.Outcome)
		c.JSON(http.StatusOK, record)
	})

	wsHub := api.NewWSHub(eventBus)
	router.GET("/ws", func(c *gin.Context) {
		wsHub.HandleWS(c.Writer, c.Request)
	})

	router.POST("/consensus/proposals", func(c *gin.Context) {
		var body struct {
			CommitHash string `json:"commit_hash" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		round := consensusEngine.ProposeCommit(c.Request.Context(), body.CommitHash)
		c.JSON(http.StatusOK, round)
	})

	srv := &http.Server{Addr: ":" + httpPort, Handler: router}
	go func() {
		slog.Info("status HTTP server listening", "port", httpPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("status HTTP server stopped", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	grpcServer.GracefulStop()
	_ = srv.Shutdown(shutdownCtx)
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

func newVectorStore(ctx context.Context, rawURL string) (vectorstore.Store, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	host := u.Hostname()
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		port = 6334
	}
	return vectorstore.NewQdrantStore(ctx, host, port)
}

// runLedgerSubscriber drains compliance-alert and consensus-result events
// onto the recovery store, keeping the domain packages decoupled from the
// database. Persistence failures are logged, never fatal: the ledger is a
// recovery aid, not a dependency of the governance mesh's hot path.
func runLedgerSubscriber(ctx context.Context, sub *bus.Subscription, ledger *database.Ledger) {
	defer sub.Unsubscribe()
	for {
		ev, ok := sub.Next(ctx)
		if !ok {
			return
		}
		switch ev.Type {
		case bus.EventComplianceAlert:
			rec := database.ComplianceTestRecord{
				AgentID:          stringField(ev.Payload, "agent_id"),
				CommitHash:       stringField(ev.Payload, "commit_hash"),
				PrivacyPassed:    boolField(ev.Payload, "privacy"),
				EfficiencyPassed: boolField(ev.Payload, "efficiency"),
				TonePassed:       boolField(ev.Payload, "tone"),
				Score:            floatField(ev.Payload, "score"),
				RolledBack:       boolField(ev.Payload, "rolled_back"),
			}
			if err := ledger.RecordComplianceTest(ctx, rec); err != nil {
				slog.Error("failed to persist compliance alert to ledger", "error", err)
			}
		case bus.EventConsensusResult:
			deadline, _ := ev.Payload["deadline"].(time.Time)
			round := database.ConsensusRound{
				CommitHash:  stringField(ev.Payload, "commit_hash"),
				Initiator:   stringField(ev.Payload, "initiator"),
				Status:      stringField(ev.Payload, "status"),
				Reason:      stringField(ev.Payload, "reason"),
				ApprovalPct: floatField(ev.Payload, "approval_pct"),
				AvgScore:    floatField(ev.Payload, "avg_score"),
				Deadline:    deadline,
			}
			if err := ledger.RecordConsensusRound(ctx, round); err != nil {
				slog.Error("failed to persist consensus result to ledger", "error", err)
			}
		}
	}
}

func stringField(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return s
}

func boolField(payload map[string]any, key string) bool {
	b, _ := payload[key].(bool)
	return b
}

func floatField(payload map[string]any, key string) float64 {
	f, _ := payload[key].(float64)
	return f
}

// selfScorer casts this node's own consensus vote from its aggregate
// compliance standing: the score is the mean of every governed agent's
// average compliance score, and it votes to approve when that mean reaches
// the compliance threshold (100 and approve when no agent has records).
func selfScorer(monitor *compliance.Monitor) consensus.Scorer {
	return func(_ context.Context, _ string) (float64, bool) {
		agentIDs := monitor.AgentIDs()
		if len(agentIDs) == 0 {
			return 100, true
		}
		total := 0.0
		for _, id := range agentIDs {
			stats := monitor.GetStats(id)
			total += stats.AverageScore
		}
		avg := total / float64(len(agentIDs))
		return avg, avg >= monitor.Threshold()
	}
}
