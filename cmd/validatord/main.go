// Command validatord runs one shard-group validator: it loads a
// committee signing key and a store, wires the consensus driver to a set
// of local collaborators, exposes Prometheus metrics over HTTP, and
// drives the proposal pipeline until told to stop.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cmted25519 "github.com/cometbft/cometbft/crypto/ed25519"

	"github.com/shardfabric/dancore/pkg/config"
	"github.com/shardfabric/dancore/pkg/hotstuff"
	"github.com/shardfabric/dancore/pkg/metrics"
	"github.com/shardfabric/dancore/pkg/ports"
	"github.com/shardfabric/dancore/pkg/store"
	"github.com/shardfabric/dancore/pkg/types"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		configPath = flag.String("config", "config.yaml", "path to the validator config file")
		showHelp   = flag.Bool("help", false, "show this help message")
	)
	flag.Parse()

	if *showHelp {
		printHelp()
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := log.New(log.Writer(), fmt.Sprintf("[%s] ", cfg.ShardGroup.ValidatorID), log.LstdFlags)

	sigService, err := loadSignatureService(cfg.ShardGroup.Ed25519KeyPath)
	if err != nil {
		log.Fatalf("load signing key: %v", err)
	}
	logger.Printf("validator public key: %s", sigService.PublicKey().Hex())

	db, err := openStore(cfg, logger)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer db.Close()

	sg := cfg.ShardGroup.ShardGroup()
	network := types.Network(cfg.ShardGroup.Network)

	committee := &staticCommittee{sg: sg, members: []types.PublicKey{sigService.PublicKey()}}
	driver := hotstuff.New(sg, network, committee, roundRobinLeader{}, sigService, noopExecutor{}, loggingOutbound{log: logger}, logger)

	m := metrics.New(sg.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go runProposalPipeline(ctx, driver, db, m, logger)

	// Nothing external beats this standalone node yet, so beat on a fixed
	// cadence: the proposal timeout doubles as the minimum block interval.
	go func() {
		ticker := time.NewTicker(cfg.Consensus.ProposalTimeout.Duration())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				driver.OnBeat()
			}
		}
	}()

	var httpServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, m.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
		httpServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			logger.Printf("metrics listening on %s%s", cfg.Metrics.Addr, cfg.Metrics.Path)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("metrics server: %v", err)
			}
		}()
	}

	logger.Printf("validator ready for shard group %s", sg.String())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Printf("shutting down")
	cancel()

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Printf("metrics server shutdown error: %v", err)
		}
	}
	logger.Printf("stopped")
}

// runProposalPipeline ranges over the driver's beats and attempts to
// extend the leaf block each time one arrives, the loop a pipeline
// process runs for as long as it participates in a shard group.
func runProposalPipeline(ctx context.Context, d *hotstuff.Driver, db store.Store, m *metrics.Metrics, logger ports.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.Beats():
		}

		if err := proposeOnce(ctx, d, db, m); err != nil {
			if _, ok := err.(*hotstuff.NotLeaderError); !ok {
				logger.Printf("propose: %v", err)
			}
		}
	}
}

func proposeOnce(ctx context.Context, d *hotstuff.Driver, db store.Store, m *metrics.Metrics) error {
	wtx, err := db.WriteTx(ctx)
	if err != nil {
		return fmt.Errorf("open write tx: %w", err)
	}
	defer wtx.Close()

	epoch, err := d.Epochs.CurrentEpoch(ctx)
	if err != nil {
		return fmt.Errorf("current epoch: %w", err)
	}

	leaf, err := wtx.LeafBlockGet(d.ShardGroup)
	if err != nil {
		return fmt.Errorf("leaf block: %w", err)
	}

	var parent *types.Block
	var height types.NodeHeight
	if leaf == nil {
		height = 0
	} else {
		parent, err = wtx.BlocksGet(leaf.BlockId)
		if err != nil {
			return fmt.Errorf("leaf block body: %w", err)
		}
		height = leaf.Height + 1
	}

	block, err := d.Propose(ctx, wtx, epoch, height, parent)
	if err != nil {
		return err
	}

	if err := wtx.Commit(); err != nil {
		return fmt.Errorf("commit proposal: %w", err)
	}

	m.IncProposalsSent()
	m.ObserveCommit(uint64(block.Height), time.Now())
	return nil
}

func loadSignatureService(keyPath string) (*ports.Ed25519SignatureService, error) {
	if keyPath == "" {
		return ports.GenerateEd25519SignatureService(), nil
	}
	raw, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	keyBytes, err := hex.DecodeString(string(trimNewline(raw)))
	if err != nil {
		return nil, fmt.Errorf("decode key file: %w", err)
	}
	if len(keyBytes) != cmted25519.PrivateKeySize {
		return nil, fmt.Errorf("key file must hold a %d-byte ed25519 key, got %d", cmted25519.PrivateKeySize, len(keyBytes))
	}
	return ports.NewEd25519SignatureService(cmted25519.PrivKey(keyBytes)), nil
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

func openStore(cfg *config.Config, logger *log.Logger) (store.Store, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		return store.NewPostgresStore(store.PostgresConfig{
			DatabaseURL:     cfg.Storage.DatabaseURL,
			MaxOpenConns:    cfg.Storage.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.ConnMaxLifetime.Duration(),
		}, logger)
	default:
		return store.NewInMemoryStore(), nil
	}
}

func printHelp() {
	fmt.Println(`validatord runs a single shard-group BFT validator.

Usage:
  validatord -config <path/to/config.yaml>

Flags:
  -config string   path to the validator config file (default "config.yaml")
  -help            show this help message`)
}
