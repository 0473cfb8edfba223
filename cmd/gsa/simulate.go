package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/gordian-engine/gsa/gcrypto/gblsminsig"
	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/gordian-engine/gsa/sa/saengine"
	"github.com/gordian-engine/gsa/sa/saengine/saemetrics"
	"github.com/gordian-engine/gsa/sa/saoptest"
	"github.com/gordian-engine/gsa/sa/sap2p"
	"github.com/gordian-engine/gsa/sa/sap2p/salibp2p"
	"github.com/gordian-engine/gsa/sa/sap2p/sap2ptest"
	"github.com/gordian-engine/gsa/sa/sastore"
	"github.com/gordian-engine/gsa/sa/sastore/sainmem"
	"github.com/gordian-engine/gsa/sa/sastore/saleveldb"
	"github.com/gordian-engine/gsa/sa/sastore/sasqlite"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	mocknet "github.com/libp2p/go-libp2p/p2p/net/mock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// genesisSeed is the sortition seed of the first simulated round.
var genesisSeed = []byte("gsa simulate genesis")

type simulateConfig struct {
	Nodes       int
	StakeUnits  uint64
	Rounds      int
	StepTimeout time.Duration

	Store   string
	DataDir string

	Transport string

	MetricsAddr string
}

func (c simulateConfig) validate() error {
	var err error
	if c.Nodes <= 0 {
		err = errors.Join(err, fmt.Errorf("--nodes must be positive (got %d)", c.Nodes))
	}
	if c.StakeUnits == 0 {
		err = errors.Join(err, errors.New("--stake must be positive"))
	}
	if c.Rounds <= 0 {
		err = errors.Join(err, fmt.Errorf("--rounds must be positive (got %d)", c.Rounds))
	}
	if c.StepTimeout <= 0 {
		err = errors.Join(err, fmt.Errorf("--step-timeout must be positive (got %s)", c.StepTimeout))
	}
	switch c.Store {
	case "inmem":
	case "leveldb", "sqlite":
		if c.DataDir == "" {
			err = errors.Join(err, fmt.Errorf("--data-dir is required with --store=%s", c.Store))
		}
	default:
		err = errors.Join(err, fmt.Errorf("unknown --store %q (want inmem, leveldb, or sqlite)", c.Store))
	}
	switch c.Transport {
	case "memory", "libp2p":
	default:
		err = errors.Join(err, fmt.Errorf("unknown --transport %q (want memory or libp2p)", c.Transport))
	}
	return err
}

func newSimulateCmd(newLogger func() (*slog.Logger, error)) *cobra.Command {
	var cfg simulateConfig

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run an in-process network of provisioners for a number of rounds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			log, err := newLogger()
			if err != nil {
				return err
			}
			return runSimulation(cmd.Context(), log, cfg, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.IntVar(&cfg.Nodes, "nodes", 4, "number of provisioners")
	f.Uint64Var(&cfg.StakeUnits, "stake", 1, "stake units bonded by each provisioner")
	f.IntVar(&cfg.Rounds, "rounds", 5, "number of rounds to finalize")
	f.DurationVar(&cfg.StepTimeout, "step-timeout", 2*time.Second, "timeout of a step in the first iteration; doubles per iteration")
	f.StringVar(&cfg.Store, "store", "inmem", "candidate store backend (inmem, leveldb, sqlite)")
	f.StringVar(&cfg.DataDir, "data-dir", "", "directory for on-disk candidate stores")
	f.StringVar(&cfg.Transport, "transport", "memory", "message transport (memory, libp2p)")
	f.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while simulating")

	return cmd
}

type simNode struct {
	Name   string
	Signer gblsminsig.Signer
	Engine *saengine.Engine
}

func runSimulation(ctx context.Context, log *slog.Logger, cfg simulateConfig, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	signers := make([]gblsminsig.Signer, cfg.Nodes)
	ps := make([]saconsensus.Provisioner, cfg.Nodes)
	for i := range signers {
		ikm := make([]byte, 32)
		if _, err := rand.Read(ikm); err != nil {
			return fmt.Errorf("failed to read key material: %w", err)
		}
		s, err := gblsminsig.NewSigner(ikm)
		if err != nil {
			return fmt.Errorf("failed to create signer: %w", err)
		}
		signers[i] = s
		ps[i] = saconsensus.Provisioner{
			PubKey: s.BLSPubKey(),
			Stake:  saconsensus.Stake{Value: cfg.StakeUnits * saconsensus.StakeUnit},
		}
	}
	prov, err := saconsensus.NewProvisioners(ps)
	if err != nil {
		return fmt.Errorf("failed to build provisioners: %w", err)
	}

	names := uniqueNames(cfg.Nodes)
	byKey := make(map[string]string, cfg.Nodes)
	for i, s := range signers {
		byKey[string(s.BLSPubKey().PubKeyBytes())] = names[i]
	}

	reg := prometheus.NewRegistry()
	if cfg.MetricsAddr != "" {
		stop := serveMetrics(log.With("sys", "metrics"), cfg.MetricsAddr, reg)
		defer stop()
	}

	queues, stopTransport, err := startTransport(ctx, log.With("sys", "transport"), cfg, names)
	if err != nil {
		return err
	}
	defer func() {
		cancel()
		stopTransport()
	}()

	nodes := make([]simNode, cfg.Nodes)
	for i, name := range names {
		store, closeStore, err := openStore(ctx, cfg, name)
		if err != nil {
			return err
		}
		defer closeStore()

		mc, err := saemetrics.NewCollector(prometheus.WrapRegistererWith(prometheus.Labels{"node": name}, reg))
		if err != nil {
			return fmt.Errorf("failed to register metrics for %s: %w", name, err)
		}

		e, err := saengine.New(
			log.With("node", name),
			saengine.WithOperations(saoptest.NewOperations()),
			saengine.WithCandidateStore(store),
			saengine.WithQueues(queues[i]),
			saengine.WithTimeoutStrategy(saengine.ExponentialTimeoutStrategy{
				Base: cfg.StepTimeout,
				Max:  32 * cfg.StepTimeout,
			}),
			saengine.WithMetricsCollector(mc),
		)
		if err != nil {
			return fmt.Errorf("failed to create engine for %s: %w", name, err)
		}
		nodes[i] = simNode{Name: name, Signer: signers[i], Engine: e}
	}

	log.Info("Starting simulation", "nodes", names, "rounds", cfg.Rounds, "store", cfg.Store, "transport", cfg.Transport)
	start := time.Now()

	blocks := make([][]saconsensus.Block, cfg.Nodes)
	g, gCtx := errgroup.WithContext(ctx)
	for i, n := range nodes {
		g.Go(func() error {
			var err error
			blocks[i], err = runNode(gCtx, log.With("node", n.Name), n, prov, cfg.Rounds)
			if err != nil {
				return fmt.Errorf("node %s: %w", n.Name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i := 1; i < len(blocks); i++ {
		for r := range blocks[i] {
			if blocks[i][r].Hash() != blocks[0][r].Hash() {
				return fmt.Errorf(
					"nodes %s and %s disagree at round %d: %s != %s",
					names[0], names[i], r+1, blocks[0][r].Hash().Short(), blocks[i][r].Hash().Short(),
				)
			}
		}
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROUND\tHASH\tITERATION\tGENERATOR\tTXS")
	for _, b := range blocks[0] {
		fmt.Fprintf(
			tw, "%d\t%s\t%d\t%s\t%d\n",
			b.Header.Height, b.Hash().Short(), b.Header.Iteration,
			byKey[string(b.Header.GeneratorPubKey)], len(b.Txs),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	log.Info("Simulation complete", "rounds", cfg.Rounds, "elapsed", time.Since(start))
	return nil
}

// runNode finalizes rounds in order, retrying any round abandoned without a winner.
func runNode(
	ctx context.Context, log *slog.Logger, n simNode, prov *saconsensus.Provisioners, rounds int,
) ([]saconsensus.Block, error) {
	ru := saconsensus.NewRoundUpdate(1, genesisSeed, saconsensus.Hash{}, time.Now().Unix(), n.Signer)

	blocks := make([]saconsensus.Block, 0, rounds)
	for len(blocks) < rounds {
		b, err := n.Engine.RunRound(ctx, ru, prov)
		if errors.Is(err, saconsensus.ErrMaxStepReached) {
			log.Warn("Restarting round", "round", ru.Round)
			continue
		}
		if err != nil {
			return nil, err
		}

		blocks = append(blocks, b)
		ru = saconsensus.NextRoundUpdate(b, n.Signer)
	}
	return blocks, nil
}

func uniqueNames(n int) []string {
	seen := make(map[string]bool, n)
	names := make([]string, 0, n)
	for len(names) < n {
		name := petname.Generate(2, "-")
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

func openStore(ctx context.Context, cfg simulateConfig, name string) (sastore.CandidateStore, func(), error) {
	switch cfg.Store {
	case "leveldb":
		s, err := saleveldb.OpenCandidateStore(filepath.Join(cfg.DataDir, name+".leveldb"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open leveldb store for %s: %w", name, err)
		}
		return s, func() { _ = s.Close() }, nil

	case "sqlite":
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		s, err := sasqlite.NewCandidateStore(ctx, filepath.Join(cfg.DataDir, name+".sqlite"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store for %s: %w", name, err)
		}
		return s, func() { _ = s.Close() }, nil

	default:
		return sainmem.NewCandidateStore(), func() {}, nil
	}
}

// startTransport returns one set of queues per node.
// The returned stop function blocks until the transport's goroutines finish,
// so ctx must be canceled before calling it.
// On error, background work still stops with ctx.
func startTransport(
	ctx context.Context, log *slog.Logger, cfg simulateConfig, names []string,
) ([]sap2p.Queues, func(), error) {
	queues := make([]sap2p.Queues, len(names))

	if cfg.Transport == "memory" {
		net := sap2ptest.NewNetwork(ctx, log)
		for i, name := range names {
			queues[i] = net.Connect(name)
		}
		return queues, net.Wait, nil
	}

	mn, err := mocknet.FullMeshLinked(len(names))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create libp2p mock network: %w", err)
	}

	gossips := make([]*salibp2p.Gossip, 0, len(names))
	stop := func() {
		for _, g := range gossips {
			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("Gossip stopped with error", "err", err)
			}
		}
		_ = mn.Close()
	}

	for i, h := range mn.Hosts() {
		ps, err := pubsub.NewGossipSub(ctx, h)
		if err != nil {
			_ = mn.Close()
			return nil, nil, fmt.Errorf("failed to start gossipsub: %w", err)
		}
		g, err := salibp2p.NewGossip(ctx, log.With("node", names[i]), ps, h.ID(), salibp2p.DefaultTopic, 256)
		if err != nil {
			_ = mn.Close()
			return nil, nil, fmt.Errorf("failed to join gossip topic: %w", err)
		}
		gossips = append(gossips, g)
		queues[i] = g.Queues()
	}

	if err := mn.ConnectAllButSelf(); err != nil {
		_ = mn.Close()
		return nil, nil, fmt.Errorf("failed to connect libp2p hosts: %w", err)
	}
	return queues, stop, nil
}

func serveMetrics(log *slog.Logger, addr string, reg *prometheus.Registry) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("Metrics server stopped", "err", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
