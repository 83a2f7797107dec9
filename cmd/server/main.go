package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	persistlog "blockworld.ai/internal/persistence/log"
	"blockworld.ai/internal/persistence/indexdb"
	"blockworld.ai/internal/sim/pieces"
	"blockworld.ai/internal/sim/world"
	"blockworld.ai/internal/transport/view"
	"blockworld.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configPath = flag.String("config", "./configs/world.yaml", "world config path")
		piecesPath = flag.String("pieces", "", "piece catalog path (default: pieces_path from the config, else configs/pieces.yaml)")
		logDir     = flag.String("log_dir", "", "interaction log directory (empty disables)")
		indexPath  = flag.String("index_db", "", "sqlite interaction index path (empty disables)")
		authToken  = flag.String("auth", "", "shared client token (or set BW_AUTH_TOKEN; empty disables)")
		viewURLs   = flag.String("views", "", "comma-separated view base urls to notify")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := world.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	pp := strings.TrimSpace(*piecesPath)
	if pp == "" {
		pp = cfg.PiecesPath
		if pp != "" && !filepath.IsAbs(pp) {
			pp = filepath.Join(filepath.Dir(*configPath), pp)
		}
	}
	if pp == "" {
		pp = filepath.Join(filepath.Dir(*configPath), "pieces.yaml")
	}
	cat, err := pieces.Load(pp)
	if err != nil {
		logger.Fatalf("load pieces: %v", err)
	}
	logger.Printf("pieces catalog: %d types digest=%s", len(cat.Names), cat.Digest[:12])

	token := strings.TrimSpace(*authToken)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("BW_AUTH_TOKEN"))
	}

	reg := prometheus.NewRegistry()

	w := world.New(cfg, cat, logger)
	w.SetMetrics(world.NewMetrics(reg))

	wsSrv := ws.NewServer(w, logger, ws.Options{AuthToken: token})
	w.AttachSink(wsSrv)

	notifier := view.NewNotifier(logger, view.NewMetrics(reg))
	for _, u := range strings.Split(*viewURLs, ",") {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if err := notifier.Add(u); err != nil {
			logger.Fatalf("view url: %v", err)
		}
	}
	w.AttachSink(notifier)

	var recorders multiRecorder
	if *logDir != "" {
		ilog := persistlog.NewInteractionLogger(*logDir)
		defer ilog.Close()
		w.AttachSink(ilog)
		recorders = append(recorders, ilog)
		logger.Printf("interaction log: %s", *logDir)
	}
	if *indexPath != "" {
		idx, err := indexdb.OpenSQLite(*indexPath)
		if err != nil {
			logger.Fatalf("open index db: %v", err)
		}
		defer idx.Close()
		w.AttachSink(idx)
		recorders = append(recorders, idx)
		logger.Printf("interaction index: %s", *indexPath)
	}
	if len(recorders) > 0 {
		w.SetRecorder(recorders)
	}

	ctx, cancel := signalContext()
	defer cancel()

	go notifier.Run(ctx)
	go func() {
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/ws", wsSrv.Handler())

	if envBool("BW_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		registerAdmin(mux, w, notifier)
	} else {
		logger.Printf("admin endpoints disabled (BW_ENABLE_ADMIN_HTTP=false)")
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s (board %dx%d, actions %v)", *addr, cfg.Width, cfg.Height, cfg.Actions)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

// multiRecorder fans command records out to every persistence backend.
type multiRecorder []world.CommandRecorder

func (m multiRecorder) RecordCommand(rec world.CommandRecord) {
	for _, r := range m {
		r.RecordCommand(rec)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func envBool(name string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
