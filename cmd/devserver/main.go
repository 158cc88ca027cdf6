package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voxelclient.ai/internal/config"
	"voxelclient.ai/internal/registry"
	"voxelclient.ai/internal/terrain"
	"voxelclient.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":4000", "http listen address")
		configPath = flag.String("config", "", "path to a client.yaml whose world section is served (defaults when empty)")
		seed       = flag.Int64("seed", 1337, "terrain seed")
		radius     = flag.Int("radius", 64, "world half-size in chunks around the origin")
		maxQueue   = flag.Int("max_queue", 256, "outbound messages buffered per client")
		loadRate   = flag.Float64("load_rate", 0, "chunks served per second per client (0 = unlimited)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[devserver] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	opts := cfg.World
	if *radius > 0 {
		opts.MinChunk = [2]int{-*radius, -*radius}
		opts.MaxChunk = [2]int{*radius, *radius}
	}
	if err := opts.Validate(); err != nil {
		logger.Fatalf("world options: %v", err)
	}

	reg, err := registry.New(terrain.DefaultBlocks())
	if err != nil {
		logger.Fatalf("registry: %v", err)
	}
	store := terrain.NewStore(terrain.New(terrain.DefaultParams(*seed, opts.MaxHeight), opts), reg, opts)
	srv := ws.NewServer(ws.ServerConfig{
		World:    opts,
		Registry: reg,
		Store:    store,
		Logger:   logger,
		MaxQueue: *maxQueue,
		LoadRate: *loadRate,
	})

	ctx, cancel := signalContext()
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/stats", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(srv.Stats())
	})
	mux.HandleFunc("/v1/ws", srv.Handler())

	hs := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = hs.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s seed=%d chunk_size=%d max_height=%d bounds=%v..%v", *addr, *seed, opts.ChunkSize, opts.MaxHeight, opts.MinChunk, opts.MaxChunk)
	if err := hs.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
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
