package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"voxelclient.ai/internal/config"
	"voxelclient.ai/internal/persistence/indexdb"
	persistlog "voxelclient.ai/internal/persistence/log"
	"voxelclient.ai/internal/registry"
	"voxelclient.ai/internal/transport/ws"
	"voxelclient.ai/internal/world"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to client.yaml (defaults when empty)")
		serverURL  = flag.String("url", "", "world server ws url (overrides network.server_url)")
		name       = flag.String("name", "", "client name (overrides network.client_name)")
		traceDir   = flag.String("trace", "", "light job / chunk trace directory (overrides trace.dir)")
		indexPath  = flag.String("index_db", "", "sqlite trace index path (overrides trace.index_db)")
		fps        = flag.Int("fps", 60, "frames per second")
		statsEvery = flag.Duration("stats", 10*time.Second, "stats log interval (0 to disable)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[client] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if s := strings.TrimSpace(*serverURL); s != "" {
		cfg.Network.ServerURL = s
	}
	if s := strings.TrimSpace(*name); s != "" {
		cfg.Network.ClientName = s
	}
	if s := strings.TrimSpace(*traceDir); s != "" {
		cfg.Trace.Dir = s
	}
	if s := strings.TrimSpace(*indexPath); s != "" {
		cfg.Trace.IndexDB = s
	}
	if *fps <= 0 {
		*fps = 60
	}

	ctx, cancel := signalContext()
	defer cancel()

	sess := ws.NewSession(ws.SessionConfig{
		URL:        cfg.Network.ServerURL,
		ClientName: cfg.Network.ClientName,
		Logger:     logger,
	})
	sess.Start()
	defer sess.Close()

	initCtx, initCancel := context.WithTimeout(ctx, 30*time.Second)
	initMsg, err := sess.WaitInit(initCtx)
	initCancel()
	if err != nil {
		logger.Fatalf("wait INIT from %s: %v", cfg.Network.ServerURL, err)
	}
	opts := cfg.World
	ws.ApplyParams(&opts, initMsg.Params)
	reg, err := registry.New(initMsg.Blocks)
	if err != nil {
		logger.Fatalf("registry: %v", err)
	}
	if initMsg.BlocksDigest != "" && initMsg.BlocksDigest != reg.Digest {
		logger.Printf("blocks digest mismatch server=%s local=%s", initMsg.BlocksDigest, reg.Digest)
	}
	logger.Printf("INIT chunk_size=%d max_height=%d blocks=%d digest=%s", opts.ChunkSize, opts.MaxHeight, len(initMsg.Blocks), reg.Digest)

	tracer, closeTrace := openTracer(cfg.Trace, logger)
	defer closeTrace()

	w, err := world.New(world.Options{World: opts, Registry: reg, Tracer: tracer, Logger: logger})
	if err != nil {
		logger.Fatalf("world: %v", err)
	}
	defer w.Close()

	pos := mgl64.Vec3{cfg.Viewer.Position[0], cfg.Viewer.Position[1], cfg.Viewer.Position[2]}
	dir := mgl64.Vec3{cfg.Viewer.Direction[0], cfg.Viewer.Direction[1], cfg.Viewer.Direction[2]}
	if dir.Len() > 0 {
		dir = dir.Normalize()
	}

	frame := time.Second / time.Duration(*fps)
	ticker := time.NewTicker(frame)
	defer ticker.Stop()
	var statsC <-chan time.Time
	if *statsEvery > 0 {
		st := time.NewTicker(*statsEvery)
		defer st.Stop()
		statsC = st.C
	}

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			logger.Printf("shutting down")
			return
		case <-statsC:
			logStats(logger, w, sess)
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now
			drain(w, sess, logger)
			pos = pos.Add(dir.Mul(cfg.Viewer.Speed * dt))
			w.Update(pos, dir)
			if packets := w.Packets(); len(packets) > 0 {
				if n, err := sess.SendAll(packets); err != nil {
					logger.Printf("send packets sent=%d/%d err=%v", n, len(packets), err)
				}
			}
		}
	}
}

// drain hands every buffered server message to the world without blocking.
func drain(w *world.World, sess *ws.Session, logger *log.Logger) {
	for {
		select {
		case msg := <-sess.Messages():
			if err := w.HandleMessage(msg); err != nil {
				logger.Printf("handle message: %v", err)
			}
		default:
			return
		}
	}
}

func logStats(logger *log.Logger, w *world.World, sess *ws.Session) {
	ls := w.LightStats()
	ms := w.MeshStats()
	ss := sess.Status()
	c := w.Center()
	logger.Printf("center=%d|%d connected=%v connects=%d invalid=%d light_jobs=%d accepted=%d stale=%d sync_fallbacks=%d mesh=%+v",
		c[0], c[1], ss.Connected, ss.Connects, ss.Invalid, ls.Jobs, ls.Accepted, ls.StaleRetries, ls.SyncFallbacks, ms)
}

func openTracer(tc config.Trace, logger *log.Logger) (world.Tracer, func()) {
	dir := strings.TrimSpace(tc.Dir)
	if dir == "" {
		return nil, func() {}
	}
	var sinks []persistlog.Sink
	var idx *indexdb.SQLiteIndex
	if p := strings.TrimSpace(tc.IndexDB); p != "" {
		if !filepath.IsAbs(p) && filepath.Dir(p) == "." {
			p = filepath.Join(dir, p)
		}
		var err error
		idx, err = indexdb.OpenSQLite(p)
		if err != nil {
			logger.Printf("trace index disabled path=%s err=%v", p, err)
		} else {
			sinks = append(sinks, idx)
		}
	}
	tl := persistlog.NewTraceLogger(dir, sinks...)
	logger.Printf("tracing to %s", dir)
	return tl, func() {
		if err := tl.Close(); err != nil {
			logger.Printf("trace close: %v", err)
		}
		if n := tl.Errors(); n > 0 {
			logger.Printf("trace write errors=%d", n)
		}
		if idx != nil {
			if err := idx.Close(); err != nil {
				logger.Printf("trace index close: %v", err)
			}
			st := idx.Stats()
			logger.Printf("trace index written=%d failed=%d dropped=%d", st.WrittenTotal, st.FailedTotal, st.DropLightJobTotal+st.DropChunkTotal)
		}
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
