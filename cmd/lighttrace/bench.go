package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/urfave/cli/v2"

	"voxelclient.ai/internal/config"
	persistlog "voxelclient.ai/internal/persistence/log"
	"voxelclient.ai/internal/protocol"
	"voxelclient.ai/internal/registry"
	"voxelclient.ai/internal/terrain"
	"voxelclient.ai/internal/world"
)

const defaultBenchTimeout = time.Minute

func benchOptions(c *cli.Context) config.WorldOptions {
	r := c.Int("radius")
	if r < 1 {
		r = 1
	}
	o := config.DefaultWorldOptions()
	o.ChunkSize = c.Int("chunk-size")
	o.MaxHeight = c.Int("height")
	o.SubChunks = 4
	o.MinChunk = [2]int{-r, -r}
	o.MaxChunk = [2]int{r, r}
	o.DefaultRenderRadius = r
	o.MaxProcessesPerUpdate = (2*r + 1) * (2*r + 1)
	o.UseLightWorkers = c.Bool("workers")
	o.MaxLightWorkers = c.Int("light-workers")
	o.ShouldGenerateChunkMeshes = c.Bool("meshes")
	return o
}

func runBench(c *cli.Context) error {
	o := benchOptions(c)
	o.Normalize()
	if err := o.Validate(); err != nil {
		return err
	}
	reg, err := registry.New(terrain.DefaultBlocks())
	if err != nil {
		return err
	}
	gen := terrain.New(terrain.DefaultParams(c.Int64("seed"), o.MaxHeight), o)
	store := terrain.NewStore(gen, reg, o)

	wopts := world.Options{World: o, Registry: reg, Logger: log.New(io.Discard, "", 0)}
	if dir := c.String("trace"); dir != "" {
		tl := persistlog.NewTraceLogger(dir)
		defer tl.Close()
		wopts.Tracer = tl
	}
	w, err := world.New(wopts)
	if err != nil {
		return err
	}
	defer w.Close()

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()

	start := time.Now()
	r := o.DefaultRenderRadius
	var payloads []protocol.ChunkProtocol
	for cx := -r; cx <= r; cx++ {
		for cz := -r; cz <= r; cz++ {
			if cx*cx+cz*cz > r*r {
				continue
			}
			payloads = append(payloads, store.Lit(cx, cz).Serialize().Protocol())
		}
	}
	generated := time.Since(start)

	pos := mgl64.Vec3{float64(o.ChunkSize) / 2, float64(o.MaxHeight - 1), float64(o.ChunkSize) / 2}
	dir := mgl64.Vec3{0, 0, -1}
	start = time.Now()
	w.OnLoad(protocol.LoadMsg{Type: protocol.TypeLoad, ProtocolVersion: protocol.Version, Chunks: payloads})
	for w.Chunks().ToProcessCount() > 0 {
		w.Update(pos, dir)
		w.Packets()
	}
	if err := w.Settle(ctx); err != nil {
		return fmt.Errorf("settle load: %w", err)
	}
	fmt.Printf("loaded chunks=%d generate=%s process=%s workers=%v meshes=%v\n",
		w.Chunks().LoadedCount(), generated.Round(time.Microsecond), time.Since(start).Round(time.Microsecond), o.UseLightWorkers, o.ShouldGenerateChunkMeshes)

	rng := rand.New(rand.NewSource(c.Int64("seed")))
	// Keep torches off the outer ring of loaded chunks.
	var inner [][2]int
	for cx := -r + 1; cx < r; cx++ {
		for cz := -r + 1; cz < r; cz++ {
			if cx*cx+cz*cz <= (r-1)*(r-1) {
				inner = append(inner, [2]int{cx, cz})
			}
		}
	}
	var placed []world.VoxelUpdate
	for i := 0; i < c.Int("torches"); i++ {
		cc := inner[rng.Intn(len(inner))]
		vx := cc[0]*o.ChunkSize + rng.Intn(o.ChunkSize)
		vz := cc[1]*o.ChunkSize + rng.Intn(o.ChunkSize)
		vy := gen.HeightAt(vx, vz) + 1
		if vy >= o.MaxHeight {
			continue
		}
		placed = append(placed, world.VoxelUpdate{VX: vx, VY: vy, VZ: vz, Type: terrain.Torch})
	}

	if err := timeRound(ctx, w, "place", placed); err != nil {
		return err
	}
	removed := make([]world.VoxelUpdate, len(placed))
	for i, u := range placed {
		u.Type = 0
		removed[i] = u
	}
	if err := timeRound(ctx, w, "remove", removed); err != nil {
		return err
	}

	st := w.LightStats()
	fmt.Printf("light jobs=%d dispatched=%d accepted=%d stale_retries=%d sync_fallbacks=%d worker_errors=%d timeouts=%d sync_runs=%d\n",
		st.Jobs, st.Dispatched, st.Accepted, st.StaleRetries, st.SyncFallbacks, st.WorkerErrors, st.Timeouts, st.SyncRuns)
	fmt.Printf("mesh %+v\n", w.MeshStats())
	return nil
}

func timeRound(ctx context.Context, w *world.World, name string, us []world.VoxelUpdate) error {
	start := time.Now()
	if err := w.UpdateVoxels(us); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if err := w.Settle(ctx); err != nil {
		return fmt.Errorf("%s settle: %w", name, err)
	}
	fmt.Printf("%-6s edits=%d settle=%s\n", name, len(us), time.Since(start).Round(time.Microsecond))
	return nil
}
