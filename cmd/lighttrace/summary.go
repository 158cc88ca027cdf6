package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/urfave/cli/v2"
	"golang.org/x/exp/maps"

	"voxelclient.ai/internal/persistence/indexdb"
	persistlog "voxelclient.ai/internal/persistence/log"
)

type summary struct {
	files    int
	jobs     map[string]int
	colors   map[string]int
	chunks   map[string]int
	retries  int
	elapsed  []float64
	maxBatch int
}

func newSummary() *summary {
	return &summary{jobs: map[string]int{}, colors: map[string]int{}, chunks: map[string]int{}}
}

func (s *summary) add(r persistlog.Record) error {
	switch r.Kind {
	case persistlog.KindLightJob:
		s.jobs[r.Outcome]++
		s.colors[r.Color]++
		s.retries += r.Retry
		if r.ElapsedMS > 0 {
			s.elapsed = append(s.elapsed, r.ElapsedMS)
		}
		if r.Chunks > s.maxBatch {
			s.maxBatch = r.Chunks
		}
	case persistlog.KindChunk:
		s.chunks[r.Event]++
	}
	return nil
}

func runSummary(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("missing <trace dir>", 2)
	}
	dir := c.Args().Get(0)
	files, err := persistlog.ListTraceFiles(dir)
	if err != nil {
		return err
	}
	s := newSummary()
	for _, f := range files {
		if err := persistlog.ReadTraceFile(f, s.add); err != nil {
			return fmt.Errorf("read %s: %w", f, err)
		}
		s.files++
	}

	fmt.Printf("trace dir=%s files=%d\n", dir, s.files)
	printCounts("light job outcomes", s.jobs)
	printCounts("light job colors", s.colors)
	printCounts("chunk events", s.chunks)
	if len(s.elapsed) > 0 {
		sort.Float64s(s.elapsed)
		total := 0.0
		for _, v := range s.elapsed {
			total += v
		}
		fmt.Printf("elapsed_ms avg=%.3f p50=%.3f p95=%.3f max=%.3f retries=%d max_batch=%d\n",
			total/float64(len(s.elapsed)), percentile(s.elapsed, 0.50), percentile(s.elapsed, 0.95), s.elapsed[len(s.elapsed)-1], s.retries, s.maxBatch)
	}

	path := c.String("index")
	if path == "" {
		return nil
	}
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer idx.Close()
	outcomes, err := idx.OutcomeCounts(context.Background())
	if err != nil {
		return err
	}
	events, err := idx.ChunkEventCounts(context.Background())
	if err != nil {
		return err
	}
	printCounts("index light job outcomes", outcomes)
	printCounts("index chunk events", events)
	for _, k := range maps.Keys(outcomes) {
		if outcomes[k] != s.jobs[k] {
			fmt.Printf("mismatch outcome=%s trace=%d index=%d\n", k, s.jobs[k], outcomes[k])
		}
	}
	return nil
}

func printCounts(title string, m map[string]int) {
	if len(m) == 0 {
		return
	}
	keys := maps.Keys(m)
	sort.Strings(keys)
	fmt.Printf("%s:\n", title)
	for _, k := range keys {
		name := k
		if name == "" {
			name = "-"
		}
		fmt.Printf("  %-16s %d\n", name, m[k])
	}
}

// percentile expects sorted input.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	i := int(p * float64(len(sorted)-1))
	return sorted[i]
}
