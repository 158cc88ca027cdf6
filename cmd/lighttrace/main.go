package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "lighttrace",
		Usage: "inspects light job traces and benchmarks the light pipeline",
		Commands: []*cli.Command{
			{
				Name:      "summary",
				Usage:     "aggregates trace-*.jsonl.zst files in a trace directory",
				ArgsUsage: "<trace dir>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "index", Usage: "sqlite trace index to cross-check (optional)"},
				},
				Action: runSummary,
			},
			{
				Name:  "bench",
				Usage: "loads generated terrain into a client world, places torches and times how long light takes to settle",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "seed", Value: 1337, Usage: "terrain seed"},
					&cli.IntFlag{Name: "radius", Value: 3, Usage: "render radius in chunks"},
					&cli.IntFlag{Name: "chunk-size", Value: 16},
					&cli.IntFlag{Name: "height", Value: 64, Usage: "max world height"},
					&cli.IntFlag{Name: "torches", Value: 64, Usage: "torches placed per round"},
					&cli.BoolFlag{Name: "workers", Value: true, Usage: "run light jobs on the worker pool"},
					&cli.IntFlag{Name: "light-workers", Value: 4},
					&cli.BoolFlag{Name: "meshes", Usage: "also generate chunk meshes"},
					&cli.StringFlag{Name: "trace", Usage: "write a light job trace to this directory"},
					&cli.DurationFlag{Name: "timeout", Value: defaultBenchTimeout},
				},
				Action: runBench,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
