package lightjob

import (
	"time"

	"voxelclient.ai/internal/chunk"
	"voxelclient.ai/internal/light"
)

// Process runs a job over its input snapshots. Deltas newer than the
// snapshot version are replayed onto the copied voxels first.
func Process(in Input) (Result, error) {
	start := time.Now()
	e := in.Engine
	size, height := e.ChunkSize, e.MaxHeight

	space := light.NewChunkSpace(size, height)
	for _, g := range in.Grid {
		if g.Snapshot == nil {
			continue
		}
		space.Add(chunk.FromSnapshot(*g.Snapshot))
	}
	for _, ds := range in.Deltas {
		for _, d := range ds {
			p := d.Coords
			if space.RawVoxel(p[0], p[1], p[2]) != d.NewVoxel {
				space.SetRawVoxel(p[0], p[1], p[2], d.NewVoxel)
			}
		}
	}

	job := in.Job
	e = e.WithChunkRange(job.Grid.Min, job.Grid.Max)
	e.Apply(space, job.Color, job.Ops, job.Box.Bounds())

	res := Result{JobID: job.ID, Applied: in.Applied}
	for _, c := range space.Modified() {
		res.Modified = append(res.Modified, ModifiedChunk{Coords: c.Coords, Lights: c.Lights})
	}
	res.Elapsed = time.Since(start)
	return res, nil
}
