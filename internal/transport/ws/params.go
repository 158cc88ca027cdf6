package ws

import (
	"voxelclient.ai/internal/config"
	"voxelclient.ai/internal/protocol"
)

// ParamsFrom is the subset of world options sent in INIT.
func ParamsFrom(o config.WorldOptions) protocol.WorldParams {
	return protocol.WorldParams{
		ChunkSize:     o.ChunkSize,
		MaxHeight:     o.MaxHeight,
		MaxLightLevel: o.MaxLightLevel,
		SubChunks:     o.SubChunks,
		MinChunk:      o.MinChunk,
		MaxChunk:      o.MaxChunk,
	}
}

// ApplyParams overwrites the server-owned fields of o. Client-side tuning
// such as budgets and worker counts is kept.
func ApplyParams(o *config.WorldOptions, p protocol.WorldParams) {
	o.ChunkSize = p.ChunkSize
	o.MaxHeight = p.MaxHeight
	o.MaxLightLevel = p.MaxLightLevel
	o.SubChunks = p.SubChunks
	o.MinChunk = p.MinChunk
	o.MaxChunk = p.MaxChunk
}
