package protocol

import "voxelclient.ai/internal/registry"

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
}

// INIT (server -> client): world parameters and the block registry.
type InitMsg struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	Params          WorldParams      `json:"params"`
	Blocks          []registry.Block `json:"blocks"`
	BlocksDigest    string           `json:"blocks_digest,omitempty"`
}

type WorldParams struct {
	ChunkSize     int    `json:"chunk_size"`
	MaxHeight     int    `json:"max_height"`
	MaxLightLevel int    `json:"max_light_level"`
	SubChunks     int    `json:"sub_chunks"`
	MinChunk      [2]int `json:"min_chunk"`
	MaxChunk      [2]int `json:"max_chunk"`
}

type GeometryProtocol struct {
	Voxel     uint32    `json:"voxel"`
	Positions []float32 `json:"positions"`
	Indices   []uint32  `json:"indices"`
	Lights    []uint32  `json:"lights,omitempty"`
}

// MeshProtocol carries the geometries of one sub-chunk level.
type MeshProtocol struct {
	Level      int                `json:"level"`
	Geometries []GeometryProtocol `json:"geometries"`
}

// ChunkProtocol is one chunk payload. Voxels or Lights may be absent in a
// partial payload.
type ChunkProtocol struct {
	ID     string         `json:"id"`
	X      int            `json:"x"`
	Z      int            `json:"z"`
	Voxels Uint32Array    `json:"voxels,omitempty"`
	Lights Uint32Array    `json:"lights,omitempty"`
	Meshes []MeshProtocol `json:"meshes,omitempty"`
}

// LOAD (server -> client)
type LoadMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	Chunks          []ChunkProtocol `json:"chunks"`
}

// LOAD (client -> server): chunk request.
type LoadRequestMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Center          [2]int     `json:"center"`
	Direction       [2]float64 `json:"direction"`
	Chunks          [][2]int   `json:"chunks"`
}

type UpdateProtocol struct {
	VX    int     `json:"vx"`
	VY    int     `json:"vy"`
	VZ    int     `json:"vz"`
	Voxel uint32  `json:"voxel"`
	Light *uint32 `json:"light,omitempty"`
}

// UPDATE (both directions)
type UpdateMsg struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	Updates         []UpdateProtocol `json:"updates"`
	Chunks          []ChunkProtocol  `json:"chunks,omitempty"`
}

// UNLOAD (client -> server)
type UnloadMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Chunks          [][2]int `json:"chunks"`
}

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}

func NewError(code, msg string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: msg}
}
