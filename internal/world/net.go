package world

import (
	"encoding/json"
	"fmt"

	"voxelclient.ai/internal/chunks"
	"voxelclient.ai/internal/protocol"
)

// HandleMessage routes one validated server message into the world. LOAD
// payloads are queued for processing; UPDATE edits go through the same
// pipeline as local edits but are never echoed back. INIT is consumed by
// whoever built the world and is ignored here.
func (w *World) HandleMessage(raw []byte) error {
	base, err := protocol.Validate(protocol.FromServer, raw)
	if err != nil {
		return fmt.Errorf("inbound: %w", err)
	}
	switch base.Type {
	case protocol.TypeLoad:
		var msg protocol.LoadMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			return fmt.Errorf("LOAD: %w", err)
		}
		w.OnLoad(msg)
	case protocol.TypeUpdate:
		var msg protocol.UpdateMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			return fmt.Errorf("UPDATE: %w", err)
		}
		w.OnUpdate(msg)
	case protocol.TypeError:
		var msg protocol.ErrorMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			return fmt.Errorf("ERROR: %w", err)
		}
		if !protocol.IsKnownCode(msg.Code) {
			w.logger.Printf("server error with unknown code=%s message=%q", msg.Code, msg.Message)
			break
		}
		w.logger.Printf("server error code=%s message=%q", msg.Code, msg.Message)
	}
	return nil
}

func (w *World) OnLoad(msg protocol.LoadMsg) {
	for _, c := range msg.Chunks {
		w.chunks.Receive(chunks.SourceLoad, c)
	}
}

// OnUpdate queues server edits behind pending local ones, then queues any
// chunk payloads the update carried ahead of regular loads.
func (w *World) OnUpdate(msg protocol.UpdateMsg) {
	us := make([]chunks.BlockUpdate, 0, len(msg.Updates))
	for _, u := range msg.Updates {
		us = append(us, chunks.BlockUpdate{VX: u.VX, VY: u.VY, VZ: u.VZ, Voxel: u.Voxel, Source: chunks.SourceUpdate})
	}
	w.chunks.QueueUpdates(us...)
	for _, c := range msg.Chunks {
		w.chunks.Receive(chunks.SourceUpdate, c)
	}
}
