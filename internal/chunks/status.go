package chunks

import "fmt"

// Status is the lifecycle state of a chunk name.
type Status string

const (
	StatusNone       Status = ""
	StatusToRequest  Status = "to request"
	StatusRequested  Status = "requested"
	StatusProcessing Status = "processing"
	StatusLoaded     Status = "loaded"
)

// InconsistencyError reports a chunk name found in more than one of the
// exclusive lifecycle states. It is raised with panic.
type InconsistencyError struct {
	Name       string
	ToRequest  bool
	Requested  bool
	Processing bool
	Loaded     bool
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("chunk %s is in more than one lifecycle state: to_request=%v requested=%v processing=%v loaded=%v",
		e.Name, e.ToRequest, e.Requested, e.Processing, e.Loaded)
}

// Status returns the lifecycle state of a chunk. Loaded wins over the
// others because a loaded chunk may also have a queued payload.
func (m *Manager) Status(cx, cz int) Status {
	name := chunkName(cx, cz)
	_, isRequested := m.requested[name]
	_, isLoaded := m.loaded[name]
	isProcessing := m.processing[name] > 0
	isToRequest := m.toRequestSet[name]

	n := 0
	for _, b := range []bool{isRequested, isProcessing, isToRequest} {
		if b {
			n++
		}
	}
	if n > 1 {
		panic(&InconsistencyError{
			Name:       name,
			ToRequest:  isToRequest,
			Requested:  isRequested,
			Processing: isProcessing,
			Loaded:     isLoaded,
		})
	}

	switch {
	case isLoaded:
		return StatusLoaded
	case isProcessing:
		return StatusProcessing
	case isRequested:
		return StatusRequested
	case isToRequest:
		return StatusToRequest
	}
	return StatusNone
}
