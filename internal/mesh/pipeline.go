package mesh

import "voxelclient.ai/internal/mathx"

// Completion flags returned by Pipeline.Complete.
const (
	JobAccepted    = 1 << iota
	JobNeedsRemesh // the key changed again while the job ran
)

type state struct {
	generation uint64
	displayed  uint64
	inFlight   bool
}

// Pipeline keeps a generation counter per key. A key is dirty while its
// generation is ahead of the displayed one; at most one job per key runs
// at a time.
type Pipeline struct {
	states   map[Key]*state
	byChunk  map[mathx.Coords2]map[Key]bool
	dirty    []Key
	isDirty  map[Key]bool
	inFlight int
}

func NewPipeline() *Pipeline {
	return &Pipeline{
		states:  map[Key]*state{},
		byChunk: map[mathx.Coords2]map[Key]bool{},
		isDirty: map[Key]bool{},
	}
}

func (p *Pipeline) get(k Key) *state {
	s, ok := p.states[k]
	if !ok {
		s = &state{}
		p.states[k] = s
		if p.byChunk[k.Coords] == nil {
			p.byChunk[k.Coords] = map[Key]bool{}
		}
		p.byChunk[k.Coords][k] = true
	}
	return s
}

func (p *Pipeline) markDirty(k Key) {
	if p.isDirty[k] {
		return
	}
	p.isDirty[k] = true
	p.dirty = append(p.dirty, k)
}

// Mark bumps the generation of a key.
func (p *Pipeline) Mark(k Key) {
	p.get(k).generation++
	p.markDirty(k)
}

// MarkFresh records that the current contents came with the chunk payload,
// so nothing is pending for the key.
func (p *Pipeline) MarkFresh(k Key) {
	s := p.get(k)
	if s.inFlight {
		p.inFlight--
	}
	s.inFlight = false
	s.displayed = s.generation
	delete(p.isDirty, k)
}

// Start claims a dirty key for a job and returns the generation the job
// covers.
func (p *Pipeline) Start(k Key) (uint64, bool) {
	s, ok := p.states[k]
	if !ok || s.inFlight || s.generation == s.displayed {
		return 0, false
	}
	s.inFlight = true
	p.inFlight++
	delete(p.isDirty, k)
	return s.generation, true
}

// Abort releases a key without applying a result.
func (p *Pipeline) Abort(k Key) int {
	s, ok := p.states[k]
	if !ok {
		return 0
	}
	if s.inFlight {
		p.inFlight--
	}
	s.inFlight = false
	if s.generation > s.displayed {
		p.markDirty(k)
		return JobNeedsRemesh
	}
	return 0
}

// Complete finishes the job for generation gen. Results older than what
// is displayed are not accepted.
func (p *Pipeline) Complete(k Key, gen uint64) int {
	s, ok := p.states[k]
	if !ok {
		return 0
	}
	if s.inFlight {
		p.inFlight--
	}
	s.inFlight = false

	status := 0
	if gen >= s.displayed {
		status |= JobAccepted
		s.displayed = gen
	}
	if s.generation > s.displayed {
		status |= JobNeedsRemesh
		p.markDirty(k)
	}
	return status
}

// DirtyKeys returns up to max keys that can start a job now, in the order
// they were dirtied. max <= 0 means no limit.
func (p *Pipeline) DirtyKeys(max int) []Key {
	var out []Key
	seen := make(map[Key]bool, len(p.dirty))
	kept := p.dirty[:0]
	for _, k := range p.dirty {
		if !p.isDirty[k] || seen[k] {
			continue
		}
		seen[k] = true
		s, ok := p.states[k]
		if !ok {
			delete(p.isDirty, k)
			continue
		}
		if !s.inFlight && s.generation == s.displayed {
			delete(p.isDirty, k)
			continue
		}
		kept = append(kept, k)
		if !s.inFlight && (max <= 0 || len(out) < max) {
			out = append(out, k)
		}
	}
	for i := len(kept); i < len(p.dirty); i++ {
		p.dirty[i] = Key{}
	}
	p.dirty = kept
	return out
}

func (p *Pipeline) HasDirty() bool {
	for _, k := range p.dirty {
		if !p.isDirty[k] {
			continue
		}
		if s, ok := p.states[k]; ok && !s.inFlight && s.generation != s.displayed {
			return true
		}
	}
	return false
}

func (p *Pipeline) NeedsRemesh(k Key) bool {
	s, ok := p.states[k]
	return ok && s.generation > s.displayed
}

func (p *Pipeline) InFlight(k Key) bool {
	s, ok := p.states[k]
	return ok && s.inFlight
}

// Settled reports whether no level of a chunk is pending or running.
func (p *Pipeline) Settled(cc mathx.Coords2) bool {
	for k := range p.byChunk[cc] {
		if s := p.states[k]; s != nil && (s.inFlight || s.generation > s.displayed) {
			return false
		}
	}
	return true
}

func (p *Pipeline) AnyInFlight() bool { return p.inFlight > 0 }

// Remove forgets every key of a chunk.
func (p *Pipeline) Remove(cc mathx.Coords2) {
	for k := range p.byChunk[cc] {
		if s := p.states[k]; s != nil && s.inFlight {
			p.inFlight--
		}
		delete(p.states, k)
		delete(p.isDirty, k)
	}
	delete(p.byChunk, cc)
}
