// Package modelregistry holds lazy, thread-safe singletons for the ASR,
// dense-embed, and chunk-embed capabilities. First caller loads; subsequent
// callers see the cached instance. Release drops the reference so memory
// can be reclaimed before the next stage claims it — the ASR model and the
// embedding models must never be co-resident on the accelerator.
package modelregistry

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/fralid/video-search-editor/internal/asr"
)

// Embedder is the shared capability both embedding slots expose: Encode
// (used by the chunker) plus the single-text Embed used by search queries.
type Embedder interface {
	Embed(text string) ([]float64, error)
	Encode(texts []string) ([][]float64, error)
}

// Registry is a mutex-guarded holder for the three model singletons.
// Zero value is usable once its factories are set via New.
type Registry struct {
	asrMu       sync.Mutex
	asrInst     asr.Capability
	asrFactory  func() (asr.Capability, error)

	denseMu      sync.Mutex
	denseInst    Embedder
	denseFactory func() (Embedder, error)

	chunkMu      sync.Mutex
	chunkInst    Embedder
	chunkFactory func() (Embedder, error)
}

// New builds a Registry from the three lazy factories. Factories are only
// invoked on first access to the corresponding capability.
func New(asrFactory func() (asr.Capability, error), denseFactory, chunkFactory func() (Embedder, error)) *Registry {
	return &Registry{asrFactory: asrFactory, denseFactory: denseFactory, chunkFactory: chunkFactory}
}

// ASR returns the cached ASR capability, loading it on first call.
func (r *Registry) ASR() (asr.Capability, error) {
	r.asrMu.Lock()
	defer r.asrMu.Unlock()
	if r.asrInst != nil {
		return r.asrInst, nil
	}
	inst, err := r.asrFactory()
	if err != nil {
		return nil, fmt.Errorf("load ASR model: %w", err)
	}
	r.asrInst = inst
	return inst, nil
}

// ReleaseASR drops the cached ASR capability so its memory can be reclaimed.
func (r *Registry) ReleaseASR() {
	r.asrMu.Lock()
	defer r.asrMu.Unlock()
	r.asrInst = nil
}

// DenseEmbed returns the cached dense-embedding capability, loading it on
// first call.
func (r *Registry) DenseEmbed() (Embedder, error) {
	r.denseMu.Lock()
	defer r.denseMu.Unlock()
	if r.denseInst != nil {
		return r.denseInst, nil
	}
	inst, err := r.denseFactory()
	if err != nil {
		return nil, fmt.Errorf("load dense embedding model: %w", err)
	}
	r.denseInst = inst
	return inst, nil
}

// ReleaseDenseEmbed drops the cached dense-embedding capability.
func (r *Registry) ReleaseDenseEmbed() {
	r.denseMu.Lock()
	defer r.denseMu.Unlock()
	r.denseInst = nil
}

// ChunkEmbed returns the cached chunk-embedding capability, loading it on
// first call. Kept as a distinct slot from DenseEmbed even when configured
// identically, so callers can never conflate the two models.
func (r *Registry) ChunkEmbed() (Embedder, error) {
	r.chunkMu.Lock()
	defer r.chunkMu.Unlock()
	if r.chunkInst != nil {
		return r.chunkInst, nil
	}
	inst, err := r.chunkFactory()
	if err != nil {
		return nil, fmt.Errorf("load chunk embedding model: %w", err)
	}
	r.chunkInst = inst
	return inst, nil
}

// ReleaseChunkEmbed drops the cached chunk-embedding capability.
func (r *Registry) ReleaseChunkEmbed() {
	r.chunkMu.Lock()
	defer r.chunkMu.Unlock()
	r.chunkInst = nil
}

// Settle runs a forced GC plus a short sleep standing in for the native
// allocator settling its cache — the gap between unloading the ASR model
// and loading the embedding models on the same accelerator.
func Settle() {
	runtime.GC()
	time.Sleep(50 * time.Millisecond)
}
