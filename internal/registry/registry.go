// Package registry provides canonical agent identities: every request for
// "cell of phenotype X at site S" or "drug Y at site S" yields the same
// *Agent for the lifetime of the Registry.
package registry

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nvandessel/resistsim/internal/model"
)

// KindClass distinguishes cell kinds from drug kinds.
type KindClass uint8

const (
	ClassCell KindClass = iota + 1
	ClassDrug
)

// Kind is a tagged union of a Phenotype or a DrugKind. The zero value is invalid.
type Kind struct {
	Class KindClass
	Value int
}

// CellKind returns the Kind for a cell phenotype.
func CellKind(p model.Phenotype) Kind {
	return Kind{Class: ClassCell, Value: int(p)}
}

// DrugKindOf returns the Kind for a drug.
func DrugKindOf(d model.DrugKind) Kind {
	return Kind{Class: ClassDrug, Value: int(d)}
}

// Phenotype returns the phenotype held by k. ok is false for drug kinds.
func (k Kind) Phenotype() (p model.Phenotype, ok bool) {
	if k.Class != ClassCell {
		return 0, false
	}
	return model.Phenotype(k.Value), true
}

// Drug returns the drug kind held by k. ok is false for cell kinds.
func (k Kind) Drug() (d model.DrugKind, ok bool) {
	if k.Class != ClassDrug {
		return 0, false
	}
	return model.DrugKind(k.Value), true
}

func (k Kind) String() string {
	switch k.Class {
	case ClassCell:
		return "cell:" + model.Phenotype(k.Value).String()
	case ClassDrug:
		return "drug:" + model.DrugKind(k.Value).String()
	default:
		return fmt.Sprintf("Kind(%d,%d)", k.Class, k.Value)
	}
}

// Handle is a dense, stable index assigned to an agent when it is minted.
type Handle uint32

// Agent is the canonical identity of a (site, kind) pair. Agents carry no
// mutable state and are never destroyed.
type Agent struct {
	handle Handle
	site   int
	kind   Kind
}

// Handle returns the agent's arena index.
func (a *Agent) Handle() Handle { return a.handle }

// Site returns the lattice site the agent lives on.
func (a *Agent) Site() int { return a.site }

// Kind returns the phenotype or drug kind of the agent.
func (a *Agent) Kind() Kind { return a.kind }

func (a *Agent) String() string {
	return fmt.Sprintf("agent#%d(site=%d, %s)", a.handle, a.site, a.kind)
}

type key struct {
	site int
	kind Kind
}

const numShards = 32

type shard struct {
	mu sync.Mutex
}

// Registry is a concurrent keyed cache of agents. Lookups of minted agents
// do not take a lock; minting is serialized per shard so at most one Agent
// exists for any key. The zero value is not usable; call New.
type Registry struct {
	agents sync.Map // key -> *Agent
	shards [numShards]shard

	arenaMu sync.RWMutex
	arena   []*Agent
	minted  atomic.Int64
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{}
}

// Get returns the canonical agent for (site, kind), minting it on first use.
func (r *Registry) Get(site int, kind Kind) *Agent {
	k := key{site: site, kind: kind}
	if a, ok := r.agents.Load(k); ok {
		return a.(*Agent)
	}

	sh := &r.shards[shardIndex(k)]
	sh.mu.Lock()
	defer sh.mu.Unlock()

	// Another caller may have minted while we waited on the shard.
	if a, ok := r.agents.Load(k); ok {
		return a.(*Agent)
	}

	r.arenaMu.Lock()
	a := &Agent{handle: Handle(len(r.arena)), site: site, kind: kind}
	r.arena = append(r.arena, a)
	r.arenaMu.Unlock()

	r.agents.Store(k, a)
	r.minted.Add(1)
	return a
}

// Cell is shorthand for Get(site, CellKind(p)).
func (r *Registry) Cell(site int, p model.Phenotype) *Agent {
	return r.Get(site, CellKind(p))
}

// Drug is shorthand for Get(site, DrugKindOf(d)).
func (r *Registry) Drug(site int, d model.DrugKind) *Agent {
	return r.Get(site, DrugKindOf(d))
}

// Lookup resolves a handle previously returned through an Agent.
func (r *Registry) Lookup(h Handle) (*Agent, bool) {
	r.arenaMu.RLock()
	defer r.arenaMu.RUnlock()
	if int(h) >= len(r.arena) {
		return nil, false
	}
	return r.arena[h], true
}

// Len returns the number of agents minted so far.
func (r *Registry) Len() int {
	return int(r.minted.Load())
}

func shardIndex(k key) int {
	h := uint64(k.site)*1_000_003 + uint64(k.kind.Class)*131 + uint64(k.kind.Value)
	h ^= h >> 17
	return int(h % numShards)
}
