// Package personastore persists reviewer personas used by the Peer-Review
// Engine in a vector-store collection, one point per agent id with a
// zero-filled vector of fixed dimension (spec.md §6's persistent state layout).
package personastore

import (
	"context"

	"github.com/codeready-toolchain/tarsy/pkg/vectorstore"
)

// Collection is the vector-store collection personas persist to.
const Collection = "agent_identities"

// personaVectorDim matches the embedding width spec.md §6 mandates for
// persona identity points.
const personaVectorDim = 384

// Bias is a persona's behavioral modifiers for review scoring.
type Bias struct {
	Cautiousness     float64
	Innovation       float64
	DetailOrientation float64
}

// Persona is one reviewer's behavioral profile.
type Persona struct {
	AgentID   string
	Callsign  string
	Bias      Bias
	VoiceTone string
}

// Store is a persona-backed vector-store collection.
type Store struct {
	vs vectorstore.Store
}

// New wraps a vector store for persona persistence.
func New(vs vectorstore.Store) *Store {
	return &Store{vs: vs}
}

// EnsureCollection creates the persona collection if absent.
func (s *Store) EnsureCollection(ctx context.Context) error {
	return s.vs.EnsureCollection(ctx, Collection, personaVectorDim, vectorstore.DistanceCosine, vectorstore.HNSWParams{M: 16, EfConstruct: 100})
}

// Upsert stores or replaces a persona record.
func (s *Store) Upsert(ctx context.Context, p Persona) error {
	return s.vs.UpsertPoints(ctx, Collection, []vectorstore.Point{{
		ID:     p.AgentID,
		Vector: make([]float32, personaVectorDim),
		Payload: map[string]any{
			"agent_id":           p.AgentID,
			"callsign":           p.Callsign,
			"cautiousness":       p.Bias.Cautiousness,
			"innovation":         p.Bias.Innovation,
			"detail_orientation": p.Bias.DetailOrientation,
			"voice_tone":         p.VoiceTone,
		},
	}})
}

// List loads every persisted persona.
func (s *Store) List(ctx context.Context) ([]Persona, error) {
	var out []Persona
	var offset string
	for {
		points, next, err := s.vs.Scroll(ctx, Collection, vectorstore.Filter{}, 10000, offset)
		if err != nil {
			return nil, err
		}
		for _, p := range points {
			out = append(out, fromPayload(p.Payload))
		}
		if next == "" {
			break
		}
		offset = next
	}
	return out, nil
}

func fromPayload(p map[string]any) Persona {
	str := func(k string) string {
		v, _ := p[k].(string)
		return v
	}
	f := func(k string) float64 {
		v, _ := p[k].(float64)
		return v
	}
	return Persona{
		AgentID:  str("agent_id"),
		Callsign: str("callsign"),
		Bias: Bias{
			Cautiousness:      f("cautiousness"),
			Innovation:        f("innovation"),
			DetailOrientation: f("detail_orientation"),
		},
		VoiceTone: str("voice_tone"),
	}
}
