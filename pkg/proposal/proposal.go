// Package proposal implements the append-only proposal ledger of spec.md
// §4.9: "meta.proposal_event" chunks folded into a per-proposal state
// machine, with Accept deriving a pkg/ops.Promote call and Reject
// recording a reason. Grounded on
// agentsdb-cli/commands/proposals.rs (original_source).
package proposal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/krazyjakee/agentsdb/pkg/layer"
)

const defaultFromPath = "AGENTS.delta.db"
const defaultToPath = "AGENTS.user.db"

// Status is a proposal's position in its ∅→Pending→{Accepted,Rejected}
// state machine.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Event is the JSON body of one "meta.proposal_event" chunk. Every field
// but ContextID is optional, since accept/reject events only set a subset
// of what a propose event carries.
type Event struct {
	Action          string  `json:"action,omitempty"` // propose | accept | reject
	ProposalID      *uint32 `json:"proposal_id,omitempty"`
	ContextID       uint32  `json:"context_id"`
	FromPath        *string `json:"from_path,omitempty"`
	ToPath          *string `json:"to_path,omitempty"`
	CreatedAtUnixMs *uint64 `json:"created_at_unix_ms,omitempty"`
	Title           *string `json:"title,omitempty"`
	Why             *string `json:"why,omitempty"`
	What            *string `json:"what,omitempty"`
	Where           *string `json:"where,omitempty"`
	Actor           *string `json:"actor,omitempty"`
	Reason          *string `json:"reason,omitempty"`
	Outcome         *string `json:"outcome,omitempty"`
}

// State is one proposal's accumulated view after folding every event that
// targets it.
type State struct {
	ProposalID      layer.ChunkID
	ContextID       layer.ChunkID
	FromPath        string
	ToPath          string
	Status          Status
	CreatedAtUnixMs uint64
	Title           string
	Why             string
	What            string
	Where           string
	DecidedAtUnixMs uint64
	DecidedBy       string
	DecisionReason  string
	DecisionOutcome string
}

// ResolvedPaths names the three layer paths a proposal workflow needs:
// the staging layer proposals are promoted from, the layer accepted
// proposals land in by default, and the layer the proposal events
// themselves are appended to (usually the same file as Delta).
type ResolvedPaths struct {
	Delta          string
	User           string
	ProposalsLayer string
}

// StandardResolvedPaths builds ResolvedPaths from dir's standard layout,
// defaulting the proposals layer to the delta layer (proposals and staged
// chunks usually live in the same file).
func StandardResolvedPaths(dir string) ResolvedPaths {
	delta := filepath.Join(dir, "AGENTS.delta.db")
	return ResolvedPaths{
		Delta:          delta,
		User:           filepath.Join(dir, "AGENTS.user.db"),
		ProposalsLayer: delta,
	}
}

// ResolveLabel maps a from_path/to_path event field (almost always one of
// the two standard file names) to its absolute path under dir; anything
// else is resolved as a dir-relative path, matching
// original_source's resolve_layer_label.
func (p ResolvedPaths) ResolveLabel(dir, label string) string {
	switch label {
	case "AGENTS.delta.db":
		return p.Delta
	case "AGENTS.user.db":
		return p.User
	default:
		if filepath.IsAbs(label) {
			return label
		}
		return filepath.Join(dir, label)
	}
}

type idEvent struct {
	id layer.ChunkID
	ev Event
}

func readEventsOrEmpty(path string) ([]idEvent, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("proposal: stat %s: %w", path, err)
	}
	return readEvents(path)
}

func readEvents(path string) ([]idEvent, error) {
	lf, err := layer.Open(path)
	if err != nil {
		return nil, fmt.Errorf("proposal: open %s: %w", path, err)
	}
	defer lf.Close()

	var out []idEvent
	for rec, err := range lf.Chunks() {
		if err != nil {
			return nil, fmt.Errorf("proposal: read chunk: %w", err)
		}
		c, err := rec.Chunk()
		if err != nil {
			return nil, fmt.Errorf("proposal: decode chunk: %w", err)
		}
		if c.Kind != layer.KindProposalEvent {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(c.Content), &ev); err != nil {
			return nil, fmt.Errorf("proposal: parse event chunk %d: %w", c.ID, err)
		}
		out = append(out, idEvent{id: c.ID, ev: ev})
	}
	return out, nil
}

// applyEvent folds one event into states. An accept/reject event whose
// proposal_id is already decided is ignored — kept in the ledger for
// audit, per spec.md §4.9, but it may not re-decide a proposal. This is a
// deliberate guard original_source's apply_event lacks: the Rust source
// lets a later accept/reject silently overwrite an already-decided
// proposal's status, which the spec's own wording ("subsequent events
// targeting an already-decided proposal are ignored") says should not
// happen, so the guard is added here.
func applyEvent(states map[layer.ChunkID]*State, eventID layer.ChunkID, ev Event) {
	action := ev.Action
	if action == "" {
		action = "propose"
	}

	switch action {
	case "propose":
		fromPath := defaultFromPath
		if ev.FromPath != nil {
			fromPath = *ev.FromPath
		}
		toPath := defaultToPath
		if ev.ToPath != nil {
			toPath = *ev.ToPath
		}
		s := &State{
			ProposalID: eventID,
			ContextID:  layer.ChunkID(ev.ContextID),
			FromPath:   fromPath,
			ToPath:     toPath,
			Status:     StatusPending,
		}
		if ev.CreatedAtUnixMs != nil {
			s.CreatedAtUnixMs = *ev.CreatedAtUnixMs
		}
		if ev.Title != nil {
			s.Title = *ev.Title
		}
		if ev.Why != nil {
			s.Why = *ev.Why
		}
		if ev.What != nil {
			s.What = *ev.What
		}
		if ev.Where != nil {
			s.Where = *ev.Where
		}
		states[eventID] = s

	case "accept", "reject":
		if ev.ProposalID == nil {
			return
		}
		s, ok := states[layer.ChunkID(*ev.ProposalID)]
		if !ok || s.Status != StatusPending {
			return
		}
		if action == "accept" {
			s.Status = StatusAccepted
		} else {
			s.Status = StatusRejected
		}
		if ev.CreatedAtUnixMs != nil {
			s.DecidedAtUnixMs = *ev.CreatedAtUnixMs
		}
		if ev.Actor != nil {
			s.DecidedBy = *ev.Actor
		}
		if ev.Reason != nil {
			s.DecisionReason = *ev.Reason
		}
		if ev.Outcome != nil {
			s.DecisionOutcome = *ev.Outcome
		}
	}
}

// LoadStates folds every event in proposalsLayerPath, in chunk order, into
// one state per proposal_id (the chunk id of its propose event). A
// proposals layer that doesn't exist yet yields an empty map, not an
// error.
func LoadStates(proposalsLayerPath string) (map[layer.ChunkID]*State, error) {
	events, err := readEventsOrEmpty(proposalsLayerPath)
	if err != nil {
		return nil, err
	}
	states := make(map[layer.ChunkID]*State)
	for _, e := range events {
		applyEvent(states, e.id, e.ev)
	}
	return states, nil
}

// SortedProposalIDs returns keys in ascending order, for deterministic
// listing output.
func SortedProposalIDs(states map[layer.ChunkID]*State) []layer.ChunkID {
	ids := make([]layer.ChunkID, 0, len(states))
	for id := range states {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
