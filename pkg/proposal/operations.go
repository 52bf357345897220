package proposal

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/krazyjakee/agentsdb/pkg/agentsdberr"
	"github.com/krazyjakee/agentsdb/pkg/layer"
	"github.com/krazyjakee/agentsdb/pkg/ops"
)

// ProposeRequest describes a new proposal: a human or tool suggesting
// that the chunk ContextID be promoted from FromPath to ToPath.
type ProposeRequest struct {
	ContextID layer.ChunkID
	FromPath  string // defaults to AGENTS.delta.db if empty
	ToPath    string // defaults to AGENTS.user.db if empty
	Title     string
	Why       string
	What      string
	Where     string
}

// Propose appends a "propose" event to proposalsLayerPath, creating the
// layer if it doesn't exist yet (dim must then be given). The returned id
// is both the event's chunk id and the proposal's id for future
// accept/reject events.
func Propose(proposalsLayerPath string, req ProposeRequest, dimIfNew int) (layer.ChunkID, error) {
	now := uint64(time.Now().UnixMilli())
	ev := Event{
		Action:          "propose",
		ContextID:       uint32(req.ContextID),
		CreatedAtUnixMs: &now,
	}
	if req.FromPath != "" {
		ev.FromPath = &req.FromPath
	}
	if req.ToPath != "" {
		ev.ToPath = &req.ToPath
	}
	if req.Title != "" {
		ev.Title = &req.Title
	}
	if req.Why != "" {
		ev.Why = &req.Why
	}
	if req.What != "" {
		ev.What = &req.What
	}
	if req.Where != "" {
		ev.Where = &req.Where
	}
	return appendEvent(proposalsLayerPath, ev, req.ContextID, dimIfNew)
}

// appendDecisionEvent appends an "accept" or "reject" event, matching
// original_source's append_decision_event: actor is always "human",
// outcome/reason are optional.
func appendDecisionEvent(proposalsLayerPath, action string, proposalID, contextID layer.ChunkID, outcome, reason *string) error {
	now := uint64(time.Now().UnixMilli())
	actor := "human"
	ev := Event{
		Action:          action,
		ContextID:       uint32(contextID),
		CreatedAtUnixMs: &now,
		Actor:           &actor,
		Outcome:         outcome,
		Reason:          reason,
	}
	pid := uint32(proposalID)
	ev.ProposalID = &pid
	_, err := appendEvent(proposalsLayerPath, ev, contextID, 0)
	return err
}

func appendEvent(proposalsLayerPath string, ev Event, contextID layer.ChunkID, dimIfNew int) (layer.ChunkID, error) {
	content, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("proposal: serialize event: %w", err)
	}

	lf, err := layer.Open(proposalsLayerPath)
	if err != nil {
		if dimIfNew <= 0 {
			return 0, fmt.Errorf("proposal: open proposals layer %s: %w", proposalsLayerPath, err)
		}
		input := layer.Input{
			ID: 1, Kind: layer.KindProposalEvent, Content: string(content),
			Author: layer.AuthorHuman, Confidence: 1.0,
			Embedding: make([]float32, dimIfNew),
			Sources:   []layer.ProvenanceRef{layer.ChunkIDRef{ID: contextID}},
		}
		schema := layer.Schema{Dim: uint32(dimIfNew), ElementType: layer.ElementF32, QuantScale: 1.0}
		if err := layer.Write(proposalsLayerPath, schema, []layer.Input{input}, nil, permissionsFor(proposalsLayerPath)); err != nil {
			return 0, fmt.Errorf("proposal: create proposals layer %s: %w", proposalsLayerPath, err)
		}
		return 1, nil
	}

	dim := lf.Schema().Dim
	chunks, err := lf.AllChunks()
	if err != nil {
		lf.Close()
		return 0, fmt.Errorf("proposal: read proposals layer %s: %w", proposalsLayerPath, err)
	}
	if err := lf.Close(); err != nil {
		return 0, fmt.Errorf("proposal: close proposals layer %s: %w", proposalsLayerPath, err)
	}

	var maxID layer.ChunkID
	for _, c := range chunks {
		if c.ID > maxID {
			maxID = c.ID
		}
	}
	assigned := maxID + 1

	input := layer.Input{
		ID: assigned, Kind: layer.KindProposalEvent, Content: string(content),
		Author: layer.AuthorHuman, Confidence: 1.0,
		Embedding: make([]float32, dim),
		Sources:   []layer.ProvenanceRef{layer.ChunkIDRef{ID: contextID}},
	}
	if err := layer.Append(proposalsLayerPath, []layer.Input{input}, nil, permissionsFor(proposalsLayerPath)); err != nil {
		return 0, fmt.Errorf("proposal: append event to %s: %w", proposalsLayerPath, err)
	}
	return assigned, nil
}

func permissionsFor(path string) layer.WriteOptions {
	switch filepath.Base(path) {
	case "AGENTS.user.db":
		return layer.WriteOptions{AllowUser: true}
	case "AGENTS.db":
		return layer.WriteOptions{AllowBase: true}
	default:
		return layer.WriteOptions{}
	}
}

// AcceptOutcome reports what Accept did across every (from,to) pair the
// requested proposal ids grouped into.
type AcceptOutcome struct {
	Promoted []layer.ChunkID
	Skipped  []layer.ChunkID
}

// Accept validates that every id in ids names a Pending proposal whose
// target is not the base layer (base promotion only happens via compact),
// groups them by (from_path, to_path), calls pkg/ops.Promote once per
// group, and records one accept event per proposal with the resulting
// outcome ("promoted", "skipped_existing", or "unknown" if its context id
// landed in neither list).
func Accept(dir string, paths ResolvedPaths, ids []layer.ChunkID, skipExisting bool) (AcceptOutcome, error) {
	states, err := LoadStates(paths.ProposalsLayer)
	if err != nil {
		return AcceptOutcome{}, err
	}
	if len(ids) == 0 {
		return AcceptOutcome{}, agentsdberr.NewConfigError("proposal: accept requires at least one id")
	}
	for _, id := range ids {
		s, ok := states[id]
		if !ok {
			return AcceptOutcome{}, agentsdberr.NewConfigError("proposal: proposal %d not found", id)
		}
		if s.Status != StatusPending {
			return AcceptOutcome{}, agentsdberr.NewConfigError("proposal: proposal %d is not pending", id)
		}
		if s.ToPath == "AGENTS.db" {
			return AcceptOutcome{}, agentsdberr.NewConfigError(
				"proposal: proposal %d targets base; use compact to rebuild base", id)
		}
	}

	type pairKey struct{ from, to string }
	groups := make(map[pairKey][]layer.ChunkID)
	groupOrder := make([]pairKey, 0)
	proposalsByPair := make(map[pairKey][]layer.ChunkID)
	for _, id := range ids {
		s := states[id]
		key := pairKey{from: s.FromPath, to: s.ToPath}
		if _, seen := groups[key]; !seen {
			groupOrder = append(groupOrder, key)
		}
		groups[key] = append(groups[key], s.ContextID)
		proposalsByPair[key] = append(proposalsByPair[key], id)
	}

	var outcome AcceptOutcome
	promotedSet := make(map[layer.ChunkID]bool)
	skippedSet := make(map[layer.ChunkID]bool)

	for _, key := range groupOrder {
		fromAbs := paths.ResolveLabel(dir, key.from)
		toAbs := paths.ResolveLabel(dir, key.to)
		result, err := ops.Promote(ops.PromoteRequest{
			FromPath: fromAbs, ToPath: toAbs, IDs: groups[key], SkipExisting: skipExisting,
		})
		if err != nil {
			return AcceptOutcome{}, err
		}
		for _, cid := range result.Promoted {
			promotedSet[cid] = true
		}
		for _, cid := range result.Skipped {
			skippedSet[cid] = true
		}

		for _, proposalID := range proposalsByPair[key] {
			s := states[proposalID]
			var outcomeStr *string
			switch {
			case promotedSet[s.ContextID]:
				v := "promoted"
				outcomeStr = &v
			case skippedSet[s.ContextID]:
				v := "skipped_existing"
				outcomeStr = &v
			default:
				v := "unknown"
				outcomeStr = &v
			}
			if err := appendDecisionEvent(paths.ProposalsLayer, "accept", proposalID, s.ContextID, outcomeStr, nil); err != nil {
				return AcceptOutcome{}, err
			}
		}
	}

	for cid := range promotedSet {
		outcome.Promoted = append(outcome.Promoted, cid)
	}
	for cid := range skippedSet {
		outcome.Skipped = append(outcome.Skipped, cid)
	}
	return outcome, nil
}

// Reject validates that every id names a Pending proposal, then appends a
// reject event with the given optional reason for each.
func Reject(paths ResolvedPaths, ids []layer.ChunkID, reason string) error {
	states, err := LoadStates(paths.ProposalsLayer)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return agentsdberr.NewConfigError("proposal: reject requires at least one id")
	}
	for _, id := range ids {
		s, ok := states[id]
		if !ok {
			return agentsdberr.NewConfigError("proposal: proposal %d not found", id)
		}
		if s.Status != StatusPending {
			return agentsdberr.NewConfigError("proposal: proposal %d is not pending", id)
		}
	}

	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}
	rejected := "rejected"
	for _, id := range ids {
		s := states[id]
		if err := appendDecisionEvent(paths.ProposalsLayer, "reject", id, s.ContextID, &rejected, reasonPtr); err != nil {
			return err
		}
	}
	return nil
}
