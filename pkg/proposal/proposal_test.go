package proposal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krazyjakee/agentsdb/pkg/layer"
)

func TestProposeThenAcceptPromotesAndMarksDecided(t *testing.T) {
	dir := t.TempDir()
	paths := StandardResolvedPaths(dir)

	require.NoError(t, layer.Write(paths.Delta, layer.Schema{Dim: 2, ElementType: layer.ElementF32, QuantScale: 1.0}, []layer.Input{
		{Kind: "fact", Content: "staged", Author: layer.AuthorHuman, Confidence: 1, Embedding: []float32{1, 0}},
	}, nil, layer.WriteOptions{}))

	proposalID, err := Propose(paths.ProposalsLayer, ProposeRequest{ContextID: 1}, 0)
	require.NoError(t, err)

	states, err := LoadStates(paths.ProposalsLayer)
	require.NoError(t, err)
	require.Contains(t, states, proposalID)
	assert.Equal(t, StatusPending, states[proposalID].Status)
	assert.Equal(t, "AGENTS.delta.db", states[proposalID].FromPath)
	assert.Equal(t, "AGENTS.user.db", states[proposalID].ToPath)

	outcome, err := Accept(dir, paths, []layer.ChunkID{proposalID}, false)
	require.NoError(t, err)
	assert.Equal(t, []layer.ChunkID{1}, outcome.Promoted)

	states2, err := LoadStates(paths.ProposalsLayer)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, states2[proposalID].Status)
	assert.Equal(t, "human", states2[proposalID].DecidedBy)
	assert.Equal(t, "promoted", states2[proposalID].DecisionOutcome)

	userLf, err := layer.Open(paths.User)
	require.NoError(t, err)
	defer userLf.Close()
	chunks, err := userLf.AllChunks()
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "staged", chunks[0].Content)
}

func TestRejectMarksProposalRejectedWithReason(t *testing.T) {
	dir := t.TempDir()
	paths := StandardResolvedPaths(dir)
	require.NoError(t, layer.Write(paths.Delta, layer.Schema{Dim: 2, ElementType: layer.ElementF32, QuantScale: 1.0}, []layer.Input{
		{Kind: "fact", Content: "staged", Author: layer.AuthorHuman, Confidence: 1, Embedding: []float32{1, 0}},
	}, nil, layer.WriteOptions{}))

	proposalID, err := Propose(paths.ProposalsLayer, ProposeRequest{ContextID: 1}, 0)
	require.NoError(t, err)

	require.NoError(t, Reject(paths, []layer.ChunkID{proposalID}, "not ready"))

	states, err := LoadStates(paths.ProposalsLayer)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, states[proposalID].Status)
	assert.Equal(t, "not ready", states[proposalID].DecisionReason)
}

func TestAcceptRejectsNonPendingProposal(t *testing.T) {
	dir := t.TempDir()
	paths := StandardResolvedPaths(dir)
	require.NoError(t, layer.Write(paths.Delta, layer.Schema{Dim: 2, ElementType: layer.ElementF32, QuantScale: 1.0}, []layer.Input{
		{Kind: "fact", Content: "staged", Author: layer.AuthorHuman, Confidence: 1, Embedding: []float32{1, 0}},
	}, nil, layer.WriteOptions{}))
	proposalID, err := Propose(paths.ProposalsLayer, ProposeRequest{ContextID: 1}, 0)
	require.NoError(t, err)
	require.NoError(t, Reject(paths, []layer.ChunkID{proposalID}, ""))

	_, err = Accept(dir, paths, []layer.ChunkID{proposalID}, false)
	require.Error(t, err)
}

func TestAcceptRejectsProposalTargetingBase(t *testing.T) {
	dir := t.TempDir()
	paths := StandardResolvedPaths(dir)
	require.NoError(t, layer.Write(paths.Delta, layer.Schema{Dim: 2, ElementType: layer.ElementF32, QuantScale: 1.0}, []layer.Input{
		{Kind: "fact", Content: "staged", Author: layer.AuthorHuman, Confidence: 1, Embedding: []float32{1, 0}},
	}, nil, layer.WriteOptions{}))
	proposalID, err := Propose(paths.ProposalsLayer, ProposeRequest{ContextID: 1, ToPath: "AGENTS.db"}, 0)
	require.NoError(t, err)

	_, err = Accept(dir, paths, []layer.ChunkID{proposalID}, false)
	require.Error(t, err)
}

func TestDecidedProposalIgnoresFurtherEvents(t *testing.T) {
	dir := t.TempDir()
	paths := StandardResolvedPaths(dir)
	require.NoError(t, layer.Write(paths.Delta, layer.Schema{Dim: 2, ElementType: layer.ElementF32, QuantScale: 1.0}, []layer.Input{
		{Kind: "fact", Content: "staged", Author: layer.AuthorHuman, Confidence: 1, Embedding: []float32{1, 0}},
	}, nil, layer.WriteOptions{}))
	proposalID, err := Propose(paths.ProposalsLayer, ProposeRequest{ContextID: 1}, 0)
	require.NoError(t, err)
	require.NoError(t, Reject(paths, []layer.ChunkID{proposalID}, "first"))

	rejected := "rejected"
	second := "second"
	require.NoError(t, appendDecisionEvent(paths.ProposalsLayer, "reject", proposalID, 1, &rejected, &second))

	states, err := LoadStates(paths.ProposalsLayer)
	require.NoError(t, err)
	assert.Equal(t, "first", states[proposalID].DecisionReason)
}

func TestResolveLabelHandlesStandardAndCustomPaths(t *testing.T) {
	dir := t.TempDir()
	paths := StandardResolvedPaths(dir)
	assert.Equal(t, paths.Delta, paths.ResolveLabel(dir, "AGENTS.delta.db"))
	assert.Equal(t, paths.User, paths.ResolveLabel(dir, "AGENTS.user.db"))
	assert.Equal(t, filepath.Join(dir, "custom.db"), paths.ResolveLabel(dir, "custom.db"))
}
