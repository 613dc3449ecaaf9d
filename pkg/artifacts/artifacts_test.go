package artifacts_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testdb "github.com/tbenself/clawops/test/database"

	"github.com/tbenself/clawops/pkg/artifacts"
	"github.com/tbenself/clawops/pkg/coreerr"
	"github.com/tbenself/clawops/pkg/eventlog"
)

func newRegistry(t *testing.T) *artifacts.Registry {
	t.Helper()
	client := testdb.NewTestClient(t)
	log := eventlog.New(client.Client, eventlog.Producer{Service: "clawops", Version: "test"})
	store := artifacts.NewLocalStore(t.TempDir())
	return artifacts.New(client.Client, log, store)
}

func TestReportArtifact_NewAndDuplicate(t *testing.T) {
	reg := newRegistry(t)
	ctx := context.Background()

	in := artifacts.ReportInput{
		TenantID:      "t1",
		ProjectID:     "p1",
		CorrelationID: "c1",
		Content:       "# Digest",
		Encoding:      artifacts.EncodingUTF8,
		ContentType:   "text/markdown",
		LogicalName:   "digest.md",
	}

	first, err := reg.ReportArtifact(ctx, in)
	require.NoError(t, err)
	assert.False(t, first.Deduplicated)
	assert.NotEmpty(t, first.ArtifactID)

	second, err := reg.ReportArtifact(ctx, in)
	require.NoError(t, err)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.ArtifactID, second.ArtifactID)
}

func TestReportArtifact_Base64Decoding(t *testing.T) {
	reg := newRegistry(t)
	ctx := context.Background()

	// "hello" base64-encoded.
	res, err := reg.ReportArtifact(ctx, artifacts.ReportInput{
		TenantID:      "t1",
		ProjectID:     "p1",
		CorrelationID: "c1",
		Content:       "aGVsbG8=",
		Encoding:      artifacts.EncodingBase64,
		ContentType:   "application/octet-stream",
		LogicalName:   "payload.bin",
	})
	require.NoError(t, err)
	assert.False(t, res.Deduplicated)
}

func TestResolve_FiltersToProjectScope(t *testing.T) {
	reg := newRegistry(t)
	ctx := context.Background()

	res, err := reg.ReportArtifact(ctx, artifacts.ReportInput{
		TenantID:      "t1",
		ProjectID:     "p1",
		CorrelationID: "c1",
		Content:       "body",
		Encoding:      artifacts.EncodingUTF8,
		ContentType:   "text/plain",
		LogicalName:   "notes.txt",
	})
	require.NoError(t, err)

	manifests, err := reg.Resolve(ctx, "p1", []string{res.ArtifactID})
	require.NoError(t, err)
	require.Len(t, manifests, 1)
	assert.Equal(t, res.ArtifactID, manifests[0].ArtifactID)

	none, err := reg.Resolve(ctx, "other-project", []string{res.ArtifactID})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGetArtifact_CrossProjectIsNotFound(t *testing.T) {
	reg := newRegistry(t)
	ctx := context.Background()

	res, err := reg.ReportArtifact(ctx, artifacts.ReportInput{
		TenantID:      "t1",
		ProjectID:     "p1",
		CorrelationID: "c1",
		Content:       "body",
		Encoding:      artifacts.EncodingUTF8,
		ContentType:   "text/plain",
		LogicalName:   "notes.txt",
	})
	require.NoError(t, err)

	row, err := reg.GetArtifact(ctx, "p1", res.ArtifactID)
	require.NoError(t, err)
	assert.Equal(t, res.ArtifactID, row.ID)

	_, err = reg.GetArtifact(ctx, "other-project", res.ArtifactID)
	assert.ErrorIs(t, err, coreerr.ErrNotFound)
}

func TestArtifactsForRunAndCommand_ScopeToProject(t *testing.T) {
	reg := newRegistry(t)
	ctx := context.Background()

	commandID, runID := "cmd-1", "run-1"
	res, err := reg.ReportArtifact(ctx, artifacts.ReportInput{
		TenantID:      "t1",
		ProjectID:     "p1",
		CorrelationID: "c1",
		Content:       "body",
		Encoding:      artifacts.EncodingUTF8,
		ContentType:   "text/plain",
		LogicalName:   "notes.txt",
		CommandID:     &commandID,
		RunID:         &runID,
	})
	require.NoError(t, err)

	byRun, err := reg.ArtifactsForRun(ctx, "p1", runID)
	require.NoError(t, err)
	require.Len(t, byRun, 1)
	assert.Equal(t, res.ArtifactID, byRun[0].ID)

	byCommand, err := reg.ArtifactsForCommand(ctx, "p1", commandID)
	require.NoError(t, err)
	require.Len(t, byCommand, 1)
	assert.Equal(t, res.ArtifactID, byCommand[0].ID)

	none, err := reg.ArtifactsForRun(ctx, "other-project", runID)
	require.NoError(t, err)
	assert.Empty(t, none)
}
