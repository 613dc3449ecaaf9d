package archive_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbenself/clawops/pkg/archive"
	"github.com/tbenself/clawops/pkg/eventlog"
)

func sampleEvents() []*eventlog.Event {
	return []*eventlog.Event{
		{
			ID:            "ev-1",
			TenantID:      "t1",
			ProjectID:     "p1",
			Type:          eventlog.CardCreated,
			TS:            1000,
			CorrelationID: "c1",
			Producer:      eventlog.Producer{Service: "clawops", Version: "test"},
			Payload:       map[string]any{"title": "run digest"},
		},
		{
			ID:            "ev-2",
			TenantID:      "t1",
			ProjectID:     "p1",
			Type:          eventlog.CardTransitioned,
			TS:            2000,
			CorrelationID: "c1",
			Producer:      eventlog.Producer{Service: "clawops", Version: "test"},
			Payload:       map[string]any{"from": "READY", "to": "RUNNING"},
		},
	}
}

func TestWriteFile_ThenReadFile_RoundTrips(t *testing.T) {
	var buf bytes.Buffer
	events := sampleEvents()

	require.NoError(t, archive.WriteFile(&buf, events))

	got, err := archive.ReadFile(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "ev-1", got[0].ID)
	assert.Equal(t, "ev-2", got[1].ID)
	assert.Equal(t, int64(1000), got[0].TS)
	assert.Equal(t, "run digest", got[0].Payload["title"])
}

func TestReadFile_RejectsTamperedContent(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, archive.WriteFile(&buf, sampleEvents()))

	tampered := bytes.Replace(buf.Bytes(), []byte("run digest"), []byte("tampered!"), 1)
	require.NotEqual(t, buf.Bytes(), tampered)

	_, err := archive.ReadFile(bytes.NewReader(tampered))
	assert.ErrorIs(t, err, archive.ErrChecksumMismatch)
}

func TestReadFile_RejectsEmptyFile(t *testing.T) {
	_, err := archive.ReadFile(bytes.NewReader(nil))
	assert.Error(t, err)
}
