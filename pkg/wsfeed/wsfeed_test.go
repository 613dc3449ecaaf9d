package wsfeed_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tbenself/clawops/pkg/eventlog"
	"github.com/tbenself/clawops/pkg/wsfeed"
)

type fakeCatchup struct {
	events []*eventlog.Event
}

func (f *fakeCatchup) ByTSRange(_ context.Context, _ string, _ int64, _ *int64, _ *string, limit int) ([]*eventlog.Event, error) {
	if len(f.events) > limit {
		return f.events[:limit], nil
	}
	return f.events, nil
}

func TestManager_ActiveConnectionsStartsAtZero(t *testing.T) {
	m := wsfeed.New(&fakeCatchup{}, time.Second)
	assert.Equal(t, 0, m.ActiveConnections())
}

func TestManager_BroadcastToEmptyProjectIsNoop(t *testing.T) {
	m := wsfeed.New(&fakeCatchup{}, time.Second)
	assert.NotPanics(t, func() {
		m.Broadcast("no-such-project", map[string]string{"type": "card.updated"})
	})
}
