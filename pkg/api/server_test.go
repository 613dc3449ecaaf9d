package api

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbenself/clawops/pkg/artifacts"
	"github.com/tbenself/clawops/pkg/commands"
	"github.com/tbenself/clawops/pkg/decisions"
	"github.com/tbenself/clawops/pkg/guard"
	"github.com/tbenself/clawops/pkg/projects"
	"github.com/tbenself/clawops/pkg/wsfeed"
)

func TestServer_ValidateWiring(t *testing.T) {
	t.Run("all services wired", func(t *testing.T) {
		s := &Server{
			guard:     &guard.Guard{},
			commands:  &commands.Admitter{},
			artifacts: &artifacts.Registry{},
			decisions: &decisions.Lifecycle{},
			projects:  &projects.Service{},
			feed:      &wsfeed.Manager{},
		}
		assert.NoError(t, s.ValidateWiring())
	})

	t.Run("no services wired", func(t *testing.T) {
		s := &Server{}
		err := s.ValidateWiring()
		require.Error(t, err)

		msg := err.Error()
		assert.Contains(t, msg, "server wiring incomplete")
		assert.Contains(t, msg, "guard")
		assert.Contains(t, msg, "commands")
		assert.Contains(t, msg, "artifacts")
		assert.Contains(t, msg, "decisions")
		assert.Contains(t, msg, "projects")
		assert.Contains(t, msg, "feed")
		assert.Equal(t, 6, strings.Count(msg, "not set"))
	})

	t.Run("partial wiring reports only missing", func(t *testing.T) {
		s := &Server{
			guard:    &guard.Guard{},
			commands: &commands.Admitter{},
			projects: &projects.Service{},
		}
		err := s.ValidateWiring()
		require.Error(t, err)

		msg := err.Error()
		assert.Contains(t, msg, "artifacts")
		assert.Contains(t, msg, "decisions")
		assert.Contains(t, msg, "feed")
		assert.NotContains(t, msg, "guard not set")
		assert.NotContains(t, msg, "commands not set")
		assert.NotContains(t, msg, "projects not set")
	})
}

func TestMapDomainError_FallsBackToInternalServerError(t *testing.T) {
	httpErr := mapDomainError(assert.AnError)
	assert.Equal(t, 500, httpErr.Code)
}
