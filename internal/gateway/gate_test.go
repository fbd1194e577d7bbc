package gateway

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insightlab/insight/internal/client"
	"github.com/insightlab/insight/internal/model"
)

func TestGate_RequireAuth_AuthenticatedPassesThrough(t *testing.T) {
	f := newFixture(t, testSessionID, Abandon)

	ident, err := f.gate.RequireAuth(context.Background(), DestinationAssessment)
	require.NoError(t, err)
	assert.Equal(t, testUserID, ident.UserID)
	assert.Zero(t, f.prompter.prompts())
	_, saved := f.intents.Pop()
	assert.False(t, saved, "no intent should be persisted when already signed in")
}

func TestGate_RequireAuth_UnknownSessionAlwaysTriggersReauth(t *testing.T) {
	for _, sid := range []string{"", "forged", "expired-session", testSessionID + "x"} {
		t.Run("session="+sid, func(t *testing.T) {
			f := newFixture(t, sid, Abandon)

			ident, err := f.gate.RequireAuth(context.Background(), DestinationHistory)
			assert.Nil(t, ident)
			require.Error(t, err)
			assert.ErrorIs(t, err, model.ErrAuthRequired)
			assert.Equal(t, 1, f.prompter.prompts(), "re-authentication must be offered")
		})
	}
}

func TestGate_RequireAuth_PersistsIntentBeforePrompting(t *testing.T) {
	f := newFixture(t, "", Proceed)

	_, err := f.gate.RequireAuth(context.Background(), "/assessment?step=3")
	require.Error(t, err)

	require.Len(t, f.prompter.intentAtPrompt, 1)
	assert.Equal(t, "/assessment?step=3", f.prompter.intentAtPrompt[0])
}

func TestGate_RequireAuth_Abandon(t *testing.T) {
	f := newFixture(t, "", Abandon)

	_, err := f.gate.RequireAuth(context.Background(), DestinationRoadmap)

	var authErr *AuthRequiredError
	require.ErrorAs(t, err, &authErr)
	assert.False(t, authErr.Redirected)
	assert.Equal(t, DestinationRoadmap, authErr.Destination)
	assert.Empty(t, f.navigator.targets, "abandoning must not navigate to the provider")
	_, saved := f.gate.ResumeDestination()
	assert.False(t, saved, "abandoned intent is discarded")
}

func TestGate_RequireAuth_ProceedHandsOffToProvider(t *testing.T) {
	f := newFixture(t, "", Proceed)

	_, err := f.gate.RequireAuth(context.Background(), DestinationAssessment)

	var authErr *AuthRequiredError
	require.ErrorAs(t, err, &authErr)
	assert.True(t, authErr.Redirected)
	assert.ErrorIs(t, err, model.ErrAuthRequired, "the caller never continues silently")

	require.Len(t, f.navigator.targets, 1)
	target, perr := url.Parse(f.navigator.targets[0])
	require.NoError(t, perr)
	assert.Equal(t, "/auth/google", target.Path)
	assert.Equal(t, DestinationAssessment, target.Query().Get("redirect"))

	dest, ok := f.gate.ResumeDestination()
	assert.True(t, ok)
	assert.Equal(t, DestinationAssessment, dest)
	_, ok = f.gate.ResumeDestination()
	assert.False(t, ok, "the destination is consumed once")
}

func TestGate_RequireAuth_NavigationFailure(t *testing.T) {
	f := newFixture(t, "", Proceed)
	f.navigator.err = errors.New("no browser")

	_, err := f.gate.RequireAuth(context.Background(), DestinationAssessment)

	var authErr *AuthRequiredError
	require.ErrorAs(t, err, &authErr)
	assert.False(t, authErr.Redirected)
	assert.ErrorIs(t, err, model.ErrAuthRequired)
	assert.Contains(t, err.Error(), "no browser")
}

func TestGate_RequireAuth_NilPrompterAbandons(t *testing.T) {
	f := newFixture(t, "", Proceed)
	gate := NewGate(f.client, nil, f.navigator, nil)

	_, err := gate.RequireAuth(context.Background(), DestinationAssessment)
	assert.ErrorIs(t, err, model.ErrAuthRequired)
	assert.Empty(t, f.navigator.targets)
}

func TestGate_CurrentIdentity_AbsorbsFailures(t *testing.T) {
	f := newFixture(t, testSessionID, Abandon)
	f.server.srv.Close()

	assert.Nil(t, f.gate.CurrentIdentity(context.Background()))
}

func TestGate_RequireAuth_IdentityCheckFailureIsNotReauth(t *testing.T) {
	t.Run("transport", func(t *testing.T) {
		f := newFixture(t, testSessionID, Proceed)
		f.server.srv.Close()

		ident, err := f.gate.RequireAuth(context.Background(), DestinationRoadmap)
		assert.Nil(t, ident)
		var terr *client.TransportError
		require.ErrorAs(t, err, &terr)
		assert.Zero(t, f.prompter.prompts())
		assert.Empty(t, f.navigator.targets)
	})

	t.Run("server error", func(t *testing.T) {
		server := newFakeServer(t)
		server.currentUserFailure = 500
		f := newFixtureWithServer(t, server, testSessionID, Proceed)

		_, err := f.gate.RequireAuth(context.Background(), DestinationRoadmap)
		var herr *client.HTTPError
		require.ErrorAs(t, err, &herr)
		assert.Equal(t, 500, herr.Status)
		assert.NotErrorIs(t, err, model.ErrAuthRequired)
		assert.Zero(t, f.prompter.prompts())
		_, saved := f.intents.Pop()
		assert.False(t, saved)
	})
}

func TestGate_RequireAuth_UnauthorizedStatusTriggersReauth(t *testing.T) {
	server := newFakeServer(t)
	server.currentUserUnauthorized = true
	f := newFixtureWithServer(t, server, "", Abandon)

	_, err := f.gate.RequireAuth(context.Background(), DestinationHistory)
	assert.ErrorIs(t, err, model.ErrAuthRequired)
	assert.Equal(t, 1, f.prompter.prompts())
}

func TestGate_LoginURL(t *testing.T) {
	f := newFixture(t, "", Abandon)

	assert.Equal(t, f.server.srv.URL+"/auth/google", f.gate.LoginURL(""))
	assert.Equal(t, f.server.srv.URL+"/auth/google?redirect=%2Fhistory%3Fpage%3D2", f.gate.LoginURL("/history?page=2"))
}

func TestMemoryIntentStore(t *testing.T) {
	s := &MemoryIntentStore{}

	_, ok := s.Pop()
	assert.False(t, ok)

	s.Save("/a")
	s.Save("/b")
	d, ok := s.Pop()
	assert.True(t, ok)
	assert.Equal(t, "/b", d)

	_, ok = s.Pop()
	assert.False(t, ok)
}

func TestDecision_String(t *testing.T) {
	assert.Equal(t, "proceed", Proceed.String())
	assert.Equal(t, "abandon", Abandon.String())
}
