package requesttrace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIntoContextAndFromContext(t *testing.T) {
	audit := Service("webapp-bff", "req-abc")

	ctx := IntoContext(context.Background(), audit)

	got, ok := FromContext(ctx)
	require.True(t, ok)
	require.Equal(t, audit, got)
}

func TestFromContextMissing(t *testing.T) {
	_, ok := FromContext(context.Background())
	require.False(t, ok)
}

func TestFromContextOrAnonymous(t *testing.T) {
	audit := FromContextOrAnonymous(context.Background())
	require.Equal(t, ActorKindAnonymous, audit.ActorKind)
	require.Nil(t, audit.Caller)
}

func TestService(t *testing.T) {
	audit := Service("chatbot-runtime", "req-xyz")
	require.Equal(t, ActorKindService, audit.ActorKind)
	require.NotNil(t, audit.Caller)
	require.Equal(t, "chatbot-runtime", *audit.Caller)
	require.Equal(t, "req-xyz", audit.RequestID)
}

func TestAnonymous(t *testing.T) {
	audit := Anonymous("req-anon")
	require.Equal(t, ActorKindAnonymous, audit.ActorKind)
	require.Nil(t, audit.Caller)
	require.Equal(t, "req-anon", audit.RequestID)
}

func TestSystem(t *testing.T) {
	audit := System("req-sys")
	require.Equal(t, ActorKindSystem, audit.ActorKind)
	require.Nil(t, audit.Caller)
}
