package rtc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConnStateTerminal(t *testing.T) {
	require.False(t, ConnStateNew.Terminal())
	require.False(t, ConnStateConnecting.Terminal())
	require.False(t, ConnStateConnected.Terminal())
	require.False(t, ConnStateDisconnected.Terminal())
	require.True(t, ConnStateFailed.Terminal())
	require.True(t, ConnStateClosed.Terminal())
}

func TestConnStateString(t *testing.T) {
	require.Equal(t, "connected", ConnStateConnected.String())
	require.Equal(t, "failed", ConnStateFailed.String())
	require.Equal(t, "unknown", ConnState(99).String())
}
