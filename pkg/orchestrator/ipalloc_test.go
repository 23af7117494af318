package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGroupGatewayIPIsFirstUsableAddress(t *testing.T) {
	gw, err := GroupGatewayIP("10.0.0.0/24")
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1", gw.String())
}

func TestAllocateServiceIPSkipsGatewayAndUsedAddresses(t *testing.T) {
	used := map[string]bool{"10.0.0.2": true, "10.0.0.3": true}
	ip, err := AllocateServiceIP("10.0.0.0/24", used)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.4", ip.String())
}

func TestAllocateServiceIPIsDeterministic(t *testing.T) {
	a, err := AllocateServiceIP("192.168.1.0/28", map[string]bool{})
	require.NoError(t, err)
	b, err := AllocateServiceIP("192.168.1.0/28", map[string]bool{})
	require.NoError(t, err)
	require.Equal(t, a.String(), b.String())
}

func TestAllocateServiceIPReportsExhaustedPool(t *testing.T) {
	// /30 has exactly one usable non-gateway, non-broadcast address.
	used := map[string]bool{"10.0.0.2": true}
	_, err := AllocateServiceIP("10.0.0.0/30", used)
	require.Error(t, err)
}

func TestDownFilterMatchesNilAndEmptyAsWildcard(t *testing.T) {
	var nilFilter *DownFilter
	require.True(t, nilFilter.matches("web", "main"))

	empty := &DownFilter{}
	require.True(t, empty.matches("web", "main"))

	byName := &DownFilter{Name: "web"}
	require.True(t, byName.matches("web", "main"))
	require.False(t, byName.matches("api", "main"))

	byGroup := &DownFilter{Group: "main"}
	require.True(t, byGroup.matches("web", "main"))
	require.False(t, byGroup.matches("web", "other"))
}
