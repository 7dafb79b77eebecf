package driver

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockConvergence(t *testing.T) {
	m := NewMockDriver()

	require.NoError(t, m.EnsureBridge("br-v"))
	require.NoError(t, m.EnsureBridge("br-v"))
	assert.True(t, m.HasBridge("br-v"))

	require.NoError(t, m.DeleteBridge("br-v"))
	require.NoError(t, m.DeleteBridge("br-v"))
	assert.False(t, m.HasBridge("br-v"))
}

func TestMockVethMoveAndRename(t *testing.T) {
	m := NewMockDriver()

	require.NoError(t, m.CreateNamespace("ns-v-a"))
	require.NoError(t, m.CreateVethPair("veth-v-a-h", "veth-v-a-n"))
	require.NoError(t, m.MoveToNamespace("veth-v-a-n", "ns-v-a", "eth0"))

	assert.True(t, m.HasLink("veth-v-a-h"))
	assert.False(t, m.HasLink("veth-v-a-n"))
	assert.True(t, m.HasNamespaceLink("ns-v-a", "eth0"))

	require.NoError(t, m.NamespaceAssignAddress("ns-v-a", "eth0", "10.0.1.2/24"))
	assert.Equal(t, []string{"10.0.1.2/24"}, m.NamespaceLinkAddresses("ns-v-a", "eth0"))
}

func TestMockNamespaceDeletionRemovesVethPair(t *testing.T) {
	m := NewMockDriver()

	require.NoError(t, m.CreateNamespace("ns-v-a"))
	require.NoError(t, m.CreateVethPair("veth-v-a-h", "veth-v-a-n"))
	require.NoError(t, m.MoveToNamespace("veth-v-a-n", "ns-v-a", "eth0"))
	require.NoError(t, m.NamespaceAddRoute("ns-v-a", "default", "10.0.1.1"))

	require.NoError(t, m.DeleteNamespace("ns-v-a"))

	assert.False(t, m.HasNamespace("ns-v-a"))
	assert.False(t, m.HasNamespaceLink("ns-v-a", "eth0"))
	// The host half of the veth pair goes with the namespace half.
	assert.False(t, m.HasLink("veth-v-a-h"))
}

func TestMockEth0PerNamespace(t *testing.T) {
	m := NewMockDriver()

	for _, ns := range []string{"ns-v-a", "ns-v-b"} {
		require.NoError(t, m.CreateNamespace(ns))
	}
	require.NoError(t, m.CreateVethPair("veth-v-a-h", "veth-v-a-n"))
	require.NoError(t, m.CreateVethPair("veth-v-b-h", "veth-v-b-n"))
	require.NoError(t, m.MoveToNamespace("veth-v-a-n", "ns-v-a", "eth0"))
	require.NoError(t, m.MoveToNamespace("veth-v-b-n", "ns-v-b", "eth0"))

	require.NoError(t, m.NamespaceAssignAddress("ns-v-a", "eth0", "10.0.1.2/24"))
	require.NoError(t, m.NamespaceAssignAddress("ns-v-b", "eth0", "10.0.2.2/24"))

	assert.Equal(t, []string{"10.0.1.2/24"}, m.NamespaceLinkAddresses("ns-v-a", "eth0"))
	assert.Equal(t, []string{"10.0.2.2/24"}, m.NamespaceLinkAddresses("ns-v-b", "eth0"))
}

func TestMockFailureInjection(t *testing.T) {
	m := NewMockDriver()
	boom := errors.New("boom")
	m.FailOn["create-namespace:ns-v-a"] = boom

	assert.ErrorIs(t, m.CreateNamespace("ns-v-a"), boom)
	require.NoError(t, m.CreateNamespace("ns-v-b"))
}

func TestMockFilterRuleOrder(t *testing.T) {
	m := NewMockDriver()

	r1 := FilterRule{Tag: "vpcctl:v:a", DstCIDR: "10.0.1.0/24", Protocol: "tcp", Port: 80, Action: ActionAccept}
	r2 := FilterRule{Tag: "vpcctl:v:a", DstCIDR: "10.0.1.0/24", Action: ActionDrop}
	r3 := FilterRule{Tag: "vpcctl:v:b", DstCIDR: "10.0.2.0/24", Action: ActionDrop}

	require.NoError(t, m.AddFilterRule(r1))
	require.NoError(t, m.AddFilterRule(r2))
	require.NoError(t, m.AddFilterRule(r3))
	assert.Equal(t, []FilterRule{r1, r2, r3}, m.FilterRules())

	require.NoError(t, m.RemoveFilterRules("vpcctl:v:a"))
	assert.Equal(t, []FilterRule{r3}, m.FilterRules())
}
