package firewall

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mulgadc/vpcctl/vpcctl/driver"
	"github.com/mulgadc/vpcctl/vpcctl/errdefs"
	"github.com/mulgadc/vpcctl/vpcctl/store"
)

func writePolicy(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadValidPolicy(t *testing.T) {
	path := writePolicy(t, `{
		"subnet": "10.0.1.0/24",
		"ingress": [
			{"port": 80, "protocol": "tcp", "action": "allow"},
			{"port": 22, "protocol": "tcp", "action": "deny"}
		]
	}`)

	policy, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.1.0/24", policy.Subnet)
	require.Len(t, policy.Ingress, 2)
	assert.Empty(t, policy.Egress)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.True(t, errors.Is(err, errdefs.ErrValidation))
}

func TestLoadMalformedJSON(t *testing.T) {
	path := writePolicy(t, `{"subnet": `)
	_, err := Load(path)
	assert.True(t, errors.Is(err, errdefs.ErrValidation))
}

func TestValidateRejectsBadRules(t *testing.T) {
	tests := []struct {
		name   string
		policy store.Policy
	}{
		{"missing subnet", store.Policy{}},
		{"unknown action", store.Policy{Subnet: "10.0.1.0/24", Ingress: []store.Rule{{Port: 80, Protocol: "tcp", Action: "reject"}}}},
		{"unknown protocol", store.Policy{Subnet: "10.0.1.0/24", Ingress: []store.Rule{{Port: 80, Protocol: "icmp", Action: "allow"}}}},
		{"ingress missing port", store.Policy{Subnet: "10.0.1.0/24", Ingress: []store.Rule{{Protocol: "tcp", Action: "allow"}}}},
		{"ingress missing protocol", store.Policy{Subnet: "10.0.1.0/24", Ingress: []store.Rule{{Port: 80, Action: "allow"}}}},
		{"port out of range", store.Policy{Subnet: "10.0.1.0/24", Ingress: []store.Rule{{Port: 70000, Protocol: "tcp", Action: "allow"}}}},
		{"egress port without protocol", store.Policy{Subnet: "10.0.1.0/24", Egress: []store.Rule{{Port: 53, Action: "allow"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.policy)
			assert.True(t, errors.Is(err, errdefs.ErrValidation))
		})
	}
}

func TestValidateEgressWithoutPortOrProtocol(t *testing.T) {
	policy := store.Policy{
		Subnet: "10.0.1.0/24",
		Egress: []store.Rule{{Action: "deny"}},
	}
	assert.NoError(t, Validate(&policy))
}

func TestCompileOrderAndDefaultDrop(t *testing.T) {
	policy := &store.Policy{
		Subnet: "10.0.1.0/24",
		Ingress: []store.Rule{
			{Port: 80, Protocol: "tcp", Action: "allow"},
			{Port: 22, Protocol: "tcp", Action: "deny"},
		},
	}

	rules := Compile("v", "a", "10.0.1.0/24", policy)
	require.Len(t, rules, 3)

	// Listed order preserved, then the default DROP closes the subnet.
	assert.Equal(t, driver.FilterRule{Tag: "vpcctl:v:a", DstCIDR: "10.0.1.0/24", Protocol: "tcp", Port: 80, Action: driver.ActionAccept}, rules[0])
	assert.Equal(t, driver.FilterRule{Tag: "vpcctl:v:a", DstCIDR: "10.0.1.0/24", Protocol: "tcp", Port: 22, Action: driver.ActionDrop}, rules[1])
	assert.Equal(t, driver.FilterRule{Tag: "vpcctl:v:a", DstCIDR: "10.0.1.0/24", Action: driver.ActionDrop}, rules[2])
}

func TestCompileNoRulesNoDefaultDrop(t *testing.T) {
	rules := Compile("v", "a", "10.0.1.0/24", &store.Policy{Subnet: "10.0.1.0/24"})
	assert.Empty(t, rules)
}

func TestCompileEgressScopesSource(t *testing.T) {
	policy := &store.Policy{
		Subnet: "10.0.1.0/24",
		Egress: []store.Rule{{Port: 443, Protocol: "tcp", Action: "allow"}},
	}

	rules := Compile("v", "a", "10.0.1.0/24", policy)
	require.Len(t, rules, 2)
	assert.Equal(t, "10.0.1.0/24", rules[0].SrcCIDR)
	assert.Empty(t, rules[0].DstCIDR)
	assert.Equal(t, driver.ActionDrop, rules[1].Action)
	assert.Equal(t, "10.0.1.0/24", rules[1].SrcCIDR)
}

func TestTags(t *testing.T) {
	assert.Equal(t, "vpcctl:v:a", Tag("v", "a"))
	assert.Equal(t, "vpcctl:peer:v:w", PeeringTag("v", "w"))
	assert.Equal(t, "vpcctl:peer:v:w", PeeringTag("w", "v"))
}
