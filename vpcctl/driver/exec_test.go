package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConvergenceClassification(t *testing.T) {
	assert.True(t, alreadyExists("RTNETLINK answers: File exists"))
	assert.True(t, alreadyExists(`Cannot create namespace file "/var/run/netns/ns-v-a": File exists`))
	assert.False(t, alreadyExists("Operation not permitted"))

	assert.True(t, alreadyAbsent(`Cannot find device "br-v"`))
	assert.True(t, alreadyAbsent("RTNETLINK answers: No such process"))
	assert.True(t, alreadyAbsent(`Cannot remove namespace file "/var/run/netns/ns-v-a": No such file or directory`))
	assert.True(t, alreadyAbsent("iptables: Bad rule (does a matching rule exist in that chain?)."))
	assert.True(t, alreadyAbsent("iptables: No chain/target/match by that name."))
	assert.False(t, alreadyAbsent("Operation not permitted"))
}

func TestParseNamespaceList(t *testing.T) {
	out := "ns-v-a (id: 0)\nns-v-b (id: 1)\nns-w-a\n"
	assert.Equal(t, []string{"ns-v-a", "ns-v-b", "ns-w-a"}, parseNamespaceList(out))

	assert.Nil(t, parseNamespaceList(""))
}

func TestParseDefaultRouteDev(t *testing.T) {
	out := "default via 192.168.1.1 dev enp3s0 proto dhcp metric 100 \n"
	assert.Equal(t, "enp3s0", parseDefaultRouteDev(out))

	assert.Equal(t, "", parseDefaultRouteDev(""))
	assert.Equal(t, "", parseDefaultRouteDev("default via 192.168.1.1"))
}

func TestFilterRuleArgs(t *testing.T) {
	rule := FilterRule{
		Tag:      "vpcctl:v:a",
		DstCIDR:  "10.0.1.0/24",
		Protocol: "tcp",
		Port:     80,
		Action:   ActionAccept,
	}
	assert.Equal(t, []string{
		"FORWARD",
		"-d", "10.0.1.0/24",
		"-p", "tcp", "--dport", "80",
		"-m", "comment", "--comment", "vpcctl:v:a",
		"-j", "ACCEPT",
	}, filterRuleArgs(rule))
}

func TestFilterRuleArgsDefaultDrop(t *testing.T) {
	rule := FilterRule{
		Tag:     "vpcctl:v:a",
		DstCIDR: "10.0.1.0/24",
		Action:  ActionDrop,
	}
	assert.Equal(t, []string{
		"FORWARD",
		"-d", "10.0.1.0/24",
		"-m", "comment", "--comment", "vpcctl:v:a",
		"-j", "DROP",
	}, filterRuleArgs(rule))
}

func TestFilterRuleArgsPeering(t *testing.T) {
	rule := FilterRule{
		Tag:     "vpcctl:peer:v:w",
		SrcCIDR: "10.0.0.0/16",
		DstCIDR: "10.1.0.0/16",
		Action:  ActionAccept,
	}
	assert.Equal(t, []string{
		"FORWARD",
		"-s", "10.0.0.0/16",
		"-d", "10.1.0.0/16",
		"-m", "comment", "--comment", "vpcctl:peer:v:w",
		"-j", "ACCEPT",
	}, filterRuleArgs(rule))
}

func TestTaggedRuleDeletions(t *testing.T) {
	out := `-P FORWARD ACCEPT
-A FORWARD -d 10.0.1.0/24 -p tcp -m tcp --dport 80 -m comment --comment vpcctl:v:a -j ACCEPT
-A FORWARD -d 10.0.1.0/24 -m comment --comment vpcctl:v:a -j DROP
-A FORWARD -d 10.0.2.0/24 -m comment --comment vpcctl:v:b -j ACCEPT
-A FORWARD -s 172.16.0.0/12 -j ACCEPT
`
	deletions := taggedRuleDeletions(out, "vpcctl:v:a")
	assert.Len(t, deletions, 2)
	assert.Equal(t, "-D", deletions[0][0])
	assert.Contains(t, deletions[0], "--dport")
	assert.Contains(t, deletions[1], "DROP")

	assert.Empty(t, taggedRuleDeletions(out, "vpcctl:v:zz"))
}

func TestTaggedRuleDeletionsQuotedComment(t *testing.T) {
	// iptables-save quotes comments; -S output on some versions does too.
	out := `-A FORWARD -d 10.0.1.0/24 -m comment --comment "vpcctl:v:a" -j DROP` + "\n"
	deletions := taggedRuleDeletions(out, "vpcctl:v:a")
	assert.Len(t, deletions, 1)
}
