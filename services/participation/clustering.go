package participation

import (
	"fmt"
	"math"
	"net"

	"github.com/goldcoin/popnode/chaincfg"
	"github.com/goldcoin/popnode/model"
)

// SubnetClass is the IPv4 prefix length nodes are grouped by.
type SubnetClass int

const (
	ClassC  SubnetClass = 24
	Block20 SubnetClass = 20
	Block16 SubnetClass = 16
)

const (
	// MaxNodesPerSubnet is the number of non-veteran nodes allowed in a flagged subnet.
	MaxNodesPerSubnet = 2

	suspiciousClassCCount = 2
	attackBlock20Count    = 10
	maxDiversityPenalty   = 0.5
)

// ClusterAnalysis is the verdict on one node's neighbourhood.
type ClusterAnalysis struct {
	RecommendedMask   SubnetClass `json:"recommended_mask"`
	NodeCountInSubnet int         `json:"node_count_in_subnet"`
	TierCount         int         `json:"tier_count"`
	ClusteredNodes    []net.IP    `json:"clustered_nodes,omitempty"`
	Suspicious        bool        `json:"suspicious"`
	Analysis          string      `json:"analysis"`
}

// ClusteringDetector limits how many participants may share a network.
type ClusteringDetector struct {
	params *chaincfg.Params
}

func NewClusteringDetector(params *chaincfg.Params) *ClusteringDetector {
	return &ClusteringDetector{params: params}
}

// AnalyzeIPClustering counts existing nodes sharing the new node's /24. More than two
// escalate to /20, and more than ten in the /20 to /16.
func (d *ClusteringDetector) AnalyzeIPClustering(node net.IP, existing []net.IP) ClusterAnalysis {
	if node == nil {
		return ClusterAnalysis{RecommendedMask: ClassC, Analysis: "Normal: no address"}
	}

	clustered := nodesInSubnet(node, ClassC, existing)

	analysis := ClusterAnalysis{
		RecommendedMask:   ClassC,
		NodeCountInSubnet: len(clustered),
		TierCount:         len(clustered),
		ClusteredNodes:    clustered,
	}

	if len(clustered) <= suspiciousClassCCount {
		analysis.Analysis = fmt.Sprintf("Normal: %d nodes in /24 subnet", len(clustered))
		return analysis
	}

	analysis.Suspicious = true
	analysis.RecommendedMask = Block20
	analysis.Analysis = fmt.Sprintf("Suspicious: %d nodes in /24 subnet", len(clustered))

	in20 := nodesInSubnet(node, Block20, existing)
	analysis.TierCount = len(in20)

	if len(in20) > attackBlock20Count {
		analysis.RecommendedMask = Block16
		analysis.TierCount = len(nodesInSubnet(node, Block16, existing))
		analysis.Analysis = fmt.Sprintf("Attack pattern: %d nodes in /20 block", len(in20))
	}

	return analysis
}

// ShouldAllowNode admits veterans always and everyone else only while the flagged subnet
// tier holds at most MaxNodesPerSubnet nodes.
func (d *ClusteringDetector) ShouldAllowNode(metrics *model.WalletMetrics, analysis ClusterAnalysis) bool {
	if !analysis.Suspicious {
		return true
	}

	if metrics.CoinAgeBlocks >= d.params.VeteranCoinAge() {
		return true
	}

	return analysis.TierCount <= MaxNodesPerSubnet
}

// DiversityPenalty is the share of weight lost to clustering.
func DiversityPenalty(analysis ClusterAnalysis) float64 {
	if !analysis.Suspicious {
		return 0
	}

	return math.Min(maxDiversityPenalty, 0.1*float64(analysis.NodeCountInSubnet-suspiciousClassCCount))
}

func subnetMask(ip net.IP, class SubnetClass) (net.IP, net.IPMask) {
	if v4 := ip.To4(); v4 != nil {
		return v4, net.CIDRMask(int(class), 32)
	}

	// IPv6 networks are grouped by twice the IPv4 prefix length
	return ip.To16(), net.CIDRMask(int(class)*2, 128)
}

func nodesInSubnet(node net.IP, class SubnetClass, nodes []net.IP) []net.IP {
	ip, mask := subnetMask(node, class)
	if ip == nil {
		return nil
	}

	subnet := ip.Mask(mask)

	var matches []net.IP

	for _, other := range nodes {
		otherIP, otherMask := subnetMask(other, class)
		if otherIP == nil || len(otherMask) != len(mask) {
			continue
		}

		if otherIP.Mask(otherMask).Equal(subnet) {
			matches = append(matches, other)
		}
	}

	return matches
}
