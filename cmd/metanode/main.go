// Package main runs a single metadata node. Metadata nodes bootstrap into
// a chain ordered by ascending node id: the highest id starts as TAIL with
// no next link, and every other node's next link points at the metadata
// node with the next-higher id.
package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/WebFirstLanguage/beechain/internal/clusterfile"
	"github.com/WebFirstLanguage/beechain/pkg/metanode"
)

func main() {
	if len(os.Args) != 3 {
		printUsage()
		os.Exit(1)
	}

	configPath := os.Args[1]
	nodeID, err := strconv.Atoi(os.Args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid node id %q\n", os.Args[2])
		os.Exit(1)
	}

	if err := run(configPath, nodeID); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, nodeID int) error {
	cluster, err := clusterfile.Load(configPath)
	if err != nil {
		return err
	}
	self, ok := cluster.ByID(nodeID)
	if !ok {
		return fmt.Errorf("node id %d not present in %s", nodeID, configPath)
	}
	if !self.IsMetadataNode() {
		return fmt.Errorf("node id %d is a storage node, use cmd/storagenode instead", nodeID)
	}

	next := nextLinkFor(cluster.MetadataNodes(), nodeID)
	node := metanode.New(next)
	if next == "" {
		fmt.Printf("Metadata node %d starting on port %d as TAIL\n", nodeID, self.Port)
	} else {
		fmt.Printf("Metadata node %d starting on port %d, next=%s\n", nodeID, self.Port, next)
	}
	return node.Start(self.Port)
}

// nextLinkFor returns the address of the metadata node immediately above
// nodeID in id order, or "" if nodeID is the highest (the initial TAIL).
func nextLinkFor(metaNodes []clusterfile.Node, nodeID int) string {
	sort.Slice(metaNodes, func(i, j int) bool { return metaNodes[i].ID < metaNodes[j].ID })
	for i, n := range metaNodes {
		if n.ID == nodeID {
			if i+1 < len(metaNodes) {
				return metaNodes[i+1].Addr()
			}
			return ""
		}
	}
	return ""
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: metanode <cluster_config> <node_id>

Starts the metadata node identified by node_id in cluster_config, wiring
its chain position from the ascending order of metadata node ids.
`)
}
