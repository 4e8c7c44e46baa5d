// Package main runs a single storage node, the chunk key-value store that
// the client and the consistent-hash ring place replicas onto.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/WebFirstLanguage/beechain/internal/clusterfile"
	"github.com/WebFirstLanguage/beechain/pkg/storagenode"
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
	if self.IsMetadataNode() {
		return fmt.Errorf("node id %d is a metadata node, use cmd/metanode instead", nodeID)
	}

	node := storagenode.New()
	fmt.Printf("Storage node %d starting on port %d\n", nodeID, self.Port)
	return node.Start(self.Port)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: storagenode <cluster_config> <node_id>

Starts the storage node identified by node_id in cluster_config and serves
STORE/GET/DIE requests until it receives DIE or is killed.
`)
}
