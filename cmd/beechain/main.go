// Package main implements the beechain client CLI: upload a file to the
// cluster described by a cluster configuration file, or download one back
// out by name.
package main

import (
	"fmt"
	"os"

	"github.com/WebFirstLanguage/beechain/internal/clusterfile"
	"github.com/WebFirstLanguage/beechain/pkg/client"
	"github.com/WebFirstLanguage/beechain/pkg/manifest"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	var err error
	switch command {
	case "put", "upload":
		err = putCommand(os.Args[2:])
	case "get", "download":
		err = getCommand(os.Args[2:])
	case "verify":
		err = verifyCommand(os.Args[2:])
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `beechain - distributed chunked file store client

Usage:
  beechain put <cluster_config> <filepath>
  beechain get <cluster_config> <filename> <output_path>
  beechain verify <path_a> <path_b>
  beechain help

put uploads filepath, chunking and scattering it across the cluster's
storage nodes and recording its manifest on the metadata chain.

get retrieves filename's manifest from the metadata chain, fetches every
chunk, reassembles them, and verifies the result's root digest before
writing output_path.

verify computes the content identifier (root digest) of two local files
and reports whether they match, without touching the cluster.
`)
}

func newClient(configPath string) (*client.Client, error) {
	cluster, err := clusterfile.Load(configPath)
	if err != nil {
		return nil, err
	}

	var storageAddrs, metaAddrs []string
	for _, n := range cluster.StorageNodes() {
		storageAddrs = append(storageAddrs, n.Addr())
	}
	for _, n := range cluster.MetadataNodes() {
		metaAddrs = append(metaAddrs, n.Addr())
	}
	return client.New(storageAddrs, metaAddrs)
}

func putCommand(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: beechain put <cluster_config> <filepath>")
	}
	c, err := newClient(args[0])
	if err != nil {
		return err
	}

	stats, err := c.Upload(args[1])
	if err != nil {
		return err
	}
	fmt.Printf("Upload complete: %d chunks transferred in %s (metadata in %s, total %s)\n",
		stats.ChunksTransferred, stats.ChunkUploadDuration, stats.MetadataUploadDuration, stats.TotalDuration)
	return nil
}

func getCommand(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: beechain get <cluster_config> <filename> <output_path>")
	}
	c, err := newClient(args[0])
	if err != nil {
		return err
	}

	stats, err := c.Download(args[1], args[2])
	if err != nil {
		return err
	}
	fmt.Printf("Download complete: %d chunks retrieved in %s, written to %s\n",
		stats.ChunksTransferred, stats.TotalDuration, args[2])
	return nil
}

func verifyCommand(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: beechain verify <path_a> <path_b>")
	}

	cidA, err := rootDigestOf(args[0])
	if err != nil {
		return err
	}
	cidB, err := rootDigestOf(args[1])
	if err != nil {
		return err
	}

	if cidA == cidB {
		fmt.Printf("MATCH: %s\n", cidA)
		return nil
	}
	fmt.Printf("MISMATCH: %s (%s) != %s (%s)\n", args[0], cidA, args[1], cidB)
	return fmt.Errorf("content identifiers differ")
}

func rootDigestOf(path string) (string, error) {
	chunks, err := manifest.SplitFile(path)
	if err != nil {
		return "", err
	}
	m := manifest.BuildManifest(path, chunks)
	return m.RootDigest, nil
}
