// Package client implements the upload/download orchestration that ties
// together the consistent-hash ring, the chunk store, and the metadata
// chain: split-hash-place on upload, locate-fetch-reassemble-verify on
// download.
package client

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/WebFirstLanguage/beechain/internal/beecherr"
	"github.com/WebFirstLanguage/beechain/internal/logging"
	"github.com/WebFirstLanguage/beechain/pkg/digest"
	"github.com/WebFirstLanguage/beechain/pkg/manifest"
	"github.com/WebFirstLanguage/beechain/pkg/ring"
	"github.com/WebFirstLanguage/beechain/pkg/transport"
)

// ReplicationFactor is how many distinct storage nodes each chunk is
// written to and how many candidates a download tries before giving up.
const ReplicationFactor = 2

// Stats records timing and outcome counters for one upload or download,
// mirroring the kind of operational numbers the original tooling printed
// to its console.
type Stats struct {
	ChunkUploadDuration    time.Duration
	MetadataUploadDuration time.Duration
	TotalDuration          time.Duration
	ChunksTransferred      int
	FailedChunks           int
}

// CumulativeStats aggregates outcome counters across every Upload/Download
// call made through a Client, mirroring the teacher's ContentStats shape
// (successful/failed puts and gets, network and integrity error tallies)
// adapted to this module's upload/download split. It is pure
// observability and never influences control flow.
type CumulativeStats struct {
	SuccessfulUploads   uint64
	FailedUploads       uint64
	SuccessfulDownloads uint64
	FailedDownloads     uint64
	ChunksTransferred   uint64
	FailedChunks        uint64
	NetworkErrors       uint64
	IntegrityErrors     uint64
}

// Client drives uploads and downloads against a storage-node ring and an
// ordered list of metadata-node addresses.
type Client struct {
	ring          *ring.Ring
	metadataNodes []string
	log           *logging.Logger

	statsMu sync.Mutex
	stats   CumulativeStats
}

// New creates a Client. storageNodes populate the consistent-hash ring;
// metadataNodes is tried in order for PUT and in reverse order for GET,
// matching the original tool's "newest metadata node answers first" probe
// order.
func New(storageNodes, metadataNodes []string) (*Client, error) {
	r := ring.New()
	for _, addr := range storageNodes {
		if err := r.Add(addr); err != nil {
			return nil, fmt.Errorf("build storage ring: %w", err)
		}
	}
	nodes := make([]string, len(metadataNodes))
	copy(nodes, metadataNodes)

	return &Client{
		ring:          r,
		metadataNodes: nodes,
		log:           logging.New("client"),
	}, nil
}

// Stats returns a snapshot of the cumulative counters recorded across
// every Upload/Download call made through this Client so far.
func (c *Client) Stats() CumulativeStats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

func (c *Client) recordUpload(stats Stats, err error) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.stats.ChunksTransferred += uint64(stats.ChunksTransferred)
	c.stats.FailedChunks += uint64(stats.FailedChunks)
	if err != nil {
		c.stats.FailedUploads++
		classifyError(&c.stats, err)
		return
	}
	c.stats.SuccessfulUploads++
}

func (c *Client) recordDownload(stats Stats, err error) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.stats.ChunksTransferred += uint64(stats.ChunksTransferred)
	c.stats.FailedChunks += uint64(stats.FailedChunks)
	if err != nil {
		c.stats.FailedDownloads++
		classifyError(&c.stats, err)
		return
	}
	c.stats.SuccessfulDownloads++
}

func classifyError(stats *CumulativeStats, err error) {
	var be *beecherr.Error
	if !errors.As(err, &be) {
		return
	}
	switch be.Kind {
	case beecherr.KindIntegrity:
		stats.IntegrityErrors++
	case beecherr.KindTransport:
		stats.NetworkErrors++
	}
}

// Upload splits path into chunks, writes each chunk to its ring-assigned
// storage nodes, then PUTs the resulting manifest to the first metadata
// node that accepts it.
func (c *Client) Upload(path string) (Stats, error) {
	stats, err := c.upload(path)
	c.recordUpload(stats, err)
	return stats, err
}

func (c *Client) upload(path string) (Stats, error) {
	var stats Stats
	start := time.Now()

	info, err := os.Stat(path)
	if err != nil {
		return stats, fmt.Errorf("stat %s: %w", path, err)
	}
	chunks, err := manifest.SplitFile(path)
	if err != nil {
		return stats, err
	}
	m := manifest.BuildManifest(filenameOf(path), chunks)
	c.log.Infof("uploading %s (%d bytes, %d chunks), root digest %s", path, info.Size(), len(chunks), m.RootDigest)

	chunkStart := time.Now()
	for _, chunk := range chunks {
		nodes := c.ring.Lookup(chunk.Digest, ReplicationFactor)
		if len(nodes) == 0 {
			return stats, beecherr.NewConfigurationError("no storage nodes configured")
		}

		success := 0
		for _, node := range nodes {
			if c.storeChunk(node, chunk) {
				success++
			} else {
				stats.FailedChunks++
				c.log.Warnf("failed to store chunk %d on %s", chunk.Index, node)
			}
		}
		if success == 0 {
			return stats, beecherr.NewTransportError(
				fmt.Sprintf("failed to store chunk %d on any of %v", chunk.Index, nodes), nil)
		}
		stats.ChunksTransferred++
	}
	stats.ChunkUploadDuration = time.Since(chunkStart)

	metaStart := time.Now()
	if err := c.putManifest(m); err != nil {
		return stats, err
	}
	stats.MetadataUploadDuration = time.Since(metaStart)
	stats.TotalDuration = time.Since(start)
	return stats, nil
}

func (c *Client) storeChunk(node string, chunk manifest.Chunk) bool {
	conn, err := transport.Dial(node)
	if err != nil {
		return false
	}
	defer conn.Close()

	if err := conn.Send([]byte("STORE " + chunk.Digest)); err != nil {
		return false
	}
	if string(conn.Recv()) != "READY" {
		return false
	}
	if err := conn.Send(chunk.Bytes); err != nil {
		return false
	}
	return string(conn.Recv()) == "ACK"
}

func (c *Client) putManifest(m manifest.FileManifest) error {
	hashes := "-"
	if len(m.ChunkDigests) > 0 {
		hashes = strings.Join(m.ChunkDigests, ",")
	}
	cmd := fmt.Sprintf("PUT %s %d %d %d %s %s", m.Filename, m.FileSize, m.ChunkSize, m.TotalChunks, m.RootDigest, hashes)

	for _, node := range c.metadataNodes {
		c.log.Debugf("trying to PUT metadata to %s", node)
		conn, err := transport.Dial(node)
		if err != nil {
			c.log.Warnf("failed to connect to %s: %v", node, err)
			continue
		}
		err = conn.Send([]byte(cmd))
		var resp string
		if err == nil {
			resp = string(conn.Recv())
		}
		conn.Close()
		if err == nil && resp == "ACK" {
			c.log.Infof("metadata uploaded to %s", node)
			return nil
		}
	}
	return beecherr.NewTransportError("failed to upload metadata to any metadata node", nil)
}

// Download retrieves filename's manifest, fetches every chunk from a
// ring-assigned storage node, reassembles them in order to outPath, and
// verifies the result against the manifest's root digest.
func (c *Client) Download(filename, outPath string) (Stats, error) {
	stats, err := c.download(filename, outPath)
	c.recordDownload(stats, err)
	return stats, err
}

func (c *Client) download(filename, outPath string) (Stats, error) {
	var stats Stats
	start := time.Now()

	m, err := c.getManifest(filename)
	if err != nil {
		return stats, err
	}
	c.log.Infof("metadata found for %s, root digest %s", filename, m.RootDigest)

	chunkData := make([][]byte, len(m.ChunkDigests))
	for i, chunkDigest := range m.ChunkDigests {
		nodes := c.ring.Lookup(chunkDigest, ReplicationFactor)
		var data []byte
		for _, node := range nodes {
			data = c.fetchChunk(node, chunkDigest)
			if len(data) > 0 {
				c.log.Debugf("retrieved chunk %d from %s", i, node)
				break
			}
		}
		if len(data) == 0 {
			stats.FailedChunks++
			return stats, beecherr.NewNotFoundError(fmt.Sprintf("chunk %d (%s) unavailable on any replica", i, chunkDigest))
		}
		chunkData[i] = data
		stats.ChunksTransferred++
	}

	if err := verifyRootDigest(m.ChunkDigests, chunkData, m.RootDigest); err != nil {
		return stats, err
	}

	f, err := os.Create(outPath)
	if err != nil {
		return stats, fmt.Errorf("create %s: %w", outPath, err)
	}
	defer f.Close()
	if err := manifest.Reassemble(f, chunkData); err != nil {
		return stats, err
	}

	stats.TotalDuration = time.Since(start)
	return stats, nil
}

// verifyRootDigest recomputes each chunk's digest from its downloaded
// bytes and the root digest from that list, rejecting the download if
// either disagrees with what the manifest claimed.
func verifyRootDigest(claimedDigests []string, chunkData [][]byte, rootDigest string) error {
	actual := make([]string, len(chunkData))
	for i, data := range chunkData {
		actual[i] = digest.Sum(data)
		if actual[i] != claimedDigests[i] {
			return beecherr.NewIntegrityError(
				fmt.Sprintf("chunk %d digest mismatch: manifest says %s, downloaded data hashes to %s", i, claimedDigests[i], actual[i]))
		}
	}
	if got := digest.RootDigest(actual); got != rootDigest {
		return beecherr.NewIntegrityError(
			fmt.Sprintf("root digest mismatch: manifest says %s, reassembled content hashes to %s", rootDigest, got))
	}
	return nil
}

func (c *Client) fetchChunk(node, chunkDigest string) []byte {
	conn, err := transport.Dial(node)
	if err != nil {
		return nil
	}
	defer conn.Close()

	if err := conn.Send([]byte("GET " + chunkDigest)); err != nil {
		return nil
	}
	if string(conn.Recv()) != "FOUND" {
		return nil
	}
	return conn.Recv()
}

// getManifest probes metadata nodes in reverse order (most-recently-added
// first), matching the original tool's assumption that a later node in
// the list is more likely to hold the authoritative TAIL copy.
func (c *Client) getManifest(filename string) (manifest.FileManifest, error) {
	filename = manifest.NormalizeFilename(filename)
	for i := len(c.metadataNodes) - 1; i >= 0; i-- {
		node := c.metadataNodes[i]
		m, ok := c.tryGetManifest(node, filename)
		if ok {
			return m, nil
		}
	}
	return manifest.FileManifest{}, beecherr.NewNotFoundError(
		fmt.Sprintf("%s not found on any metadata node", filename))
}

func (c *Client) tryGetManifest(node, filename string) (manifest.FileManifest, bool) {
	conn, err := transport.Dial(node)
	if err != nil {
		return manifest.FileManifest{}, false
	}
	defer conn.Close()

	if err := conn.Send([]byte("GET " + filename)); err != nil {
		return manifest.FileManifest{}, false
	}
	reply := string(conn.Recv())
	if reply == "" || reply == "NOT_FOUND" || reply == "REDIRECT_TO_TAIL" {
		return manifest.FileManifest{}, false
	}

	fields := strings.Fields(reply)
	if len(fields) != 6 || fields[0] != "FOUND" {
		return manifest.FileManifest{}, false
	}
	fileSize, err1 := strconv.ParseUint(fields[1], 10, 64)
	chunkSize, err2 := strconv.ParseUint(fields[2], 10, 32)
	totalChunks, err3 := strconv.ParseUint(fields[3], 10, 32)
	if err1 != nil || err2 != nil || err3 != nil {
		return manifest.FileManifest{}, false
	}
	var digests []string
	if fields[5] != "-" {
		digests = strings.Split(fields[5], ",")
	}

	m := manifest.FileManifest{
		Filename:     filename,
		FileSize:     fileSize,
		ChunkSize:    uint32(chunkSize),
		TotalChunks:  uint32(totalChunks),
		RootDigest:   fields[4],
		ChunkDigests: digests,
	}
	if !manifest.IsUsableManifest(m) {
		return manifest.FileManifest{}, false
	}
	return m, true
}

func filenameOf(path string) string {
	idx := strings.LastIndexAny(path, "/\\")
	if idx == -1 {
		return path
	}
	return path[idx+1:]
}
