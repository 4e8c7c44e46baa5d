package client

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/WebFirstLanguage/beechain/pkg/metanode"
	"github.com/WebFirstLanguage/beechain/pkg/storagenode"
)

func startStorageNode(t *testing.T) string {
	t.Helper()
	_, addr := startStorageNodeWithHandle(t)
	return addr
}

func startStorageNodeWithHandle(t *testing.T) (*storagenode.StorageNode, string) {
	t.Helper()
	n := storagenode.New()
	go n.Start(0)
	return n, waitForAddr(t, n.Addr, n.Stop)
}

func startMetaNode(t *testing.T, next string) string {
	t.Helper()
	n := metanode.New(next)
	go n.Start(0)
	return waitForAddr(t, n.Addr, n.Stop)
}

func waitForAddr(t *testing.T, addrFn func() string, stop func()) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a := addrFn(); a != "" {
			t.Cleanup(stop)
			return a
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("node never bound a listener")
	return ""
}

func TestUploadThenDownloadRoundTrip(t *testing.T) {
	storage1 := startStorageNode(t)
	storage2 := startStorageNode(t)
	meta := startMetaNode(t, "")

	c, err := New([]string{storage1, storage2}, []string{meta})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	dir := t.TempDir()
	srcPath := filepath.Join(dir, "payload.bin")
	data := make([]byte, 3*1024*1024+17)
	rand.Read(data)
	if err := os.WriteFile(srcPath, data, 0o644); err != nil {
		t.Fatalf("write source file: %v", err)
	}

	if _, err := c.Upload(srcPath); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	outPath := filepath.Join(dir, "restored.bin")
	if _, err := c.Download("payload.bin", outPath); err != nil {
		t.Fatalf("Download failed: %v", err)
	}

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read restored file: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("restored content does not match uploaded content")
	}
}

func TestDownloadMissingFileFails(t *testing.T) {
	storage1 := startStorageNode(t)
	meta := startMetaNode(t, "")

	c, err := New([]string{storage1}, []string{meta})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	dir := t.TempDir()
	if _, err := c.Download("nope.bin", filepath.Join(dir, "out.bin")); err == nil {
		t.Fatal("expected error downloading a nonexistent file")
	}
}

func TestUploadWithNoStorageNodesFails(t *testing.T) {
	meta := startMetaNode(t, "")
	c, err := New(nil, []string{meta})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	dir := t.TempDir()
	srcPath := filepath.Join(dir, "small.bin")
	os.WriteFile(srcPath, []byte("hello"), 0o644)

	if _, err := c.Upload(srcPath); err == nil {
		t.Fatal("expected error uploading with no storage nodes configured")
	}
}

func TestUploadChainedMetadataReachesTail(t *testing.T) {
	storage1 := startStorageNode(t)
	tail := startMetaNode(t, "")
	head := startMetaNode(t, tail)

	uploader, err := New([]string{storage1}, []string{head})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	dir := t.TempDir()
	srcPath := filepath.Join(dir, "chained.bin")
	data := []byte("replicated through the chain")
	os.WriteFile(srcPath, data, 0o644)

	if _, err := uploader.Upload(srcPath); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	downloader, err := New([]string{storage1}, []string{tail})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	outPath := filepath.Join(dir, "out.bin")
	if _, err := downloader.Download("chained.bin", outPath); err != nil {
		t.Fatalf("Download from tail failed: %v", err)
	}
	got, _ := os.ReadFile(outPath)
	if !bytes.Equal(got, data) {
		t.Error("content read from tail does not match uploaded content")
	}
}

// TestDownloadSucceedsAfterOneStorageReplicaDies exercises the
// ReplicationFactor=2 fallback: a chunk written to two storage nodes must
// still be retrievable after one of them goes away.
func TestDownloadSucceedsAfterOneStorageReplicaDies(t *testing.T) {
	node1, storage1 := startStorageNodeWithHandle(t)
	_, storage2 := startStorageNodeWithHandle(t)
	meta := startMetaNode(t, "")

	c, err := New([]string{storage1, storage2}, []string{meta})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	dir := t.TempDir()
	srcPath := filepath.Join(dir, "payload.bin")
	data := make([]byte, 2*1024*1024+9)
	rand.Read(data)
	if err := os.WriteFile(srcPath, data, 0o644); err != nil {
		t.Fatalf("write source file: %v", err)
	}

	if _, err := c.Upload(srcPath); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	node1.Stop()

	outPath := filepath.Join(dir, "restored.bin")
	if _, err := c.Download("payload.bin", outPath); err != nil {
		t.Fatalf("Download failed after killing one storage replica: %v", err)
	}

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read restored file: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("restored content does not match uploaded content after a replica died")
	}
}

// TestConcurrentClientsUploadAndDownloadIndependently drives ten
// concurrent clients, each uploading and downloading its own file
// against shared cluster state.
func TestConcurrentClientsUploadAndDownloadIndependently(t *testing.T) {
	storage1 := startStorageNode(t)
	storage2 := startStorageNode(t)
	meta := startMetaNode(t, "")

	const clients = 10
	dir := t.TempDir()

	var wg sync.WaitGroup
	errs := make([]error, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			c, err := New([]string{storage1, storage2}, []string{meta})
			if err != nil {
				errs[i] = fmt.Errorf("client %d: New failed: %w", i, err)
				return
			}

			name := fmt.Sprintf("client-%d.bin", i)
			srcPath := filepath.Join(dir, name)
			data := make([]byte, 64*1024+i)
			rand.Read(data)
			if err := os.WriteFile(srcPath, data, 0o644); err != nil {
				errs[i] = fmt.Errorf("client %d: write source file: %w", i, err)
				return
			}

			if _, err := c.Upload(srcPath); err != nil {
				errs[i] = fmt.Errorf("client %d: Upload failed: %w", i, err)
				return
			}

			outPath := filepath.Join(dir, "out-"+name)
			if _, err := c.Download(name, outPath); err != nil {
				errs[i] = fmt.Errorf("client %d: Download failed: %w", i, err)
				return
			}

			got, err := os.ReadFile(outPath)
			if err != nil {
				errs[i] = fmt.Errorf("client %d: read restored file: %w", i, err)
				return
			}
			if !bytes.Equal(got, data) {
				errs[i] = fmt.Errorf("client %d: restored content does not match uploaded content", i)
			}
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			t.Error(err)
		}
	}
}

func TestStatsAccumulatesAcrossUploadAndDownload(t *testing.T) {
	storage1 := startStorageNode(t)
	meta := startMetaNode(t, "")

	c, err := New([]string{storage1}, []string{meta})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	dir := t.TempDir()
	srcPath := filepath.Join(dir, "tracked.bin")
	data := []byte("stats should follow this upload and download")
	if err := os.WriteFile(srcPath, data, 0o644); err != nil {
		t.Fatalf("write source file: %v", err)
	}

	if _, err := c.Upload(srcPath); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	outPath := filepath.Join(dir, "restored.bin")
	if _, err := c.Download("tracked.bin", outPath); err != nil {
		t.Fatalf("Download failed: %v", err)
	}

	stats := c.Stats()
	if stats.SuccessfulUploads != 1 {
		t.Errorf("expected 1 successful upload, got %d", stats.SuccessfulUploads)
	}
	if stats.SuccessfulDownloads != 1 {
		t.Errorf("expected 1 successful download, got %d", stats.SuccessfulDownloads)
	}
	if stats.ChunksTransferred == 0 {
		t.Error("expected cumulative chunk transfer count to be nonzero")
	}

	if _, err := c.Download("missing.bin", filepath.Join(dir, "nope.bin")); err == nil {
		t.Fatal("expected error downloading a nonexistent file")
	}
	stats = c.Stats()
	if stats.FailedDownloads != 1 {
		t.Errorf("expected 1 failed download after a NOT_FOUND, got %d", stats.FailedDownloads)
	}
}
