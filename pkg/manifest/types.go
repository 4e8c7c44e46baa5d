// Package manifest implements the content model: chunks, their digests,
// and the per-file manifest that ties an ordered chunk-digest list to a
// root digest. CHUNK_SIZE, the manifest's field layout, and the root
// digest law all follow the governing data model exactly.
package manifest

import (
	"fmt"
	"io"
	"os"

	"github.com/WebFirstLanguage/beechain/pkg/digest"
	"golang.org/x/text/unicode/norm"
)

// ChunkSize is the maximum size of a chunk in bytes. Only the last chunk
// of a file may be smaller.
const ChunkSize = 1024 * 1024

// Chunk is one fixed-size, content-addressed fragment of a file.
type Chunk struct {
	Index  uint32
	Digest string
	Size   uint32
	Bytes  []byte
}

// FileManifest is the per-file record needed to reassemble a file from
// its chunks: size, chunk layout, ordered chunk digests, and the root
// digest that also serves as the file's content identifier.
type FileManifest struct {
	Filename     string
	RootDigest   string
	FileSize     uint64
	ChunkSize    uint32
	TotalChunks  uint32
	ChunkDigests []string
	CreatedAt    uint64
}

// NormalizeFilename applies Unicode NFC normalization to a client-supplied
// filename before it is used as a manifest key, so canonically equal but
// byte-distinct names (e.g. differing combining-diacritic sequences)
// address the same manifest.
func NormalizeFilename(name string) string {
	return norm.NFC.String(name)
}

// Split reads r in ChunkSize-sized pieces, in file order, computing each
// chunk's digest as it goes. An empty input is reported as an error per
// the "empty file aborts upload" rule.
func Split(r io.Reader) ([]Chunk, error) {
	var chunks []Chunk
	buf := make([]byte, ChunkSize)
	var index uint32

	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			chunks = append(chunks, Chunk{
				Index:  index,
				Digest: digest.Sum(data),
				Size:   uint32(n),
				Bytes:  data,
			})
			index++
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read chunk at index %d: %w", index, err)
		}
	}

	if len(chunks) == 0 {
		return nil, fmt.Errorf("cannot upload an empty file")
	}
	return chunks, nil
}

// SplitFile opens path and splits its contents into chunks.
func SplitFile(path string) ([]Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Split(f)
}

// BuildManifest computes the root digest over chunks and assembles the
// FileManifest for filename.
func BuildManifest(filename string, chunks []Chunk) FileManifest {
	digests := make([]string, len(chunks))
	var fileSize uint64
	for i, c := range chunks {
		digests[i] = c.Digest
		fileSize += uint64(c.Size)
	}

	return FileManifest{
		Filename:     NormalizeFilename(filename),
		RootDigest:   digest.RootDigest(digests),
		FileSize:     fileSize,
		ChunkSize:    ChunkSize,
		TotalChunks:  uint32(len(chunks)),
		ChunkDigests: digests,
	}
}

// Reassemble concatenates chunk bytes in manifest order into w. Chunks
// must already be in file order (index order); the caller is responsible
// for fetching them in that order.
func Reassemble(w io.Writer, chunks [][]byte) error {
	for i, data := range chunks {
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("write chunk %d: %w", i, err)
		}
	}
	return nil
}

// IsUsableManifest reports whether m is complete enough to serve a
// download from: both the chunk-digest list and the root digest must be
// non-empty. This tightens the "is this manifest present" predicate per
// the recommendation to require both fields rather than treating any
// partially-populated response as a hit.
func IsUsableManifest(m FileManifest) bool {
	return len(m.ChunkDigests) > 0 && m.RootDigest != ""
}
