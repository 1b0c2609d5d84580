// Package source resolves a program's raw source blob (§6). The object-store
// fetcher itself is an external collaborator out of scope (§1); this package
// provides the interface plus a local-file/inline-blob implementation and a
// clear seam (Fetcher) where a real GCS client would plug in.
package source

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/cobolgraph/extractor/pkg/pipelineerr"
)

// Ref names a source to analyze: either an inline blob, a local file path,
// or a `gs://bucket/path` object-store URI.
type Ref struct {
	// InlineContent, when non-empty, is used directly; FileName then
	// supplies the fallback program_id and defaults to "inline" when empty.
	InlineContent string
	// Path is a local filesystem path or a gs:// URI.
	Path string
	// FileName is the logical filename used for the fallback program_id
	// (uppercased stem) when Path/InlineContent don't make it obvious.
	FileName string
}

// Fetcher resolves a Ref into UTF-8 text.
type Fetcher interface {
	Fetch(ctx context.Context, ref Ref) (text string, fileName string, err error)
}

// LocalFetcher reads inline content or local files. gs:// URIs are parsed
// (ParseGSURI) but not fetched — object storage access is an external
// collaborator per §1 Out-of-scope; a production deployment swaps this for
// a Fetcher backed by the real object-store client without changing any
// stage code, since every stage depends only on the Fetcher interface.
type LocalFetcher struct{}

// NewLocalFetcher constructs a LocalFetcher.
func NewLocalFetcher() *LocalFetcher { return &LocalFetcher{} }

// Fetch implements Fetcher.
func (LocalFetcher) Fetch(_ context.Context, ref Ref) (string, string, error) {
	if ref.InlineContent != "" {
		name := ref.FileName
		if name == "" {
			name = "inline"
		}
		return ref.InlineContent, name, nil
	}

	if ref.Path == "" {
		return "", "", pipelineerr.New(pipelineerr.KindInputMalformed, "source", fmt.Errorf("empty source reference"))
	}

	if bucket, object, ok := ParseGSURI(ref.Path); ok {
		return "", "", pipelineerr.New(pipelineerr.KindInputMalformed, "source",
			fmt.Errorf("gs://%s/%s: object-store fetching is an external collaborator, not implemented by LocalFetcher", bucket, object))
	}

	data, err := os.ReadFile(ref.Path)
	if err != nil {
		return "", "", pipelineerr.New(pipelineerr.KindInputMalformed, "source", fmt.Errorf("reading %s: %w", ref.Path, err))
	}

	name := ref.FileName
	if name == "" {
		name = baseName(ref.Path)
	}
	return string(data), name, nil
}

// ParseGSURI splits a `gs://bucket/object/path` URI into its bucket and
// object components. ok is false if uri does not have the gs:// prefix.
func ParseGSURI(uri string) (bucket, object string, ok bool) {
	const prefix = "gs://"
	if !strings.HasPrefix(uri, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(uri, prefix)
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func baseName(path string) string {
	idx := strings.LastIndexAny(path, "/\\")
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}

// FilenameStem strips a file extension and returns the uppercased stem, the
// §3 fallback for program_id when no header is discernible.
func FilenameStem(fileName string) string {
	base := baseName(fileName)
	if idx := strings.LastIndex(base, "."); idx > 0 {
		base = base[:idx]
	}
	return strings.ToUpper(base)
}
