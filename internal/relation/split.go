// ABOUTME: Large-message splitting and reconstruction via out-of-band blobs
// ABOUTME: Oversized bodies become a preview plus pointer; inbound markers are spliced back

package relation

import (
	"context"
	"fmt"
	"strings"
)

// SendThreshold is the body size (bytes) above which outbound messages are
// split. Matrix caps the whole event envelope at 64 KiB; this leaves room
// for relation metadata and formatted bodies.
const SendThreshold = 48 * 1024

// EditThreshold is the split threshold for edits. Edit envelopes carry both
// the fallback and the replacement content, roughly doubling the payload.
const EditThreshold = SendThreshold / 2

// previewLen is how much of an oversized body stays inline as a preview.
const previewLen = 512

const (
	markerPrefix = "[[conclave-blob "
	markerSuffix = "]]"
)

// BlobStore is the out-of-band storage for split message bodies.
type BlobStore interface {
	UploadBlob(ctx context.Context, data []byte) (string, error)
	DownloadBlob(ctx context.Context, pointer string) ([]byte, error)
}

// SplitOutbound prepares a body for sending. Bodies at or under the
// threshold pass through unchanged; larger ones are uploaded whole and
// replaced by a preview plus pointer marker.
func SplitOutbound(ctx context.Context, store BlobStore, body string, threshold int) (string, error) {
	if len(body) <= threshold {
		return body, nil
	}

	pointer, err := store.UploadBlob(ctx, []byte(body))
	if err != nil {
		return "", fmt.Errorf("uploading split body: %w", err)
	}

	preview := body
	if len(preview) > previewLen {
		// Cut on a rune boundary.
		runes := []rune(preview[:previewLen])
		preview = string(runes[:len(runes)-1]) + "…"
	}

	return preview + "\n" + markerPrefix + pointer + markerSuffix, nil
}

// SplitPointer extracts the blob pointer from a body carrying the split
// marker. The marker must be the final line.
func SplitPointer(body string) (string, bool) {
	idx := strings.LastIndex(body, "\n")
	last := body[idx+1:]
	if !strings.HasPrefix(last, markerPrefix) || !strings.HasSuffix(last, markerSuffix) {
		return "", false
	}
	pointer := last[len(markerPrefix) : len(last)-len(markerSuffix)]
	if pointer == "" {
		return "", false
	}
	return pointer, true
}

// Reconstruct splices a split message back together. The returned bool
// reports whether the body carried a marker. On download failure the
// caller keeps the preview text; reconstruction never invents content.
func Reconstruct(ctx context.Context, store BlobStore, body string) (string, bool, error) {
	pointer, ok := SplitPointer(body)
	if !ok {
		return body, false, nil
	}

	data, err := store.DownloadBlob(ctx, pointer)
	if err != nil {
		return body, true, fmt.Errorf("reconstructing split message: %w", err)
	}
	return string(data), true, nil
}
