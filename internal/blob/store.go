// Package blob implements the MediaStore collaborator BufferManager uploads
// inbound voice notes through (SPEC_FULL.md §6.3). It is a thin wrapper
// around cloud.google.com/go/storage in the same guard-clause idiom as
// internal/store's firestore wrapper — the natural GCP-ecosystem sibling of
// the Firestore client this module already depends on.
package blob

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/eternisai/wa-bridge/internal/media"
)

// MediaReader is the subset of media.Cache the blob store reads inbound
// bytes through.
type MediaReader interface {
	Get(key media.Key) (media.Reference, bool)
}

// ErrMediaNotCached is returned when the referenced message's bytes have
// already expired out of MediaCache.
var ErrMediaNotCached = fmt.Errorf("blob: media reference not cached")

// ErrMediaBytesUnavailable is returned when a MediaCache entry exists but
// carries no payload — the platform client reported a media pointer
// (MediaURLPath) without downloading its bytes eagerly. Uploading an empty
// object would silently corrupt the inbound-voice pipeline, so this fails
// loudly instead.
var ErrMediaBytesUnavailable = fmt.Errorf("blob: cached media reference has no bytes")

// objectWriter is the narrow seam over *storage.Writer so tests can
// substitute an in-memory sink instead of dialing GCS.
type objectWriter interface {
	io.WriteCloser
	setContentType(string)
}

type gcsWriter struct{ w *storage.Writer }

func (g *gcsWriter) Write(p []byte) (int, error) { return g.w.Write(p) }
func (g *gcsWriter) Close() error                { return g.w.Close() }
func (g *gcsWriter) setContentType(ct string)     { g.w.ContentType = ct }

// bucket is the seam over *storage.BucketHandle.
type bucket interface {
	newWriter(ctx context.Context, object string) objectWriter
}

type gcsBucket struct{ b *storage.BucketHandle }

func (g *gcsBucket) newWriter(ctx context.Context, object string) objectWriter {
	return &gcsWriter{w: g.b.Object(object).NewWriter(ctx)}
}

// Store persists inbound media to a single GCS bucket.
type Store struct {
	bucketName string
	bucket     bucket
	media      MediaReader
}

// New wraps an already-dialed storage client scoped to bucketName.
func New(client *storage.Client, bucketName string, media MediaReader) *Store {
	return &Store{
		bucketName: bucketName,
		bucket:     &gcsBucket{b: client.Bucket(bucketName)},
		media:      media,
	}
}

// SaveInboundVoice implements internal/buffer.MediaPersister. Object path:
// wa/{accountId}/{label}/inbound/{chatId}/{tsMs}/{messageId}.{ext}.
func (s *Store) SaveInboundVoice(ctx context.Context, accountID, label, chatID, messageID string, waTimestamp int64) (gcsURI, contentType, filename string, err error) {
	ref, ok := s.media.Get(media.Key{AccountID: accountID, Label: label, MessageID: messageID})
	if !ok {
		return "", "", "", ErrMediaNotCached
	}
	if ref.DataB64 == "" {
		return "", "", "", ErrMediaBytesUnavailable
	}

	data, decodeErr := base64.StdEncoding.DecodeString(ref.DataB64)
	if decodeErr != nil {
		return "", "", "", fmt.Errorf("blob: decode cached media for %s: %w", messageID, decodeErr)
	}

	ext := extFromMimetype(ref.Mimetype)
	filename = fmt.Sprintf("%s.%s", messageID, ext)
	object := fmt.Sprintf("wa/%s/%s/inbound/%s/%d/%s", accountID, label, chatID, waTimestamp, filename)

	w := s.bucket.newWriter(ctx, object)
	w.setContentType(ref.Mimetype)
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		w.Close()
		return "", "", "", fmt.Errorf("blob: upload %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return "", "", "", fmt.Errorf("blob: finalize upload %s: %w", object, err)
	}

	return fmt.Sprintf("gs://%s/%s", s.bucketName, object), ref.Mimetype, filename, nil
}

func extFromMimetype(mimetype string) string {
	switch mimetype {
	case "audio/ogg":
		return "ogg"
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/wav", "audio/x-wav":
		return "wav"
	case "video/mp4":
		return "mp4"
	default:
		return "bin"
	}
}
