package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/veilbid/auctiond/internal/domain"
)

// Reader retrieves archived snapshots and rollups. It implements
// domain.BlobReader.
type Reader struct {
	client *s3.Client
	bucket string
}

// NewReader creates a Reader over the client's archive bucket.
func NewReader(c *Client) *Reader {
	return &Reader{client: c.S3(), bucket: c.Bucket()}
}

// Get returns the object body at path; the caller closes it. A missing
// object maps to domain.ErrNotFound so callers can distinguish an absent
// snapshot from a storage failure.
func (r *Reader) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3blob: get %s: %w", path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("s3blob: get %s: %w", path, err)
	}
	return out.Body, nil
}

// List enumerates every object under the prefix, following continuation
// tokens. Snapshot keys group by asset, so listing
// "auctions/<collection>/<instance>/" yields one entry per settled round.
func (r *Reader) List(ctx context.Context, prefix string) ([]domain.BlobInfo, error) {
	paginator := s3.NewListObjectsV2Paginator(r.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucket),
		Prefix: aws.String(prefix),
	})

	var infos []domain.BlobInfo
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3blob: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			info := domain.BlobInfo{
				Path: aws.ToString(obj.Key),
				Size: aws.ToInt64(obj.Size),
			}
			if obj.LastModified != nil {
				info.LastModified = *obj.LastModified
			}
			infos = append(infos, info)
		}
	}
	return infos, nil
}

// Exists reports whether an object is present at path.
func (r *Reader) Exists(ctx context.Context, path string) (bool, error) {
	_, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(path),
	})
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, fmt.Errorf("s3blob: head %s: %w", path, err)
	}
}

// Delete removes the object at path. Deleting an absent object is not an
// error.
func (r *Reader) Delete(ctx context.Context, path string) error {
	_, err := r.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return fmt.Errorf("s3blob: delete %s: %w", path, err)
	}
	return nil
}

// isNotFound matches the SDK's two shapes of missing-object errors
// (GetObject reports NoSuchKey, HeadObject a bare NotFound) plus the generic
// 404 some compatible providers answer with.
func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	var httpErr interface{ HTTPStatusCode() int }
	return errors.As(err, &httpErr) && httpErr.HTTPStatusCode() == 404
}

// Compile-time interface check.
var _ domain.BlobReader = (*Reader)(nil)
