// Package storage is the gateway to the S3-compatible bucket holding book
// assets: uploads, working illustrations and final PDFs.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/littlehero/api/internal/model"
)

// maxDeleteBatch is the S3 DeleteObjects limit.
const maxDeleteBatch = 1000

// ObjectAPI is the subset of *s3.Client the gateway uses.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetBucketLifecycleConfiguration(ctx context.Context, params *s3.GetBucketLifecycleConfigurationInput, optFns ...func(*s3.Options)) (*s3.GetBucketLifecycleConfigurationOutput, error)
	PutBucketLifecycleConfiguration(ctx context.Context, params *s3.PutBucketLifecycleConfigurationInput, optFns ...func(*s3.Options)) (*s3.PutBucketLifecycleConfigurationOutput, error)
	DeleteBucketLifecycle(ctx context.Context, params *s3.DeleteBucketLifecycleInput, optFns ...func(*s3.Options)) (*s3.DeleteBucketLifecycleOutput, error)
}

// Presigner is the subset of *s3.PresignClient the gateway uses.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Object describes a stored object as seen in a listing.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
	Category     model.AssetCategory
}

// StoredRef is returned by Put.
type StoredRef struct {
	Key  string
	Size int64
	ETag string
}

// LifecycleRule expires objects under Prefix, optionally narrowed to one
// category through the category tag.
type LifecycleRule struct {
	ID         string
	Prefix     string
	Category   model.AssetCategory
	Expiration time.Duration
}

// Gateway performs key-based operations on one bucket.
type Gateway struct {
	api      ObjectAPI
	presign  Presigner
	bucket   string
	untagged bool
}

func NewGateway(api ObjectAPI, presign Presigner, bucket string) *Gateway {
	return &Gateway{api: api, presign: presign, bucket: bucket}
}

// WithoutTagging is for providers without object tagging (R2). Objects are
// stored untagged and category-filtered lifecycle rules are rejected.
func (g *Gateway) WithoutTagging() *Gateway {
	g.untagged = true
	return g
}

// Tagging reports whether objects carry the category tag.
func (g *Gateway) Tagging() bool {
	return !g.untagged
}

// Bucket returns the bucket name.
func (g *Gateway) Bucket() string {
	return g.bucket
}

// Put stores data at key, overwriting any existing object, and tags it
// with the category derived from the key.
func (g *Gateway) Put(ctx context.Context, key string, data []byte, contentType string) (StoredRef, error) {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(g.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	}
	if !g.untagged {
		tags := url.Values{}
		tags.Set(CategoryTag, string(Classify(key)))
		in.Tagging = aws.String(tags.Encode())
	}

	out, err := g.api.PutObject(ctx, in)
	if err != nil {
		return StoredRef{}, translate("put", key, err)
	}

	return StoredRef{Key: key, Size: int64(len(data)), ETag: aws.ToString(out.ETag)}, nil
}

// Get returns the full object body.
func (g *Gateway) Get(ctx context.Context, key string) ([]byte, error) {
	body, err := g.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, translate("get", key, err)
	}
	return data, nil
}

// Open streams the object body. The caller closes it.
func (g *Gateway) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := g.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, translate("get", key, err)
	}
	return out.Body, nil
}

// Stat returns object metadata without the body.
func (g *Gateway) Stat(ctx context.Context, key string) (Object, error) {
	out, err := g.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return Object{}, translate("stat", key, err)
	}
	return Object{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		LastModified: aws.ToTime(out.LastModified),
		Category:     Classify(key),
	}, nil
}

// Delete removes key. Deleting an absent key succeeds.
func (g *Gateway) Delete(ctx context.Context, key string) error {
	_, err := g.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err = translate("delete", key, err); err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// DeletePrefix removes every object under prefix and reports how many were
// deleted.
func (g *Gateway) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	p := s3.NewListObjectsV2Paginator(g.api, &s3.ListObjectsV2Input{
		Bucket:  aws.String(g.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(maxDeleteBatch),
	})

	deleted := 0
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return deleted, translate("list", prefix, err)
		}
		if len(page.Contents) == 0 {
			continue
		}

		ids := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, o := range page.Contents {
			ids = append(ids, types.ObjectIdentifier{Key: o.Key})
		}
		out, err := g.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(g.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return deleted, translate("delete-prefix", prefix, err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return deleted + len(ids) - len(out.Errors), fmt.Errorf("storage delete-prefix %q: %w: %s: %s",
				aws.ToString(first.Key), ErrStorageUnavailable, aws.ToString(first.Code), aws.ToString(first.Message))
		}
		deleted += len(ids)
	}
	return deleted, nil
}

// List enumerates objects under prefix. Each range over the returned
// sequence starts a fresh listing, so it can be iterated more than once.
func (g *Gateway) List(ctx context.Context, prefix string) iter.Seq2[Object, error] {
	return func(yield func(Object, error) bool) {
		p := s3.NewListObjectsV2Paginator(g.api, &s3.ListObjectsV2Input{
			Bucket: aws.String(g.bucket),
			Prefix: aws.String(prefix),
		})
		for p.HasMorePages() {
			page, err := p.NextPage(ctx)
			if err != nil {
				yield(Object{}, translate("list", prefix, err))
				return
			}
			for _, o := range page.Contents {
				key := aws.ToString(o.Key)
				obj := Object{
					Key:          key,
					Size:         aws.ToInt64(o.Size),
					LastModified: aws.ToTime(o.LastModified),
					Category:     Classify(key),
				}
				if !yield(obj, nil) {
					return
				}
			}
		}
	}
}

// PresignGet returns a time-limited download URL for key.
func (g *Gateway) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := g.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", translate("presign", key, err)
	}
	return req.URL, nil
}
