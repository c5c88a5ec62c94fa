// Package storagetest provides an in-memory S3 backend for tests. It
// applies lifecycle expiration rules against a controllable clock.
package storagetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// Operation names passed to fault hooks.
const (
	OpPut       = "put"
	OpGet       = "get"
	OpHead      = "head"
	OpDelete    = "delete"
	OpList      = "list"
	OpLifecycle = "lifecycle"
)

type object struct {
	data        []byte
	contentType string
	tags        map[string]string
	modified    time.Time
}

// Fake implements storage.ObjectAPI and storage.Presigner.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	objects map[string]*object
	rules   []types.LifecycleRule
	puts    map[string]int
	fault   func(op, key string) error
}

func New() *Fake {
	return &Fake{
		now:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		objects: make(map[string]*object),
		puts:    make(map[string]int),
	}
}

// Advance moves the fake clock forward.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Now returns the fake clock.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// SetFault installs a hook consulted before every operation. A non-nil
// return is returned to the caller instead of performing the operation.
func (f *Fake) SetFault(fn func(op, key string) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fault = fn
}

// PutCount reports how many times key was written.
func (f *Fake) PutCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts[key]
}

// Has reports whether key is stored and not expired.
func (f *Fake) Has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.live(key)
	return ok
}

// Keys returns every live key in lexical order.
func (f *Fake) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.liveKeys("")
}

// Tags returns the tags of a live object.
func (f *Fake) Tags(key string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.live(key); ok {
		out := make(map[string]string, len(o.tags))
		for k, v := range o.tags {
			out[k] = v
		}
		return out
	}
	return nil
}

// Backdate shifts an object's modification time into the past.
func (f *Fake) Backdate(key string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.objects[key]; ok {
		o.modified = o.modified.Add(-d)
	}
}

// Rules returns a copy of the bucket lifecycle rules.
func (f *Fake) Rules() []types.LifecycleRule {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.rules)
}

func (f *Fake) check(op, key string) error {
	if f.fault != nil {
		return f.fault(op, key)
	}
	return nil
}

func apiError(code, msg string) error {
	return &smithy.GenericAPIError{Code: code, Message: msg, Fault: smithy.FaultClient}
}

// live returns the object when present and not expired. Expired objects are
// dropped, as the backend would do.
func (f *Fake) live(key string) (*object, bool) {
	o, ok := f.objects[key]
	if !ok {
		return nil, false
	}
	if f.expired(key, o) {
		delete(f.objects, key)
		return nil, false
	}
	return o, true
}

func (f *Fake) liveKeys(prefix string) []string {
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			if _, ok := f.live(k); ok {
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

func (f *Fake) expired(key string, o *object) bool {
	for _, r := range f.rules {
		if r.Status != types.ExpirationStatusEnabled || r.Expiration == nil || r.Expiration.Days == nil {
			continue
		}
		if !ruleMatches(r.Filter, key, o.tags) {
			continue
		}
		ttl := time.Duration(aws.ToInt32(r.Expiration.Days)) * 24 * time.Hour
		if !f.now.Before(o.modified.Add(ttl)) {
			return true
		}
	}
	return false
}

func ruleMatches(filter *types.LifecycleRuleFilter, key string, tags map[string]string) bool {
	if filter == nil {
		return true
	}
	switch {
	case filter.And != nil:
		if !strings.HasPrefix(key, aws.ToString(filter.And.Prefix)) {
			return false
		}
		for _, t := range filter.And.Tags {
			if tags[aws.ToString(t.Key)] != aws.ToString(t.Value) {
				return false
			}
		}
		return true
	case filter.Tag != nil:
		return tags[aws.ToString(filter.Tag.Key)] == aws.ToString(filter.Tag.Value)
	default:
		return strings.HasPrefix(key, aws.ToString(filter.Prefix))
	}
}

func (f *Fake) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	key := aws.ToString(in.Key)
	var data []byte
	if in.Body != nil {
		b, err := io.ReadAll(in.Body)
		if err != nil {
			return nil, err
		}
		data = b
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(OpPut, key); err != nil {
		return nil, err
	}

	tags := map[string]string{}
	if in.Tagging != nil {
		q, err := url.ParseQuery(aws.ToString(in.Tagging))
		if err != nil {
			return nil, apiError("InvalidArgument", "malformed tagging")
		}
		for k := range q {
			tags[k] = q.Get(k)
		}
	}
	f.objects[key] = &object{
		data:        data,
		contentType: aws.ToString(in.ContentType),
		tags:        tags,
		modified:    f.now,
	}
	f.puts[key]++
	return &s3.PutObjectOutput{ETag: aws.String(fmt.Sprintf("%q", fmt.Sprintf("%x-%d", len(data), f.puts[key])))}, nil
}

func (f *Fake) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	key := aws.ToString(in.Key)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(OpGet, key); err != nil {
		return nil, err
	}
	o, ok := f.live(key)
	if !ok {
		return nil, apiError("NoSuchKey", "The specified key does not exist.")
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(slices.Clone(o.data))),
		ContentLength: aws.Int64(int64(len(o.data))),
		ContentType:   aws.String(o.contentType),
		LastModified:  aws.Time(o.modified),
	}, nil
}

func (f *Fake) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	key := aws.ToString(in.Key)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(OpHead, key); err != nil {
		return nil, err
	}
	o, ok := f.live(key)
	if !ok {
		return nil, apiError("NotFound", "Not Found")
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(o.data))),
		ContentType:   aws.String(o.contentType),
		LastModified:  aws.Time(o.modified),
	}, nil
}

func (f *Fake) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	key := aws.ToString(in.Key)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(OpDelete, key); err != nil {
		return nil, err
	}
	delete(f.objects, key)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *Fake) DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if in.Delete == nil || len(in.Delete.Objects) == 0 || len(in.Delete.Objects) > 1000 {
		return nil, apiError("MalformedXML", "between 1 and 1000 objects required")
	}

	out := &s3.DeleteObjectsOutput{}
	for _, id := range in.Delete.Objects {
		key := aws.ToString(id.Key)
		if err := f.check(OpDelete, key); err != nil {
			out.Errors = append(out.Errors, types.Error{Key: id.Key, Code: aws.String("InternalError"), Message: aws.String(err.Error())})
			continue
		}
		delete(f.objects, key)
		out.Deleted = append(out.Deleted, types.DeletedObject{Key: id.Key})
	}
	return out, nil
}

func (f *Fake) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	prefix := aws.ToString(in.Prefix)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(OpList, prefix); err != nil {
		return nil, err
	}

	limit := int(aws.ToInt32(in.MaxKeys))
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	after := aws.ToString(in.ContinuationToken)
	if after == "" {
		after = aws.ToString(in.StartAfter)
	}

	keys := f.liveKeys(prefix)
	start := 0
	if after != "" {
		start = sort.SearchStrings(keys, after)
		if start < len(keys) && keys[start] == after {
			start++
		}
	}
	end := min(start+limit, len(keys))

	out := &s3.ListObjectsV2Output{
		Prefix:      in.Prefix,
		IsTruncated: aws.Bool(end < len(keys)),
		KeyCount:    aws.Int32(int32(end - start)),
	}
	for _, k := range keys[start:end] {
		o := f.objects[k]
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(o.data))),
			LastModified: aws.Time(o.modified),
		})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(keys[end-1])
	}
	return out, nil
}

func (f *Fake) GetBucketLifecycleConfiguration(ctx context.Context, in *s3.GetBucketLifecycleConfigurationInput, _ ...func(*s3.Options)) (*s3.GetBucketLifecycleConfigurationOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(OpLifecycle, ""); err != nil {
		return nil, err
	}
	if len(f.rules) == 0 {
		return nil, apiError("NoSuchLifecycleConfiguration", "The lifecycle configuration does not exist")
	}
	return &s3.GetBucketLifecycleConfigurationOutput{Rules: slices.Clone(f.rules)}, nil
}

func (f *Fake) PutBucketLifecycleConfiguration(ctx context.Context, in *s3.PutBucketLifecycleConfigurationInput, _ ...func(*s3.Options)) (*s3.PutBucketLifecycleConfigurationOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(OpLifecycle, ""); err != nil {
		return nil, err
	}
	if in.LifecycleConfiguration == nil || len(in.LifecycleConfiguration.Rules) == 0 {
		return nil, apiError("MalformedXML", "at least one rule is required")
	}
	seen := map[string]bool{}
	for _, r := range in.LifecycleConfiguration.Rules {
		id := aws.ToString(r.ID)
		if id == "" || seen[id] {
			return nil, apiError("InvalidArgument", "rule ids must be unique and non-empty")
		}
		seen[id] = true
		if r.Expiration != nil && r.Expiration.Days != nil && aws.ToInt32(r.Expiration.Days) < 1 {
			return nil, apiError("InvalidArgument", "expiration days must be positive")
		}
	}
	f.rules = slices.Clone(in.LifecycleConfiguration.Rules)
	return &s3.PutBucketLifecycleConfigurationOutput{}, nil
}

func (f *Fake) DeleteBucketLifecycle(ctx context.Context, in *s3.DeleteBucketLifecycleInput, _ ...func(*s3.Options)) (*s3.DeleteBucketLifecycleOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(OpLifecycle, ""); err != nil {
		return nil, err
	}
	f.rules = nil
	return &s3.DeleteBucketLifecycleOutput{}, nil
}

func (f *Fake) PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	return &v4.PresignedHTTPRequest{
		URL:    fmt.Sprintf("https://storage.test/%s/%s?X-Amz-Expires=%d", aws.ToString(in.Bucket), aws.ToString(in.Key), int(opts.Expires.Seconds())),
		Method: http.MethodGet,
	}, nil
}
