package assets

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

// Extensions for the two payload kinds stored under a digest-derived key.
const (
	ExtZip      = ".zip"
	ExtTemplate = ".template"
)

// S3API is the slice of the S3 client the store depends on.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Kind classifies a store failure.
type Kind int

const (
	// KindNetwork covers transport failures and unexpected service errors.
	KindNetwork Kind = iota
	// KindPermissionDenied covers 403-family rejections.
	KindPermissionDenied
)

// StoreError reports a failed probe or upload against one object key.
type StoreError struct {
	Kind Kind
	Op   string // "probe" or "upload"
	Key  string
	Err  error
}

func (e *StoreError) Error() string {
	if e.Kind == KindPermissionDenied {
		return fmt.Sprintf("access denied during %s of s3 object %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("s3 %s of object %s failed: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// UploadRecord describes one content-addressed object after Put.
type UploadRecord struct {
	Bucket  string
	Key     string
	URL     string
	ETag    string
	Size    int64
	Existed bool
}

// Store writes payloads into a content-addressed layout in a single bucket.
type Store struct {
	api    S3API
	bucket string
	prefix string
	region string
	log    *zap.Logger
}

// NewStore returns a store for the given bucket, key prefix, and region. The
// region only feeds object URL construction.
func NewStore(api S3API, bucket, prefix, region string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{api: api, bucket: bucket, prefix: prefix, region: region, log: log}
}

// ObjectKey returns the store key for a digest and extension.
func (s *Store) ObjectKey(digest, ext string) string {
	return path.Join(s.prefix, digest+ext)
}

// ObjectURL returns the HTTPS URL of an object key.
func (s *Store) ObjectURL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}

// Put stores raw under its digest-derived key. An object that already exists
// there is taken as-is and no data is transferred.
func (s *Store) Put(ctx context.Context, raw []byte, digest, ext string) (UploadRecord, error) {
	key := s.ObjectKey(digest, ext)
	rec := UploadRecord{Bucket: s.bucket, Key: key, URL: s.ObjectURL(key), Size: int64(len(raw))}

	head, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	switch {
	case err == nil:
		rec.Existed = true
		rec.ETag = aws.ToString(head.ETag)
		s.log.Debug("object already stored", zap.String("key", key))
		return rec, nil
	case !isNotFound(err):
		return UploadRecord{}, &StoreError{Kind: classifyKind(err), Op: "probe", Key: key, Err: err}
	}

	sum, err := hex.DecodeString(digest)
	if err != nil {
		return UploadRecord{}, fmt.Errorf("invalid digest %q: %w", digest, err)
	}
	out, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:         aws.String(s.bucket),
		Key:            aws.String(key),
		Body:           bytes.NewReader(raw),
		ContentLength:  aws.Int64(int64(len(raw))),
		ChecksumSHA256: aws.String(base64.StdEncoding.EncodeToString(sum)),
	})
	if err != nil {
		return UploadRecord{}, &StoreError{Kind: classifyKind(err), Op: "upload", Key: key, Err: err}
	}
	rec.ETag = aws.ToString(out.ETag)
	s.log.Debug("object uploaded", zap.String("key", key), zap.Int64("bytes", rec.Size))
	return rec, nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "NotFound", "NoSuchKey", "404":
			return true
		}
	}
	return false
}

func classifyKind(err error) Kind {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "AccessDenied", "Forbidden", "403":
			return KindPermissionDenied
		}
	}
	var re *awshttp.ResponseError
	if errors.As(err, &re) && re.HTTPStatusCode() == http.StatusForbidden {
		return KindPermissionDenied
	}
	return KindNetwork
}
