package assets

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// fakeS3 scripts HeadObject/PutObject and records the uploaded bodies.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	headErr error
	putErr  error
	heads   int
	puts    []s3.PutObjectInput
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}}
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heads++
	if f.headErr != nil {
		return nil, f.headErr
	}
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{ETag: aws.String(`"existing"`)}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.puts = append(f.puts, *in)
	var body []byte
	if in.Body != nil {
		body, _ = io.ReadAll(in.Body)
	}
	f.objects[aws.ToString(in.Key)] = body
	return &s3.PutObjectOutput{ETag: aws.String(`"fresh"`)}, nil
}

func (f *fakeS3) putCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.puts)
}

func (f *fakeS3) headCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heads
}

func (f *fakeS3) object(key string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[key]
}

func TestPutUploadsMissingObject(t *testing.T) {
	api := newFakeS3()
	store := NewStore(api, "artifacts", "assets", "eu-west-1", nil)
	raw := []byte("payload")
	digest := Digest(raw)

	rec, err := store.Put(context.Background(), raw, digest, ExtZip)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if rec.Existed {
		t.Fatalf("fresh object should not be marked existing")
	}
	if rec.Key != "assets/"+digest+ExtZip {
		t.Fatalf("unexpected key %s", rec.Key)
	}
	if rec.URL != "https://artifacts.s3.eu-west-1.amazonaws.com/"+rec.Key {
		t.Fatalf("unexpected url %s", rec.URL)
	}
	if api.putCount() != 1 {
		t.Fatalf("expected one upload, got %d", api.putCount())
	}
	sum, _ := hex.DecodeString(digest)
	if got := aws.ToString(api.puts[0].ChecksumSHA256); got != base64.StdEncoding.EncodeToString(sum) {
		t.Fatalf("checksum header mismatch: %s", got)
	}
	if aws.ToInt64(api.puts[0].ContentLength) != int64(len(raw)) {
		t.Fatalf("content length mismatch")
	}
}

func TestPutSkipsExistingObject(t *testing.T) {
	api := newFakeS3()
	store := NewStore(api, "artifacts", "", "eu-west-1", nil)
	raw := []byte("payload")
	digest := Digest(raw)
	api.objects[digest+ExtZip] = raw

	rec, err := store.Put(context.Background(), raw, digest, ExtZip)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !rec.Existed {
		t.Fatalf("expected existing object to be detected")
	}
	if api.putCount() != 0 {
		t.Fatalf("existing object should not be re-uploaded")
	}
}

func TestPutClassifiesPermissionDenied(t *testing.T) {
	api := newFakeS3()
	api.headErr = &smithy.GenericAPIError{Code: "AccessDenied", Message: "nope"}
	store := NewStore(api, "artifacts", "", "eu-west-1", nil)

	_, err := store.Put(context.Background(), []byte("x"), Digest([]byte("x")), ExtZip)
	var se *StoreError
	if !errors.As(err, &se) {
		t.Fatalf("expected StoreError, got %v", err)
	}
	if se.Kind != KindPermissionDenied {
		t.Fatalf("expected permission kind, got %v", se.Kind)
	}
}

func TestPutClassifiesNetworkFailure(t *testing.T) {
	api := newFakeS3()
	api.putErr = errors.New("connection reset")
	store := NewStore(api, "artifacts", "", "eu-west-1", nil)

	_, err := store.Put(context.Background(), []byte("x"), Digest([]byte("x")), ExtZip)
	var se *StoreError
	if !errors.As(err, &se) {
		t.Fatalf("expected StoreError, got %v", err)
	}
	if se.Kind != KindNetwork {
		t.Fatalf("expected network kind, got %v", se.Kind)
	}
	if se.Op != "upload" {
		t.Fatalf("expected upload stage, got %s", se.Op)
	}
}

func TestObjectKeyJoinsPrefix(t *testing.T) {
	store := NewStore(newFakeS3(), "b", "deep/prefix/", "eu-west-1", nil)
	if got := store.ObjectKey("abc", ExtTemplate); got != "deep/prefix/abc.template" {
		t.Fatalf("unexpected key %s", got)
	}
	bare := NewStore(newFakeS3(), "b", "", "eu-west-1", nil)
	if got := bare.ObjectKey("abc", ExtZip); got != "abc.zip" {
		t.Fatalf("unexpected key %s", got)
	}
}
