package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// mockS3Client implements S3API over a map.
type mockS3Client struct {
	mu      sync.Mutex
	objects map[string]*s3.PutObjectInput
	bodies  map[string][]byte
	putErr  error
}

func newMockS3Client() *mockS3Client {
	return &mockS3Client{objects: map[string]*s3.PutObjectInput{}, bodies: map[string][]byte{}}
}

func (m *mockS3Client) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	m.objects[key] = in
	m.bodies[key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	put, ok := m.objects[key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	data := m.bodies[key]
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentType:   put.ContentType,
		ContentLength: aws.Int64(int64(len(data))),
		Metadata:      put.Metadata,
		LastModified:  aws.Time(time.Now()),
	}, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	delete(m.objects, key)
	delete(m.bodies, key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Store_PutGet(t *testing.T) {
	client := newMockS3Client()
	s := NewS3Store(client, "records", "medrecords/")
	ctx := context.Background()

	obj, err := s.Put(ctx, "rx.jpg", "image/jpeg", strings.NewReader("jpeg-bytes"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !strings.HasPrefix(obj.Key, "medrecords/") {
		t.Errorf("expected prefixed key, got %q", obj.Key)
	}
	put := client.objects["records/"+obj.Key]
	if put == nil {
		t.Fatal("object was not written to the bucket")
	}
	if put.Metadata[metaSHA256] != obj.Hash {
		t.Errorf("hash metadata mismatch: %q vs %q", put.Metadata[metaSHA256], obj.Hash)
	}

	rc, got, err := s.Get(ctx, obj.Key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "jpeg-bytes" {
		t.Errorf("unexpected body %q", data)
	}
	if got.FileName != "rx.jpg" || got.ContentType != "image/jpeg" || got.Size != 10 {
		t.Errorf("unexpected object %+v", got)
	}
}

func TestS3Store_GetMissing(t *testing.T) {
	s := NewS3Store(newMockS3Client(), "records", "")
	if _, _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound, got %v", err)
	}
}

func TestS3Store_PutError(t *testing.T) {
	client := newMockS3Client()
	client.putErr = errors.New("access denied")
	s := NewS3Store(client, "records", "")
	_, err := s.Put(context.Background(), "a.png", "image/png", strings.NewReader("x"))
	if err == nil || !strings.Contains(err.Error(), "access denied") {
		t.Errorf("expected wrapped put error, got %v", err)
	}
}

func TestS3Store_Delete(t *testing.T) {
	client := newMockS3Client()
	s := NewS3Store(client, "records", "")
	ctx := context.Background()
	obj, err := s.Put(ctx, "a.png", "image/png", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Delete(ctx, obj.Key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(client.objects) != 0 {
		t.Errorf("expected bucket to be empty, got %d objects", len(client.objects))
	}
}

func TestS3Store_ValidatesBeforeUpload(t *testing.T) {
	client := newMockS3Client()
	s := NewS3Store(client, "records", "")
	if _, err := s.Put(context.Background(), "a.bin", "application/octet-stream", strings.NewReader("x")); !errors.Is(err, ErrInvalidContentType) {
		t.Errorf("expected ErrInvalidContentType, got %v", err)
	}
	if len(client.objects) != 0 {
		t.Error("invalid upload reached the bucket")
	}
}
