package backup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeS3 struct {
	objects map[string][]byte
	putErr  error
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, _ := io.ReadAll(in.Body)
	f.objects[*in.Bucket+"/"+*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3Mirror_PutGet(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	m := newS3Mirror(fake, "annotations", "snapshots")

	if got := m.Key("gate north/1"); got != "snapshots/gate%20north%2F1.json" {
		t.Errorf("Key() = %q", got)
	}

	body := []byte(`{"videoId":"cam-1"}`)
	if err := m.Put(context.Background(), "cam-1", body); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, ok := fake.objects["annotations/snapshots/cam-1.json"]; !ok {
		t.Fatalf("object not stored: %v", fake.objects)
	}

	got, err := m.Get(context.Background(), "cam-1")
	if err != nil || !bytes.Equal(got, body) {
		t.Fatalf("Get() = %s, %v", got, err)
	}

	missing, err := m.Get(context.Background(), "cam-2")
	if err != nil || missing != nil {
		t.Fatalf("Get(missing) = %s, %v; want nil, nil", missing, err)
	}
}

func TestS3Mirror_PutError(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}, putErr: errors.New("access denied")}
	m := newS3Mirror(fake, "b", "")
	if err := m.Put(context.Background(), "cam-1", []byte("{}")); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewS3Mirror_RequiresBucket(t *testing.T) {
	if _, err := NewS3Mirror(context.Background(), Options{}); err == nil {
		t.Fatal("expected error without bucket")
	}
}

func TestNoopMirror(t *testing.T) {
	var m Mirror = NoopMirror{}
	if err := m.Put(context.Background(), "x", nil); err != nil {
		t.Fatal(err)
	}
	if got, err := m.Get(context.Background(), "x"); got != nil || err != nil {
		t.Fatalf("Get() = %v, %v", got, err)
	}
}
