package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/torrin-io/torrin/internal/models"
	"github.com/torrin-io/torrin/internal/uploaderr"
)

// fakeS3 implements the api slice used by the driver.
type fakeS3 struct {
	mu sync.Mutex

	nextUploadID string
	created      []string
	completed    map[string][]int32 // key -> part numbers in completion order
	aborted      []string
	parts        map[string]map[int32][]byte // multipart id -> part number -> data

	failCreate   bool
	emptyCreate  bool
	failUpload   bool
	failComplete bool
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		nextUploadID: "mp-1",
		completed:    make(map[string][]int32),
		parts:        make(map[string]map[int32][]byte),
	}
}

func (f *fakeS3) CreateMultipartUpload(ctx context.Context, in *awss3.CreateMultipartUploadInput, opts ...func(*awss3.Options)) (*awss3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate {
		return nil, fmt.Errorf("create failed")
	}
	if f.emptyCreate {
		return &awss3.CreateMultipartUploadOutput{}, nil
	}
	f.created = append(f.created, *in.Key)
	f.parts[f.nextUploadID] = make(map[int32][]byte)
	return &awss3.CreateMultipartUploadOutput{UploadId: aws.String(f.nextUploadID)}, nil
}

func (f *fakeS3) UploadPart(ctx context.Context, in *awss3.UploadPartInput, opts ...func(*awss3.Options)) (*awss3.UploadPartOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpload {
		return nil, fmt.Errorf("upload part failed")
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.parts[*in.UploadId][*in.PartNumber] = data
	return &awss3.UploadPartOutput{
		ETag: aws.String(fmt.Sprintf("etag-%d-%d", *in.PartNumber, len(data))),
	}, nil
}

func (f *fakeS3) CompleteMultipartUpload(ctx context.Context, in *awss3.CompleteMultipartUploadInput, opts ...func(*awss3.Options)) (*awss3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failComplete {
		return nil, fmt.Errorf("complete failed")
	}
	var order []int32
	for _, p := range in.MultipartUpload.Parts {
		order = append(order, *p.PartNumber)
	}
	f.completed[*in.Key] = order
	return &awss3.CompleteMultipartUploadOutput{
		ETag:     aws.String("final-etag"),
		Location: aws.String("https://bucket.example.com/" + *in.Key),
	}, nil
}

func (f *fakeS3) AbortMultipartUpload(ctx context.Context, in *awss3.AbortMultipartUploadInput, opts ...func(*awss3.Options)) (*awss3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = append(f.aborted, *in.UploadId)
	return &awss3.AbortMultipartUploadOutput{}, nil
}

func testSession(id, fileName string, fileSize, chunkSize int64, totalChunks int) *models.UploadSession {
	return &models.UploadSession{
		UploadID:    id,
		FileName:    fileName,
		FileSize:    fileSize,
		ChunkSize:   chunkSize,
		TotalChunks: totalChunks,
	}
}

func TestInitUpload(t *testing.T) {
	fake := newFakeS3()
	d := newWithClient(fake, Config{Bucket: "b"})
	session := testSession("u_s3a", "clip.mp4", 10, 5, 2)

	if err := d.InitUpload(context.Background(), session); err != nil {
		t.Fatalf("InitUpload() error: %v", err)
	}
	if len(fake.created) != 1 {
		t.Fatalf("created = %v, want one key", fake.created)
	}
	if !strings.HasPrefix(fake.created[0], "uploads/") || !strings.HasSuffix(fake.created[0], "u_s3a.mp4") {
		t.Errorf("key = %q, want uploads/<YYYY>/<MM>/u_s3a.mp4", fake.created[0])
	}
	if d.MultipartID("u_s3a") != "mp-1" {
		t.Errorf("MultipartID = %q, want mp-1", d.MultipartID("u_s3a"))
	}
}

func TestInitUploadNoMultipartID(t *testing.T) {
	fake := newFakeS3()
	fake.emptyCreate = true
	d := newWithClient(fake, Config{Bucket: "b"})

	err := d.InitUpload(context.Background(), testSession("u_s3b", "", 10, 5, 2))
	if !uploaderr.Is(err, uploaderr.CodeStorageError) {
		t.Errorf("error = %v, want STORAGE_ERROR", err)
	}
}

func TestWriteChunkUploadsOneBasedPart(t *testing.T) {
	fake := newFakeS3()
	d := newWithClient(fake, Config{Bucket: "b"})
	ctx := context.Background()
	session := testSession("u_s3c", "", 10, 5, 2)

	if err := d.InitUpload(ctx, session); err != nil {
		t.Fatalf("InitUpload() error: %v", err)
	}
	if err := d.WriteChunk(ctx, session, 0, bytes.NewReader([]byte("hello")), 5, ""); err != nil {
		t.Fatalf("WriteChunk() error: %v", err)
	}

	if got := fake.parts["mp-1"][1]; string(got) != "hello" {
		t.Errorf("part 1 = %q, want %q (chunk 0 maps to part 1)", got, "hello")
	}
}

func TestWriteChunkSizeMismatch(t *testing.T) {
	fake := newFakeS3()
	d := newWithClient(fake, Config{Bucket: "b"})
	ctx := context.Background()
	session := testSession("u_s3d", "", 10, 5, 2)

	if err := d.InitUpload(ctx, session); err != nil {
		t.Fatalf("InitUpload() error: %v", err)
	}
	err := d.WriteChunk(ctx, session, 0, bytes.NewReader([]byte("abc")), 5, "")
	if !uploaderr.Is(err, uploaderr.CodeChunkSizeMismatch) {
		t.Errorf("error = %v, want CHUNK_SIZE_MISMATCH", err)
	}
}

func TestFinalizeSortsPartsAscending(t *testing.T) {
	fake := newFakeS3()
	d := newWithClient(fake, Config{Bucket: "b"})
	ctx := context.Background()
	session := testSession("u_s3e", "", 11, 4, 3)

	if err := d.InitUpload(ctx, session); err != nil {
		t.Fatalf("InitUpload() error: %v", err)
	}
	// Upload out of order.
	for _, tc := range []struct {
		index int
		data  string
	}{{2, "ghi"}, {0, "abcd"}, {1, "efgh"}} {
		if err := d.WriteChunk(ctx, session, tc.index, bytes.NewReader([]byte(tc.data)), int64(len(tc.data)), ""); err != nil {
			t.Fatalf("WriteChunk(%d) error: %v", tc.index, err)
		}
	}

	loc, err := d.FinalizeUpload(ctx, session)
	if err != nil {
		t.Fatalf("FinalizeUpload() error: %v", err)
	}
	if loc.Type != models.LocationS3 || loc.Bucket != "b" {
		t.Errorf("location = %+v", loc)
	}
	if loc.ETag != "final-etag" {
		t.Errorf("etag = %q, want final-etag", loc.ETag)
	}

	var key string
	for k := range fake.completed {
		key = k
	}
	order := fake.completed[key]
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("completion order = %v, want [1 2 3]", order)
	}
}

func TestFinalizeWithoutStateFails(t *testing.T) {
	d := newWithClient(newFakeS3(), Config{Bucket: "b"})

	_, err := d.FinalizeUpload(context.Background(), testSession("u_unknown", "", 10, 5, 2))
	if !uploaderr.Is(err, uploaderr.CodeStorageError) {
		t.Errorf("error = %v, want STORAGE_ERROR", err)
	}
}

func TestReuploadedPartSupersedes(t *testing.T) {
	fake := newFakeS3()
	d := newWithClient(fake, Config{Bucket: "b"})
	ctx := context.Background()
	session := testSession("u_s3f", "", 5, 5, 1)

	if err := d.InitUpload(ctx, session); err != nil {
		t.Fatalf("InitUpload() error: %v", err)
	}
	if err := d.WriteChunk(ctx, session, 0, bytes.NewReader([]byte("11111")), 5, ""); err != nil {
		t.Fatalf("first WriteChunk() error: %v", err)
	}
	if err := d.WriteChunk(ctx, session, 0, bytes.NewReader([]byte("22222")), 5, ""); err != nil {
		t.Fatalf("second WriteChunk() error: %v", err)
	}

	st := d.state("u_s3f")
	if len(st.parts) != 1 {
		t.Fatalf("parts = %d, want 1 (superseded, not duplicated)", len(st.parts))
	}
}

func TestAbort(t *testing.T) {
	fake := newFakeS3()
	d := newWithClient(fake, Config{Bucket: "b"})
	ctx := context.Background()
	session := testSession("u_s3g", "", 10, 5, 2)

	if err := d.InitUpload(ctx, session); err != nil {
		t.Fatalf("InitUpload() error: %v", err)
	}
	if err := d.AbortUpload(ctx, session); err != nil {
		t.Fatalf("AbortUpload() error: %v", err)
	}
	if len(fake.aborted) != 1 || fake.aborted[0] != "mp-1" {
		t.Errorf("aborted = %v, want [mp-1]", fake.aborted)
	}

	// Absent state is a no-op, not an error.
	if err := d.AbortUpload(ctx, session); err != nil {
		t.Errorf("second AbortUpload() error: %v", err)
	}
	if len(fake.aborted) != 1 {
		t.Errorf("abort called %d times, want 1", len(fake.aborted))
	}
}

func TestObjectKeyOverride(t *testing.T) {
	fake := newFakeS3()
	d := newWithClient(fake, Config{
		Bucket: "b",
		GetObjectKey: func(session *models.UploadSession) string {
			return "custom/" + session.UploadID
		},
	})

	if err := d.InitUpload(context.Background(), testSession("u_s3h", "x.txt", 5, 5, 1)); err != nil {
		t.Fatalf("InitUpload() error: %v", err)
	}
	if fake.created[0] != "custom/u_s3h" {
		t.Errorf("key = %q, want custom/u_s3h", fake.created[0])
	}
}
