package s3

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/archon-research/p2pwatch/internal/domain/entity"
	"github.com/archon-research/p2pwatch/internal/testutil"
)

// ----- Mocks -----

type mockS3API struct {
	getObjectFunc func(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	putObjectFunc func(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

func (m *mockS3API) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getObjectFunc != nil {
		return m.getObjectFunc(ctx, params, optFns...)
	}
	return nil, &types.NoSuchKey{}
}

func (m *mockS3API) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putObjectFunc != nil {
		return m.putObjectFunc(ctx, params, optFns...)
	}
	return &s3.PutObjectOutput{}, nil
}

// memoryBucket stores the last PUT and serves it back on GET.
func memoryBucket() *mockS3API {
	var (
		stored   []byte
		encoding *string
	)
	return &mockS3API{
		putObjectFunc: func(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
			b, err := io.ReadAll(params.Body)
			if err != nil {
				return nil, err
			}
			stored = b
			encoding = params.ContentEncoding
			return &s3.PutObjectOutput{}, nil
		},
		getObjectFunc: func(_ context.Context, _ *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			if stored == nil {
				return nil, &types.NoSuchKey{}
			}
			return &s3.GetObjectOutput{
				Body:            io.NopCloser(bytes.NewReader(stored)),
				ContentEncoding: encoding,
			}, nil
		},
	}
}

type fakeAPIError struct{ code string }

func (e fakeAPIError) Error() string                 { return e.code }
func (e fakeAPIError) ErrorCode() string             { return e.code }
func (e fakeAPIError) ErrorMessage() string          { return e.code }
func (e fakeAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

// ----- Tests -----

func TestNewStateStore_Validation(t *testing.T) {
	if _, err := newStateStore(nil, Config{Bucket: "b"}, entity.DefaultState(0), nil); err == nil {
		t.Error("expected error for nil client")
	}
	_, err := newStateStore(&mockS3API{}, Config{}, entity.DefaultState(0), nil)
	if err == nil || !strings.Contains(err.Error(), "bucket is required") {
		t.Errorf("expected bucket error, got %v", err)
	}

	store, err := newStateStore(&mockS3API{}, Config{Bucket: "b"}, entity.DefaultState(0), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.key != "p2pwatch/state.json" {
		t.Errorf("default key = %q", store.key)
	}
}

func TestNewStateStore_FromAWSConfig(t *testing.T) {
	store, err := NewStateStore(aws.Config{Region: "eu-west-1"}, Config{Bucket: "b"}, entity.DefaultState(0), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.client == nil {
		t.Error("expected non-nil client")
	}
}

func TestLoad_NotFound(t *testing.T) {
	cases := map[string]error{
		"NoSuchKey type": &types.NoSuchKey{},
		"NotFound type":  &types.NotFound{},
		"api error code": fakeAPIError{code: "NoSuchKey"},
	}
	for name, notFound := range cases {
		t.Run(name, func(t *testing.T) {
			api := &mockS3API{
				getObjectFunc: func(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
					return nil, notFound
				},
			}
			store, _ := newStateStore(api, Config{Bucket: "b"}, entity.DefaultState(0), testutil.DiscardLogger())

			if _, err := store.Load(context.Background()); !errors.Is(err, entity.ErrStateNotFound) {
				t.Errorf("expected ErrStateNotFound, got %v", err)
			}
		})
	}
}

func TestLoad_OtherErrorPropagates(t *testing.T) {
	api := &mockS3API{
		getObjectFunc: func(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			return nil, fakeAPIError{code: "AccessDenied"}
		},
	}
	store, _ := newStateStore(api, Config{Bucket: "b"}, entity.DefaultState(0), testutil.DiscardLogger())

	_, err := store.Load(context.Background())
	if err == nil || errors.Is(err, entity.ErrStateNotFound) {
		t.Fatalf("expected access error, got %v", err)
	}
}

func TestSaveThenLoad(t *testing.T) {
	for _, compressed := range []bool{false, true} {
		api := memoryBucket()
		store, _ := newStateStore(api, Config{Bucket: "b", Gzip: compressed}, entity.DefaultState(9), testutil.DiscardLogger())
		ctx := context.Background()

		st := entity.DefaultState(9)
		st.AutoStart = true
		st.PriceRange = entity.PriceBand{Min: 10, Max: 20}
		if err := store.Save(ctx, &st); err != nil {
			t.Fatalf("Save(gzip=%v): %v", compressed, err)
		}

		got, err := store.Load(ctx)
		if err != nil {
			t.Fatalf("Load(gzip=%v): %v", compressed, err)
		}
		if !got.AutoStart || got.PriceRange != st.PriceRange || got.AdminID != 9 {
			t.Errorf("gzip=%v: loaded %+v", compressed, got)
		}
	}
}

func TestSave_SetsObjectMetadata(t *testing.T) {
	var input *s3.PutObjectInput
	api := &mockS3API{
		putObjectFunc: func(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
			input = params
			return &s3.PutObjectOutput{}, nil
		},
	}
	store, _ := newStateStore(api, Config{Bucket: "bucket", Key: "k/state.json", Gzip: true}, entity.DefaultState(0), testutil.DiscardLogger())

	st := entity.DefaultState(0)
	if err := store.Save(context.Background(), &st); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if aws.ToString(input.Bucket) != "bucket" || aws.ToString(input.Key) != "k/state.json" {
		t.Errorf("location = %s/%s", aws.ToString(input.Bucket), aws.ToString(input.Key))
	}
	if aws.ToString(input.ContentType) != "application/json" || aws.ToString(input.ContentEncoding) != "gzip" {
		t.Errorf("content headers = %s / %s", aws.ToString(input.ContentType), aws.ToString(input.ContentEncoding))
	}

	gz, err := gzip.NewReader(input.Body)
	if err != nil {
		t.Fatalf("body is not gzip: %v", err)
	}
	data, _ := io.ReadAll(gz)
	if !bytes.Contains(data, []byte(`"price_range"`)) {
		t.Errorf("unexpected body: %s", data)
	}
}

func TestSave_PropagatesError(t *testing.T) {
	api := &mockS3API{
		putObjectFunc: func(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
			return nil, errors.New("throttled")
		},
	}
	store, _ := newStateStore(api, Config{Bucket: "b"}, entity.DefaultState(0), testutil.DiscardLogger())
	st := entity.DefaultState(0)

	if err := store.Save(context.Background(), &st); err == nil {
		t.Fatal("expected error")
	}
}
