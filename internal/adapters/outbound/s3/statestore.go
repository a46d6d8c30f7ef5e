// Package s3 persists the watcher state as a JSON object in AWS S3.
package s3

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/archon-research/p2pwatch/internal/domain/entity"
	"github.com/archon-research/p2pwatch/internal/ports/outbound"
)

// s3API defines the subset of S3 operations needed by the StateStore.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var _ outbound.StateRepository = (*StateStore)(nil)

// Config locates the state object.
type Config struct {
	Bucket string
	// Key defaults to "p2pwatch/state.json".
	Key string
	// Gzip compresses the document on upload. Reads honour the stored
	// Content-Encoding either way.
	Gzip bool
}

// StateStore reads and writes the state object. S3 PUTs are atomic, so a
// reader never observes a partial document.
type StateStore struct {
	client   s3API
	bucket   string
	key      string
	gzip     bool
	defaults entity.State
	logger   *slog.Logger
}

// NewStateStore creates an S3-backed state store from an AWS config.
func NewStateStore(awsCfg aws.Config, cfg Config, defaults entity.State, logger *slog.Logger, optFns ...func(*s3.Options)) (*StateStore, error) {
	return newStateStore(s3.NewFromConfig(awsCfg, optFns...), cfg, defaults, logger)
}

func newStateStore(client s3API, cfg Config, defaults entity.State, logger *slog.Logger) (*StateStore, error) {
	if client == nil {
		return nil, fmt.Errorf("s3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if cfg.Key == "" {
		cfg.Key = "p2pwatch/state.json"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StateStore{
		client:   client,
		bucket:   cfg.Bucket,
		key:      cfg.Key,
		gzip:     cfg.Gzip,
		defaults: defaults,
		logger:   logger.With("component", "s3-state-store", "bucket", cfg.Bucket, "key", cfg.Key),
	}, nil
}

// Load fetches and decodes the state object.
func (s *StateStore) Load(ctx context.Context) (*entity.State, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, entity.ErrStateNotFound
		}
		return nil, fmt.Errorf("failed to get state object: %w", err)
	}
	defer out.Body.Close()

	var body io.Reader = out.Body
	if aws.ToString(out.ContentEncoding) == "gzip" {
		gz, err := gzip.NewReader(out.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gz.Close()
		body = gz
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read state object: %w", err)
	}
	return entity.DecodeState(data, s.defaults)
}

// Save uploads the state document, replacing the previous object.
func (s *StateStore) Save(ctx context.Context, st *entity.State) error {
	if st == nil {
		return fmt.Errorf("state cannot be nil")
	}
	data, err := entity.EncodeState(*st)
	if err != nil {
		return err
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		ContentType: aws.String("application/json"),
	}
	if s.gzip {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(data); err != nil {
			return fmt.Errorf("failed to compress state: %w", err)
		}
		if err := gz.Close(); err != nil {
			return fmt.Errorf("failed to close gzip writer: %w", err)
		}
		input.Body = bytes.NewReader(buf.Bytes())
		input.ContentEncoding = aws.String("gzip")
	} else {
		input.Body = bytes.NewReader(data)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to write state object: %w", err)
	}

	s.logger.Debug("state saved", "bytes", len(data), "compressed", s.gzip)
	return nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "404":
			return true
		}
	}
	return false
}
