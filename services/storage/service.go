package storage

import (
	"bytes"
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/opentracing/opentracing-go"

	"github.com/inboxline/mailsync/interfaces"
	"github.com/inboxline/mailsync/internal/tracing"
	"github.com/inboxline/mailsync/services/storage/aws_client"
)

// blobStore keeps message part payloads in an S3-compatible bucket. Keys
// are content hashes, so a payload that arrives through two folders or two
// accounts is stored once.
type blobStore struct {
	client aws_client.S3Client
	bucket string
}

func NewBlobStore(client aws_client.S3Client, bucket string) interfaces.BlobStore {
	return &blobStore{
		client: client,
		bucket: bucket,
	}
}

// Put uploads data under key unless the bucket already holds it. With
// content-hash keys an existing object is always byte-identical, so the
// second write is skipped rather than repeated.
func (s *blobStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "blobStore.Put")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("key", key)
	span.LogKV("size", len(data))

	exists, err := s.client.Exists(ctx, s.bucket, key)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if exists {
		span.SetTag("deduplicated", true)
		return nil
	}

	uploadInput := s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}

	if err := s.client.Upload(ctx, uploadInput); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (s *blobStore) Get(ctx context.Context, key string) ([]byte, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "blobStore.Get")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("key", key)

	data, err := s.client.Download(ctx, s.bucket, key)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return data, nil
}

func (s *blobStore) Delete(ctx context.Context, key string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "blobStore.Delete")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("key", key)

	if err := s.client.Delete(ctx, s.bucket, key); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}
