package storage

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"

	"github.com/inboxline/mailsync/interfaces"
	"github.com/inboxline/mailsync/services/storage/aws_client"
)

// NewS3BlobStore builds a BlobStore against AWS S3, or against any
// S3-compatible server (MinIO, R2) when endpoint is non-empty.
func NewS3BlobStore(region, accessKeyID, accessKeySecret, endpoint, bucket string) interfaces.BlobStore {
	awsCfg := &aws.Config{
		Region:      aws.String(region),
		Credentials: credentials.NewStaticCredentials(accessKeyID, accessKeySecret, ""),
	}
	if endpoint != "" {
		awsCfg.Endpoint = aws.String(endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	return NewBlobStore(aws_client.NewS3Client(awsCfg), bucket)
}
