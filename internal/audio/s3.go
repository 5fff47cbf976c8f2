package audio

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	awsv1 "github.com/aws/aws-sdk-go/aws"
	credsv1 "github.com/aws/aws-sdk-go/aws/credentials"
	sessionv1 "github.com/aws/aws-sdk-go/aws/session"
	s3v1 "github.com/aws/aws-sdk-go/service/s3"

	"videorag/internal/apperr"
	"videorag/internal/models"
)

// S3Store persists audio files to an S3-compatible object store. Adapted
// from the Go teacher's own internal/storage S3Service, repurposed here as
// an alternate audio.Store backend instead of a generic file attachment
// store.
type S3Store struct {
	client *s3v1.S3
	bucket string
}

// NewS3Store configures an S3-compatible client. An incomplete cfg returns
// an error rather than the teacher's silent "disabled" null object, since
// this backend is only constructed when an S3 bucket is configured.
func NewS3Store(cfg models.S3Config) (*S3Store, error) {
	if cfg.Endpoint == "" || cfg.Region == "" || cfg.KeyID == "" || cfg.AppKey == "" || cfg.Bucket == "" {
		return nil, apperr.Validation("S3 audio backend selected but S3 configuration is incomplete")
	}

	disableSSL := strings.HasPrefix(strings.ToLower(cfg.Endpoint), "http://")

	sess, err := sessionv1.NewSession(&awsv1.Config{
		Region:           awsv1.String(cfg.Region),
		Endpoint:         awsv1.String(cfg.Endpoint),
		S3ForcePathStyle: awsv1.Bool(true),
		Credentials:      credsv1.NewStaticCredentials(cfg.KeyID, cfg.AppKey, ""),
		DisableSSL:       awsv1.Bool(disableSSL),
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindCritical, "failed to create AWS session", err)
	}

	log.Printf("[audio/s3] initialized for bucket %q at endpoint %q", cfg.Bucket, cfg.Endpoint)
	return &S3Store{client: s3v1.New(sess), bucket: cfg.Bucket}, nil
}

// Save uploads the file at localTmpPath to S3 under key and removes the
// local temp file.
func (s *S3Store) Save(ctx context.Context, key string, localTmpPath string) (string, error) {
	f, err := os.Open(localTmpPath)
	if err != nil {
		return "", apperr.Wrap(apperr.KindCritical, "failed to open audio temp file", err)
	}
	defer f.Close()

	_, err = s.client.PutObjectWithContext(ctx, &s3v1.PutObjectInput{
		Bucket:      awsv1.String(s.bucket),
		Key:         awsv1.String(key),
		Body:        f,
		ContentType: awsv1.String("audio/wav"),
	})
	if err != nil {
		return "", apperr.External(fmt.Sprintf("failed to upload audio object %q", key), err)
	}
	os.Remove(localTmpPath)
	return key, nil
}

// Open returns a reader over an S3 object by key.
func (s *S3Store) Open(ctx context.Context, storedPath string) (io.ReadCloser, error) {
	result, err := s.client.GetObjectWithContext(ctx, &s3v1.GetObjectInput{
		Bucket: awsv1.String(s.bucket),
		Key:    awsv1.String(storedPath),
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPipeline, fmt.Sprintf("audio object %q is missing", storedPath), err)
	}
	return result.Body, nil
}

// Delete removes objects from S3 in a single batch call.
func (s *S3Store) Delete(ctx context.Context, storedPaths []string) error {
	if len(storedPaths) == 0 {
		return nil
	}
	objects := make([]*s3v1.ObjectIdentifier, len(storedPaths))
	for i, key := range storedPaths {
		objects[i] = &s3v1.ObjectIdentifier{Key: awsv1.String(key)}
	}
	_, err := s.client.DeleteObjectsWithContext(ctx, &s3v1.DeleteObjectsInput{
		Bucket: awsv1.String(s.bucket),
		Delete: &s3v1.Delete{Objects: objects, Quiet: awsv1.Bool(true)},
	})
	if err != nil {
		return apperr.External("failed to delete audio objects from S3", err)
	}
	return nil
}
