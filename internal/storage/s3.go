package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	ststypes "github.com/aws/aws-sdk-go-v2/service/sts/types"
	"github.com/aws/smithy-go"
)

const (
	// sessionDuration is how long assumed-role credentials are valid
	sessionDuration = time.Hour

	// deleteBatchSize is the DeleteObjects limit per request
	deleteBatchSize = 1000
)

// S3API is the subset of the S3 client the store uses.
type S3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	s3.ListObjectsV2APIClient
}

// S3Store keeps content as private objects in an S3 bucket.
type S3Store struct {
	client        S3API
	presign       func(ctx context.Context, key string) (string, error)
	bucketName    string
	presignExpiry time.Duration
}

// NewS3Store creates a store on bucketName using client.
func NewS3Store(client *s3.Client, bucketName string, presignExpiry time.Duration) *S3Store {
	presigner := s3.NewPresignClient(client)
	st := &S3Store{
		client:        client,
		bucketName:    bucketName,
		presignExpiry: presignExpiry,
	}
	st.presign = func(ctx context.Context, key string) (string, error) {
		req, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucketName),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(st.presignExpiry))
		if err != nil {
			return "", err
		}
		return req.URL, nil
	}
	return st
}

// NewS3StoreWithAPI creates a store over any S3API implementation; presign
// produces the URL for a key.
func NewS3StoreWithAPI(client S3API, bucketName string, presign func(ctx context.Context, key string) (string, error)) *S3Store {
	return &S3Store{client: client, presign: presign, bucketName: bucketName}
}

// NewS3ClientForRole returns an S3 client whose credentials come from
// assuming roleArn with a session tag naming the content service. The role is
// assumed again whenever the cached session nears expiry. Without a role the
// base configuration is used as is.
func NewS3ClientForRole(cfg aws.Config, roleArn string) *s3.Client {
	if roleArn == "" {
		return s3.NewFromConfig(cfg)
	}
	creds := roleCredentials(sts.NewFromConfig(cfg), roleArn)
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.Credentials = creds
	})
}

func roleCredentials(client stscreds.AssumeRoleAPIClient, roleArn string) *aws.CredentialsCache {
	provider := stscreds.NewAssumeRoleProvider(client, roleArn, func(o *stscreds.AssumeRoleOptions) {
		o.RoleSessionName = fmt.Sprintf("scormhost-content-%d", time.Now().Unix())
		o.Duration = sessionDuration
		o.Tags = []ststypes.Tag{
			{
				Key:   aws.String("service"),
				Value: aws.String("scormhost"),
			},
		}
	})
	return aws.NewCredentialsCache(provider)
}

// Exists reports whether the object is present.
func (s *S3Store) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(name),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check object existence: %w", err)
}

// Save uploads r as a private object with a guessed content type.
func (s *S3Store) Save(ctx context.Context, name string, r io.Reader, size int64) error {
	head, body, err := peek(r)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucketName),
		Key:           aws.String(name),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(ContentType(name, head)),
		ACL:           types.ObjectCannedACLPrivate,
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload %s: %w", name, err)
	}
	return nil
}

// Open streams the object body.
func (s *S3Store) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(name),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("failed to get %s: %w", name, err)
	}
	return out.Body, nil
}

// URL presigns a GET for name. The migrator trims the signature to obtain
// the prefix base URL.
func (s *S3Store) URL(ctx context.Context, name string) (string, error) {
	return s.presign(ctx, path.Clean(name))
}

// ListPrefix returns every key under prefix.
func (s *S3Store) ListPrefix(ctx context.Context, prefix string) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucketName),
		Prefix: aws.String(prefix),
	})

	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// Delete removes a single object.
func (s *S3Store) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(name),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}
	return nil
}

// DeleteBatch removes keys with DeleteObjects, deleteBatchSize at a time.
func (s *S3Store) DeleteBatch(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(keys))

		objects := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(k)})
		}

		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucketName),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("failed to delete objects: %w", err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return fmt.Errorf("failed to delete %d objects, first %s: %s",
				len(out.Errors), aws.ToString(first.Key), aws.ToString(first.Message))
		}
	}
	return nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	var nsk *types.NoSuchKey
	return errors.As(err, &nsk)
}
