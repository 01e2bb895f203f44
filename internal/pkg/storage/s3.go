package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"bookstore/internal/config"
	"bookstore/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	loadDefaultAWSConfig  = awsconfig.LoadDefaultConfig
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) objectPutter {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// objectPutter 是 S3Store 用到的 S3 API 子集。
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// File 是待上传的一个文件，内容已读入内存。
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// S3Store 把图书图片上传到 S3 兼容的对象存储。
type S3Store struct {
	client   objectPutter
	bucket   string
	prefix   string
	region   string
	endpoint string
}

// NewS3Store 根据配置创建 S3 客户端。
//
// Endpoint 非空时使用自定义端点并启用 path-style（MinIO）。
func NewS3Store(ctx context.Context, cfg *config.StorageConfig) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client:   client,
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.PathPrefix, "/"),
		region:   cfg.Region,
		endpoint: endpoint,
	}, nil
}

// UploadImages 并发上传全部文件，返回结果与 files 顺序一致。
// 任一文件失败则返回错误，已上传的对象不会被引用。
func (s *S3Store) UploadImages(ctx context.Context, files []File) ([]model.Image, error) {
	images := make([]model.Image, len(files))
	g, gctx := errgroup.WithContext(ctx)

	for i, f := range files {
		i, f := i, f // per-iteration copies (go directive is 1.21)
		g.Go(func() error {
			key := s.objectKey(f.Name)
			_, err := s.client.PutObject(gctx, &s3.PutObjectInput{
				Bucket:        aws.String(s.bucket),
				Key:           aws.String(key),
				Body:          bytes.NewReader(f.Data),
				ContentLength: aws.Int64(int64(len(f.Data))),
				ContentType:   aws.String(f.ContentType),
			})
			if err != nil {
				return fmt.Errorf("put object %s: %w", f.Name, err)
			}
			images[i] = model.Image{Bucket: s.bucket, Key: key, Location: s.location(key)}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return images, nil
}

func (s *S3Store) objectKey(name string) string {
	key := uuid.NewString() + strings.ToLower(path.Ext(name))
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func (s *S3Store) location(key string) string {
	if s.endpoint != "" {
		return s.endpoint + "/" + s.bucket + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}
