// Пакет s3store — хранение содержимого медиа в S3-совместимом хранилище
// (AWS S3, MinIO). Ключ объекта — {prefix}{id}.
package s3store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/aws/smithy-go/logging"

	"github.com/bigkaa/phototimeline/internal/storage/blobstore"
)

// partSize — размер части multipart-загрузки.
const partSize = 10 * 1024 * 1024

// Config — параметры подключения к S3.
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// Store — хранилище объектов в S3.
type Store struct {
	client    *s3.Client
	presigner *s3.PresignClient
	uploader  *manager.Uploader
	bucket    string
	prefix    string
	logger    *slog.Logger
}

// New создаёт клиент S3 по конфигурации. Сетевых запросов не выполняет.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("не задан bucket S3")
	}
	logger = logger.With(slog.String("component", "s3store"))

	client, err := buildClient(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	return &Store{
		client:    client,
		presigner: s3.NewPresignClient(client),
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = partSize
		}),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: logger,
	}, nil
}

func buildClient(ctx context.Context, cfg Config, logger *slog.Logger) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithLogger(logging.LoggerFunc(func(c logging.Classification, format string, v ...any) {
			level := slog.LevelDebug
			if c == logging.Warn {
				level = slog.LevelWarn
			}
			logger.Log(ctx, level, fmt.Sprintf(format, v...))
		})),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации AWS: %w", err)
	}

	endpoint := cfg.Endpoint
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return client, nil
}

// Bucket возвращает имя bucket.
func (s *Store) Bucket() string {
	return s.bucket
}

// Put загружает объект через multipart uploader, считая размер и SHA-256 на лету.
func (s *Store) Put(ctx context.Context, id string, r io.Reader, contentType string) (*blobstore.PutResult, error) {
	hasher := sha256.New()
	counter := &countingReader{r: io.TeeReader(r, hasher)}

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(id)),
		Body:        counter,
		ContentType: aws.String(contentType),
		ACL:         s3types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки объекта %s в S3: %w", id, err)
	}

	return &blobstore.PutResult{
		Size:     counter.n,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open открывает объект. Body не поддерживает Seek.
func (s *Store) Open(ctx context.Context, id string) (*blobstore.Object, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", blobstore.ErrNotFound, id)
		}
		return nil, fmt.Errorf("ошибка чтения объекта %s из S3: %w", id, err)
	}

	return &blobstore.Object{
		Body: out.Body,
		Info: blobstore.Info{
			ID:          id,
			Size:        aws.ToInt64(out.ContentLength),
			ContentType: aws.ToString(out.ContentType),
			ModTime:     aws.ToTime(out.LastModified),
		},
	}, nil
}

// Stat возвращает сведения об объекте через HeadObject.
func (s *Store) Stat(ctx context.Context, id string) (*blobstore.Info, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", blobstore.ErrNotFound, id)
		}
		return nil, fmt.Errorf("ошибка получения сведений об объекте %s: %w", id, err)
	}

	return &blobstore.Info{
		ID:          id,
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
		ModTime:     aws.ToTime(out.LastModified),
	}, nil
}

// Delete удаляет объект. S3 не возвращает ошибку для отсутствующего ключа.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("ошибка удаления объекта %s из S3: %w", id, err)
	}
	return nil
}

// List перебирает все ключи с префиксом и возвращает id.
func (s *Store) List(ctx context.Context) ([]string, error) {
	ids := []string{}
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.prefix),
			ContinuationToken: token,
			MaxKeys:           aws.Int32(1000),
		})
		if err != nil {
			return nil, fmt.Errorf("ошибка получения списка объектов S3: %w", err)
		}
		for _, o := range out.Contents {
			id := strings.TrimPrefix(aws.ToString(o.Key), s.prefix)
			if id != "" && !strings.Contains(id, "/") {
				ids = append(ids, id)
			}
		}
		if aws.ToBool(out.IsTruncated) && out.NextContinuationToken != nil {
			token = out.NextContinuationToken
			continue
		}
		break
	}
	return ids, nil
}

// PresignGet возвращает временную ссылку на объект.
func (s *Store) PresignGet(ctx context.Context, id string, ttl time.Duration) (string, error) {
	out, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("ошибка подписи ссылки на %s: %w", id, err)
	}
	return out.URL, nil
}

func (s *Store) key(id string) string {
	return s.prefix + id
}

// isNotFound распознаёт ответы S3 об отсутствии объекта.
func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *s3types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

var (
	_ blobstore.Store     = (*Store)(nil)
	_ blobstore.Presigner = (*Store)(nil)
)
