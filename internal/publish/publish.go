// Package publish uploads finished exports so they can be shared. The S3
// publisher is used when a bucket is configured; otherwise exports stay local.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/google/uuid"

	"github.com/heimdex/heimdex-editor/internal/logging"
)

const (
	defaultAttempts = 3
	retryDelay      = 2 * time.Second
)

// Publisher uploads a file and returns the URL it can be fetched from.
type Publisher interface {
	Publish(ctx context.Context, filePath string) (string, error)
}

// UploadError is a failed upload attempt.
type UploadError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload failed: HTTP %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// IsRetryable returns true for server errors. Client errors are permanent.
func (e *UploadError) IsRetryable() bool {
	return e.StatusCode >= 500
}

// Local leaves exports where they were written and reports a file URL.
type Local struct {
	logger *slog.Logger
}

func NewLocal(logger *slog.Logger) *Local {
	return &Local{logger: logging.WithComponent(logging.OrDiscard(logger), "publish")}
}

func (l *Local) Publish(ctx context.Context, filePath string) (string, error) {
	abs, err := filepath.Abs(filePath)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}
	l.logger.Info("export kept locally", "path", logging.SanitizePath(abs))
	return "file://" + filepath.ToSlash(abs), nil
}

type S3Config struct {
	Bucket   string
	Region   string
	Prefix   string
	Attempts int
	Logger   *slog.Logger
}

// S3Publisher uploads exports with the s3manager multipart uploader.
type S3Publisher struct {
	uploader s3manageriface.UploaderAPI
	bucket   string
	prefix   string
	attempts int
	delay    time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewS3 creates a publisher using the default AWS credential chain.
func NewS3(cfg S3Config) (*S3Publisher, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	awsCfg := aws.NewConfig()
	if cfg.Region != "" {
		awsCfg = awsCfg.WithRegion(cfg.Region)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	return NewS3WithUploader(s3manager.NewUploader(sess), cfg), nil
}

// NewS3WithUploader creates a publisher around an existing uploader.
func NewS3WithUploader(uploader s3manageriface.UploaderAPI, cfg S3Config) *S3Publisher {
	if cfg.Attempts <= 0 {
		cfg.Attempts = defaultAttempts
	}
	return &S3Publisher{
		uploader: uploader,
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		attempts: cfg.Attempts,
		delay:    retryDelay,
		now:      time.Now,
		logger:   logging.WithComponent(logging.OrDiscard(cfg.Logger), "publish"),
	}
}

// Key returns the object key for a file: prefix/yyyy/mm/dd/<uuid>-<name>.
func (p *S3Publisher) Key(filePath string) string {
	name := uuid.NewString() + "-" + filepath.Base(filePath)
	return path.Join(p.prefix, p.now().UTC().Format("2006/01/02"), name)
}

// Publish uploads filePath, retrying server-side failures.
func (p *S3Publisher) Publish(ctx context.Context, filePath string) (string, error) {
	key := p.Key(filePath)
	contentType := contentTypeOf(filePath)

	var lastErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(p.delay):
			}
		}

		loc, err := p.upload(ctx, filePath, key, contentType)
		if err == nil {
			p.logger.Info("export published", "bucket", p.bucket, "key", key, "attempt", attempt)
			return loc, nil
		}
		lastErr = err

		var ue *UploadError
		if !errors.As(err, &ue) || !ue.IsRetryable() {
			return "", err
		}
		p.logger.Warn("upload attempt failed", "attempt", attempt, "error", err)
	}
	return "", fmt.Errorf("upload gave up after %d attempts: %w", p.attempts, lastErr)
}

var videoTypes = map[string]string{
	".mp4": "video/mp4",
	".mov": "video/quicktime",
	".mkv": "video/x-matroska",
	".edl": "text/plain; charset=utf-8",
}

func contentTypeOf(filePath string) string {
	ext := strings.ToLower(filepath.Ext(filePath))
	if t, ok := videoTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

func (p *S3Publisher) upload(ctx context.Context, filePath, key, contentType string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}
	defer f.Close()

	out, err := p.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		var rf awserr.RequestFailure
		if errors.As(err, &rf) {
			return "", &UploadError{StatusCode: rf.StatusCode(), Code: rf.Code(), Message: rf.Message()}
		}
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return out.Location, nil
}
