// Package publish uploads built image assets to S3 or an S3-compatible store
// so that emails sent for testing or through a provider can load them.
package publish

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/mr"
	"golang.org/x/time/rate"
)

// CacheControl is attached to every uploaded asset.
const CacheControl = "max-age=315360000, no-transform, public"

var (
	// ErrInvalidConfig is returned when bucket or region is missing.
	ErrInvalidConfig = errors.New("publish: bucket and region are required")
	// ErrFailedToLoadConfig wraps AWS SDK configuration failures.
	ErrFailedToLoadConfig = errors.New("publish: failed to load aws config")
	// ErrAccessDenied is returned when the store rejects the credentials.
	ErrAccessDenied = errors.New("publish: access denied")
	// ErrBucketNotFound is returned when the bucket does not exist.
	ErrBucketNotFound = errors.New("publish: bucket not found")
)

// S3Client is the subset of the S3 API the publisher needs.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config describes the destination bucket.
type Config struct {
	Bucket         string
	Region         string
	AccessKeyID    string
	SecretKey      string
	Endpoint       string // optional, for S3-compatible services
	ForcePathStyle bool
	Prefix         string  // optional key prefix; aws.url must point at it
	PerSecond      float64 // upload pacing, 0 disables it
}

// Option configures a Publisher.
type Option func(*options)

type options struct {
	client  S3Client
	workers int
	awsOpts []func(*awsconfig.LoadOptions) error
}

// WithS3Client injects a pre-built client, mainly for tests.
func WithS3Client(c S3Client) Option {
	return func(o *options) { o.client = c }
}

// WithWorkers bounds the number of concurrent uploads.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithAWSConfigOption appends an AWS config loader option.
func WithAWSConfigOption(opt func(*awsconfig.LoadOptions) error) Option {
	return func(o *options) { o.awsOpts = append(o.awsOpts, opt) }
}

// Publisher uploads assets to a bucket.
type Publisher struct {
	client  S3Client
	bucket  string
	prefix  string
	workers int
	limiter *rate.Limiter
}

// New creates a Publisher for cfg.
func New(ctx context.Context, cfg Config, opts ...Option) (*Publisher, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, ErrInvalidConfig
	}

	o := &options{workers: 4}
	for _, opt := range opts {
		opt(o)
	}

	client := o.client
	if client == nil {
		loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
		if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
			loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
			))
		}
		loadOpts = append(loadOpts, o.awsOpts...)

		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFailedToLoadConfig, err)
		}

		client = s3.NewFromConfig(awsCfg, func(so *s3.Options) {
			if cfg.Endpoint != "" {
				so.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			so.UsePathStyle = cfg.ForcePathStyle
		})
	}

	var limiter *rate.Limiter
	if cfg.PerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.PerSecond), 1)
	}

	return &Publisher{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		workers: max(o.workers, 1),
		limiter: limiter,
	}, nil
}

// Outcome is the result of one upload.
type Outcome struct {
	File string
	Key  string
	Err  error
}

// Report lists the outcome of every upload in a batch.
type Report struct {
	Outcomes []Outcome
}

// Failed returns the outcomes that errored.
func (r Report) Failed() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}

// Err joins every upload error, or returns nil when all succeeded.
func (r Report) Err() error {
	var errs []error
	for _, o := range r.Failed() {
		errs = append(errs, fmt.Errorf("%s: %w", o.File, o.Err))
	}
	return errors.Join(errs...)
}

// Key returns the object key an image file name is uploaded under. Keys
// mirror the flat image dir so a rewritten assets/img/x.png resolves to
// <aws.url>/x.png.
func (p *Publisher) Key(name string) string {
	return path.Join(p.prefix, name)
}

// Publish uploads every file directly inside dir. A failed upload is logged
// and recorded in the report; the rest of the batch still runs.
func (p *Publisher) Publish(ctx context.Context, dir string) (Report, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return Report{}, nil
	}
	if err != nil {
		return Report{}, fmt.Errorf("read %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return Report{}, nil
	}

	outcomes, err := mr.MapReduce(func(source chan<- string) {
		for _, f := range files {
			source <- f
		}
	}, func(file string, writer mr.Writer[Outcome], cancel func(error)) {
		writer.Write(p.upload(ctx, file))
	}, func(pipe <-chan Outcome, writer mr.Writer[[]Outcome], cancel func(error)) {
		var all []Outcome
		for o := range pipe {
			all = append(all, o)
		}
		sort.Slice(all, func(i, j int) bool { return all[i].File < all[j].File })
		writer.Write(all)
	}, mr.WithContext(ctx), mr.WithWorkers(p.workers))
	if err != nil {
		return Report{}, err
	}

	report := Report{Outcomes: outcomes}
	logx.Infow("Assets published",
		logx.Field("bucket", p.bucket),
		logx.Field("uploaded", len(outcomes)-len(report.Failed())),
		logx.Field("failed", len(report.Failed())),
	)
	return report, nil
}

func (p *Publisher) upload(ctx context.Context, file string) Outcome {
	name := filepath.Base(file)
	out := Outcome{File: name, Key: p.Key(name)}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			out.Err = err
			return out
		}
	}

	f, err := os.Open(file)
	if err != nil {
		out.Err = err
		logx.Errorw("[error] "+out.Key, logx.Field("error", err.Error()))
		return out
	}
	defer f.Close()

	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(p.bucket),
		Key:          aws.String(out.Key),
		Body:         f,
		ContentType:  aws.String(contentType),
		CacheControl: aws.String(CacheControl),
		ACL:          types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		out.Err = classifyS3Error(err)
		logx.Errorw("[error] "+out.Key, logx.Field("error", out.Err.Error()))
		return out
	}

	logx.Infow("[create] "+out.Key, logx.Field("content_type", contentType))
	return out
}

func classifyS3Error(err error) error {
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return ErrBucketNotFound
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied":
			return fmt.Errorf("%w: %s", ErrAccessDenied, apiErr.ErrorMessage())
		case "NoSuchBucket":
			return ErrBucketNotFound
		default:
			return fmt.Errorf("upload failed (code: %s): %w", apiErr.ErrorCode(), err)
		}
	}

	return fmt.Errorf("upload failed: %w", err)
}
