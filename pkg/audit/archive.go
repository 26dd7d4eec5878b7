package audit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/platinummonkey/keystone/pkg/models"
	"github.com/platinummonkey/keystone/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ObjectPutter is the part of the S3 API the archiver needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config locates the archive bucket. Static keys are optional; without
// them the default AWS credential chain is used.
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// NewS3Client builds an S3 client and makes sure the bucket exists.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	if err := ensureBucket(ctx, client, cfg.Bucket); err != nil {
		return nil, err
	}
	return client, nil
}

func ensureBucket(ctx context.Context, client *s3.Client, bucket string) error {
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err == nil {
		return nil
	}
	_, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return nil
	}
	var owned *types.BucketAlreadyOwnedByYou
	var exists *types.BucketAlreadyExists
	if errors.As(err, &owned) || errors.As(err, &exists) {
		return nil
	}
	return fmt.Errorf("failed to create bucket: %w", err)
}

// Archiver writes one NDJSON object per tenant and day.
type Archiver struct {
	client ObjectPutter
	bucket string
	prefix string
	logger *observability.Logger
}

// NewArchiver creates an archiver writing under prefix in bucket.
func NewArchiver(client ObjectPutter, bucket, prefix string, logger *observability.Logger) *Archiver {
	if prefix == "" {
		prefix = "audit"
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Archiver{client: client, bucket: bucket, prefix: prefix, logger: logger}
}

// ObjectKey is where the entries of tenant for the UTC day containing day
// are stored.
func (a *Archiver) ObjectKey(tenant uuid.UUID, day time.Time) string {
	return path.Join(a.prefix, tenant.String(), day.UTC().Format("2006/01/02")+".ndjson")
}

// ArchiveDay uploads the entries that fall on the UTC day containing day,
// one object per tenant, and returns how many objects were written.
// Re-archiving a day overwrites its objects.
func (a *Archiver) ArchiveDay(ctx context.Context, day time.Time, entries []*models.AuditEntry) (int, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	q := Query{Since: start, Until: start.Add(24 * time.Hour)}

	byTenant := make(map[uuid.UUID][]*models.AuditEntry)
	for _, e := range q.Apply(entries) {
		byTenant[e.TenantID] = append(byTenant[e.TenantID], e)
	}
	tenants := make([]uuid.UUID, 0, len(byTenant))
	for id := range byTenant {
		tenants = append(tenants, id)
	}
	sort.Slice(tenants, func(i, j int) bool { return tenants[i].String() < tenants[j].String() })

	written := 0
	var errs []error
	for _, tenant := range tenants {
		if err := a.put(ctx, a.ObjectKey(tenant, start), byTenant[tenant]); err != nil {
			a.logger.WithError(err).WithField("tenant_id", tenant.String()).Error("Failed to archive audit trail")
			errs = append(errs, err)
			continue
		}
		written++
	}
	return written, errors.Join(errs...)
}

func (a *Archiver) put(ctx context.Context, key string, entries []*models.AuditEntry) error {
	ctx, span := observability.Tracer().Start(ctx, "audit.Archive",
		trace.WithAttributes(
			attribute.String("s3.bucket", a.bucket),
			attribute.String("s3.key", key),
			attribute.Int("audit.entries", len(entries)),
		),
	)
	defer span.End()

	var buf bytes.Buffer
	if err := Export(&buf, entries, FormatNDJSON); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode failed")
		return err
	}
	sum := sha256.Sum256(buf.Bytes())

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String(FormatNDJSON.ContentType()),
		Metadata: map[string]string{
			"checksum-sha256": hex.EncodeToString(sum[:]),
			"entries":         fmt.Sprint(len(entries)),
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upload failed")
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	span.SetStatus(codes.Ok, "")
	return nil
}
