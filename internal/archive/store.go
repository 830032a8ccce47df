package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Store archives audit reconciliation reports to S3, keyed per tenant per date.
type Store struct {
	bucket   string
	s3Client S3API
	logger   *slog.Logger
}

// NewStore creates an archive Store. If bucket is empty, all operations are no-ops.
func NewStore(s3Client S3API, bucket string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{bucket: bucket, s3Client: s3Client, logger: logger}
}

// Enabled returns true if archival is configured (bucket is set).
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

// ArchiveAuditReport writes a reconciliation report as JSON to S3, keyed by
// tenant and report date so retention policies can be scoped per tenant.
func (s *Store) ArchiveAuditReport(ctx context.Context, tenantID, date string, report any) error {
	if !s.Enabled() {
		return nil
	}

	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("archive: marshal audit report: %w", err)
	}

	s3Key := fmt.Sprintf("audit-reports/v1/%s/%s.json", tenantID, date)

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s3Key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put %s: %w", s3Key, err)
	}

	s.logger.Info("archived audit report to S3", "tenant_id", tenantID, "date", date, "s3_key", s3Key)
	return nil
}
