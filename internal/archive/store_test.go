package archive

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockS3Client records PutObject calls for testing.
type mockS3Client struct {
	putCalls []putCall
}

type putCall struct {
	bucket string
	key    string
	body   []byte
}

func newMockS3() *mockS3Client {
	return &mockS3Client{}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(input.Body)
	m.putCalls = append(m.putCalls, putCall{
		bucket: *input.Bucket,
		key:    *input.Key,
		body:   body,
	})
	return &s3.PutObjectOutput{}, nil
}

func TestStore_ArchiveAuditReport(t *testing.T) {
	mock := newMockS3()
	store := NewStore(mock, "test-bucket", nil)

	report := map[string]any{"tenant_id": "tenant-1", "divergences": 2}

	err := store.ArchiveAuditReport(context.Background(), "tenant-1", "2026-02-12", report)
	require.NoError(t, err)

	require.Len(t, mock.putCalls, 1)
	assert.Equal(t, "audit-reports/v1/tenant-1/2026-02-12.json", mock.putCalls[0].key)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(mock.putCalls[0].body, &decoded))
	assert.Equal(t, "tenant-1", decoded["tenant_id"])
}

func TestStore_Disabled(t *testing.T) {
	store := NewStore(nil, "", nil)
	assert.False(t, store.Enabled())

	err := store.ArchiveAuditReport(context.Background(), "tenant-1", "2026-02-12", map[string]any{})
	assert.NoError(t, err) // no-op, no error
}
