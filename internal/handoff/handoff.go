// Package handoff implements the Human Handoff Gate: a DynamoDB-backed pause
// switch consulted by the delivery worker before every outbound send.
// Records expire on their own TTL attribute; no sweeper reclaims them, the
// reader treats an expired record as absent.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Scope distinguishes a pause on one recipient from a tenant-wide pause.
type Scope string

const (
	ScopeRecipient Scope = "recipient"
	ScopeGlobal    Scope = "global"
)

// globalKey is the fixed phone value stored for a ScopeGlobal record, so a
// tenant's global pause lives in the same table under its own partition key.
const globalKey = "__global__"

// ErrNotFound indicates no handoff record exists for the key, including one
// that existed but has TTL-expired.
var ErrNotFound = errors.New("handoff: not found")

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(context.Context, *dynamodb.DeleteItemInput, ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Record is one handoff pause switch.
type Record struct {
	TenantID  string `dynamodbav:"tenantId" json:"tenantId"`
	Phone     string `dynamodbav:"phone" json:"phone"`
	Scope     Scope  `dynamodbav:"scope" json:"scope"`
	Reason    string `dynamodbav:"reason,omitempty" json:"reason,omitempty"`
	CreatedAt string `dynamodbav:"createdAt" json:"createdAt"`
	ExpiresAt int64  `dynamodbav:"expiresAt" json:"expiresAt"`
}

// Store persists handoff records to DynamoDB, partitioned by tenant and
// sorted by phone (with a fixed sentinel phone for a tenant's global pause).
type Store struct {
	client    dynamoAPI
	tableName string
}

// NewStore builds a handoff gate backed by the given DynamoDB client.
func NewStore(client dynamoAPI, tableName string) *Store {
	if client == nil {
		panic("handoff: dynamodb client required")
	}
	if tableName == "" {
		panic("handoff: table name required")
	}
	return &Store{client: client, tableName: tableName}
}

// Pause activates a recipient-specific handoff, active until ttl elapses.
func (s *Store) Pause(ctx context.Context, tenantID, phone, reason string, ttl time.Duration) error {
	return s.put(ctx, tenantID, phone, ScopeRecipient, reason, ttl)
}

// PauseGlobal activates a tenant-wide handoff, active until ttl elapses.
func (s *Store) PauseGlobal(ctx context.Context, tenantID, reason string, ttl time.Duration) error {
	return s.put(ctx, tenantID, globalKey, ScopeGlobal, reason, ttl)
}

func (s *Store) put(ctx context.Context, tenantID, phone string, scope Scope, reason string, ttl time.Duration) error {
	now := time.Now().UTC()
	record := Record{
		TenantID:  tenantID,
		Phone:     phone,
		Scope:     scope,
		Reason:    reason,
		CreatedAt: now.Format(time.RFC3339Nano),
		ExpiresAt: now.Add(ttl).Unix(),
	}
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("handoff: marshal record: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("handoff: put record: %w", err)
	}
	return nil
}

// Resume clears a recipient-specific handoff.
func (s *Store) Resume(ctx context.Context, tenantID, phone string) error {
	return s.delete(ctx, tenantID, phone)
}

// ResumeGlobal clears a tenant-wide handoff.
func (s *Store) ResumeGlobal(ctx context.Context, tenantID string) error {
	return s.delete(ctx, tenantID, globalKey)
}

func (s *Store) delete(ctx context.Context, tenantID, phone string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"tenantId": &types.AttributeValueMemberS{Value: tenantID},
			"phone":    &types.AttributeValueMemberS{Value: phone},
		},
	})
	if err != nil {
		return fmt.Errorf("handoff: delete record: %w", err)
	}
	return nil
}

// Active reports whether the recipient is currently paused, either by a
// recipient-specific handoff or a tenant-wide global handoff, and returns
// whichever record is in effect. A TTL-expired record is treated as absent.
func (s *Store) Active(ctx context.Context, tenantID, phone string) (*Record, error) {
	if rec, err := s.get(ctx, tenantID, globalKey); err == nil {
		return rec, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	rec, err := s.get(ctx, tenantID, phone)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) get(ctx context.Context, tenantID, phone string) (*Record, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"tenantId": &types.AttributeValueMemberS{Value: tenantID},
			"phone":    &types.AttributeValueMemberS{Value: phone},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("handoff: get record: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("handoff: decode record: %w", err)
	}
	if rec.ExpiresAt > 0 && time.Now().Unix() >= rec.ExpiresAt {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// ListActive returns every non-expired handoff record for a tenant, used by
// the admin surface's "list active handoffs" endpoint.
func (s *Store) ListActive(ctx context.Context, tenantID string) ([]Record, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("tenantId = :t"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t": &types.AttributeValueMemberS{Value: tenantID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("handoff: list active: %w", err)
	}
	var recs []Record
	now := time.Now().Unix()
	for _, item := range out.Items {
		var rec Record
		if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
			return nil, fmt.Errorf("handoff: decode record: %w", err)
		}
		if rec.ExpiresAt > 0 && now >= rec.ExpiresAt {
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
