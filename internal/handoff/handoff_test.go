package handoff

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func TestPausePersistsTTLInFuture(t *testing.T) {
	mock := &mockDynamo{}
	store := NewStore(mock, "handoffs")

	if err := store.Pause(context.Background(), "t1", "5571900000001", "operator requested", 5*time.Minute); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if mock.putInput == nil {
		t.Fatal("expected PutItem call")
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(mock.putInput.Item, &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec.Scope != ScopeRecipient {
		t.Fatalf("expected recipient scope, got %s", rec.Scope)
	}
	if rec.ExpiresAt <= time.Now().Unix() {
		t.Fatal("expected expiry in the future")
	}
}

func TestActivePrefersGlobalOverRecipient(t *testing.T) {
	future := time.Now().Add(time.Hour).Unix()
	global := Record{TenantID: "t1", Phone: globalKey, Scope: ScopeGlobal, ExpiresAt: future}
	item, _ := attributevalue.MarshalMap(global)

	mock := &mockDynamo{getOutputs: map[string]*dynamodb.GetItemOutput{
		globalKey: {Item: item},
	}}
	store := NewStore(mock, "handoffs")

	rec, err := store.Active(context.Background(), "t1", "5571900000001")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if rec.Scope != ScopeGlobal {
		t.Fatalf("expected global scope to win, got %s", rec.Scope)
	}
}

func TestActiveReturnsNotFoundWhenNoRecord(t *testing.T) {
	mock := &mockDynamo{getOutputs: map[string]*dynamodb.GetItemOutput{}}
	store := NewStore(mock, "handoffs")

	_, err := store.Active(context.Background(), "t1", "5571900000001")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestActiveTreatsExpiredRecordAsAbsent(t *testing.T) {
	past := time.Now().Add(-time.Hour).Unix()
	rec := Record{TenantID: "t1", Phone: "5571900000001", Scope: ScopeRecipient, ExpiresAt: past}
	item, _ := attributevalue.MarshalMap(rec)

	mock := &mockDynamo{getOutputs: map[string]*dynamodb.GetItemOutput{
		"5571900000001": {Item: item},
	}}
	store := NewStore(mock, "handoffs")

	_, err := store.Active(context.Background(), "t1", "5571900000001")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for expired record, got %v", err)
	}
}

type mockDynamo struct {
	putInput     *dynamodb.PutItemInput
	getOutputs   map[string]*dynamodb.GetItemOutput
	queryOutputs *dynamodb.QueryOutput
}

func (m *mockDynamo) PutItem(ctx context.Context, input *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.putInput = input
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamo) DeleteItem(ctx context.Context, input *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	return &dynamodb.DeleteItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, input *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	phoneAttr, _ := input.Key["phone"].(*types.AttributeValueMemberS)
	if phoneAttr == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	if out, ok := m.getOutputs[phoneAttr.Value]; ok {
		return out, nil
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (m *mockDynamo) Query(ctx context.Context, input *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if m.queryOutputs == nil {
		return &dynamodb.QueryOutput{}, nil
	}
	return m.queryOutputs, nil
}
