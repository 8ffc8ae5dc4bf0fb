// Package catalog persists rendition metadata records in DynamoDB.
//
// The table is keyed on a single string hash key, "id", holding the
// rendition's output identity. Every other attribute is a string field of
// metadata.Record. Writes are full-item upserts.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/licorice/internal/metadata"
)

// keyAttr is the table's hash key attribute.
const keyAttr = "id"

// Store is the catalog contract used by the pipeline.
type Store interface {
	// PutRecord creates or replaces the record stored under id.
	PutRecord(ctx context.Context, id string, rec metadata.Record) error

	// GetRecord reads the record stored under id. The bool is false when
	// no record exists.
	GetRecord(ctx context.Context, id string) (metadata.Record, bool, error)
}

// DynamoAPI is the subset of *dynamodb.Client used by DynamoStore.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// DynamoStore implements Store on a DynamoDB table.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
}

// Compile-time interface check.
var _ Store = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table.
func NewDynamoStore(client DynamoAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
	}
}

// TableName returns the configured table.
func (s *DynamoStore) TableName() string {
	return s.tableName
}

// PutRecord writes rec under id, overwriting any existing item.
func (s *DynamoStore) PutRecord(ctx context.Context, id string, rec metadata.Record) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	item[keyAttr] = &types.AttributeValueMemberS{Value: id}

	start := time.Now()
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	duration := time.Since(start)
	if err != nil {
		log.Debug().Err(err).Str("table", s.tableName).Str("id", id).Dur("duration", duration).Msg("PutRecord: DynamoDB PutItem failed")
		return fmt.Errorf("PutItem %s id=%s: %w", s.tableName, id, err)
	}
	log.Debug().Str("table", s.tableName).Str("id", id).Dur("duration", duration).Msg("PutRecord: catalog record persisted")
	return nil
}

// GetRecord reads the record stored under id.
func (s *DynamoStore) GetRecord(ctx context.Context, id string) (metadata.Record, bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			keyAttr: &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return metadata.Record{}, false, fmt.Errorf("GetItem %s id=%s: %w", s.tableName, id, err)
	}
	if result.Item == nil {
		return metadata.Record{}, false, nil
	}

	var rec metadata.Record
	if err := attributevalue.UnmarshalMap(result.Item, &rec); err != nil {
		return metadata.Record{}, false, fmt.Errorf("unmarshal id=%s: %w", id, err)
	}
	return rec, true, nil
}
