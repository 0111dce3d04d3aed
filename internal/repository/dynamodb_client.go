package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"kakao-skill-relay/internal/domain"
)

const (
	registryPK = "user_list"
	registrySK = "REGISTRY"
	historySK  = "MESSAGES"

	ttlDuration = 30 * 24 * time.Hour // 30-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client wraps a DynamoDB table holding the active-user registry item and
// one history item per user.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

// historyPK returns the partition key of a user's history item.
func historyPK(userID string) string {
	return "user:" + userID + ":history"
}

// ttlValue returns a Unix timestamp 30 days in the future.
func ttlValue() int64 {
	return time.Now().Add(ttlDuration).Unix()
}

// GetUserList reads the active-user registry, oldest (least recently active)
// first. A missing registry item is an empty list, not an error.
func (c *Client) GetUserList(ctx context.Context) ([]string, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: registryPK},
			"SK": &types.AttributeValueMemberS{Value: registrySK},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: GetUserList get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}
	users, err := stringListAttr(out.Item, "users")
	if err != nil {
		return nil, fmt.Errorf("repository: GetUserList decode users: %w", err)
	}
	return users, nil
}

// PutUserList replaces the active-user registry.
func (c *Client) PutUserList(ctx context.Context, users []string) error {
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      registryItem(users),
	})
	if err != nil {
		return fmt.Errorf("repository: PutUserList: %w", err)
	}
	return nil
}

// GetUserHistory reads a user's message history, oldest first. A missing
// item is an empty history, not an error.
func (c *Client) GetUserHistory(ctx context.Context, userID string) ([]domain.ChatMessage, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: historyPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: historySK},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: GetUserHistory get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}
	raw, err := stringListAttr(out.Item, "messages")
	if err != nil {
		return nil, fmt.Errorf("repository: GetUserHistory decode messages: %w", err)
	}
	msgs := make([]domain.ChatMessage, 0, len(raw))
	for _, r := range raw {
		var m domain.ChatMessage
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, fmt.Errorf("repository: GetUserHistory unmarshal message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// PutUserHistory replaces a user's message history.
func (c *Client) PutUserHistory(ctx context.Context, userID string, messages []domain.ChatMessage) error {
	item, err := historyItem(userID, messages)
	if err != nil {
		return fmt.Errorf("repository: PutUserHistory: %w", err)
	}
	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("repository: PutUserHistory: %w", err)
	}
	return nil
}

// EvictUser rewrites the registry to remaining and deletes the evicted
// user's history item in a single transaction, so the registry and the
// stored histories never drift apart.
func (c *Client) EvictUser(ctx context.Context, evictedID string, remaining []string) error {
	if strings.TrimSpace(evictedID) == "" {
		return errors.New("repository: EvictUser: evicted id must not be empty")
	}
	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName: aws.String(c.tableName),
					Item:      registryItem(remaining),
				},
			},
			{
				Delete: &types.Delete{
					TableName: aws.String(c.tableName),
					Key: map[string]types.AttributeValue{
						"PK": &types.AttributeValueMemberS{Value: historyPK(evictedID)},
						"SK": &types.AttributeValueMemberS{Value: historySK},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: EvictUser %q: %w", evictedID, err)
	}
	return nil
}

func registryItem(users []string) map[string]types.AttributeValue {
	list := make([]types.AttributeValue, 0, len(users))
	for _, u := range users {
		list = append(list, &types.AttributeValueMemberS{Value: u})
	}
	return map[string]types.AttributeValue{
		"PK":    &types.AttributeValueMemberS{Value: registryPK},
		"SK":    &types.AttributeValueMemberS{Value: registrySK},
		"users": &types.AttributeValueMemberL{Value: list},
		"ttl":   &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttlValue())},
	}
}

func historyItem(userID string, messages []domain.ChatMessage) (map[string]types.AttributeValue, error) {
	list := make([]types.AttributeValue, 0, len(messages))
	for _, m := range messages {
		encoded, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("marshal message: %w", err)
		}
		list = append(list, &types.AttributeValueMemberS{Value: string(encoded)})
	}
	return map[string]types.AttributeValue{
		"PK":       &types.AttributeValueMemberS{Value: historyPK(userID)},
		"SK":       &types.AttributeValueMemberS{Value: historySK},
		"userId":   &types.AttributeValueMemberS{Value: userID},
		"messages": &types.AttributeValueMemberL{Value: list},
		"ttl":      &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttlValue())},
	}, nil
}

func stringListAttr(item map[string]types.AttributeValue, key string) ([]string, error) {
	v, ok := item[key]
	if !ok {
		return nil, fmt.Errorf("repository: missing attribute %q", key)
	}
	l, ok := v.(*types.AttributeValueMemberL)
	if !ok {
		return nil, fmt.Errorf("repository: attribute %q is not a list", key)
	}
	out := make([]string, 0, len(l.Value))
	for i, member := range l.Value {
		s, ok := member.(*types.AttributeValueMemberS)
		if !ok {
			return nil, fmt.Errorf("repository: attribute %q element %d is not a string", key, i)
		}
		out = append(out, s.Value)
	}
	return out, nil
}
