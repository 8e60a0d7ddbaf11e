package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"coder-agent/internal/domain"
)

const (
	skProfile      = "PROFILE#"
	skPrefixThread = "THREAD#"
)

var (
	// ErrUserExists reports a signup attempt with an already-registered email.
	ErrUserExists = errors.New("repository: user already exists")
	// ErrUserNotFound reports a lookup for an unknown email.
	ErrUserNotFound = errors.New("repository: user not found")
)

// UserStore keeps account profiles and thread associations in the same
// table as the conversation snapshots: PK = USER#<email> with a PROFILE#
// item plus one THREAD# item per owned thread.
type UserStore struct {
	api       dynamodbAPI
	tableName string
}

// NewUserStore creates a UserStore over the given table.
func NewUserStore(api dynamodbAPI, tableName string) (*UserStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &UserStore{api: api, tableName: tableName}, nil
}

func userPK(email string) string {
	return "USER#" + strings.ToLower(strings.TrimSpace(email))
}

// CreateUser writes a new profile record; a duplicate email fails with
// ErrUserExists.
func (s *UserStore) CreateUser(ctx context.Context, u domain.User) error {
	if strings.TrimSpace(u.Email) == "" {
		return errors.New("repository: CreateUser: email is required")
	}
	if u.PasswordHash == "" {
		return errors.New("repository: CreateUser: password hash is required")
	}

	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"PK":           &types.AttributeValueMemberS{Value: userPK(u.Email)},
			"SK":           &types.AttributeValueMemberS{Value: skProfile},
			"id":           &types.AttributeValueMemberS{Value: u.ID},
			"email":        &types.AttributeValueMemberS{Value: strings.ToLower(strings.TrimSpace(u.Email))},
			"name":         &types.AttributeValueMemberS{Value: u.Name},
			"passwordHash": &types.AttributeValueMemberS{Value: u.PasswordHash},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return fmt.Errorf("repository: CreateUser %q: %w", u.Email, ErrUserExists)
		}
		return fmt.Errorf("repository: CreateUser: %w", err)
	}
	return nil
}

// GetUserByEmail loads a profile record, ErrUserNotFound when absent.
func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(email)},
			"SK": &types.AttributeValueMemberS{Value: skProfile},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("repository: GetUserByEmail: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.User{}, fmt.Errorf("repository: GetUserByEmail %q: %w", email, ErrUserNotFound)
	}

	id, _ := strAttr(out.Item, "id")
	name, _ := strAttr(out.Item, "name")
	storedEmail, err := strAttr(out.Item, "email")
	if err != nil {
		return domain.User{}, fmt.Errorf("repository: GetUserByEmail: %w", err)
	}
	hash, err := strAttr(out.Item, "passwordHash")
	if err != nil {
		return domain.User{}, fmt.Errorf("repository: GetUserByEmail: %w", err)
	}
	return domain.User{ID: id, Email: storedEmail, Name: name, PasswordHash: hash}, nil
}

// AddThread records ownership of a thread by a user. Idempotent.
func (s *UserStore) AddThread(ctx context.Context, email, threadID string) error {
	if strings.TrimSpace(threadID) == "" {
		return errors.New("repository: AddThread: thread id is required")
	}

	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"PK":        &types.AttributeValueMemberS{Value: userPK(email)},
			"SK":        &types.AttributeValueMemberS{Value: skPrefixThread + threadID},
			"threadId":  &types.AttributeValueMemberS{Value: threadID},
			"createdAt": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: AddThread: %w", err)
	}
	return nil
}

// ListThreads returns all thread ids owned by a user.
func (s *UserStore) ListThreads(ctx context.Context, email string) ([]string, error) {
	out, err := s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: userPK(email)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixThread},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("repository: ListThreads: %w", err)
	}

	threadIDs := make([]string, 0, len(out.Items))
	for _, item := range out.Items {
		id, err := strAttr(item, "threadId")
		if err != nil {
			return nil, fmt.Errorf("repository: ListThreads: %w", err)
		}
		threadIDs = append(threadIDs, id)
	}
	return threadIDs, nil
}

// OwnsThread reports whether the thread is associated with the user.
func (s *UserStore) OwnsThread(ctx context.Context, email, threadID string) (bool, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(email)},
			"SK": &types.AttributeValueMemberS{Value: skPrefixThread + threadID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, fmt.Errorf("repository: OwnsThread: %w", err)
	}
	return out != nil && len(out.Item) > 0, nil
}
