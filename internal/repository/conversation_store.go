package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"coder-agent/internal/domain"
)

const (
	skPrefixSnap = "SNAP#"
	ttlDuration  = 30 * 24 * time.Hour // 30-day TTL
)

// ErrCheckpointConflict reports that another writer checkpointed the same
// thread sequence first. Turns for one thread must be serialized; the
// conditional put below is the store-side guard.
var ErrCheckpointConflict = errors.New("repository: checkpoint conflict")

// dynamodbAPI is the minimal DynamoDB interface required by the stores.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// ConversationStore keeps the append-only snapshot log for each thread in a
// DynamoDB table. One item per checkpoint: PK = THREAD#<id>,
// SK = SNAP#<zero-padded seq>, with the full message sequence as JSON.
type ConversationStore struct {
	api       dynamodbAPI
	tableName string
}

// NewConversationStore creates a ConversationStore over the given table.
func NewConversationStore(api dynamodbAPI, tableName string) (*ConversationStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &ConversationStore{api: api, tableName: tableName}, nil
}

func threadPK(threadID string) string {
	return "THREAD#" + threadID
}

// snapSK zero-pads the sequence so lexicographic SK order matches numeric
// checkpoint order.
func snapSK(seq int) string {
	return fmt.Sprintf("%s%012d", skPrefixSnap, seq)
}

func ttlValue() int64 {
	return time.Now().Add(ttlDuration).Unix()
}

// GetLatestSnapshot returns the message sequence of the thread's newest
// checkpoint. An unknown thread yields an empty sequence, not an error.
func (c *ConversationStore) GetLatestSnapshot(ctx context.Context, threadID string) ([]domain.ChatMessage, error) {
	snaps, err := c.querySnapshots(ctx, threadID, 1)
	if err != nil {
		return nil, fmt.Errorf("repository: GetLatestSnapshot: %w", err)
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	return snaps[0].Messages, nil
}

// AppendAndCheckpoint appends delta to the thread's latest snapshot and
// writes the result as a new checkpoint. The conditional put fails with
// ErrCheckpointConflict when a concurrent writer claimed the same sequence.
func (c *ConversationStore) AppendAndCheckpoint(ctx context.Context, threadID string, delta []domain.ChatMessage) (domain.Snapshot, error) {
	if strings.TrimSpace(threadID) == "" {
		return domain.Snapshot{}, errors.New("repository: AppendAndCheckpoint: thread id is required")
	}
	if len(delta) == 0 {
		return domain.Snapshot{}, errors.New("repository: AppendAndCheckpoint: delta must not be empty")
	}

	snaps, err := c.querySnapshots(ctx, threadID, 1)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("repository: AppendAndCheckpoint: %w", err)
	}

	next := domain.Snapshot{
		ThreadID:  threadID,
		Seq:       1,
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if len(snaps) > 0 {
		next.Seq = snaps[0].Seq + 1
		next.Messages = append(next.Messages, snaps[0].Messages...)
	}
	next.Messages = append(next.Messages, delta...)

	item, err := snapshotItem(next)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("repository: AppendAndCheckpoint: %w", err)
	}

	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return domain.Snapshot{}, fmt.Errorf("repository: AppendAndCheckpoint seq %d: %w", next.Seq, ErrCheckpointConflict)
		}
		return domain.Snapshot{}, fmt.Errorf("repository: AppendAndCheckpoint put: %w", err)
	}
	return next, nil
}

// GetSnapshotHistory returns all checkpoints of a thread, most recent first.
func (c *ConversationStore) GetSnapshotHistory(ctx context.Context, threadID string) ([]domain.Snapshot, error) {
	snaps, err := c.querySnapshots(ctx, threadID, 0)
	if err != nil {
		return nil, fmt.Errorf("repository: GetSnapshotHistory: %w", err)
	}
	return snaps, nil
}

// querySnapshots reads SNAP# items newest first. limit <= 0 reads all.
func (c *ConversationStore) querySnapshots(ctx context.Context, threadID string, limit int) ([]domain.Snapshot, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: threadPK(threadID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixSnap},
		},
		ScanIndexForward: aws.Bool(false),
		ConsistentRead:   aws.Bool(true),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	snaps := make([]domain.Snapshot, 0, len(out.Items))
	for _, item := range out.Items {
		snap, err := itemToSnapshot(item)
		if err != nil {
			return nil, fmt.Errorf("unmarshal: %w", err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

func snapshotItem(snap domain.Snapshot) (map[string]types.AttributeValue, error) {
	messages, err := json.Marshal(snap.Messages)
	if err != nil {
		return nil, fmt.Errorf("marshal messages: %w", err)
	}
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: threadPK(snap.ThreadID)},
		"SK":        &types.AttributeValueMemberS{Value: snapSK(snap.Seq)},
		"threadId":  &types.AttributeValueMemberS{Value: snap.ThreadID},
		"seq":       &types.AttributeValueMemberN{Value: strconv.Itoa(snap.Seq)},
		"messages":  &types.AttributeValueMemberS{Value: string(messages)},
		"createdAt": &types.AttributeValueMemberS{Value: snap.CreatedAt},
		"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(ttlValue(), 10)},
	}, nil
}

func itemToSnapshot(item map[string]types.AttributeValue) (domain.Snapshot, error) {
	threadID, err := strAttr(item, "threadId")
	if err != nil {
		return domain.Snapshot{}, err
	}
	seq, err := intAttr(item, "seq")
	if err != nil {
		return domain.Snapshot{}, err
	}
	rawMessages, err := strAttr(item, "messages")
	if err != nil {
		return domain.Snapshot{}, err
	}
	createdAt, _ := strAttr(item, "createdAt") // allow empty

	var messages []domain.ChatMessage
	if err := json.Unmarshal([]byte(rawMessages), &messages); err != nil {
		return domain.Snapshot{}, fmt.Errorf("repository: decode messages: %w", err)
	}
	return domain.Snapshot{
		ThreadID:  threadID,
		Seq:       seq,
		Messages:  messages,
		CreatedAt: createdAt,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
