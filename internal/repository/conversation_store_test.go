package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"coder-agent/internal/domain"
)

type fakeDynamo struct {
	getOut       *dynamodb.GetItemOutput
	getErr       error
	putErr       error
	queryOut     *dynamodb.QueryOutput
	queryErr     error
	lastGetInput *dynamodb.GetItemInput
	lastPutInput *dynamodb.PutItemInput
	lastQueryIn  *dynamodb.QueryInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.lastQueryIn = in
	return f.queryOut, f.queryErr
}

func makeSnapItem(t *testing.T, threadID string, seq int, messages []domain.ChatMessage) map[string]types.AttributeValue {
	t.Helper()
	raw, err := json.Marshal(messages)
	require.NoError(t, err)
	return map[string]types.AttributeValue{
		"PK":       &types.AttributeValueMemberS{Value: threadPK(threadID)},
		"SK":       &types.AttributeValueMemberS{Value: snapSK(seq)},
		"threadId": &types.AttributeValueMemberS{Value: threadID},
		"seq":      &types.AttributeValueMemberN{Value: strconv.Itoa(seq)},
		"messages": &types.AttributeValueMemberS{Value: string(raw)},
	}
}

func mustNewConversationStore(t *testing.T, db *fakeDynamo) *ConversationStore {
	t.Helper()
	c, err := NewConversationStore(db, "test-table")
	require.NoError(t, err)
	return c
}

func turn(user, assistant string) []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: domain.RoleUser, Content: user},
		{Role: domain.RoleAssistant, Content: assistant},
	}
}

func TestNewConversationStore_Validation(t *testing.T) {
	_, err := NewConversationStore(nil, "t")
	require.Error(t, err)

	_, err = NewConversationStore(&fakeDynamo{}, " ")
	require.Error(t, err)
}

func TestGetLatestSnapshot_EmptyThread(t *testing.T) {
	db := &fakeDynamo{queryOut: &dynamodb.QueryOutput{}}
	c := mustNewConversationStore(t, db)

	msgs, err := c.GetLatestSnapshot(context.Background(), "t-1")
	require.NoError(t, err)
	require.Empty(t, msgs)
	require.NotNil(t, db.lastQueryIn)
	require.False(t, *db.lastQueryIn.ScanIndexForward)
}

func TestGetLatestSnapshot_ReturnsNewest(t *testing.T) {
	db := &fakeDynamo{queryOut: &dynamodb.QueryOutput{
		Items: []map[string]types.AttributeValue{
			makeSnapItem(t, "t-1", 2, turn("hi", "hello")),
		},
	}}
	c := mustNewConversationStore(t, db)

	msgs, err := c.GetLatestSnapshot(context.Background(), "t-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "hi", msgs[0].Content)
	require.Equal(t, domain.RoleAssistant, msgs[1].Role)
}

func TestGetLatestSnapshot_QueryError(t *testing.T) {
	db := &fakeDynamo{queryErr: errors.New("boom")}
	c := mustNewConversationStore(t, db)

	_, err := c.GetLatestSnapshot(context.Background(), "t-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "GetLatestSnapshot")
}

func TestAppendAndCheckpoint_FirstSnapshot(t *testing.T) {
	db := &fakeDynamo{queryOut: &dynamodb.QueryOutput{}}
	c := mustNewConversationStore(t, db)

	snap, err := c.AppendAndCheckpoint(context.Background(), "t-1", turn("hi", "hello"))
	require.NoError(t, err)
	require.Equal(t, 1, snap.Seq)
	require.Len(t, snap.Messages, 2)
	require.NotNil(t, db.lastPutInput)
	require.Contains(t, *db.lastPutInput.ConditionExpression, "attribute_not_exists")
}

func TestAppendAndCheckpoint_SupersetsPrevious(t *testing.T) {
	db := &fakeDynamo{queryOut: &dynamodb.QueryOutput{
		Items: []map[string]types.AttributeValue{
			makeSnapItem(t, "t-1", 1, turn("hi", "hello")),
		},
	}}
	c := mustNewConversationStore(t, db)

	snap, err := c.AppendAndCheckpoint(context.Background(), "t-1", turn("more?", "sure"))
	require.NoError(t, err)
	require.Equal(t, 2, snap.Seq)
	require.Len(t, snap.Messages, 4)
	require.Equal(t, "hi", snap.Messages[0].Content)
	require.Equal(t, "sure", snap.Messages[3].Content)

	sk, err := strAttr(db.lastPutInput.Item, "SK")
	require.NoError(t, err)
	require.Equal(t, snapSK(2), sk)
}

func TestAppendAndCheckpoint_Conflict(t *testing.T) {
	db := &fakeDynamo{
		queryOut: &dynamodb.QueryOutput{},
		putErr:   &types.ConditionalCheckFailedException{},
	}
	c := mustNewConversationStore(t, db)

	_, err := c.AppendAndCheckpoint(context.Background(), "t-1", turn("hi", "hello"))
	require.ErrorIs(t, err, ErrCheckpointConflict)
}

func TestAppendAndCheckpoint_Validation(t *testing.T) {
	c := mustNewConversationStore(t, &fakeDynamo{queryOut: &dynamodb.QueryOutput{}})

	_, err := c.AppendAndCheckpoint(context.Background(), " ", turn("a", "b"))
	require.Error(t, err)

	_, err = c.AppendAndCheckpoint(context.Background(), "t-1", nil)
	require.Error(t, err)
}

func TestGetSnapshotHistory_MostRecentFirst(t *testing.T) {
	db := &fakeDynamo{queryOut: &dynamodb.QueryOutput{
		Items: []map[string]types.AttributeValue{
			makeSnapItem(t, "t-1", 2, append(turn("hi", "hello"), turn("more?", "sure")...)),
			makeSnapItem(t, "t-1", 1, turn("hi", "hello")),
		},
	}}
	c := mustNewConversationStore(t, db)

	snaps, err := c.GetSnapshotHistory(context.Background(), "t-1")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	require.Equal(t, 2, snaps[0].Seq)
	require.Equal(t, 1, snaps[1].Seq)
	require.Len(t, snaps[0].Messages, 4)
}

func TestGetSnapshotHistory_MalformedMessages(t *testing.T) {
	item := makeSnapItem(t, "t-1", 1, nil)
	item["messages"] = &types.AttributeValueMemberS{Value: "not-json"}
	db := &fakeDynamo{queryOut: &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{item}}}
	c := mustNewConversationStore(t, db)

	_, err := c.GetSnapshotHistory(context.Background(), "t-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode messages")
}
