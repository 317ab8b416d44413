// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"github.com/deboucheur/chatrelay/internal/models"
)

type fakeDynamo struct {
	getOut    *dynamodb.GetItemOutput
	getErr    error
	putErr    error
	updateOut *dynamodb.UpdateItemOutput
	updateErr error
	queryOuts []*dynamodb.QueryOutput
	txErr     error

	lastGetInput *dynamodb.GetItemInput
	lastPutInput *dynamodb.PutItemInput
	updateInputs []*dynamodb.UpdateItemInput
	queryInputs  []*dynamodb.QueryInput
	lastTxInput  *dynamodb.TransactWriteItemsInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	if f.getOut == nil {
		return &dynamodb.GetItemOutput{}, f.getErr
	}
	return f.getOut, f.getErr
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.updateInputs = append(f.updateInputs, in)
	if f.updateOut == nil {
		return &dynamodb.UpdateItemOutput{}, f.updateErr
	}
	return f.updateOut, f.updateErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	cp := *in
	f.queryInputs = append(f.queryInputs, &cp)
	if len(f.queryOuts) == 0 {
		return &dynamodb.QueryOutput{}, nil
	}
	out := f.queryOuts[0]
	f.queryOuts = f.queryOuts[1:]
	return out, nil
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.lastTxInput = in
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}

func (f *fakeDynamo) DescribeTable(_ context.Context, _ *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	return &dynamodb.DescribeTableOutput{}, nil
}

func seqOut(n string) *dynamodb.UpdateItemOutput {
	return &dynamodb.UpdateItemOutput{
		Attributes: map[string]types.AttributeValue{"seq": &types.AttributeValueMemberN{Value: n}},
	}
}

func sval(t *testing.T, item map[string]types.AttributeValue, name string) string {
	t.Helper()
	v, ok := item[name].(*types.AttributeValueMemberS)
	require.True(t, ok, "attribute %s is not a string", name)
	return v.Value
}

func newTestDynamo(t *testing.T, f *fakeDynamo) *DynamoStore {
	t.Helper()
	s, err := NewDynamoStore(f, "chat-turns")
	require.NoError(t, err)
	s.now = fixedClock(time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC))
	return s
}

func TestNewDynamoStore_Validation(t *testing.T) {
	_, err := NewDynamoStore(nil, "t")
	require.Error(t, err)

	_, err = NewDynamoStore(&fakeDynamo{}, "  ")
	require.Error(t, err)
}

func TestDynamoStore_AppendUserTurn(t *testing.T) {
	f := &fakeDynamo{updateOut: seqOut("7")}
	s := newTestDynamo(t, f)

	id, err := s.Append(context.Background(), models.Turn{
		SessionID: "s1",
		Role:      models.RoleUser,
		Content:   "hi",
		Source:    models.SourceMeta{PageURL: "/contact"},
	})
	require.NoError(t, err)
	require.Equal(t, int64(7), id)

	require.NotNil(t, f.lastTxInput)
	require.Len(t, f.lastTxInput.TransactItems, 2)

	put := f.lastTxInput.TransactItems[0].Put
	require.NotNil(t, put)
	require.Equal(t, "SESSION#s1", sval(t, put.Item, "PK"))
	require.Equal(t, turnSK(s.now(), 7), sval(t, put.Item, "SK"))
	require.Equal(t, "user", sval(t, put.Item, "role"))
	require.Equal(t, "/contact", sval(t, put.Item, "page_url"))

	meta := f.lastTxInput.TransactItems[1].Update
	require.NotNil(t, meta)
	require.Equal(t, "META#", sval(t, meta.Key, "SK"))
	inc, ok := meta.ExpressionAttributeValues[":inc"].(*types.AttributeValueMemberN)
	require.True(t, ok)
	require.Equal(t, "1", inc.Value)

	require.NotNil(t, f.lastPutInput, "user turns move the LATEST pointer")
	require.Equal(t, "LATEST#user", sval(t, f.lastPutInput.Item, "PK"))
	require.Equal(t, "s1", sval(t, f.lastPutInput.Item, "session_id"))
}

func TestDynamoStore_AppendOwnerTurnLeavesLatest(t *testing.T) {
	f := &fakeDynamo{updateOut: seqOut("3")}
	s := newTestDynamo(t, f)

	_, err := s.Append(context.Background(), models.Turn{SessionID: "s1", Role: models.RoleOwner, Content: "ok"})
	require.NoError(t, err)
	require.Nil(t, f.lastPutInput)

	inc := f.lastTxInput.TransactItems[1].Update.ExpressionAttributeValues[":inc"].(*types.AttributeValueMemberN)
	require.Equal(t, "0", inc.Value)
}

func TestDynamoStore_AppendStaleLatestIgnored(t *testing.T) {
	f := &fakeDynamo{
		updateOut: seqOut("9"),
		putErr:    &types.ConditionalCheckFailedException{},
	}
	s := newTestDynamo(t, f)

	_, err := s.Append(context.Background(), models.Turn{SessionID: "s1", Role: models.RoleUser})
	require.NoError(t, err)
}

func TestDynamoStore_AppendLatestPointerFailureKeepsTurn(t *testing.T) {
	f := &fakeDynamo{updateOut: seqOut("9"), putErr: errors.New("throttled")}
	s := newTestDynamo(t, f)

	id, err := s.Append(context.Background(), models.Turn{SessionID: "s1", Role: models.RoleUser})
	require.NoError(t, err)
	require.Equal(t, int64(9), id)
}

func TestDynamoStore_AppendWriteError(t *testing.T) {
	f := &fakeDynamo{updateOut: seqOut("1"), txErr: errors.New("boom")}
	s := newTestDynamo(t, f)

	_, err := s.Append(context.Background(), models.Turn{SessionID: "s1", Role: models.RoleUser})
	require.Error(t, err)
}

func TestDynamoStore_CountUserTurns(t *testing.T) {
	f := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"PK":         &types.AttributeValueMemberS{Value: "SESSION#s1"},
		"user_turns": &types.AttributeValueMemberN{Value: "5"},
	}}}
	s := newTestDynamo(t, f)

	n, err := s.CountUserTurns(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "META#", sval(t, f.lastGetInput.Key, "SK"))

	exists, err := s.SessionExists(context.Background(), "s1")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestDynamoStore_MissingSession(t *testing.T) {
	s := newTestDynamo(t, &fakeDynamo{})

	n, err := s.CountUserTurns(context.Background(), "nope")
	require.NoError(t, err)
	require.Zero(t, n)

	exists, err := s.SessionExists(context.Background(), "nope")
	require.NoError(t, err)
	require.False(t, exists)

	latest, err := s.LatestUserSession(context.Background())
	require.NoError(t, err)
	require.Empty(t, latest)
}

func TestDynamoStore_ListOwnerTurnsSincePaginates(t *testing.T) {
	item := func(id, ts, content string) map[string]types.AttributeValue {
		return map[string]types.AttributeValue{
			"turn_id":    &types.AttributeValueMemberN{Value: id},
			"session_id": &types.AttributeValueMemberS{Value: "s1"},
			"role":       &types.AttributeValueMemberS{Value: "owner"},
			"content":    &types.AttributeValueMemberS{Value: content},
			"ts_unix":    &types.AttributeValueMemberN{Value: ts},
		}
	}
	f := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{
		{
			Items:            []map[string]types.AttributeValue{item("4", "1741000000", "first")},
			LastEvaluatedKey: map[string]types.AttributeValue{"PK": &types.AttributeValueMemberS{Value: "SESSION#s1"}},
		},
		{
			Items: []map[string]types.AttributeValue{item("6", "1741000060", "second")},
		},
	}}
	s := newTestDynamo(t, f)

	since := time.Unix(1740999999, 0)
	turns, err := s.ListOwnerTurnsSince(context.Background(), "s1", &since)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	require.Equal(t, "first", turns[0].Content)
	require.Equal(t, int64(6), turns[1].ID)
	require.Equal(t, models.RoleOwner, turns[1].Role)
	require.Equal(t, int64(1741000060), turns[1].Timestamp.Unix())

	require.Len(t, f.queryInputs, 2)
	require.Contains(t, *f.queryInputs[0].FilterExpression, "ts_unix > :since")
	require.NotNil(t, f.queryInputs[1].ExclusiveStartKey)
}

func TestDynamoStore_MarkForwarded(t *testing.T) {
	f := &fakeDynamo{}
	s := newTestDynamo(t, f)

	require.NoError(t, s.MarkForwarded(context.Background(), "s1", models.ForwardFlags{}))
	require.Empty(t, f.updateInputs, "no flags means no write")

	require.NoError(t, s.MarkForwarded(context.Background(), "s1", models.ForwardFlags{Email: true, SMS: true}))
	require.Len(t, f.updateInputs, 1)
	require.Equal(t, "SET forwarded_email = :t, forwarded_sms = :t", *f.updateInputs[0].UpdateExpression)
}
