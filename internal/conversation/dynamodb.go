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
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/deboucheur/chatrelay/internal/models"
)

// Single-table layout:
//
//	PK=SESSION#<id>   SK=TURN#<unix>#<turn id>   one item per turn
//	PK=SESSION#<id>   SK=META#                   counters and forward flags
//	PK=COUNTER#turns  SK=COUNTER#                turn id sequence
//	PK=LATEST#user    SK=LATEST#                 most recent user turn
const (
	pkSessionPrefix = "SESSION#"
	skTurnPrefix    = "TURN#"
	skMeta          = "META#"
	pkCounter       = "COUNTER#turns"
	skCounter       = "COUNTER#"
	pkLatestUser    = "LATEST#user"
	skLatest        = "LATEST#"
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
// *dynamodb.Client satisfies it.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoStore keeps the conversation log in one DynamoDB table. Forward
// flags live on the session META item rather than on each turn.
type DynamoStore struct {
	api   dynamodbAPI
	table string
	now   func() time.Time
}

// NewDynamoStore creates a store for the given table.
func NewDynamoStore(api dynamodbAPI, table string) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("conversation: dynamodb api must not be nil")
	}
	if strings.TrimSpace(table) == "" {
		return nil, errors.New("conversation: table name must not be empty")
	}
	return &DynamoStore{api: api, table: table, now: time.Now}, nil
}

func sessionPK(sessionID string) string {
	return pkSessionPrefix + sessionID
}

// turnSK sorts turns by timestamp, then by id.
func turnSK(ts time.Time, id int64) string {
	return fmt.Sprintf("%s%020d#%020d", skTurnPrefix, ts.Unix(), id)
}

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func numAttr(n int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func (s *DynamoStore) nextID(ctx context.Context) (int64, error) {
	out, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       key(pkCounter, skCounter),
		UpdateExpression:          aws.String("ADD #seq :one"),
		ExpressionAttributeNames:  map[string]string{"#seq": "seq"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":one": numAttr(1)},
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("conversation: next turn id: %w", err)
	}
	id := attrN(out.Attributes, "seq")
	if id == 0 {
		return 0, errors.New("conversation: turn id sequence returned no value")
	}
	return id, nil
}

func (s *DynamoStore) Append(ctx context.Context, turn models.Turn) (int64, error) {
	turn = prepare(turn, s.now())

	id, err := s.nextID(ctx)
	if err != nil {
		return 0, err
	}
	turn.ID = id

	item := key(sessionPK(turn.SessionID), turnSK(turn.Timestamp, id))
	item["turn_id"] = numAttr(id)
	item["session_id"] = &types.AttributeValueMemberS{Value: turn.SessionID}
	item["role"] = &types.AttributeValueMemberS{Value: string(turn.Role)}
	item["content"] = &types.AttributeValueMemberS{Value: turn.Content}
	item["ts"] = &types.AttributeValueMemberS{Value: turn.Timestamp.UTC().Format(time.RFC3339)}
	item["ts_unix"] = numAttr(turn.Timestamp.Unix())
	item["author"] = &types.AttributeValueMemberS{Value: turn.Author}
	item["ip"] = &types.AttributeValueMemberS{Value: turn.Source.IP}
	item["user_agent"] = &types.AttributeValueMemberS{Value: turn.Source.UserAgent}
	item["page_url"] = &types.AttributeValueMemberS{Value: turn.Source.PageURL}
	item["created_at"] = &types.AttributeValueMemberS{Value: turn.CreatedAt.UTC().Format(time.RFC3339Nano)}

	userInc := int64(0)
	if turn.Role == models.RoleUser {
		userInc = 1
	}

	_, err = s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(s.table),
					Item:                item,
					ConditionExpression: aws.String("attribute_not_exists(PK)"),
				},
			},
			{
				Update: &types.Update{
					TableName:        aws.String(s.table),
					Key:              key(sessionPK(turn.SessionID), skMeta),
					UpdateExpression: aws.String("ADD user_turns :inc, turn_count :one SET updated_at = :now"),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":inc": numAttr(userInc),
						":one": numAttr(1),
						":now": &types.AttributeValueMemberS{Value: turn.CreatedAt.UTC().Format(time.RFC3339)},
					},
				},
			},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("conversation: write turn: %w", err)
	}

	// The turn is stored; a stale LATEST pointer only affects LAST replies.
	if turn.Role == models.RoleUser {
		if err := s.touchLatest(ctx, turn); err != nil {
			slog.Warn("latest user session pointer not updated", "session_id", turn.SessionID, "turn_id", id, "error", err)
		}
	}
	return id, nil
}

// touchLatest moves the LATEST pointer forward; older writers lose the
// condition and are ignored.
func (s *DynamoStore) touchLatest(ctx context.Context, turn models.Turn) error {
	item := key(pkLatestUser, skLatest)
	item["session_id"] = &types.AttributeValueMemberS{Value: turn.SessionID}
	item["ts_unix"] = numAttr(turn.Timestamp.Unix())
	item["turn_id"] = numAttr(turn.ID)

	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) OR ts_unix < :ts OR (ts_unix = :ts AND turn_id < :id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ts": numAttr(turn.Timestamp.Unix()),
			":id": numAttr(turn.ID),
		},
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("conversation: update latest user session: %w", err)
	}
	return nil
}

func (s *DynamoStore) meta(ctx context.Context, sessionID string) (map[string]types.AttributeValue, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            key(sessionPK(sessionID), skMeta),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("conversation: get session meta: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}
	return out.Item, nil
}

func (s *DynamoStore) CountUserTurns(ctx context.Context, sessionID string) (int, error) {
	item, err := s.meta(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	return int(attrN(item, "user_turns")), nil
}

func (s *DynamoStore) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	item, err := s.meta(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return item != nil, nil
}

func (s *DynamoStore) MarkForwarded(ctx context.Context, sessionID string, flags models.ForwardFlags) error {
	var sets []string
	values := map[string]types.AttributeValue{}
	if flags.Email {
		sets = append(sets, "forwarded_email = :t")
	}
	if flags.SMS {
		sets = append(sets, "forwarded_sms = :t")
	}
	if len(sets) == 0 {
		return nil
	}
	values[":t"] = &types.AttributeValueMemberBOOL{Value: true}

	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       key(sessionPK(sessionID), skMeta),
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ConditionExpression:       aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return fmt.Errorf("conversation: mark forwarded: %w", err)
	}
	return nil
}

func (s *DynamoStore) ListOwnerTurnsSince(ctx context.Context, sessionID string, since *time.Time) ([]models.Turn, error) {
	filter := "#role = :owner"
	values := map[string]types.AttributeValue{
		":pk":     &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		":prefix": &types.AttributeValueMemberS{Value: skTurnPrefix},
		":owner":  &types.AttributeValueMemberS{Value: string(models.RoleOwner)},
	}
	if since != nil {
		filter += " AND ts_unix > :since"
		values[":since"] = numAttr(since.Unix())
	}

	in := &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		KeyConditionExpression:    aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		FilterExpression:          aws.String(filter),
		ExpressionAttributeNames:  map[string]string{"#role": "role"},
		ExpressionAttributeValues: values,
		ScanIndexForward:          aws.Bool(true),
	}

	var turns []models.Turn
	for {
		out, err := s.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("conversation: query owner turns: %w", err)
		}
		for _, item := range out.Items {
			turns = append(turns, turnFromItem(item))
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return turns, nil
}

func (s *DynamoStore) LatestUserSession(ctx context.Context) (string, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            key(pkLatestUser, skLatest),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("conversation: get latest user session: %w", err)
	}
	if out == nil {
		return "", nil
	}
	return attrS(out.Item, "session_id"), nil
}

func (s *DynamoStore) Ping(ctx context.Context) error {
	_, err := s.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)})
	return err
}

func (s *DynamoStore) Close() {}

func turnFromItem(item map[string]types.AttributeValue) models.Turn {
	t := models.Turn{
		ID:        attrN(item, "turn_id"),
		SessionID: attrS(item, "session_id"),
		Role:      models.Role(attrS(item, "role")),
		Content:   attrS(item, "content"),
		Author:    attrS(item, "author"),
		Source: models.SourceMeta{
			IP:        attrS(item, "ip"),
			UserAgent: attrS(item, "user_agent"),
			PageURL:   attrS(item, "page_url"),
		},
	}
	t.Timestamp = time.Unix(attrN(item, "ts_unix"), 0).UTC()
	if created, err := time.Parse(time.RFC3339Nano, attrS(item, "created_at")); err == nil {
		t.CreatedAt = created
	}
	return t
}

func attrS(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func attrN(item map[string]types.AttributeValue, name string) int64 {
	v, ok := item[name].(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(v.Value, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
