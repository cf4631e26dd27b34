// Package recordtest provides an in-memory stand-in for the DynamoDB
// client, implementing just enough of the update, condition, and
// projection expression grammar that the storage layer emits. Conditional
// failures and projected reads behave like the real store, so
// optimistic-concurrency and narrowed-retrieval paths can be exercised
// without a network.
package recordtest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Client is a concurrency-safe in-memory table set.
type Client struct {
	mu      sync.Mutex
	tables  map[string]map[string]map[string]types.AttributeValue
	queries []dynamodb.QueryInput
	calls   map[string]int
	failErr error
}

func New() *Client {
	return &Client{
		tables: map[string]map[string]map[string]types.AttributeValue{},
		calls:  map[string]int{},
	}
}

// Calls reports how many times an API method was invoked, for asserting
// on dispatch policy.
func (c *Client) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

// FailWith makes every subsequent call return err. Pass nil to heal.
func (c *Client) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failErr = err
}

// Items returns a snapshot of every item in a table.
func (c *Client) Items(table string) []map[string]types.AttributeValue {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]types.AttributeValue
	for _, item := range c.tables[table] {
		out = append(out, copyItem(item))
	}
	return out
}

// LastQuery returns the most recent QueryInput, for asserting on what was
// pushed down to the store.
func (c *Client) LastQuery() *dynamodb.QueryInput {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queries) == 0 {
		return nil
	}
	q := c.queries[len(c.queries)-1]
	return &q
}

func (c *Client) table(name string) map[string]map[string]types.AttributeValue {
	t, ok := c.tables[name]
	if !ok {
		t = map[string]map[string]types.AttributeValue{}
		c.tables[name] = t
	}
	return t
}

func itemKey(key map[string]types.AttributeValue) string {
	pk, _ := key["pk"].(*types.AttributeValueMemberS)
	sk, _ := key["sk"].(*types.AttributeValueMemberS)
	var p, s string
	if pk != nil {
		p = pk.Value
	}
	if sk != nil {
		s = sk.Value
	}
	return p + "|" + s
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func (c *Client) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["GetItem"]++
	if c.failErr != nil {
		return nil, c.failErr
	}
	item, ok := c.table(aws.ToString(params.TableName))[itemKey(params.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: copyItem(item)}, nil
}

func (c *Client) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["PutItem"]++
	if c.failErr != nil {
		return nil, c.failErr
	}
	c.table(aws.ToString(params.TableName))[itemKey(params.Item)] = copyItem(params.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (c *Client) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["DeleteItem"]++
	if c.failErr != nil {
		return nil, c.failErr
	}
	delete(c.table(aws.ToString(params.TableName)), itemKey(params.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (c *Client) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["UpdateItem"]++
	if c.failErr != nil {
		return nil, c.failErr
	}
	t := c.table(aws.ToString(params.TableName))
	key := itemKey(params.Key)
	existing := t[key]
	if !evalCondition(existing, aws.ToString(params.ConditionExpression), params.ExpressionAttributeNames, params.ExpressionAttributeValues) {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
	}
	t[key] = applyUpdate(existing, params.Key, aws.ToString(params.UpdateExpression), params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	return &dynamodb.UpdateItemOutput{}, nil
}

func (c *Client) TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["TransactWriteItems"]++
	if c.failErr != nil {
		return nil, c.failErr
	}

	// First pass: validate every condition atomically.
	reasons := make([]types.CancellationReason, len(params.TransactItems))
	failed := false
	for i, it := range params.TransactItems {
		reasons[i] = types.CancellationReason{Code: aws.String("None")}
		if it.Update != nil {
			existing := c.table(aws.ToString(it.Update.TableName))[itemKey(it.Update.Key)]
			if !evalCondition(existing, aws.ToString(it.Update.ConditionExpression), it.Update.ExpressionAttributeNames, it.Update.ExpressionAttributeValues) {
				reasons[i].Code = aws.String("ConditionalCheckFailed")
				failed = true
			}
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("transaction canceled"),
			CancellationReasons: reasons,
		}
	}

	// Second pass: apply.
	for _, it := range params.TransactItems {
		switch {
		case it.Update != nil:
			t := c.table(aws.ToString(it.Update.TableName))
			key := itemKey(it.Update.Key)
			t[key] = applyUpdate(t[key], it.Update.Key, aws.ToString(it.Update.UpdateExpression), it.Update.ExpressionAttributeNames, it.Update.ExpressionAttributeValues)
		case it.Delete != nil:
			delete(c.table(aws.ToString(it.Delete.TableName)), itemKey(it.Delete.Key))
		case it.Put != nil:
			c.table(aws.ToString(it.Put.TableName))[itemKey(it.Put.Item)] = copyItem(it.Put.Item)
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

// Query implements the kind-index query shape the engine emits: a single
// equality key condition plus optional ANDed comparison filters, ordered
// by the "id" attribute. Results come back in one page.
func (c *Client) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["Query"]++
	if c.failErr != nil {
		return nil, c.failErr
	}
	c.queries = append(c.queries, *params)

	keyAttr, keyVal, ok := parseComparison(aws.ToString(params.KeyConditionExpression), params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	if !ok {
		return nil, fmt.Errorf("recordtest: unsupported key condition %q", aws.ToString(params.KeyConditionExpression))
	}

	var items []map[string]types.AttributeValue
	for _, item := range c.table(aws.ToString(params.TableName)) {
		if !attrEqual(item[keyAttr.name], keyVal) {
			continue
		}
		if !evalFilter(item, aws.ToString(params.FilterExpression), params.ExpressionAttributeNames, params.ExpressionAttributeValues) {
			continue
		}
		items = append(items, project(item, params.ProjectionExpression, params.ExpressionAttributeNames))
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, _ := items[i]["id"].(*types.AttributeValueMemberS)
		b, _ := items[j]["id"].(*types.AttributeValueMemberS)
		if a == nil || b == nil {
			return false
		}
		return a.Value < b.Value
	})
	if params.ScanIndexForward != nil && !*params.ScanIndexForward {
		for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
			items[i], items[j] = items[j], items[i]
		}
	}

	return &dynamodb.QueryOutput{Items: items, Count: int32(len(items))}, nil
}

// project narrows an item to a projection expression's attributes and
// document paths, mirroring the store: an absent attribute or path is
// omitted from the result, and a map attribute is dropped entirely when
// none of its projected paths exist.
func project(item map[string]types.AttributeValue, expr *string, names map[string]string) map[string]types.AttributeValue {
	if expr == nil {
		return copyItem(item)
	}
	out := map[string]types.AttributeValue{}
	nested := map[string]map[string]types.AttributeValue{}
	for _, part := range strings.Split(aws.ToString(expr), ", ") {
		top, sub, dotted := strings.Cut(part, ".")
		attr := resolveName(top, names)
		if !dotted {
			if v, ok := item[attr]; ok {
				out[attr] = v
			}
			continue
		}
		m, ok := item[attr].(*types.AttributeValueMemberM)
		if !ok {
			continue
		}
		field := resolveName(sub, names)
		if v, ok := m.Value[field]; ok {
			if nested[attr] == nil {
				nested[attr] = map[string]types.AttributeValue{}
			}
			nested[attr][field] = v
		}
	}
	for attr, fields := range nested {
		out[attr] = &types.AttributeValueMemberM{Value: fields}
	}
	return out
}

// --- expression mini-interpreter ---

type comparison struct {
	name string
	op   string
}

func resolveName(tok string, names map[string]string) string {
	if strings.HasPrefix(tok, "#") {
		return names[tok]
	}
	return tok
}

// parseComparison parses "lhs <op> :rhs" clauses.
func parseComparison(expr string, names map[string]string, values map[string]types.AttributeValue) (comparison, types.AttributeValue, bool) {
	fields := strings.Fields(strings.TrimSpace(expr))
	if len(fields) != 3 || !strings.HasPrefix(fields[2], ":") {
		return comparison{}, nil, false
	}
	switch fields[1] {
	case "=", "<", "<=", ">", ">=":
	default:
		return comparison{}, nil, false
	}
	return comparison{name: resolveName(fields[0], names), op: fields[1]}, values[fields[2]], true
}

func evalFilter(item map[string]types.AttributeValue, expr string, names map[string]string, values map[string]types.AttributeValue) bool {
	if expr == "" {
		return true
	}
	for _, clause := range strings.Split(expr, " AND ") {
		cmp, operand, ok := parseComparison(clause, names, values)
		if !ok {
			return false
		}
		if !evalComparison(item[cmp.name], cmp.op, operand) {
			return false
		}
	}
	return true
}

func evalCondition(existing map[string]types.AttributeValue, expr string, names map[string]string, values map[string]types.AttributeValue) bool {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true
	}
	if inner, ok := strings.CutPrefix(expr, "attribute_not_exists("); ok {
		attr := resolveName(strings.TrimSuffix(inner, ")"), names)
		if existing == nil {
			return true
		}
		_, present := existing[attr]
		return !present
	}
	cmp, operand, ok := parseComparison(expr, names, values)
	if !ok {
		return false
	}
	if existing == nil {
		return false
	}
	return evalComparison(existing[cmp.name], cmp.op, operand)
}

func evalComparison(v types.AttributeValue, op string, operand types.AttributeValue) bool {
	cmp, comparable := compareAttrs(v, operand)
	if !comparable {
		return false
	}
	switch op {
	case "=":
		return cmp == 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	}
	return false
}

func attrEqual(a, b types.AttributeValue) bool {
	cmp, ok := compareAttrs(a, b)
	return ok && cmp == 0
}

func compareAttrs(a, b types.AttributeValue) (int, bool) {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return 0, false
		}
		return strings.Compare(av.Value, bv.Value), true
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return 0, false
		}
		af, err1 := strconv.ParseFloat(av.Value, 64)
		bf, err2 := strconv.ParseFloat(bv.Value, 64)
		if err1 != nil || err2 != nil {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		if !ok {
			return 0, false
		}
		if av.Value == bv.Value {
			return 0, true
		}
		if !av.Value {
			return -1, true
		}
		return 1, true
	case *types.AttributeValueMemberB:
		bv, ok := b.(*types.AttributeValueMemberB)
		if !ok {
			return 0, false
		}
		return strings.Compare(string(av.Value), string(bv.Value)), true
	}
	return 0, false
}

// applyUpdate interprets "SET #a = :v, ... ADD #ver :one" expressions.
func applyUpdate(existing, key map[string]types.AttributeValue, expr string, names map[string]string, values map[string]types.AttributeValue) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{}
	for k, v := range existing {
		item[k] = v
	}
	for k, v := range key {
		item[k] = v
	}

	setPart := expr
	addPart := ""
	if idx := strings.Index(expr, " ADD "); idx >= 0 {
		setPart, addPart = expr[:idx], expr[idx+len(" ADD "):]
	}
	setPart = strings.TrimPrefix(strings.TrimSpace(setPart), "SET ")

	for _, clause := range strings.Split(setPart, ", ") {
		parts := strings.Split(strings.TrimSpace(clause), " = ")
		if len(parts) != 2 {
			continue
		}
		item[resolveName(parts[0], names)] = values[parts[1]]
	}

	if addPart != "" {
		fields := strings.Fields(addPart)
		if len(fields) == 2 {
			attr := resolveName(fields[0], names)
			delta := int64(0)
			if n, ok := values[fields[1]].(*types.AttributeValueMemberN); ok {
				delta, _ = strconv.ParseInt(n.Value, 10, 64)
			}
			cur := int64(0)
			if n, ok := item[attr].(*types.AttributeValueMemberN); ok {
				cur, _ = strconv.ParseInt(n.Value, 10, 64)
			}
			item[attr] = &types.AttributeValueMemberN{Value: strconv.FormatInt(cur+delta, 10)}
		}
	}
	return item
}
