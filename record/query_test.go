package record_test

import (
	"context"
	"iter"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/lattice/record"
	"github.com/jacentio/lattice/recordtest"
)

// drain consumes a result sequence, failing the test on any error.
func drain[T any](t *testing.T, seq iter.Seq2[T, error]) []T {
	t.Helper()
	var out []T
	for v, err := range seq {
		require.NoError(t, err)
		out = append(out, v)
	}
	return out
}

// firstErr consumes a sequence expected to fail and returns its error.
func firstErr[T any](t *testing.T, seq iter.Seq2[T, error]) error {
	t.Helper()
	for _, err := range seq {
		if err != nil {
			return err
		}
	}
	t.Fatal("sequence yielded no error")
	return nil
}

func seedOrders(t *testing.T, storage *record.Storage[orderID, order]) {
	t.Helper()
	entries := []record.Entry[orderID, order]{
		{ID: "o-1", Record: order{Number: "ORD-1", Status: fulfilmentPending, Total: 30}},
		{ID: "o-2", Record: order{Number: "ORD-2", Status: fulfilmentShipped, Total: 10}},
		{ID: "o-3", Record: order{Number: "ORD-3", Status: fulfilmentPending, Total: 20}},
		{ID: "o-4", Record: order{Number: "ORD-4", Status: fulfilmentShipped, Total: 40}},
	}
	require.NoError(t, storage.WriteAll(context.Background(), entries))
}

func numbers(orders []order) []string {
	out := make([]string, len(orders))
	for i, o := range orders {
		out[i] = o.Number
	}
	return out
}

func TestSelect_AllInIdentifierOrder(t *testing.T) {
	client := recordtest.New()
	storage := orderStorage(t, client, record.DefaultConfig())
	seedOrders(t, storage)

	got := drain(t, storage.Select(context.Background(), record.Query{}))
	require.Equal(t, []string{"ORD-1", "ORD-2", "ORD-3", "ORD-4"}, numbers(got))

	q := client.LastQuery()
	require.Equal(t, "kind-id-index", aws.ToString(q.IndexName))
	require.Equal(t, "#kind = :kind", aws.ToString(q.KeyConditionExpression))
	require.Nil(t, q.FilterExpression)
}

func TestSelect_DescendingWithoutOrderColumn(t *testing.T) {
	client := recordtest.New()
	storage := orderStorage(t, client, record.DefaultConfig())
	seedOrders(t, storage)

	got := drain(t, storage.Select(context.Background(), record.Query{Descending: true}))
	require.Equal(t, []string{"ORD-4", "ORD-3", "ORD-2", "ORD-1"}, numbers(got))
	require.False(t, aws.ToBool(client.LastQuery().ScanIndexForward))
}

func TestSelect_EqualityPushedDown(t *testing.T) {
	client := recordtest.New()
	storage := orderStorage(t, client, record.DefaultConfig())
	seedOrders(t, storage)

	got := drain(t, storage.Select(context.Background(), record.Query{
		Filters: []record.Filter{{Column: "number", Op: record.Eq, Value: "ORD-3"}},
	}))
	require.Equal(t, []string{"ORD-3"}, numbers(got))

	q := client.LastQuery()
	require.Equal(t, "#f0 = :f0", aws.ToString(q.FilterExpression))
	require.Equal(t, "number", q.ExpressionAttributeNames["#f0"])
}

func TestSelect_RangePushedDown(t *testing.T) {
	client := recordtest.New()
	storage := orderStorage(t, client, record.DefaultConfig())
	seedOrders(t, storage)

	got := drain(t, storage.Select(context.Background(), record.Query{
		Filters: []record.Filter{
			{Column: "total", Op: record.Ge, Value: 20.0},
			{Column: "status", Op: record.Eq, Value: fulfilmentPending},
		},
	}))
	require.Equal(t, []string{"ORD-1", "ORD-3"}, numbers(got))
	require.Equal(t, "#f0 >= :f0 AND #f1 = :f1", aws.ToString(client.LastQuery().FilterExpression))
}

func TestSelect_OrderByColumn(t *testing.T) {
	storage := orderStorage(t, recordtest.New(), record.DefaultConfig())
	seedOrders(t, storage)

	asc := drain(t, storage.Select(context.Background(), record.Query{OrderBy: "total"}))
	require.Equal(t, []string{"ORD-2", "ORD-3", "ORD-1", "ORD-4"}, numbers(asc))

	desc := drain(t, storage.Select(context.Background(), record.Query{OrderBy: "total", Descending: true}))
	require.Equal(t, []string{"ORD-4", "ORD-1", "ORD-3", "ORD-2"}, numbers(desc))
}

func TestSelect_OffsetLimit(t *testing.T) {
	storage := orderStorage(t, recordtest.New(), record.DefaultConfig())
	seedOrders(t, storage)

	t.Run("streamed", func(t *testing.T) {
		got := drain(t, storage.Select(context.Background(), record.Query{Offset: 1, Limit: 2}))
		require.Equal(t, []string{"ORD-2", "ORD-3"}, numbers(got))
	})

	t.Run("ordered", func(t *testing.T) {
		got := drain(t, storage.Select(context.Background(), record.Query{OrderBy: "total", Offset: 1, Limit: 2}))
		require.Equal(t, []string{"ORD-3", "ORD-1"}, numbers(got))
	})

	t.Run("offset past the end", func(t *testing.T) {
		got := drain(t, storage.Select(context.Background(), record.Query{OrderBy: "total", Offset: 10}))
		require.Empty(t, got)
	})
}

func TestSelect_EarlyStop(t *testing.T) {
	storage := orderStorage(t, recordtest.New(), record.DefaultConfig())
	seedOrders(t, storage)

	var got []order
	for o, err := range storage.Select(context.Background(), record.Query{}) {
		require.NoError(t, err)
		got = append(got, o)
		if len(got) == 2 {
			break
		}
	}
	require.Equal(t, []string{"ORD-1", "ORD-2"}, numbers(got))
}

func TestSelect_UnknownColumn(t *testing.T) {
	storage := orderStorage(t, recordtest.New(), record.DefaultConfig())

	err := firstErr(t, storage.Select(context.Background(), record.Query{
		Filters: []record.Filter{{Column: "colour", Op: record.Eq, Value: "red"}},
	}))
	require.ErrorIs(t, err, record.ErrUnknownColumn)

	err = firstErr(t, storage.Select(context.Background(), record.Query{OrderBy: "colour"}))
	require.ErrorIs(t, err, record.ErrUnknownColumn)
}

func TestSelect_Projection(t *testing.T) {
	client := recordtest.New()
	storage := orderStorage(t, client, record.DefaultConfig())
	seedOrders(t, storage)

	got := drain(t, storage.Select(context.Background(), record.Query{
		Fields:  []string{"number"},
		OrderBy: "total",
	}))
	require.Len(t, got, 4)
	for _, o := range got {
		require.NotEmpty(t, o.Number, "projected field must be retrieved")
		require.Zero(t, o.Total, "unprojected fields must not be retrieved")
		require.Zero(t, o.Note)
	}

	q := client.LastQuery()
	proj := aws.ToString(q.ProjectionExpression)
	require.Equal(t, "#pk, #sk, #id, #ver, #payload.#pf0, #ob", proj)
	require.Equal(t, "number", q.ExpressionAttributeNames["#pf0"])
	require.Equal(t, "total", q.ExpressionAttributeNames["#ob"])
}

func TestSelect_ProjectedFieldAbsentFromPayload(t *testing.T) {
	storage := orderStorage(t, recordtest.New(), record.DefaultConfig())
	require.NoError(t, storage.Write(context.Background(), "o-1", order{Number: "ORD-1"}))

	// Projecting a payload field no stored record carries (written before
	// the field existed) makes the store omit the payload attribute
	// entirely. That is an empty projection, not corrupt data.
	got := drain(t, storage.Select(context.Background(), record.Query{
		Fields: []string{"nickname"},
	}))
	require.Len(t, got, 1)
	require.Zero(t, got[0])
}

func TestSelect_BadStoredPayload(t *testing.T) {
	client := recordtest.New()
	storage := orderStorage(t, client, record.DefaultConfig())

	// A row written outside the storage layer, with a scalar where the
	// payload map belongs.
	_, err := client.PutItem(context.Background(), &dynamodb.PutItemInput{
		TableName: aws.String("lattice_records"),
		Item: map[string]types.AttributeValue{
			"pk":      &types.AttributeValueMemberS{Value: "order#o-bad"},
			"sk":      &types.AttributeValueMemberS{Value: "order"},
			"kind":    &types.AttributeValueMemberS{Value: "order"},
			"id":      &types.AttributeValueMemberS{Value: "o-bad"},
			"payload": &types.AttributeValueMemberS{Value: "not a map"},
		},
	})
	require.NoError(t, err)

	require.ErrorIs(t, firstErr(t, storage.Select(context.Background(), record.Query{})), record.ErrBadPayload)
}

func TestIndex(t *testing.T) {
	storage := orderStorage(t, recordtest.New(), record.DefaultConfig())
	seedOrders(t, storage)

	ids := drain(t, storage.Index(context.Background()))
	require.Equal(t, []orderID{"o-1", "o-2", "o-3", "o-4"}, ids)
}

func TestIndexWhere_AgreesWithSelect(t *testing.T) {
	storage := orderStorage(t, recordtest.New(), record.DefaultConfig())
	seedOrders(t, storage)

	q := record.Query{
		Filters:    []record.Filter{{Column: "status", Op: record.Eq, Value: fulfilmentShipped}},
		OrderBy:    "total",
		Descending: true,
	}
	ids := drain(t, storage.IndexWhere(context.Background(), q))
	require.Equal(t, []orderID{"o-4", "o-2"}, ids)
}

func TestSelect_NamespaceIsolation(t *testing.T) {
	client := recordtest.New()
	acme := record.DefaultConfig()
	acme.Namespace = "acme"
	globex := record.DefaultConfig()
	globex.Namespace = "globex"

	acmeStore := orderStorage(t, client, acme)
	globexStore := orderStorage(t, client, globex)

	require.NoError(t, acmeStore.Write(context.Background(), "o-1", order{Number: "ACME-1"}))
	require.NoError(t, globexStore.Write(context.Background(), "o-1", order{Number: "GLOBEX-1"}))

	got := drain(t, acmeStore.Select(context.Background(), record.Query{}))
	require.Equal(t, []string{"ACME-1"}, numbers(got))

	got = drain(t, globexStore.Select(context.Background(), record.Query{}))
	require.Equal(t, []string{"GLOBEX-1"}, numbers(got))
}

// tickets exercise the client-side predicate path: booleans only push
// down for equality, so a range comparison must be evaluated here.
type ticket struct {
	Open     bool  `dynamodbav:"open"`
	Priority int64 `dynamodbav:"priority"`
}

func ticketStorage(t *testing.T, client *recordtest.Client) *record.Storage[orderID, ticket] {
	t.Helper()
	spec, err := record.NewSpec("ticket", record.FlatLayout[orderID]{}, parseOrderID, map[string]record.Column[ticket]{
		"open":     {Type: record.TypeBool, Value: func(tk ticket) any { return tk.Open }},
		"priority": {Type: record.TypeInteger, Value: func(tk ticket) any { return tk.Priority }},
	})
	require.NoError(t, err)
	s, err := record.New(client, record.DefaultConfig(), spec, nil)
	require.NoError(t, err)
	return s
}

func TestSelect_ResidualFilter(t *testing.T) {
	client := recordtest.New()
	storage := ticketStorage(t, client)

	require.NoError(t, storage.WriteAll(context.Background(), []record.Entry[orderID, ticket]{
		{ID: "t-1", Record: ticket{Open: false, Priority: 1}},
		{ID: "t-2", Record: ticket{Open: true, Priority: 2}},
		{ID: "t-3", Record: ticket{Open: false, Priority: 3}},
	}))

	got := drain(t, storage.Select(context.Background(), record.Query{
		Filters: []record.Filter{{Column: "open", Op: record.Lt, Value: true}},
	}))
	require.Len(t, got, 2)
	for _, tk := range got {
		require.False(t, tk.Open)
	}
	require.Nil(t, client.LastQuery().FilterExpression, "a bool range predicate must not be pushed down")
}

func TestSelect_ResidualColumnJoinsProjection(t *testing.T) {
	client := recordtest.New()
	storage := ticketStorage(t, client)
	require.NoError(t, storage.Write(context.Background(), "t-1", ticket{Open: true, Priority: 2}))

	got := drain(t, storage.Select(context.Background(), record.Query{
		Filters: []record.Filter{{Column: "open", Op: record.Le, Value: true}},
		Fields:  []string{"priority"},
	}))
	require.Len(t, got, 1)

	q := client.LastQuery()
	require.Equal(t, "#pk, #sk, #id, #ver, #payload.#pf0, #rc0", aws.ToString(q.ProjectionExpression))
	require.Equal(t, "open", q.ExpressionAttributeNames["#rc0"])
}
