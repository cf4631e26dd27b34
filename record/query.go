package record

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Select translates a structured query into a native query over the kind
// index, executes it, and yields deserialized records as a lazy, finite,
// single-pass sequence. Predicates the store can compare natively are
// pushed down; the rest are evaluated here, after retrieval. Ordering and
// pagination apply only after all filters have run.
func (s *Storage[I, R]) Select(ctx context.Context, q Query) iter.Seq2[R, error] {
	return func(yield func(R, error) bool) {
		var zero R
		for r, err := range s.rows(ctx, q) {
			if err != nil {
				yield(zero, err)
				return
			}
			if !yield(r.rec, nil) {
				return
			}
		}
	}
}

// Index yields the identifiers of every stored record of this kind.
func (s *Storage[I, R]) Index(ctx context.Context) iter.Seq2[I, error] {
	return s.IndexWhere(ctx, Query{})
}

// IndexWhere yields the identifiers of records matching q. Identifiers are
// projected from full record reads, not an independent index scan, so the
// result agrees exactly with Select on the same query.
func (s *Storage[I, R]) IndexWhere(ctx context.Context, q Query) iter.Seq2[I, error] {
	return func(yield func(I, error) bool) {
		var zero I
		for r, err := range s.rows(ctx, q) {
			if err != nil {
				yield(zero, err)
				return
			}
			id, err := s.spec.decodeID(r.id)
			if err != nil {
				yield(zero, fmt.Errorf("%w: identifier %q: %v", ErrBadPayload, r.id, err))
				return
			}
			if !yield(id, nil) {
				return
			}
		}
	}
}

// row pairs a decoded record with its native entity, which post-filtering
// and ordering read column values from.
type row[R any] struct {
	id   string
	rec  R
	item map[string]types.AttributeValue
}

type queryPlan struct {
	input      *dynamodb.QueryInput
	residual   []resolvedFilter
	projected  bool
	orderBy    string
	descending bool
	limit      int
	offset     int
}

func (s *Storage[I, R]) rows(ctx context.Context, q Query) iter.Seq2[row[R], error] {
	return func(yield func(row[R], error) bool) {
		var zero row[R]
		plan, err := s.planQuery(q)
		if err != nil {
			yield(zero, err)
			return
		}
		if plan.orderBy == "" {
			s.streamRows(ctx, plan, yield)
			return
		}
		s.sortedRows(ctx, plan, yield)
	}
}

// planQuery resolves and splits the predicates and assembles the native
// query. All usage errors (unknown columns, unconvertible operands)
// surface here, before any network call.
func (s *Storage[I, R]) planQuery(q Query) (*queryPlan, error) {
	names := map[string]string{"#kind": attrKind}
	values := map[string]types.AttributeValue{
		":kind": &types.AttributeValueMemberS{Value: s.kindValue()},
	}

	var native, residual []resolvedFilter
	for _, f := range q.Filters {
		rf, err := s.spec.resolveFilter(f)
		if err != nil {
			return nil, err
		}
		if rf.pushdown() {
			native = append(native, rf)
		} else {
			residual = append(residual, rf)
		}
	}

	if q.OrderBy != "" {
		if _, ok := s.spec.column(q.OrderBy); !ok {
			return nil, fmt.Errorf("%w: %q is not declared on kind %q", ErrUnknownColumn, q.OrderBy, s.spec.kind)
		}
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.cfg.Table),
		IndexName:                 aws.String(s.cfg.KindIndex),
		KeyConditionExpression:    aws.String("#kind = :kind"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}

	var filterClauses []string
	for i, rf := range native {
		nameKey := fmt.Sprintf("#f%d", i)
		valueKey := fmt.Sprintf(":f%d", i)
		names[nameKey] = rf.column
		values[valueKey] = rf.operand
		filterClauses = append(filterClauses, fmt.Sprintf("%s %s %s", nameKey, rf.op.token(), valueKey))
	}
	if len(filterClauses) > 0 {
		input.FilterExpression = aws.String(strings.Join(filterClauses, " AND "))
	}

	if q.OrderBy == "" {
		// Without an order column, results follow the index range key
		// (canonical identifier order); descending is pushed down.
		input.ScanIndexForward = aws.Bool(!q.Descending)
	}

	if len(q.Fields) > 0 {
		input.ProjectionExpression = aws.String(s.projection(q, residual, names))
	}

	return &queryPlan{
		input:      input,
		residual:   residual,
		projected:  len(q.Fields) > 0,
		orderBy:    q.OrderBy,
		descending: q.Descending,
		limit:      q.Limit,
		offset:     q.Offset,
	}, nil
}

// projection narrows retrieval to the requested payload fields plus
// whatever the engine itself still needs: key attributes, and the columns
// read by residual filters and ordering.
func (s *Storage[I, R]) projection(q Query, residual []resolvedFilter, names map[string]string) string {
	names["#pk"] = attrPK
	names["#sk"] = attrSK
	names["#id"] = attrID
	names["#ver"] = attrVer
	names["#payload"] = attrPayload
	parts := []string{"#pk", "#sk", "#id", "#ver"}
	for i, f := range q.Fields {
		nameKey := fmt.Sprintf("#pf%d", i)
		names[nameKey] = f
		parts = append(parts, "#payload."+nameKey)
	}
	for i, rf := range residual {
		nameKey := fmt.Sprintf("#rc%d", i)
		names[nameKey] = rf.column
		parts = append(parts, nameKey)
	}
	if q.OrderBy != "" {
		names["#ob"] = q.OrderBy
		parts = append(parts, "#ob")
	}
	return strings.Join(parts, ", ")
}

// streamRows executes an unordered plan lazily: offset and limit are
// counted over post-filter matches and iteration stops as soon as the
// limit is reached.
func (s *Storage[I, R]) streamRows(ctx context.Context, plan *queryPlan, yield func(row[R], error) bool) {
	var zero row[R]
	skipped, yielded := 0, 0

	paginator := dynamodb.NewQueryPaginator(s.client, plan.input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			yield(zero, opErr("select", err))
			return
		}
		for _, raw := range page.Items {
			r, matched, err := s.evalRow(raw, plan)
			if err != nil {
				yield(zero, err)
				return
			}
			if !matched {
				continue
			}
			if skipped < plan.offset {
				skipped++
				continue
			}
			if !yield(r, nil) {
				return
			}
			yielded++
			if plan.limit > 0 && yielded >= plan.limit {
				return
			}
		}
	}
}

// sortedRows materializes all matches, orders them by the declared column,
// then applies offset and limit. Ordering after filtering keeps result
// identity stable regardless of how predicates were split.
func (s *Storage[I, R]) sortedRows(ctx context.Context, plan *queryPlan, yield func(row[R], error) bool) {
	var zero row[R]
	var matched []row[R]

	paginator := dynamodb.NewQueryPaginator(s.client, plan.input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			yield(zero, opErr("select", err))
			return
		}
		for _, raw := range page.Items {
			r, ok, err := s.evalRow(raw, plan)
			if err != nil {
				yield(zero, err)
				return
			}
			if ok {
				matched = append(matched, r)
			}
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		cmp := orderCmp(columnValue(matched[i].item, plan.orderBy), columnValue(matched[j].item, plan.orderBy))
		if plan.descending {
			return cmp > 0
		}
		return cmp < 0
	})

	if plan.offset > 0 {
		if plan.offset >= len(matched) {
			return
		}
		matched = matched[plan.offset:]
	}
	if plan.limit > 0 && plan.limit < len(matched) {
		matched = matched[:plan.limit]
	}
	for _, r := range matched {
		if !yield(r, nil) {
			return
		}
	}
}

// evalRow deserializes one native entity and applies the client-side
// predicates against its stored column values. Under a field projection
// the store omits the payload attribute entirely when none of the
// projected paths exist on an item, so its absence is an empty payload
// there, not corrupt data.
func (s *Storage[I, R]) evalRow(raw map[string]types.AttributeValue, plan *queryPlan) (row[R], bool, error) {
	if plan.projected {
		if _, ok := raw[attrPayload]; !ok {
			raw[attrPayload] = &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{}}
		}
	}
	rec, err := s.decodePayload(raw)
	if err != nil {
		return row[R]{}, false, err
	}
	var id string
	if v, ok := raw[attrID].(*types.AttributeValueMemberS); ok {
		id = v.Value
	}
	for _, rf := range plan.residual {
		if !rf.matches(columnValue(raw, rf.column)) {
			return row[R]{}, false, nil
		}
	}
	return row[R]{id: id, rec: rec, item: raw}, true, nil
}

// columnValue reads a stored column attribute; absence is the native null.
func columnValue(item map[string]types.AttributeValue, name string) types.AttributeValue {
	if v, ok := item[name]; ok {
		return v
	}
	return NullValue()
}

// orderCmp orders native values for sorting: nulls first, then the tag's
// natural order. Values of different tags compare as equal, preserving
// input order under the stable sort.
func orderCmp(a, b types.AttributeValue) int {
	_, aNull := a.(*types.AttributeValueMemberNULL)
	_, bNull := b.(*types.AttributeValueMemberNULL)
	switch {
	case aNull && bNull:
		return 0
	case aNull:
		return -1
	case bNull:
		return 1
	}
	cmp, ok := compareValues(a, b)
	if !ok {
		return 0
	}
	return cmp
}
