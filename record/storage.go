package record

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/lattice/internal/keypath"
)

// Storage maps one strongly-typed record type onto the store. It holds no
// mutable state beyond immutable configuration, so it is safe for
// concurrent use; isolation between writers is the store's transaction
// isolation.
type Storage[I Identifier, R any] struct {
	client Client
	cfg    Config
	spec   *Spec[I, R]
	log    *slog.Logger
}

// Entry pairs an identifier with its record for batch writes.
type Entry[I Identifier, R any] struct {
	ID     I
	Record R
}

// New creates a Storage for one record type. A nil client or spec is
// rejected immediately. Pass a nil logger to use slog.Default.
func New[I Identifier, R any](client Client, cfg Config, spec *Spec[I, R], logger *slog.Logger) (*Storage[I, R], error) {
	if client == nil {
		return nil, fmt.Errorf("%w: nil client", ErrInvalidSpec)
	}
	if spec == nil {
		return nil, fmt.Errorf("%w: nil spec", ErrInvalidSpec)
	}
	cfg.validate()
	if logger == nil {
		logger = slog.Default()
	}
	return &Storage[I, R]{
		client: client,
		cfg:    cfg,
		spec:   spec,
		log:    logger.With("kind", string(spec.Kind())),
	}, nil
}

// Spec returns the entity spec this storage was built with.
func (s *Storage[I, R]) Spec() *Spec[I, R] {
	return s.spec
}

// kindValue is the namespace-qualified kind attribute, so tenants sharing
// one table never see each other's records through the kind index.
func (s *Storage[I, R]) kindValue() string {
	if s.cfg.Namespace == "" {
		return keypath.Escape(string(s.spec.kind))
	}
	return keypath.Escape(s.cfg.Namespace) + "/" + keypath.Escape(string(s.spec.kind))
}

// Write stores a record under its identifier. Semantics are an
// unconditional upsert: there is no separate insert vs update.
func (s *Storage[I, R]) Write(ctx context.Context, id I, rec R) error {
	item, err := s.buildItem(id, rec)
	if err != nil {
		return err
	}
	if s.cfg.Transactional {
		err = s.withTx(ctx, "write", func(tx *tx) error {
			tx.update(s.keyOf(item), s.writeExpression(item))
			return nil
		})
	} else {
		_, err = s.client.UpdateItem(ctx, s.updateInput(item, guard{}))
		err = opErr("write", err)
	}
	if err != nil {
		return err
	}
	s.log.DebugContext(ctx, "record written", "id", id.String())
	return nil
}

// WriteAll stores a batch of records. With transactional dispatch the whole
// batch commits atomically or not at all; otherwise entries are written
// independently and the first failure aborts the remainder.
func (s *Storage[I, R]) WriteAll(ctx context.Context, entries []Entry[I, R]) error {
	if s.cfg.Transactional {
		return s.withTx(ctx, "write_all", func(tx *tx) error {
			for _, e := range entries {
				item, err := s.buildItem(e.ID, e.Record)
				if err != nil {
					return err
				}
				tx.update(s.keyOf(item), s.writeExpression(item))
			}
			return nil
		})
	}
	for _, e := range entries {
		if err := s.Write(ctx, e.ID, e.Record); err != nil {
			return err
		}
	}
	return nil
}

// Find reads the record stored under id, returning ErrNotFound if absent.
// Reads are strongly consistent when the storage is transactional.
func (s *Storage[I, R]) Find(ctx context.Context, id I) (R, error) {
	var zero R
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.cfg.Table),
		Key:            s.spec.Key(s.cfg.Namespace, id),
		ConsistentRead: aws.Bool(s.cfg.Transactional),
	})
	if err != nil {
		return zero, opErr("find", err)
	}
	if out.Item == nil {
		return zero, ErrNotFound
	}
	return s.decodePayload(out.Item)
}

// Delete requests removal of the record under id. It reports true without
// confirming prior existence: confirming would cost an extra round trip,
// so the contract is "delete request accepted", not "record existed and
// was removed". Callers must not read the result as an existence check.
func (s *Storage[I, R]) Delete(ctx context.Context, id I) (bool, error) {
	key := s.spec.Key(s.cfg.Namespace, id)
	if s.cfg.Transactional {
		err := s.withTx(ctx, "delete", func(tx *tx) error {
			tx.delete(key)
			return nil
		})
		if err != nil {
			return false, err
		}
		return true, nil
	}
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.cfg.Table),
		Key:       key,
	})
	if err != nil {
		return false, opErr("delete", err)
	}
	return true, nil
}

// Update applies fn to the current stored state of id under optimistic
// concurrency control: a consistent read observes the record's version,
// fn produces the next state, and the write commits only if no other
// writer intervened. A concurrent writer surfaces as ErrConflict; retry
// policy belongs to the caller. An error from fn aborts with nothing
// written and propagates unchanged.
func (s *Storage[I, R]) Update(ctx context.Context, id I, fn func(cur R, found bool) (R, error)) error {
	key := s.spec.Key(s.cfg.Namespace, id)
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.cfg.Table),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return opErr("update", err)
	}

	var cur R
	found := out.Item != nil
	var observed int64
	if found {
		cur, err = s.decodePayload(out.Item)
		if err != nil {
			return err
		}
		observed = itemVersion(out.Item)
	}

	next, err := fn(cur, found)
	if err != nil {
		return err
	}

	item, err := s.buildItem(id, next)
	if err != nil {
		return err
	}
	return s.withTx(ctx, "update", func(tx *tx) error {
		expr := s.writeExpression(item)
		expr.guard = versionGuard(found, observed)
		tx.update(s.keyOf(item), expr)
		return nil
	})
}

// buildItem converts a record to its native entity: derived key, managed
// attributes, declared column values, and the encoded payload.
func (s *Storage[I, R]) buildItem(id I, rec R) (map[string]types.AttributeValue, error) {
	item := map[string]types.AttributeValue{}
	for k, v := range s.spec.Key(s.cfg.Namespace, id) {
		item[k] = v
	}
	item[attrKind] = &types.AttributeValueMemberS{Value: s.kindValue()}
	item[attrID] = &types.AttributeValueMemberS{Value: id.String()}
	item[attrUpdatedAt] = &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)}

	payload, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, opErr("encode payload", err)
	}
	item[attrPayload] = &types.AttributeValueMemberM{Value: payload}

	for name, col := range s.spec.columns {
		v, err := Convert(col.Type, col.Value(rec))
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}
		item[name] = v
	}
	return item, nil
}

// decodePayload reconstructs the typed record from a native entity. A
// payload that fails to decode is surfaced, never skipped: dropping
// records silently would corrupt downstream aggregate reads.
func (s *Storage[I, R]) decodePayload(item map[string]types.AttributeValue) (R, error) {
	var rec R
	payload, ok := item[attrPayload].(*types.AttributeValueMemberM)
	if !ok {
		return rec, fmt.Errorf("%w: missing payload on kind %q", ErrBadPayload, s.spec.kind)
	}
	if err := attributevalue.UnmarshalMap(payload.Value, &rec); err != nil {
		return rec, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return rec, nil
}

func (s *Storage[I, R]) keyOf(item map[string]types.AttributeValue) PK {
	return PK{attrPK: item[attrPK], attrSK: item[attrSK]}
}

// guard is an optional condition on a buffered write.
type guard struct {
	expr   string
	values map[string]types.AttributeValue
}

// versionGuard builds the optimistic condition for a read-modify-write:
// the record must still be at the observed version, or still absent.
func versionGuard(found bool, observed int64) guard {
	if !found {
		return guard{expr: "attribute_not_exists(#ver)"}
	}
	return guard{
		expr: "#ver = :expected",
		values: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(observed, 10)},
		},
	}
}

// writeUpdate is a fully built native update: SET clauses for every
// attribute plus a version increment.
type writeUpdate struct {
	expr   string
	names  map[string]string
	values map[string]types.AttributeValue
	guard  guard
}

// writeExpression builds the update expression for a full create-or-update
// of item. The version attribute increments on every write.
func (s *Storage[I, R]) writeExpression(item map[string]types.AttributeValue) writeUpdate {
	names := map[string]string{"#ver": attrVer}
	values := map[string]types.AttributeValue{
		":one": &types.AttributeValueMemberN{Value: "1"},
	}

	var setClauses []string
	i := 0
	for k, v := range item {
		if k == attrPK || k == attrSK || k == attrVer {
			continue
		}
		nameKey := fmt.Sprintf("#a%d", i)
		valueKey := fmt.Sprintf(":v%d", i)
		names[nameKey] = k
		values[valueKey] = v
		setClauses = append(setClauses, fmt.Sprintf("%s = %s", nameKey, valueKey))
		i++
	}

	return writeUpdate{
		expr:   "SET " + strings.Join(setClauses, ", ") + " ADD #ver :one",
		names:  names,
		values: values,
	}
}

// updateInput assembles the direct (non-transactional) form of a write.
func (s *Storage[I, R]) updateInput(item map[string]types.AttributeValue, g guard) *dynamodb.UpdateItemInput {
	u := s.writeExpression(item)
	u.guard = g
	in := &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.cfg.Table),
		Key:                       s.keyOf(item),
		UpdateExpression:          aws.String(u.expr),
		ExpressionAttributeNames:  u.names,
		ExpressionAttributeValues: u.values,
	}
	if g.expr != "" {
		in.ConditionExpression = aws.String(g.expr)
		for k, v := range g.values {
			in.ExpressionAttributeValues[k] = v
		}
	}
	return in
}

func itemVersion(item map[string]types.AttributeValue) int64 {
	if v, ok := item[attrVer].(*types.AttributeValueMemberN); ok {
		n, _ := strconv.ParseInt(v.Value, 10, 64)
		return n
	}
	return 0
}
