package record

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// The store rejects transactions above this many items.
const maxTransactionItems = 100

var errTooManyItems = fmt.Errorf("more than %d items in one transaction", maxTransactionItems)

// tx buffers condition-guarded writes for one store transaction. Nothing
// touches the network until commit; an error on any path before commit
// aborts by never submitting.
type tx struct {
	table string
	items []types.TransactWriteItem
}

func (t *tx) update(key PK, u writeUpdate) {
	upd := &types.Update{
		TableName:                 aws.String(t.table),
		Key:                       key,
		UpdateExpression:          aws.String(u.expr),
		ExpressionAttributeNames:  u.names,
		ExpressionAttributeValues: u.values,
	}
	if u.guard.expr != "" {
		upd.ConditionExpression = aws.String(u.guard.expr)
		for k, v := range u.guard.values {
			upd.ExpressionAttributeValues[k] = v
		}
	}
	t.items = append(t.items, types.TransactWriteItem{Update: upd})
}

func (t *tx) delete(key PK) {
	t.items = append(t.items, types.TransactWriteItem{
		Delete: &types.Delete{
			TableName: aws.String(t.table),
			Key:       key,
		},
	})
}

// withTx is the scoped transaction acquisition: fn builds the write set,
// and the transaction commits exactly once on the success path. Every
// exit path releases the transaction; a failure during commit surfaces
// as ErrConflict (optimistic loss) or a storage-level error carrying the
// original cause.
func (s *Storage[I, R]) withTx(ctx context.Context, op string, fn func(*tx) error) error {
	t := &tx{table: s.cfg.Table}
	if err := fn(t); err != nil {
		return err
	}
	if len(t.items) == 0 {
		return nil
	}
	if len(t.items) > maxTransactionItems {
		return opErr(op, errTooManyItems)
	}
	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: t.items,
	})
	return mapTxError(op, err)
}

// mapTxError classifies commit failures: optimistic conflicts become
// ErrConflict, everything else is wrapped with its cause preserved.
func mapTxError(op string, err error) error {
	if err == nil {
		return nil
	}

	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for _, reason := range canceled.CancellationReasons {
			if reason.Code == nil {
				continue
			}
			switch *reason.Code {
			case "ConditionalCheckFailed", "TransactionConflict":
				return ErrConflict
			}
		}
		return opErr(op, err)
	}

	var txConflict *types.TransactionConflictException
	if errors.As(err, &txConflict) {
		return ErrConflict
	}

	var condFailed *types.ConditionalCheckFailedException
	if errors.As(err, &condFailed) {
		return ErrConflict
	}

	return opErr(op, err)
}
