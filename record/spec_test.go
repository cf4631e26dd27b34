package record_test

import (
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/lattice/record"
)

type orderID string

func (id orderID) String() string { return string(id) }

func parseOrderID(s string) (orderID, error) { return orderID(s), nil }

type order struct {
	Number string     `dynamodbav:"number"`
	Status fulfilment `dynamodbav:"status"`
	Total  float64    `dynamodbav:"total"`
	Note   string     `dynamodbav:"note"`
}

func orderColumns() map[string]record.Column[order] {
	return map[string]record.Column[order]{
		"number": {Type: record.TypeString, Value: func(o order) any { return o.Number }},
		"status": {Type: record.TypeEnum, Value: func(o order) any { return o.Status }},
		"total":  {Type: record.TypeDouble, Value: func(o order) any { return o.Total }},
	}
}

func orderSpec(t *testing.T) *record.Spec[orderID, order] {
	t.Helper()
	spec, err := record.NewSpec("order", record.FlatLayout[orderID]{}, parseOrderID, orderColumns())
	if err != nil {
		t.Fatalf("NewSpec: %v", err)
	}
	return spec
}

func TestNewSpec_Preconditions(t *testing.T) {
	tests := []struct {
		name string
		make func() error
	}{
		{"empty kind", func() error {
			_, err := record.NewSpec[orderID, order]("", record.FlatLayout[orderID]{}, parseOrderID, nil)
			return err
		}},
		{"nil layout", func() error {
			_, err := record.NewSpec[orderID, order]("order", nil, parseOrderID, nil)
			return err
		}},
		{"nil identifier decoder", func() error {
			_, err := record.NewSpec[orderID, order]("order", record.FlatLayout[orderID]{}, nil, nil)
			return err
		}},
		{"column without extractor", func() error {
			_, err := record.NewSpec("order", record.FlatLayout[orderID]{}, parseOrderID,
				map[string]record.Column[order]{"status": {Type: record.TypeEnum}})
			return err
		}},
		{"reserved column name", func() error {
			_, err := record.NewSpec("order", record.FlatLayout[orderID]{}, parseOrderID,
				map[string]record.Column[order]{"ver": {Type: record.TypeString, Value: func(o order) any { return o.Number }}})
			return err
		}},
		{"child layout without parent kind", func() error {
			_, err := record.NewSpec[orderID, order]("line_item", record.ChildLayout[orderID]{ParentID: func(orderID) string { return "" }}, parseOrderID, nil)
			return err
		}},
		{"child layout without parent extractor", func() error {
			_, err := record.NewSpec[orderID, order]("line_item", record.ChildLayout[orderID]{ParentKind: "order"}, parseOrderID, nil)
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.make(); !errors.Is(err, record.ErrInvalidSpec) {
				t.Errorf("expected ErrInvalidSpec, got %v", err)
			}
		})
	}
}

func TestSpec_Kind(t *testing.T) {
	spec := orderSpec(t)
	if spec.Kind() != "order" {
		t.Errorf("expected kind 'order', got %q", spec.Kind())
	}
}

func TestKeyDeterminism(t *testing.T) {
	spec := orderSpec(t)
	ids := []orderID{"o-1", "o-2", "weird#id/with%chars", ""}

	for _, id := range ids {
		first := spec.Key("", id)
		second := spec.Key("", id)
		if pkOf(t, first) != pkOf(t, second) || skOf(t, first) != skOf(t, second) {
			t.Errorf("key derivation for %q not deterministic", id)
		}
	}
}

func TestFlatLayoutKey(t *testing.T) {
	spec := orderSpec(t)

	key := spec.Key("", orderID("o-1"))
	if got := pkOf(t, key); got != "order#o-1" {
		t.Errorf("expected pk 'order#o-1', got %q", got)
	}
	if got := skOf(t, key); got != "order" {
		t.Errorf("expected sk 'order', got %q", got)
	}

	namespaced := spec.Key("acme", orderID("o-1"))
	if got := pkOf(t, namespaced); got != "acme/order#o-1" {
		t.Errorf("expected pk 'acme/order#o-1', got %q", got)
	}
}

type lineItemID struct {
	Order string
	Line  string
}

func (id lineItemID) String() string { return id.Order + ":" + id.Line }

func TestChildLayoutKey(t *testing.T) {
	layout := record.ChildLayout[lineItemID]{
		ParentKind: "order",
		ParentID:   func(id lineItemID) string { return id.Order },
	}
	spec, err := record.NewSpec[lineItemID, order]("line_item", layout,
		func(s string) (lineItemID, error) { return lineItemID{}, nil }, nil)
	if err != nil {
		t.Fatalf("NewSpec: %v", err)
	}

	key := spec.Key("", lineItemID{Order: "o-1", Line: "l-2"})
	if got := pkOf(t, key); got != "order#o-1" {
		t.Errorf("expected child to share parent partition 'order#o-1', got %q", got)
	}
	if got := skOf(t, key); got != "line_item#o-1:l-2" {
		t.Errorf("expected sk 'line_item#o-1:l-2', got %q", got)
	}

	sibling := spec.Key("", lineItemID{Order: "o-1", Line: "l-3"})
	if pkOf(t, key) != pkOf(t, sibling) {
		t.Error("expected siblings to share one partition")
	}
}

func pkOf(t *testing.T, key record.PK) string {
	t.Helper()
	v, ok := key["pk"].(*types.AttributeValueMemberS)
	if !ok {
		t.Fatalf("missing pk in %#v", key)
	}
	return v.Value
}

func skOf(t *testing.T, key record.PK) string {
	t.Helper()
	v, ok := key["sk"].(*types.AttributeValueMemberS)
	if !ok {
		t.Fatalf("missing sk in %#v", key)
	}
	return v.Value
}
