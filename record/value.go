package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ColumnType identifies the declared type of a column. Every column value
// maps onto exactly one native tag.
type ColumnType int

const (
	TypeString ColumnType = iota
	TypeInteger
	TypeDouble
	TypeBool
	TypeBytes
	TypeTimestamp
	TypeEnum
	TypeMessage
)

func (t ColumnType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInteger:
		return "integer"
	case TypeDouble:
		return "double"
	case TypeBool:
		return "bool"
	case TypeBytes:
		return "bytes"
	case TypeTimestamp:
		return "timestamp"
	case TypeEnum:
		return "enum"
	case TypeMessage:
		return "message"
	default:
		return fmt.Sprintf("column_type(%d)", int(t))
	}
}

// ConversionRule converts a record-derived value to its native tagged
// representation. Rules are total for their supported source types and
// fail with ErrUnsupportedType otherwise.
type ConversionRule func(v any) (types.AttributeValue, error)

// ruleTable maps declared column types to conversion rules. The table is
// built once at package init; lookups of unregistered types fail at
// conversion time, so new rules can be added without touching call sites.
type ruleTable struct {
	byType map[ColumnType]ConversionRule
}

func (rt *ruleTable) register(t ColumnType, rule ConversionRule) {
	rt.byType[t] = rule
}

func (rt *ruleTable) of(t ColumnType) (ConversionRule, error) {
	rule, ok := rt.byType[t]
	if !ok {
		return nil, fmt.Errorf("%w: no conversion rule for %s", ErrUnsupportedType, t)
	}
	return rule, nil
}

var conversions = defaultRules()

func defaultRules() *ruleTable {
	rt := &ruleTable{byType: make(map[ColumnType]ConversionRule)}
	rt.register(TypeString, stringRule)
	rt.register(TypeInteger, integerRule)
	rt.register(TypeDouble, doubleRule)
	rt.register(TypeBool, boolRule)
	rt.register(TypeBytes, bytesRule)
	rt.register(TypeTimestamp, timestampRule)
	rt.register(TypeEnum, enumRule)
	rt.register(TypeMessage, messageRule)
	return rt
}

// RuleOf returns the conversion rule for a declared column type.
func RuleOf(t ColumnType) (ConversionRule, error) {
	return conversions.of(t)
}

// NullValue returns the native null. Null is its own rule rather than a
// special case inside each rule: it must map to a distinguishable tag.
func NullValue() types.AttributeValue {
	return &types.AttributeValueMemberNULL{Value: true}
}

// Convert maps a column value onto the native tagged representation,
// routing nil through the null rule.
func Convert(t ColumnType, v any) (types.AttributeValue, error) {
	if v == nil {
		return NullValue(), nil
	}
	rule, err := RuleOf(t)
	if err != nil {
		return nil, err
	}
	return rule(v)
}

func stringRule(v any) (types.AttributeValue, error) {
	s, ok := v.(string)
	if !ok {
		return nil, unsupported(TypeString, v)
	}
	return &types.AttributeValueMemberS{Value: s}, nil
}

func integerRule(v any) (types.AttributeValue, error) {
	switch n := v.(type) {
	case int:
		return numberValue(int64(n)), nil
	case int8:
		return numberValue(int64(n)), nil
	case int16:
		return numberValue(int64(n)), nil
	case int32:
		return numberValue(int64(n)), nil
	case int64:
		return numberValue(n), nil
	case uint8:
		return numberValue(int64(n)), nil
	case uint16:
		return numberValue(int64(n)), nil
	case uint32:
		return numberValue(int64(n)), nil
	default:
		return nil, unsupported(TypeInteger, v)
	}
}

func doubleRule(v any) (types.AttributeValue, error) {
	var f float64
	switch n := v.(type) {
	case float32:
		f = float64(n)
	case float64:
		f = n
	default:
		return nil, unsupported(TypeDouble, v)
	}
	return &types.AttributeValueMemberN{Value: strconv.FormatFloat(f, 'g', -1, 64)}, nil
}

func boolRule(v any) (types.AttributeValue, error) {
	b, ok := v.(bool)
	if !ok {
		return nil, unsupported(TypeBool, v)
	}
	return &types.AttributeValueMemberBOOL{Value: b}, nil
}

func bytesRule(v any) (types.AttributeValue, error) {
	b, ok := v.([]byte)
	if !ok {
		return nil, unsupported(TypeBytes, v)
	}
	return &types.AttributeValueMemberB{Value: b}, nil
}

// timestampRule stores epoch milliseconds so that range filters compare
// chronologically.
func timestampRule(v any) (types.AttributeValue, error) {
	ts, ok := v.(time.Time)
	if !ok {
		return nil, unsupported(TypeTimestamp, v)
	}
	return numberValue(ts.UnixMilli()), nil
}

// enumRule converts a named integer type to its ordinal.
func enumRule(v any) (types.AttributeValue, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return numberValue(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return numberValue(int64(rv.Uint())), nil
	default:
		return nil, unsupported(TypeEnum, v)
	}
}

// messageRule converts a nested message to its canonical JSON string form.
// The encoding is stable and round-trippable via DecodeMessage; it trades
// native queryability for simplicity.
func messageRule(v any) (types.AttributeValue, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: message %T: %v", ErrUnsupportedType, v, err)
	}
	return &types.AttributeValueMemberS{Value: string(raw)}, nil
}

// DecodeMessage is the paired deserializer for message columns.
func DecodeMessage(s string, out any) error {
	if err := json.Unmarshal([]byte(s), out); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return nil
}

func numberValue(n int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func unsupported(t ColumnType, v any) error {
	return fmt.Errorf("%w: %T for %s column", ErrUnsupportedType, v, t)
}

// compareValues orders two native values of the same tag. The second return
// is false when the values are not comparable (different tags, or a tag
// without a defined order).
func compareValues(a, b types.AttributeValue) (int, bool) {
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
		default:
			return 0, true
		}
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		if !ok {
			return 0, false
		}
		return boolOrd(av.Value) - boolOrd(bv.Value), true
	case *types.AttributeValueMemberB:
		bv, ok := b.(*types.AttributeValueMemberB)
		if !ok {
			return 0, false
		}
		return bytes.Compare(av.Value, bv.Value), true
	case *types.AttributeValueMemberNULL:
		if _, ok := b.(*types.AttributeValueMemberNULL); ok {
			return 0, true
		}
		return 0, false
	default:
		return 0, false
	}
}

func boolOrd(b bool) int {
	if b {
		return 1
	}
	return 0
}
