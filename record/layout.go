package record

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/lattice/internal/keypath"
)

// PK represents a native primary key.
type PK map[string]types.AttributeValue

// Managed attribute names. Column names must not collide with these.
const (
	attrPK        = "pk"
	attrSK        = "sk"
	attrKind      = "kind"
	attrID        = "id"
	attrVer       = "ver"
	attrUpdatedAt = "updated_at"
	attrPayload   = "payload"
)

// Layout decides how records of a kind are addressed: flat, independent
// entries or child entries nested under a parent's partition. Key
// derivation is deterministic: the same identifier always yields the same
// key. The variant set is closed.
type Layout[I Identifier] interface {
	key(namespace string, kind Kind, id I) PK
	validate() error
}

// FlatLayout stores each record under its own partition, derived solely
// from the declared kind and the identifier's canonical string form.
type FlatLayout[I Identifier] struct{}

func (FlatLayout[I]) key(namespace string, kind Kind, id I) PK {
	return PK{
		attrPK: &types.AttributeValueMemberS{Value: keypath.Partition(namespace, string(kind), id.String())},
		attrSK: &types.AttributeValueMemberS{Value: keypath.Sort(string(kind))},
	}
}

func (FlatLayout[I]) validate() error { return nil }

// ChildLayout nests records under the partition of a parent record, so
// that a parent and its children share one transaction scope and read
// locality. ParentID extracts the parent's canonical identifier from the
// child's identifier; the extraction must be pure.
type ChildLayout[I Identifier] struct {
	ParentKind Kind
	ParentID   func(I) string
}

func (l ChildLayout[I]) key(namespace string, kind Kind, id I) PK {
	return PK{
		attrPK: &types.AttributeValueMemberS{Value: keypath.Partition(namespace, string(l.ParentKind), l.ParentID(id))},
		attrSK: &types.AttributeValueMemberS{Value: keypath.ChildSort(string(kind), id.String())},
	}
}

func (l ChildLayout[I]) validate() error {
	if l.ParentKind == "" {
		return opErr("layout", errEmptyParentKind)
	}
	if l.ParentID == nil {
		return opErr("layout", errNilParentID)
	}
	return nil
}
