package record

import (
	"errors"
	"fmt"
)

// Kind is the namespaced collection name a record type is stored under.
type Kind string

// Identifier is an opaque record identifier with a canonical string form.
// The canonical form must be stable: key derivation depends on it.
type Identifier interface {
	String() string
}

// Column declares a named, typed value projected from a record's payload,
// used purely for indexed filtering. Value must be deterministic and
// side-effect free; returning nil stores the native null.
type Column[R any] struct {
	Type  ColumnType
	Value func(R) any
}

var (
	errEmptyKind       = errors.New("empty kind")
	errNilLayout       = errors.New("nil layout")
	errNilDecodeID     = errors.New("nil identifier decoder")
	errEmptyParentKind = errors.New("child layout: empty parent kind")
	errNilParentID     = errors.New("child layout: nil parent identifier extractor")
)

// Spec binds a record type's logical schema to a concrete layout and kind.
// One spec instance exists per stored record type; it is immutable after
// construction.
type Spec[I Identifier, R any] struct {
	kind     Kind
	layout   Layout[I]
	decodeID func(string) (I, error)
	columns  map[string]Column[R]
}

// NewSpec constructs an entity spec. Missing parts are rejected here,
// not deferred to first use.
func NewSpec[I Identifier, R any](kind Kind, layout Layout[I], decodeID func(string) (I, error), columns map[string]Column[R]) (*Spec[I, R], error) {
	if kind == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, errEmptyKind)
	}
	if layout == nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, errNilLayout)
	}
	if err := layout.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	if decodeID == nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, errNilDecodeID)
	}
	cols := make(map[string]Column[R], len(columns))
	for name, col := range columns {
		if name == "" || col.Value == nil {
			return nil, fmt.Errorf("%w: column %q missing name or extractor", ErrInvalidSpec, name)
		}
		if reservedAttr(name) {
			return nil, fmt.Errorf("%w: column %q collides with a managed attribute", ErrInvalidSpec, name)
		}
		cols[name] = col
	}
	return &Spec[I, R]{
		kind:     kind,
		layout:   layout,
		decodeID: decodeID,
		columns:  cols,
	}, nil
}

// Kind returns the declared kind. Constant per spec.
func (s *Spec[I, R]) Kind() Kind {
	return s.kind
}

// Key derives the native primary key for an identifier within a namespace.
// Pure given (id, namespace).
func (s *Spec[I, R]) Key(namespace string, id I) PK {
	return s.layout.key(namespace, s.kind, id)
}

func (s *Spec[I, R]) column(name string) (Column[R], bool) {
	col, ok := s.columns[name]
	return col, ok
}

func reservedAttr(name string) bool {
	switch name {
	case attrPK, attrSK, attrKind, attrID, attrVer, attrUpdatedAt, attrPayload:
		return true
	}
	return false
}
