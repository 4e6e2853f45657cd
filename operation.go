package orbit

import (
	"encoding/json"
	"fmt"
)

// Wire tags of the supported operations.
const (
	OpAddRecord                = "addRecord"
	OpUpdateRecord             = "updateRecord"
	OpRemoveRecord             = "removeRecord"
	OpReplaceKey               = "replaceKey"
	OpReplaceAttribute         = "replaceAttribute"
	OpAddToRelatedRecords      = "addToRelatedRecords"
	OpRemoveFromRelatedRecords = "removeFromRelatedRecords"
	OpReplaceRelatedRecords    = "replaceRelatedRecords"
	OpReplaceRelatedRecord     = "replaceRelatedRecord"
)

// Operation is one declarative mutation intent. The set of operations is
// closed: the apply step matches every variant and treats anything else as a
// programming error rather than defaulting. The unexported marker keeps
// outside packages from growing the union.
type Operation interface {
	// Op returns the operation's wire tag.
	Op() string
	// Target returns the identity the operation mutates.
	Target() RecordIdentity

	isOperation()
}

// AddRecord adds a full record. Adding over an existing record replaces it.
type AddRecord struct {
	Record  Record         `json:"record"`
	Options map[string]any `json:"options,omitempty"`
}

// UpdateRecord merges the given record's attributes, keys and relationships
// into the existing record.
type UpdateRecord struct {
	Record  Record         `json:"record"`
	Options map[string]any `json:"options,omitempty"`
}

// RemoveRecord removes a record and every inverse relationship edge derived
// from its forward linkages.
type RemoveRecord struct {
	Record  RecordIdentity `json:"record"`
	Options map[string]any `json:"options,omitempty"`
}

// ReplaceKey sets one entry of a record's key map.
type ReplaceKey struct {
	Record  RecordIdentity `json:"record"`
	Key     string         `json:"key"`
	Value   string         `json:"value"`
	Options map[string]any `json:"options,omitempty"`
}

// ReplaceAttribute sets one entry of a record's attribute map.
type ReplaceAttribute struct {
	Record    RecordIdentity `json:"record"`
	Attribute string         `json:"attribute"`
	Value     any            `json:"value"`
	Options   map[string]any `json:"options,omitempty"`
}

// AddToRelatedRecords appends an identity to a to-many relationship. Appending
// an identity already present is a no-op.
type AddToRelatedRecords struct {
	Record        RecordIdentity `json:"record"`
	Relationship  string         `json:"relationship"`
	RelatedRecord RecordIdentity `json:"relatedRecord"`
	Options       map[string]any `json:"options,omitempty"`
}

// RemoveFromRelatedRecords removes an identity from a to-many relationship.
// Removing a non-member is a no-op.
type RemoveFromRelatedRecords struct {
	Record        RecordIdentity `json:"record"`
	Relationship  string         `json:"relationship"`
	RelatedRecord RecordIdentity `json:"relatedRecord"`
	Options       map[string]any `json:"options,omitempty"`
}

// ReplaceRelatedRecords replaces a to-many relationship's full membership.
type ReplaceRelatedRecords struct {
	Record         RecordIdentity   `json:"record"`
	Relationship   string           `json:"relationship"`
	RelatedRecords []RecordIdentity `json:"relatedRecords"`
	Options        map[string]any   `json:"options,omitempty"`
}

// ReplaceRelatedRecord sets a to-one relationship. A nil RelatedRecord clears it.
type ReplaceRelatedRecord struct {
	Record        RecordIdentity  `json:"record"`
	Relationship  string          `json:"relationship"`
	RelatedRecord *RecordIdentity `json:"relatedRecord"`
	Options       map[string]any  `json:"options,omitempty"`
}

func (o AddRecord) Op() string                { return OpAddRecord }
func (o UpdateRecord) Op() string             { return OpUpdateRecord }
func (o RemoveRecord) Op() string             { return OpRemoveRecord }
func (o ReplaceKey) Op() string               { return OpReplaceKey }
func (o ReplaceAttribute) Op() string         { return OpReplaceAttribute }
func (o AddToRelatedRecords) Op() string      { return OpAddToRelatedRecords }
func (o RemoveFromRelatedRecords) Op() string { return OpRemoveFromRelatedRecords }
func (o ReplaceRelatedRecords) Op() string    { return OpReplaceRelatedRecords }
func (o ReplaceRelatedRecord) Op() string     { return OpReplaceRelatedRecord }

func (o AddRecord) Target() RecordIdentity                { return o.Record.RecordIdentity }
func (o UpdateRecord) Target() RecordIdentity             { return o.Record.RecordIdentity }
func (o RemoveRecord) Target() RecordIdentity             { return o.Record }
func (o ReplaceKey) Target() RecordIdentity               { return o.Record }
func (o ReplaceAttribute) Target() RecordIdentity         { return o.Record }
func (o AddToRelatedRecords) Target() RecordIdentity      { return o.Record }
func (o RemoveFromRelatedRecords) Target() RecordIdentity { return o.Record }
func (o ReplaceRelatedRecords) Target() RecordIdentity    { return o.Record }
func (o ReplaceRelatedRecord) Target() RecordIdentity     { return o.Record }

func (AddRecord) isOperation()                {}
func (UpdateRecord) isOperation()             {}
func (RemoveRecord) isOperation()             {}
func (ReplaceKey) isOperation()               {}
func (ReplaceAttribute) isOperation()         {}
func (AddToRelatedRecords) isOperation()      {}
func (RemoveFromRelatedRecords) isOperation() {}
func (ReplaceRelatedRecords) isOperation()    {}
func (ReplaceRelatedRecord) isOperation()     {}

// MarshalOperation renders an operation in the wire shape {op: "...", ...}.
func MarshalOperation(op Operation) ([]byte, error) {
	body, err := json.Marshal(op)
	if err != nil {
		return nil, err
	}
	// Splice the op tag into the front of the object body.
	tag, err := json.Marshal(op.Op())
	if err != nil {
		return nil, err
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("operation %s did not marshal to an object", op.Op())
	}
	out := make([]byte, 0, len(body)+len(tag)+6)
	out = append(out, '{')
	out = append(out, `"op":`...)
	out = append(out, tag...)
	if len(body) > 2 {
		out = append(out, ',')
		out = append(out, body[1:]...)
	} else {
		out = append(out, '}')
	}
	return out, nil
}

// UnmarshalOperation decodes a wire operation by its "op" tag into the
// matching concrete type. Unknown tags are errors, never a defaulted variant.
func UnmarshalOperation(data []byte) (Operation, error) {
	var head struct {
		Op string `json:"op"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	switch head.Op {
	case OpAddRecord:
		return decodeOperation[AddRecord](data)
	case OpUpdateRecord:
		return decodeOperation[UpdateRecord](data)
	case OpRemoveRecord:
		return decodeOperation[RemoveRecord](data)
	case OpReplaceKey:
		return decodeOperation[ReplaceKey](data)
	case OpReplaceAttribute:
		return decodeOperation[ReplaceAttribute](data)
	case OpAddToRelatedRecords:
		return decodeOperation[AddToRelatedRecords](data)
	case OpRemoveFromRelatedRecords:
		return decodeOperation[RemoveFromRelatedRecords](data)
	case OpReplaceRelatedRecords:
		return decodeOperation[ReplaceRelatedRecords](data)
	case OpReplaceRelatedRecord:
		return decodeOperation[ReplaceRelatedRecord](data)
	default:
		return nil, fmt.Errorf("unknown operation %q", head.Op)
	}
}

func decodeOperation[T Operation](data []byte) (Operation, error) {
	var o T
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, err
	}
	return o, nil
}
