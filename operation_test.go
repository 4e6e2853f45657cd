package orbit

import (
	"strings"
	"testing"
)

func Test_Operation_Marshal_TagsWithOp(t *testing.T) {
	m1 := RecordIdentity{Type: "moon", ID: "m1"}
	op := AddToRelatedRecords{
		Record:        RecordIdentity{Type: "planet", ID: "p1"},
		Relationship:  "moons",
		RelatedRecord: m1,
	}
	ba, err := MarshalOperation(op)
	if err != nil {
		t.Fatalf("MarshalOperation err: %v", err)
	}
	if !strings.HasPrefix(string(ba), `{"op":"addToRelatedRecords",`) {
		t.Fatalf("wire shape got = %s, want op tag first", ba)
	}
}

func Test_Operation_Unmarshal_RestoresConcreteTypes(t *testing.T) {
	sun := RecordIdentity{Type: "star", ID: "sun"}
	ops := []Operation{
		AddRecord{Record: Record{
			RecordIdentity: RecordIdentity{Type: "planet", ID: "p1"},
			Attributes:     map[string]any{"name": "Jupiter"},
		}},
		RemoveRecord{Record: RecordIdentity{Type: "planet", ID: "p2"}},
		ReplaceKey{Record: RecordIdentity{Type: "planet", ID: "p1"}, Key: "remoteId", Value: "a1"},
		ReplaceAttribute{Record: RecordIdentity{Type: "planet", ID: "p1"}, Attribute: "name", Value: "Saturn"},
		ReplaceRelatedRecord{Record: RecordIdentity{Type: "planet", ID: "p1"}, Relationship: "star", RelatedRecord: &sun},
		ReplaceRelatedRecords{Record: RecordIdentity{Type: "planet", ID: "p1"}, Relationship: "moons"},
	}

	for _, op := range ops {
		ba, err := MarshalOperation(op)
		if err != nil {
			t.Fatalf("%s marshal err: %v", op.Op(), err)
		}
		back, err := UnmarshalOperation(ba)
		if err != nil {
			t.Fatalf("%s unmarshal err: %v", op.Op(), err)
		}
		if back.Op() != op.Op() {
			t.Fatalf("op tag got = %q, want = %q", back.Op(), op.Op())
		}
		if back.Target() != op.Target() {
			t.Fatalf("%s target got = %v, want = %v", op.Op(), back.Target(), op.Target())
		}
	}

	// Decoded operations are the concrete variants, not a generic shape.
	ba, _ := MarshalOperation(ops[4])
	back, err := UnmarshalOperation(ba)
	if err != nil {
		t.Fatalf("unmarshal err: %v", err)
	}
	rrr, ok := back.(ReplaceRelatedRecord)
	if !ok {
		t.Fatalf("decoded type got = %T, want ReplaceRelatedRecord", back)
	}
	if rrr.RelatedRecord == nil || *rrr.RelatedRecord != sun {
		t.Fatalf("RelatedRecord got = %v, want sun", rrr.RelatedRecord)
	}
}

func Test_Operation_Unmarshal_RejectsUnknownTag(t *testing.T) {
	if _, err := UnmarshalOperation([]byte(`{"op":"mergeRecords"}`)); err == nil {
		t.Fatalf("unknown op tag accepted")
	}
	if _, err := UnmarshalOperation([]byte(`{}`)); err == nil {
		t.Fatalf("missing op tag accepted")
	}
}

func Test_Operation_ClearedToOne_RoundTripsAsNull(t *testing.T) {
	op := ReplaceRelatedRecord{
		Record:       RecordIdentity{Type: "planet", ID: "p1"},
		Relationship: "star",
	}
	ba, err := MarshalOperation(op)
	if err != nil {
		t.Fatalf("marshal err: %v", err)
	}
	back, err := UnmarshalOperation(ba)
	if err != nil {
		t.Fatalf("unmarshal err: %v", err)
	}
	if back.(ReplaceRelatedRecord).RelatedRecord != nil {
		t.Fatalf("cleared linkage decoded to %v, want nil", back.(ReplaceRelatedRecord).RelatedRecord)
	}
}
