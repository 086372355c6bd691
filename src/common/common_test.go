package common

import "testing"

func TestRejectionClassification(t *testing.T) {
	cases := []struct {
		kind      RejectionType
		permanent bool
		penalize  bool
	}{
		{SchemaInvalid, true, true},
		{HashMismatch, true, true},
		{SignatureInvalid, true, true},
		{NonceStale, true, false},
		{ParentMissing, false, false},
		{DuplicateEvent, false, false},
		{PolicyViolation, true, false},
	}

	for _, c := range cases {
		t.Run(c.kind.String(), func(t *testing.T) {
			err := NewRejectionErr(c.kind, "abc", "")
			if err.Permanent() != c.permanent {
				t.Fatalf("Permanent() should be %v", c.permanent)
			}
			if err.Penalize() != c.penalize {
				t.Fatalf("Penalize() should be %v", c.penalize)
			}
			if !IsRejection(err, c.kind) {
				t.Fatalf("IsRejection should match %s", c.kind)
			}
		})
	}
}

func TestParentMissingErr(t *testing.T) {
	err := NewParentMissingErr("child", []string{"p1", "p2"})

	if !IsRejection(err, ParentMissing) {
		t.Fatal("expected ParentMissing")
	}

	if len(err.Missing()) != 2 {
		t.Fatalf("expected 2 missing parents, got %d", len(err.Missing()))
	}

	if err.Error() != "child, ParentMissing, p1,p2" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}

func TestIsStore(t *testing.T) {
	err := NewStoreErr("Event", KeyNotFound, "abc")

	if !IsStore(err, KeyNotFound) {
		t.Fatal("expected KeyNotFound")
	}

	if IsStore(err, IOError) {
		t.Fatal("should not be IOError")
	}

	if IsStore(NewRejectionErr(SchemaInvalid, "x", ""), KeyNotFound) {
		t.Fatal("a RejectionErr is not a StoreErr")
	}
}

func TestShard(t *testing.T) {
	for _, k := range []string{"a", "b", "02abcdef"} {
		s := Shard(k, 16)
		if s < 0 || s >= 16 {
			t.Fatalf("shard out of range: %d", s)
		}
		if s != Shard(k, 16) {
			t.Fatal("shard should be stable")
		}
	}
}
