package cursor

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := Cursor{CreatedAt: 1700000000123, ID: "abc", QueryHash: HashQuery("shipment", "client-1")}
	token, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := Decode(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != in {
		t.Fatalf("cursor = %+v, want %+v", out, in)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, token := range []string{"", "!!!", "bm90LWpzb24=", "e30="} {
		if _, err := Decode(token); err == nil {
			t.Fatalf("expected error for %q", token)
		}
	}
}

func TestValidate(t *testing.T) {
	c := Cursor{CreatedAt: 1, ID: "x", QueryHash: HashQuery("quote")}
	if err := Validate(c, HashQuery("quote")); err != nil {
		t.Fatalf("validate same query: %v", err)
	}
	if err := Validate(c, HashQuery("shipment")); err == nil {
		t.Fatal("expected error for changed query")
	}
}

func TestHashQuerySeparatesParts(t *testing.T) {
	if HashQuery("ab", "c") == HashQuery("a", "bc") {
		t.Fatal("expected part boundaries to affect the hash")
	}
}
