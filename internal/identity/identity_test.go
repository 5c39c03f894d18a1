package identity

import "testing"

func TestIdentifierIsStable(t *testing.T) {
	a := Identifier("Chocolate Chip Cookies", "https://example.com/recipes/1")
	b := Identifier("Chocolate Chip Cookies", "https://example.com/recipes/1")
	if a != b {
		t.Fatalf("Identifier is not stable across calls: %v != %v", a, b)
	}
}

func TestIdentifierIgnoresTitleCosmetics(t *testing.T) {
	base := Identifier("Chocolate Chip Cookies", "src-1")
	extraSpace := Identifier("Chocolate   Chip   Cookies", "src-1")
	differentCase := Identifier("CHOCOLATE CHIP COOKIES", "src-1")
	padded := Identifier("  Chocolate Chip Cookies  ", "src-1")

	if base != extraSpace {
		t.Error("expected extra whitespace to not change the identifier")
	}
	if base != differentCase {
		t.Error("expected casing to not change the identifier")
	}
	if base != padded {
		t.Error("expected leading/trailing whitespace to not change the identifier")
	}
}

func TestIdentifierVariesBySourceHint(t *testing.T) {
	a := Identifier("Chocolate Chip Cookies", "src-1")
	b := Identifier("Chocolate Chip Cookies", "src-2")
	if a == b {
		t.Fatal("expected different source hints to produce different identifiers")
	}
}

func TestIdentifierVariesByTitle(t *testing.T) {
	a := Identifier("Chocolate Chip Cookies", "src-1")
	b := Identifier("Oatmeal Raisin Cookies", "src-1")
	if a == b {
		t.Fatal("expected different titles to produce different identifiers")
	}
}

func TestIdentifierIsUUIDv5(t *testing.T) {
	id := Identifier("Chocolate Chip Cookies", "src-1")
	if id.Version() != 5 {
		t.Errorf("expected a version-5 UUID, got version %d", id.Version())
	}
}
