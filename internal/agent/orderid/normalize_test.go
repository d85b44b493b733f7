package orderid

import "testing"

func TestNormalizer_Normalize(t *testing.T) {
	n := NewNormalizer("ORD-")

	tests := []struct {
		token string
		want  string
		ok    bool
	}{
		{"ORD-12345", "ORD-12345", true},
		{"ord-12345", "ORD-12345", true},
		{"12345", "ORD-12345", true},
		{"#12345", "ORD-12345", true},
		{"#12345?", "ORD-12345", true},
		{"(ORD-001).", "ORD-001", true},
		{"\"ord-002\"", "ORD-002", true},
		{"ORD-", "", false},
		{"ORD-12a45", "", false},
		{"hello", "", false},
		{"12a45", "", false},
		{"", "", false},
		{"###", "", false},
	}

	for _, tt := range tests {
		got, ok := n.Normalize(tt.token)
		if ok != tt.ok || got != tt.want {
			t.Errorf("Normalize(%q) = (%q, %v), want (%q, %v)", tt.token, got, ok, tt.want, tt.ok)
		}
	}
}

func TestNormalizer_Extract(t *testing.T) {
	n := NewNormalizer("ORD-")

	tests := []struct {
		message string
		want    string
		ok      bool
	}{
		{"where is my order ORD-12345?", "ORD-12345", true},
		{"cancel order #123 please", "ORD-123", true},
		{"my order number is 98765", "ORD-98765", true},
		{"I want a refund", "", false},
		{"orders ORD-001 and ORD-002", "ORD-001", true}, // first match wins
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := n.Extract(tt.message)
		if ok != tt.ok || got != tt.want {
			t.Errorf("Extract(%q) = (%q, %v), want (%q, %v)", tt.message, got, ok, tt.want, tt.ok)
		}
	}
}

func TestNormalizer_PrefixCase(t *testing.T) {
	n := NewNormalizer("ord-")
	if n.Prefix() != "ORD-" {
		t.Fatalf("Prefix() = %q, want ORD-", n.Prefix())
	}
	got, ok := n.Normalize("77")
	if !ok || got != "ORD-77" {
		t.Fatalf("Normalize(77) = (%q, %v), want (ORD-77, true)", got, ok)
	}
}
