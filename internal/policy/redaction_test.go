package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "제 메일은 kim@example.com 이고 전화는 +82 10-1234-5678, 카드는 4242 4242 4242 4242 입니다."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
}

func TestRedactPIINoMatch(t *testing.T) {
	out, changed := RedactPII("오늘 날씨 어때?")
	if changed {
		t.Fatalf("changed = true for clean input")
	}
	if out != "오늘 날씨 어때?" {
		t.Fatalf("out = %q, want input unchanged", out)
	}
}
