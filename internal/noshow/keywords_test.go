package noshow

import "testing"

func TestReplyDetectorYes(t *testing.T) {
	d := newReplyDetector()
	for _, v := range []string{"sim", "Sim", "SIM", "s", "confirmo", "ok", "presente", "  sim  "} {
		if !d.isYes(v) {
			t.Errorf("expected %q to match yes", v)
		}
	}
	if d.isYes("sim claro") {
		t.Error("expected trailing words to not match yes")
	}
}

func TestReplyDetectorNo(t *testing.T) {
	d := newReplyDetector()
	for _, v := range []string{"não", "nao", "n", "cancelar", "remarcar", " NÃO "} {
		if !d.isNo(v) {
			t.Errorf("expected %q to match no", v)
		}
	}
}

func TestReplyDetectorDigit(t *testing.T) {
	d := newReplyDetector()
	n, ok := d.digit(" 2 ")
	if !ok || n != 2 {
		t.Fatalf("expected digit 2, got %d %v", n, ok)
	}
	n, ok = d.digit("12")
	if !ok || n != 12 {
		t.Fatalf("expected digit 12, got %d %v", n, ok)
	}
	if _, ok := d.digit("sim"); ok {
		t.Fatal("expected non-digit text to not parse")
	}
}

func TestReplyDetectorMutualExclusion(t *testing.T) {
	d := newReplyDetector()
	if d.isYes("não") || d.isNo("sim") {
		t.Fatal("yes/no regexes must not cross-match")
	}
}
