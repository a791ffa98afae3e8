package sanitize

import "testing"

func TestFilenameRejectsTraversal(t *testing.T) {
	cases := []string{"../etc/passwd", "a/b.bin", "a\\b.bin", "..", ""}
	for _, c := range cases {
		if err := Filename(c); err == nil {
			t.Errorf("Filename(%q) = nil, want error", c)
		}
	}
}

func TestFilenameAcceptsPlainNames(t *testing.T) {
	for _, c := range []string{"doc.bin", "archive.tar.gz", "a"} {
		if err := Filename(c); err != nil {
			t.Errorf("Filename(%q) = %v, want nil", c, err)
		}
	}
}

func TestUsernameRejectsControlChars(t *testing.T) {
	if err := Username("bad\x00name"); err == nil {
		t.Fatal("expected error for control character")
	}
}
