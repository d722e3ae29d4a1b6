package secret

import "testing"

func TestSourceReadsEnvironment(t *testing.T) {
	t.Setenv("LENDING_TEST_SECRET", "s3cret")
	src := NewSource("LENDING_TEST_SECRET", "hmac secret")
	got, err := src.Get()
	if err != nil || got != "s3cret" {
		t.Fatalf("unexpected secret %q (%v)", got, err)
	}
	t.Setenv("LENDING_TEST_SECRET", "changed")
	if again, _ := src.Get(); again != "s3cret" {
		t.Fatalf("secret should be cached, got %q", again)
	}
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("LENDING_TEST_SECRET", "  ")
	if _, err := NewSource("LENDING_TEST_SECRET", "hmac secret").Get(); err == nil {
		t.Fatalf("expected blank secret to fail")
	}
}
