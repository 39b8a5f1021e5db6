package password

import (
	"errors"
	"testing"
)

func TestStrictPolicyRejectsEachMissingClass(t *testing.T) {
	policy := StrictPolicy()

	cases := map[string]string{
		"too short":  "Aa1!aaa",
		"no upper":   "aa1!aaaa",
		"no lower":   "AA1!AAAA",
		"no digit":   "Aaa!aaaa",
		"no symbol":  "Aa1aaaaa",
		"bad symbol": "Aa1_aaaa",
		"empty":      "",
	}
	for name, pw := range cases {
		if err := policy.Validate(pw); !errors.Is(err, ErrWeakPassword) {
			t.Fatalf("%s: expected ErrWeakPassword for %q, got %v", name, pw, err)
		}
	}
}

func TestStrictPolicyAcceptsCompliant(t *testing.T) {
	policy := StrictPolicy()

	for _, pw := range []string{
		"Aa1!aaaa",
		"Zz9<longer-password",
		`Q1w"ertyu`,
		"Pässw0rd{}",
	} {
		if err := policy.Validate(pw); err != nil {
			t.Fatalf("expected %q to pass, got %v", pw, err)
		}
	}
}

func TestRegistrationPolicyIsLighterOnLengthOnly(t *testing.T) {
	light := RegistrationPolicy()

	if err := light.Validate("Aa1!aa"); err != nil {
		t.Fatalf("expected 6 char password to pass the light tier, got %v", err)
	}
	if err := light.Validate("aa1!aa"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected class rules to still apply, got %v", err)
	}
	if err := StrictPolicy().Validate("Aa1!aa"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected strict tier to reject 6 chars, got %v", err)
	}
}

func TestGenerateSatisfiesStrictPolicy(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		pw, err := Generate(10)
		if err != nil {
			t.Fatalf("Generate error: %v", err)
		}
		if len(pw) != 10 {
			t.Fatalf("expected length 10, got %d", len(pw))
		}
		if err := StrictPolicy().Validate(pw); err != nil {
			t.Fatalf("generated password %q failed policy: %v", pw, err)
		}
		seen[pw] = true
	}
	if len(seen) < 2 {
		t.Fatal("expected generated passwords to differ")
	}

	if _, err := Generate(4); err == nil {
		t.Fatal("expected error for short length")
	}
}
