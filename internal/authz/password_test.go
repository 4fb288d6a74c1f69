package authz_test

import (
	"testing"

	"accessgate.org/internal/authz"
)

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := authz.HashPassword("correct horse 1")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "correct horse 1" {
		t.Fatal("hash equals the plaintext")
	}
	if err := authz.VerifyPassword(hash, "correct horse 1"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := authz.VerifyPassword(hash, "wrong horse 1"); err == nil {
		t.Fatal("wrong password accepted")
	}
}

func TestCheckPasswordStrength(t *testing.T) {
	cases := []struct {
		password string
		ok       bool
	}{
		{"abc12345", true},
		{"longenoughbutnodigits", false},
		{"1234567890", false},
		{"ab1", false},
		{"", false},
		{"pass word 99", true},
	}
	for _, tc := range cases {
		err := authz.CheckPasswordStrength(tc.password)
		if tc.ok && err != nil {
			t.Errorf("%q rejected: %v", tc.password, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%q accepted", tc.password)
		}
	}
}
