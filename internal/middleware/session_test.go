package middleware

import (
	"strings"
	"testing"
	"time"
)

func TestSessionSignParseRoundTrip(t *testing.T) {
	s := NewSession("test-secret", time.Hour, false)

	signed, err := s.sign("session-id-1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sid, err := s.parse(signed)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if sid != "session-id-1" {
		t.Errorf("parsed id = %q, want session-id-1", sid)
	}
}

func TestSessionParse_RejectsTamperedToken(t *testing.T) {
	s := NewSession("test-secret", time.Hour, false)

	signed, err := s.sign("session-id-1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	tampered := signed[:len(signed)-2] + "xx"
	if sid, _ := s.parse(tampered); sid != "" {
		t.Errorf("tampered token yielded session %q", sid)
	}
}

func TestSessionParse_RejectsForeignSecret(t *testing.T) {
	issuer := NewSession("secret-a", time.Hour, false)
	verifier := NewSession("secret-b", time.Hour, false)

	signed, err := issuer.sign("session-id-1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if sid, _ := verifier.parse(signed); sid != "" {
		t.Errorf("foreign-secret token yielded session %q", sid)
	}
}

func TestSessionParse_RejectsExpiredToken(t *testing.T) {
	s := NewSession("test-secret", -time.Minute, false)

	signed, err := s.sign("session-id-1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if sid, _ := s.parse(signed); sid != "" {
		t.Errorf("expired token yielded session %q", sid)
	}
}

func TestSessionParse_EmptyToken(t *testing.T) {
	s := NewSession("test-secret", time.Hour, false)
	sid, err := s.parse("")
	if err != nil || sid != "" {
		t.Errorf("empty cookie should parse to empty session, got %q, %v", sid, err)
	}
}

func TestSignedTokenLooksLikeJWT(t *testing.T) {
	s := NewSession("test-secret", time.Hour, false)
	signed, _ := s.sign("x")
	if strings.Count(signed, ".") != 2 {
		t.Errorf("token %q is not a three-part JWT", signed)
	}
}
