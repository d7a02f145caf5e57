package auth

import (
	"context"
	"testing"
	"time"
)

// ─── Password hashing (Argon2id, intentionally slow) ────────────────

func BenchmarkHash(b *testing.B) {
	h := DefaultHasher()
	for i := 0; i < b.N; i++ {
		h.Hash("correct-horse-battery-staple") //nolint:errcheck // benchmark
	}
}

func BenchmarkVerify(b *testing.B) {
	h := DefaultHasher()
	hash, err := h.Hash("correct-horse-battery-staple")
	if err != nil {
		b.Fatalf("Hash: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h.Verify("correct-horse-battery-staple", hash) //nolint:errcheck // benchmark
	}
}

// ─── Bearer envelope (per-request hot path) ─────────────────────────

func BenchmarkSignBearer(b *testing.B) {
	s := &Session{UUID: "u-bench", Token: "tok", ExpiresAt: time.Now().Add(time.Hour)}
	secret := "benchmark-secret-key-32-bytes-xx"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		SignBearer(s, secret) //nolint:errcheck // benchmark
	}
}

func BenchmarkParseBearer(b *testing.B) {
	s := &Session{UUID: "u-bench", Token: "tok", ExpiresAt: time.Now().Add(time.Hour)}
	secret := "benchmark-secret-key-32-bytes-xx"
	signed, err := SignBearer(s, secret)
	if err != nil {
		b.Fatalf("SignBearer: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ParseBearer(signed, secret) //nolint:errcheck // benchmark
	}
}

// ─── Session tokens ─────────────────────────────────────────────────

func BenchmarkHashToken(b *testing.B) {
	for i := 0; i < b.N; i++ {
		HashToken("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	}
}

func BenchmarkResolve(b *testing.B) {
	r := NewResolver(fixedMode{}, CoreUUID("bench"))
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.Resolve(ctx, "", nil) //nolint:errcheck // benchmark
	}
}
