package limiter

import (
	"context"
	"net/http/httptest"
	"testing"
)

func TestKeyForPrefersUserIdentity(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/v1/patients", nil)
	r.RemoteAddr = "203.0.113.7:51234"

	if got, want := KeyFor("u-42", r), ClientKey("user:u-42"); got != want {
		t.Errorf("KeyFor with identity: got %q, want %q", got, want)
	}
	if got, want := KeyFor("", r), ClientKey("ip:203.0.113.7"); got != want {
		t.Errorf("KeyFor without identity: got %q, want %q", got, want)
	}
}

func TestClientIPHeaderPrecedence(t *testing.T) {
	cases := []struct {
		name       string
		remoteAddr string
		xff        string
		realIP     string
		want       string
	}{
		{name: "forwarded-for first hop", remoteAddr: "10.0.0.1:1234", xff: "198.51.100.9, 10.0.0.2", want: "198.51.100.9"},
		{name: "forwarded-for single", remoteAddr: "10.0.0.1:1234", xff: " 198.51.100.9 ", want: "198.51.100.9"},
		{name: "real-ip fallback", remoteAddr: "10.0.0.1:1234", realIP: "198.51.100.10", want: "198.51.100.10"},
		{name: "remote addr with port", remoteAddr: "203.0.113.5:44321", want: "203.0.113.5"},
		{name: "remote addr without port", remoteAddr: "203.0.113.5", want: "203.0.113.5"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tc.remoteAddr
			if tc.xff != "" {
				r.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.realIP != "" {
				r.Header.Set("X-Real-IP", tc.realIP)
			}
			if got := clientIP(r); got != tc.want {
				t.Errorf("clientIP: got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestMemoryRecorderTotals(t *testing.T) {
	rec := NewMemoryRecorder()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := rec.Record(ctx, Event{Key: UserKey("u1"), Allowed: true}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := rec.Record(ctx, Event{Key: UserKey("u1"), Allowed: false}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got := rec.Totals()
	if got.Allowed != 3 || got.Denied != 1 {
		t.Errorf("Totals: got %+v, want {Allowed:3 Denied:1}", got)
	}
}
