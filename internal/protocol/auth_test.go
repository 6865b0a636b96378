package protocol

import (
	"errors"
	"testing"
)

func TestParseGreeting(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Greeting
		wantErr bool
	}{
		{
			name: "no auth",
			raw:  "VLINK 0\r",
			want: Greeting{},
		},
		{
			name: "auth with challenge",
			raw:  "VLINK 1 12345678\r",
			want: Greeting{AuthRequired: true, Challenge: "12345678"},
		},
		{
			name: "without terminator",
			raw:  "VLINK 1 abcdef01",
			want: Greeting{AuthRequired: true, Challenge: "abcdef01"},
		},
		{name: "wrong keyword", raw: "PRLNK 0", wantErr: true},
		{name: "missing mode", raw: "VLINK", wantErr: true},
		{name: "unknown mode", raw: "VLINK 2", wantErr: true},
		{name: "auth without challenge", raw: "VLINK 1", wantErr: true},
		{name: "trailing data on mode 0", raw: "VLINK 0 extra", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseGreeting([]byte(tt.raw))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedGreeting) {
					t.Errorf("ParseGreeting(%q) error = %v, want ErrMalformedGreeting", tt.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseGreeting(%q) error = %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("ParseGreeting(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestMD5Digester(t *testing.T) {
	// md5("12345678" + "admin123") — worked example from the commissioning
	// checklist for the reference device.
	got := MD5Digester.Digest("12345678", "admin123")
	const want = "25d54f9d498243c2d9908624a6a9bb1a"
	if got != want {
		t.Errorf("Digest() = %q, want %q", got, want)
	}
	if len(got) != 32 {
		t.Errorf("digest length = %d, want 32 hex characters", len(got))
	}
}

func TestAuthPrefix(t *testing.T) {
	g := Greeting{AuthRequired: true, Challenge: "deadbeef"}

	t.Run("default digester", func(t *testing.T) {
		prefix := AuthPrefix(nil, g, "secret")
		if string(prefix) != MD5Digester.Digest("deadbeef", "secret") {
			t.Error("nil digester should fall back to MD5")
		}
	})

	t.Run("replaceable digester", func(t *testing.T) {
		custom := DigesterFunc(func(challenge, secret string) string {
			return challenge + ":" + secret
		})
		prefix := AuthPrefix(custom, g, "s3cr3t")
		if string(prefix) != "deadbeef:s3cr3t" {
			t.Errorf("prefix = %q", prefix)
		}
	})

	t.Run("no auth required", func(t *testing.T) {
		if prefix := AuthPrefix(nil, Greeting{}, "secret"); prefix != nil {
			t.Errorf("prefix = %q, want nil", prefix)
		}
	})
}
