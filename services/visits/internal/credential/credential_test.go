package credential

import (
	"encoding/base64"
	"errors"
	"regexp"
	"strings"
	"testing"
)

type stubEncoder struct {
	last string
	err  error
}

func (s *stubEncoder) Encode(content string) ([]byte, error) {
	s.last = content
	return []byte("png:" + content), s.err
}

var codeFormat = regexp.MustCompile(`^[A-HJ-NP-Z2-9]{4}-[A-HJ-NP-Z2-9]{4}$`)

func TestNewBackupCodeFormat(t *testing.T) {
	iss := NewIssuer(&stubEncoder{})
	seen := make(map[string]bool)
	for n := 0; n < 200; n++ {
		code, err := iss.NewBackupCode()
		if err != nil {
			t.Fatalf("NewBackupCode: %v", err)
		}
		if !codeFormat.MatchString(code) {
			t.Fatalf("code %q does not match XXXX-XXXX", code)
		}
		seen[code] = true
	}
	if len(seen) < 190 {
		t.Fatalf("expected mostly unique codes, got %d distinct of 200", len(seen))
	}
}

func TestMintEmbedsIdentifiers(t *testing.T) {
	enc := &stubEncoder{}
	iss := NewIssuer(enc)

	cred, err := iss.Mint("b-1", "v-1", "t-1")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	p, err := ParsePayload(enc.last)
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if p.BookingID != "b-1" || p.VisitorID != "v-1" || p.TokenID != "t-1" || p.BackupCode != cred.BackupCode {
		t.Fatalf("unexpected payload %+v for credential code %q", p, cred.BackupCode)
	}
	if !strings.HasPrefix(cred.Image, "data:image/png;base64,") {
		t.Fatalf("image is not a png data url: %q", cred.Image)
	}
	img, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(cred.Image, "data:image/png;base64,"))
	if err != nil || !strings.HasPrefix(string(img), "png:") {
		t.Fatalf("image did not round trip: %v", err)
	}
}

func TestRegenerateKeepsOriginalCode(t *testing.T) {
	iss := NewIssuer(&stubEncoder{})
	first, err := iss.Mint("b-1", "v-1", "t-1")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	for n := 0; n < 5; n++ {
		again, err := iss.Regenerate("b-1", "v-1", "t-1", first.BackupCode)
		if err != nil {
			t.Fatalf("Regenerate: %v", err)
		}
		if again.BackupCode != first.BackupCode || again.Payload.BackupCode != first.BackupCode {
			t.Fatalf("backup code changed from %q to %q", first.BackupCode, again.BackupCode)
		}
	}
}

func TestRegenerateWithoutCodeUsesVisitorID(t *testing.T) {
	iss := NewIssuer(&stubEncoder{})
	cred, err := iss.Regenerate("b-1", "v-1", "", "  ")
	if err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	if cred.BackupCode != "v-1" {
		t.Fatalf("BackupCode=%q, want visitor id", cred.BackupCode)
	}
}

func TestEncoderFailure(t *testing.T) {
	iss := NewIssuer(&stubEncoder{err: errors.New("boom")})
	if _, err := iss.Mint("b", "v", ""); err == nil {
		t.Fatal("expected encoder error")
	}
}

func TestParsePayloadRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "not json", `{"bookingId":"b"}`} {
		if _, err := ParsePayload(raw); !errors.Is(err, ErrInvalidPayload) {
			t.Fatalf("ParsePayload(%q) err=%v, want ErrInvalidPayload", raw, err)
		}
	}
}

func TestCanonicalCode(t *testing.T) {
	cases := map[string]string{
		"abcd-efgh":  "ABCD-EFGH",
		" ABCDEFGH ": "ABCD-EFGH",
		"abcd efgh":  "ABCD-EFGH",
		"6f1c2b8e-1111-2222-3333-444455556666": "6f1c2b8e-1111-2222-3333-444455556666",
	}
	for in, want := range cases {
		if got := CanonicalCode(in); got != want {
			t.Fatalf("CanonicalCode(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestQREncoderProducesPNG(t *testing.T) {
	png, err := QREncoder{}.Encode(`{"v":1,"visitorId":"v-1"}`)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(png) < 8 || string(png[1:4]) != "PNG" {
		t.Fatalf("output is not a PNG")
	}
}
