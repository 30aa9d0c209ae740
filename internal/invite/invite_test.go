package invite

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/Confio-Network/wallet-engine/internal/apperr"
)

func TestCanonicalPhoneKeyNormalization(t *testing.T) {
	cases := []struct {
		phone, region, want string
	}{
		{"+19293993619", "US", "1:9293993619"},
		{"9293993619", "US", "1:9293993619"},
		{"19293993619", "US", "1:9293993619"},
		{"+19293993619", "+1", "1:9293993619"},
		{"+1 929 399 3619", "US", "1:9293993619"},
		{"(929) 399-3619", "US", "1:9293993619"},
		{"+5491155551234", "AR", "54:91155551234"},
		{"+34600111222", "ES", "34:600111222"},
	}
	for _, tc := range cases {
		got, err := CanonicalPhoneKey(tc.phone, tc.region)
		if err != nil {
			t.Errorf("CanonicalPhoneKey(%q, %q): %v", tc.phone, tc.region, err)
			continue
		}
		if got != tc.want {
			t.Errorf("CanonicalPhoneKey(%q, %q) = %q, want %q", tc.phone, tc.region, got, tc.want)
		}
	}
}

func TestCanonicalPhoneKeyRejects(t *testing.T) {
	cases := []struct{ phone, region string }{
		{"", "US"},
		{"abc", "US"},
		{"+34600111222", "US"}, // calling code mismatch
		{"12", "US"},
		{"9293993619", "ZZ"},
	}
	for _, tc := range cases {
		_, err := CanonicalPhoneKey(tc.phone, tc.region)
		if apperr.CodeOf(err) != apperr.CodeInvalidPhone {
			t.Errorf("CanonicalPhoneKey(%q, %q) err = %v, want code %s", tc.phone, tc.region, err, apperr.CodeInvalidPhone)
		}
	}
}

func TestInvitationID(t *testing.T) {
	key := "1:9293993619"
	sum := sha256.Sum256([]byte(key))
	want := "ph:" + hex.EncodeToString(sum[:])[:56]

	got := InvitationID(key)
	if got != want {
		t.Fatalf("InvitationID = %q, want %q", got, want)
	}
	if len(got) >= 64 {
		t.Fatalf("invitation id %d bytes, must stay under the 64-byte box-name limit", len(got))
	}
	if !strings.HasPrefix(got, "ph:") {
		t.Fatalf("invitation id missing ph: prefix: %q", got)
	}
}

func TestBoxMBRDeterministic(t *testing.T) {
	id := InvitationID("1:9293993619")
	// 2500 + 400 * (59 + 68 + 4) for a 4-byte message.
	if got, want := BoxMBR(len(id), 4), uint64(2500+400*(59+68+4)); got != want {
		t.Fatalf("BoxMBR = %d, want %d", got, want)
	}
	if BoxMBR(len(id), 0) >= BoxMBR(len(id), 1) {
		t.Fatal("BoxMBR must grow with message length")
	}
}

func TestDecodeBoxRoundTrip(t *testing.T) {
	raw := make([]byte, 68+4)
	for i := 0; i < 32; i++ {
		raw[i] = byte(i)
	}
	binary.BigEndian.PutUint64(raw[32:40], 10_000_000)
	binary.BigEndian.PutUint64(raw[40:48], 744150851)
	binary.BigEndian.PutUint64(raw[48:56], 1_700_000_000)
	binary.BigEndian.PutUint64(raw[56:64], 1_700_604_800)
	raw[64] = 0
	raw[65] = 1
	binary.BigEndian.PutUint16(raw[66:68], 4)
	copy(raw[68:], "hola")

	box, err := DecodeBox(raw)
	if err != nil {
		t.Fatalf("DecodeBox: %v", err)
	}
	if box.Amount != 10_000_000 || box.AssetID != 744150851 {
		t.Errorf("amount/asset = %d/%d", box.Amount, box.AssetID)
	}
	if box.IsClaimed || !box.IsReclaimed {
		t.Errorf("flags = claimed %v reclaimed %v", box.IsClaimed, box.IsReclaimed)
	}
	if box.Message != "hola" {
		t.Errorf("message = %q", box.Message)
	}
	if box.CreatedAt.Unix() != 1_700_000_000 || box.ExpiresAt.Unix() != 1_700_604_800 {
		t.Errorf("timestamps = %v / %v", box.CreatedAt, box.ExpiresAt)
	}
}

func TestDecodeBoxRejectsTruncated(t *testing.T) {
	if _, err := DecodeBox(make([]byte, 10)); err == nil {
		t.Fatal("expected error for truncated box")
	}
	raw := make([]byte, 68)
	binary.BigEndian.PutUint16(raw[66:68], 500) // claims more message than present
	if _, err := DecodeBox(raw); err == nil {
		t.Fatal("expected error for overlong message length")
	}
}
