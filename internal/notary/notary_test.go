package notary_test

import (
	"testing"

	"github.com/custodia-forensics/custodia/internal/notary"
)

func TestSignVerify(t *testing.T) {
	n, err := notary.NewEphemeral()
	if err != nil {
		t.Fatal(err)
	}

	hash := "ab12cd34"
	sig := n.Sign(hash)
	if !n.Verify(hash, sig) {
		t.Error("signature over entry hash did not verify")
	}
	if n.Verify("other", sig) {
		t.Error("signature verified against a different hash")
	}
	if n.Verify(hash, "not-hex") {
		t.Error("malformed signature must not verify")
	}
}

func TestLoadOrCreate_roundTrip(t *testing.T) {
	dir := t.TempDir()

	first, err := notary.LoadOrCreate(dir)
	if err != nil {
		t.Fatal(err)
	}
	sig := first.Sign("deadbeef")

	second, err := notary.LoadOrCreate(dir)
	if err != nil {
		t.Fatal(err)
	}
	if second.PublicKeyHex() != first.PublicKeyHex() {
		t.Error("reloaded notary has a different keypair")
	}
	if !second.Verify("deadbeef", sig) {
		t.Error("reloaded notary cannot verify earlier signature")
	}
}
