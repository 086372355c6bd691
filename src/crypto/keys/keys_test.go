package keys

import (
	"encoding/hex"
	"io/ioutil"
	"os"
	"path"
	"testing"
)

func TestSimpleKeyfile(t *testing.T) {
	dir := t.TempDir()

	simpleKeyfile := NewSimpleKeyfile(path.Join(dir, "priv_key"))

	// Try a read, should get nothing
	key, err := simpleKeyfile.ReadKey()
	if err == nil {
		t.Fatalf("ReadKey should generate an error")
	}
	if key != nil {
		t.Fatalf("key is not nil")
	}

	// Initialize a key and try a write
	key, _ = GenerateKey()
	if err := simpleKeyfile.WriteKey(key); err != nil {
		t.Fatalf("err: %v", err)
	}

	// Try a read, should get key
	nKey, err := simpleKeyfile.ReadKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if PrivateKeyHex(nKey) != PrivateKeyHex(key) {
		t.Fatalf("Keys do not match")
	}

	if PublicKeyHex(nKey.PubKey()) != PublicKeyHex(key.PubKey()) {
		t.Fatalf("Public keys do not match")
	}
}

func TestFilePermissions(t *testing.T) {
	dir := t.TempDir()

	key, _ := GenerateKey()
	rawKey := hex.EncodeToString(DumpPrivateKey(key))

	badKeyPath := path.Join(dir, "priv_key_bad")

	shouldErr := []os.FileMode{
		0777, 0766, 0744,
		0677, 0666, 0644,
		0477, 0466, 0444,
	}

	for _, fm := range shouldErr {
		ioutil.WriteFile(badKeyPath, []byte(rawKey), fm)
		os.Chmod(badKeyPath, fm)
		badKeyFile := NewSimpleKeyfile(badKeyPath)
		if _, err := badKeyFile.ReadKey(); err == nil {
			t.Fatalf("%o || badKeyFile should return permissions error", fm)
		}
	}

	goodKeyPath := path.Join(dir, "priv_key_good")

	shouldNotErr := []os.FileMode{
		0700, 0600, 0500, 0400,
	}

	for _, fm := range shouldNotErr {
		ioutil.WriteFile(goodKeyPath, []byte(rawKey), fm)
		os.Chmod(goodKeyPath, fm)
		goodKeyFile := NewSimpleKeyfile(goodKeyPath)
		if _, err := goodKeyFile.ReadKey(); err != nil {
			t.Fatalf("%o || goodKeyFile should not return error. Got %v", fm, err)
		}
	}
}

func TestSignVerify(t *testing.T) {
	privKey, _ := GenerateKey()
	msg := []byte("J'aime mieux forger mon ame que la meubler")

	sig, err := SignHex(privKey, msg)
	if err != nil {
		t.Fatal(err)
	}

	pub := PublicKeyHex(privKey.PubKey())

	if !VerifyHex(pub, msg, sig) {
		t.Fatal("signature should verify")
	}

	if VerifyHex(pub, []byte("something else"), sig) {
		t.Fatal("signature should not verify a different message")
	}

	other, _ := GenerateKey()
	if VerifyHex(PublicKeyHex(other.PubKey()), msg, sig) {
		t.Fatal("signature should not verify against another key")
	}
}

func TestParsePublicKeyHex(t *testing.T) {
	privKey, _ := GenerateKey()
	pub := PublicKeyHex(privKey.PubKey())

	if len(pub) != 2*PublicKeySize {
		t.Fatalf("unexpected public key length %d", len(pub))
	}

	parsed, err := ParsePublicKeyHex(pub)
	if err != nil {
		t.Fatal(err)
	}

	if !parsed.IsEqual(privKey.PubKey()) {
		t.Fatal("parsed key differs")
	}

	upper := hex.EncodeToString(FromPublicKey(privKey.PubKey()))
	if _, err := ParsePublicKeyHex("0X" + upper); err == nil {
		t.Fatal("non canonical encoding should be refused")
	}
}

func TestParsePrivateKey(t *testing.T) {
	if _, err := ParsePrivateKey(make([]byte, PrivateKeySize)); err == nil {
		t.Fatal("zero scalar should be refused")
	}

	if _, err := ParsePrivateKey([]byte{1, 2, 3}); err == nil {
		t.Fatal("short scalar should be refused")
	}
}
