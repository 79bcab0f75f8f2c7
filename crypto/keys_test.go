package crypto

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestAddressRoundTripThroughBech32(t *testing.T) {
	raw := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	display := FromCommon(raw).String()
	if !strings.HasPrefix(display, "tip1") {
		t.Fatalf("unexpected display prefix: %s", display)
	}
	parsed, err := ParseAccount(display)
	require.NoError(t, err)
	require.Equal(t, raw, parsed)

	parsedHex, err := ParseAccount(raw.Hex())
	require.NoError(t, err)
	require.Equal(t, raw, parsedHex)
}

func TestParseAccountRejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "0x1234", "nottip1qqqq", "   "} {
		if _, err := ParseAccount(input); err == nil {
			t.Fatalf("expected error for %q", input)
		}
	}
}

func TestNewAddressLength(t *testing.T) {
	if _, err := NewAddress(TipPrefix, []byte{1, 2, 3}); err == nil {
		t.Fatalf("expected short address to be rejected")
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "nested", "relayer.keystore")

	require.NoError(t, SaveToKeystoreWithStrength(path, key, "pw", KeystoreLight))

	addr, err := KeystoreAddress(path)
	require.NoError(t, err)
	require.Equal(t, key.PubKey().EthAddress(), addr)

	loaded, err := LoadFromKeystore(path, "pw")
	require.NoError(t, err)
	require.Equal(t, key.Bytes(), loaded.Bytes())

	_, err = LoadFromKeystore(path, "wrong")
	require.Error(t, err)
}

func TestPrivateKeyFromHex(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	hexKey := "0x" + common.Bytes2Hex(key.Bytes())
	decoded, err := PrivateKeyFromHex(hexKey)
	require.NoError(t, err)
	require.Equal(t, key.PubKey().EthAddress(), decoded.PubKey().EthAddress())

	_, err = PrivateKeyFromHex("")
	require.Error(t, err)
}
