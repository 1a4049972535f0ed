// internal/wallet/wallet_test.go
package wallet

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	key := solana.NewWallet().PrivateKey

	w, err := New(key.String())
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey(), w.PublicKey)
	assert.Equal(t, key.PublicKey().String(), w.String())

	_, err = New("not-a-key")
	assert.Error(t, err)

	// Decodable base58 that is shorter than a keypair must error, not panic.
	_, err = New("garbage")
	assert.Error(t, err)

	_, err = New(key.String()[:20])
	assert.Error(t, err)
}

func TestLoad_KeyedByPublicKey(t *testing.T) {
	k1 := solana.NewWallet().PrivateKey
	k2 := solana.NewWallet().PrivateKey

	path := filepath.Join(t.TempDir(), "wallets.yaml")
	content := fmt.Sprintf(`wallets:
  - name: "main"
    private_key: "%s"
  - name: "secondary"
    private_key: "%s"
  - name: "broken"
    private_key: "garbage"
`, k1.String(), k2.String())
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	wallets, err := Load(path)
	require.NoError(t, err)
	require.Len(t, wallets, 2, "invalid entries are skipped")

	w1, ok := wallets[k1.PublicKey().String()]
	require.True(t, ok, "lookup by public key")
	assert.Equal(t, k1.PublicKey(), w1.PublicKey)

	_, ok = wallets[k2.PublicKey().String()]
	assert.True(t, ok)
}

func TestLoad_EmptyFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallets.yaml")
	require.NoError(t, os.WriteFile(path, []byte("wallets: []\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestATA_Cached(t *testing.T) {
	w, err := New(solana.NewWallet().PrivateKey.String())
	require.NoError(t, err)

	mint := solana.NewWallet().PublicKey()

	ata1, err := w.ATA(mint)
	require.NoError(t, err)
	ata2, err := w.ATA(mint)
	require.NoError(t, err)
	assert.Equal(t, ata1, ata2)

	other, err := w.ATA(solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.NotEqual(t, ata1, other)
}
