package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAES_RoundTrip(t *testing.T) {
	a, err := NewAES("ledger-secret", "withdrawal-account")
	require.NoError(t, err)

	plain := `{"name":"张三","account_no":"6222020200001234"}`
	c1, err := a.Encrypt(plain)
	require.NoError(t, err)
	c2, err := a.Encrypt(plain)
	require.NoError(t, err)
	assert.NotEqual(t, c1, c2, "nonce must differ")

	got, err := a.Decrypt(c1)
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestAES_WrongKeyOrInfo(t *testing.T) {
	a, _ := NewAES("secret-a", "withdrawal-account")
	b, _ := NewAES("secret-b", "withdrawal-account")
	c, _ := NewAES("secret-a", "other-purpose")

	ct, err := a.Encrypt("hello")
	require.NoError(t, err)

	_, err = b.Decrypt(ct)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
	_, err = c.Decrypt(ct)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestAES_InvalidInput(t *testing.T) {
	_, err := NewAES("", "x")
	assert.ErrorIs(t, err, ErrEmptySecret)

	a, _ := NewAES("k", "x")
	_, err = a.Decrypt("not-base64!!")
	assert.Error(t, err)
	_, err = a.Decrypt("YWJj")
	assert.ErrorIs(t, err, ErrCiphertextShort)
}

func TestMaskAccountNo(t *testing.T) {
	assert.Equal(t, "****1234", MaskAccountNo("6222020200001234"))
	assert.Equal(t, "123", MaskAccountNo("123"))
}
