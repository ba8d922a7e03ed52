package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAccountBech32RoundTrip(t *testing.T) {
	var principal [32]byte
	copy(principal[:], []byte("test-protocol-account-principal-"))
	account := NewAccount(principal)

	encoded := account.String()
	decoded, err := ParseAccount(encoded)
	require.NoError(t, err)
	require.True(t, account.Equal(decoded))
}

func TestAccountIsZero(t *testing.T) {
	require.True(t, Account{}.IsZero())
	var principal [32]byte
	principal[0] = 1
	require.False(t, NewAccount(principal).IsZero())
}

func TestParseAccountRejectsWrongHRP(t *testing.T) {
	_, err := ParseAccount("bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq")
	require.ErrorIs(t, err, ErrInvalidAccount)
}

func TestAccountWithSubaccountChangesEncoding(t *testing.T) {
	var principal [32]byte
	principal[0] = 9
	plain := NewAccount(principal)

	var sub [32]byte
	sub[0] = 1
	withSub := plain.WithSubaccount(sub)

	require.NotEqual(t, plain.String(), withSub.String())
	require.False(t, plain.Equal(withSub))
}
