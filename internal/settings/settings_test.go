package settings

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

type mapSource struct {
	values map[string]string
	err    error
}

func (m mapSource) GetSetting(_ context.Context, key string) (string, bool, error) {
	if m.err != nil {
		return "", false, m.err
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func newReader(src Source, env map[string]string) *Reader {
	l := logrus.New()
	l.SetOutput(io.Discard)
	r := New(src, logrus.NewEntry(l))
	r.lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	return r
}

func TestStoredValueWinsOverEnvironment(t *testing.T) {
	r := newReader(mapSource{values: map[string]string{KeyQRISStatic: "true"}}, map[string]string{"QRIS_STATIC": "false"})
	assert.True(t, r.Bool(context.Background(), KeyQRISStatic))
}

func TestEnvironmentFallbackWhenUnsetOrFailing(t *testing.T) {
	env := map[string]string{
		"PAYMENT_USE_VIRTUAL_ACCOUNT": "yes",
		"BANK_ACCOUNT_BCA":            "1234567890 | PT Toko Maju",
		"BANK_ACCOUNT_BRI":            "998877",
	}
	for _, src := range []Source{mapSource{values: map[string]string{}}, mapSource{err: errors.New("no settings table")}, nil} {
		r := newReader(src, env)
		p := r.Payment(context.Background())
		assert.True(t, p.UseVirtualAccount)
		assert.False(t, p.QRISStatic)
		assert.Equal(t, BankAccount{Bank: "bca", Number: "1234567890", Holder: "PT Toko Maju"}, p.BankAccounts["bca"])
		assert.Equal(t, BankAccount{Bank: "bri", Number: "998877"}, p.BankAccounts["bri"])
		assert.NotContains(t, p.BankAccounts, "bni")
	}
}
