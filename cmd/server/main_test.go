package main

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salecore/internal/config"
	"salecore/internal/settings"
	"salecore/internal/store"
	"salecore/internal/store/memory"
)

const strongSecret = "0123456789abcdef0123456789abcdef"

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	assert.Error(t, validateSecurityConfig(config.Config{AuthSecret: "short", ManagerPIN: "739154"}))
	assert.Error(t, validateSecurityConfig(config.Config{AuthSecret: strongSecret, ManagerPIN: "123456"}))
	assert.Error(t, validateSecurityConfig(config.Config{AuthSecret: strongSecret}))
	assert.Error(t, validateSecurityConfig(config.Config{AuthSecret: strongSecret, ManagerPINHash: "plain"}))
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	assert.NoError(t, validateSecurityConfig(config.Config{AuthSecret: strongSecret, ManagerPIN: "739154"}))
	assert.NoError(t, validateSecurityConfig(config.Config{
		AuthSecret:     strongSecret,
		ManagerPINHash: "$2a$10$abcdefghijklmnopqrstuuN9jYcK1Y8g6L3Q2w0fz8T6K0a2fJmG",
	}))
	assert.NoError(t, validateSecurityConfig(config.Config{
		AuthSecret:     strongSecret,
		ManagerPINHash: "$2y$10$abcdefghijklmnopqrstuuN9jYcK1Y8g6L3Q2w0fz8T6K0a2fJmG",
	}))
}

func TestValidatePINStrength(t *testing.T) {
	for _, pin := range []string{"987654", "555555", "112233", "12a456"} {
		assert.Error(t, validatePINStrength(pin), pin)
	}
	assert.NoError(t, validatePINStrength("739154"))
}

func TestGatewayConfigMergesSettings(t *testing.T) {
	repo := memory.New(store.Options{})
	repo.SetSetting(settings.KeyUseVirtualAccount, "true")
	repo.SetSetting(settings.KeyBankAccountPrefix+"bca", "1234567890|Toko Maju")

	log := logrus.New()
	reader := settings.New(repo, logrus.NewEntry(log))
	cfg := config.Config{Payment: config.PaymentConfig{Provider: "xendit", ServerKey: "xnd_test", MerchantID: "ID1020"}}

	got := gatewayConfig(context.Background(), cfg, reader)
	assert.Equal(t, "xendit", got.Provider)
	assert.Equal(t, "ID1020", got.MerchantID)
	assert.True(t, got.UseVirtualAccount)
	require.Contains(t, got.BankAccounts, "bca")
	assert.Equal(t, "1234567890", got.BankAccounts["bca"].Number)
	assert.Equal(t, "Toko Maju", got.BankAccounts["bca"].Holder)
}
