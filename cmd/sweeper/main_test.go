package main

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"salecore/internal/config"
)

func TestRunRequiresDatabaseURL(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	err := run(config.Config{}, log)
	require.EqualError(t, err, "DATABASE_URL is required")
}
