package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/walletcore/internal/auth"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "ctl-secret")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	out, err := run(t, "token", "--owner", "owner-7")
	require.NoError(t, err)

	owner, err := auth.Verify([]byte("ctl-secret"), strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "owner-7", owner)
}

func TestTokenRequiresOwner(t *testing.T) {
	_, err := run(t, "token")
	require.ErrorContains(t, err, "--owner")
}

func TestDatabaseCommandsNeedURL(t *testing.T) {
	for _, args := range [][]string{{"migrate", "up"}, {"migrate", "down"}, {"reconcile"}, {"verify"}} {
		_, err := run(t, args...)
		require.ErrorContains(t, err, "DATABASE_URL", "args %v", args)
	}
}
