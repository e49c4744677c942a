package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/app"
	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/testing/guard"
)

func TestMainSkipsStartupInTestMode(t *testing.T) {
	t.Setenv(guard.Env, "1")
	app.RefreshTestMode()
	require.True(t, app.InTestMode())
	main()
}
