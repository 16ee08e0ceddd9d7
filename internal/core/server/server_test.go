package server

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/meterkeeper/internal/core/api"
	"github.com/solatis/meterkeeper/internal/core/auth"
	"github.com/solatis/meterkeeper/internal/core/config"
	"github.com/solatis/meterkeeper/internal/core/db"
	"github.com/solatis/meterkeeper/internal/core/store"
	"github.com/solatis/meterkeeper/internal/rules"
)

func TestServer_Run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := db.Open("sqlite://" + filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	defer conn.Close()
	_, err = db.MigrateUp(ctx, conn)
	require.NoError(t, err)
	q, err := db.LoadQueries(conn)
	require.NoError(t, err)

	authenticator := auth.NewAuthenticator(map[string][]byte{}, q, nil)
	svc, err := api.NewService(store.New(q), rules.NewResolver(nil), api.Config{RequestTimeout: 5 * time.Second})
	require.NoError(t, err)

	cfg := &config.ServerConfig{Host: "127.0.0.1", RequestTimeout: 5 * time.Second}
	srv, err := New(cfg, svc.Routes(authenticator.Middleware), authenticator, nil)
	require.NoError(t, err)

	require.NoError(t, srv.Listen())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	base := "http://" + srv.HTTP.Addr().String()

	readyCtx, readyCancel := context.WithTimeout(ctx, 5*time.Second)
	defer readyCancel()
	require.NoError(t, WaitReady(readyCtx, base))

	resp, err := http.Get(base + "/v1/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	status, err := CheckHealth(readyCtx, srv.GRPC.Addr().String())
	require.NoError(t, err)
	assert.Equal(t, "SERVING", status)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := NewHTTPServer(nil, http.NotFoundHandler())
	assert.Error(t, err)
	_, err = NewHTTPServer(&config.ServerConfig{}, nil)
	assert.Error(t, err)
	_, err = NewGRPCServer(&config.ServerConfig{}, nil)
	assert.Error(t, err)
}
