package database

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memotag-notifier/internal/common/config"
)

func TestNewPostgres_Disabled(t *testing.T) {
	client, err := NewPostgres(config.PostgresConfig{Enabled: false})
	assert.Error(t, err)
	assert.Nil(t, client)
}

func TestNewPostgres_OpensLazily(t *testing.T) {
	client, err := NewPostgres(config.PostgresConfig{
		Enabled:        true,
		Host:           "127.0.0.1",
		Port:           1,
		Database:       "memotag",
		User:           "memotag",
		SSLMode:        "disable",
		MaxConnections: 2,
		MaxIdle:        1,
	})
	require.NoError(t, err)
	defer client.Close()
	assert.NotNil(t, client.DB)
}

func TestNewRedis(t *testing.T) {
	_, err := NewRedis(config.RedisConfig{})
	assert.Error(t, err)

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client, err := NewRedis(config.RedisConfig{Enabled: true, Address: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()
	assert.NoError(t, client.Ping(context.Background()))

	mr.Close()
	assert.Error(t, client.Ping(context.Background()))
}

func TestClose_NilSafe(t *testing.T) {
	var pg *PostgresClient
	var rc *RedisClient
	assert.NoError(t, pg.Close())
	assert.NoError(t, rc.Close())
}
