package redis

import (
	"context"
	"strconv"
	"testing"

	"bizsuite-orchestrator/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions(t *testing.T) {
	opts, err := options(config.RedisConfig{Host: "cache", Port: 6380, Password: "pw", DB: 2})
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, "bizsuite-orchestrator", opts.ClientName)

	opts, err = options(config.RedisConfig{URL: "rediss://user:pw@managed.example:6390/4", Host: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, "managed.example:6390", opts.Addr)
	assert.Equal(t, 4, opts.DB)
	assert.NotNil(t, opts.TLSConfig)

	_, err = options(config.RedisConfig{URL: "http://nope"})
	assert.Error(t, err)
}

func TestNewClient(t *testing.T) {
	s := miniredis.RunT(t)

	client, err := NewClient(context.Background(), config.RedisConfig{URL: "redis://" + s.Addr() + "/0"}, zerolog.Nop())
	require.NoError(t, err)
	defer client.Close()

	hc := NewHealthCheck(client)
	assert.Equal(t, "redis", hc.Name())
	assert.NoError(t, hc.Ping(context.Background()))

	s.Close()
	assert.Error(t, hc.Ping(context.Background()), "health reflects a lost server")
}

func TestNewClient_Unreachable(t *testing.T) {
	s := miniredis.RunT(t)
	port, err := strconv.Atoi(s.Port())
	require.NoError(t, err)
	host := s.Host()
	s.Close()

	_, err = NewClient(context.Background(), config.RedisConfig{Host: host, Port: port}, zerolog.Nop())
	assert.Error(t, err)
}
