package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSetUpFileMode(t *testing.T) {
	dir := t.TempDir()
	l, err := SetUp(LogConf{ServiceName: "svc", Mode: "file", Level: "info", Path: dir, MaxSize: 1})
	require.NoError(t, err)
	t.Cleanup(func() { Replace(zap.NewNop()) })

	l.Info("hello")
	_ = l.Sync()
	_, err = os.Stat(filepath.Join(dir, "svc.log"))
	assert.NoError(t, err)
}

func TestSetUpRejectsBadInput(t *testing.T) {
	_, err := SetUp(LogConf{Level: "loud"})
	assert.Error(t, err)
	_, err = SetUp(LogConf{Mode: "file"})
	assert.Error(t, err)
}

func TestWithContextCarriesFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	Replace(zap.New(core))
	t.Cleanup(func() { Replace(zap.NewNop()) })

	ctx := NewContext(context.Background(), zap.String("request_id", "abc"))
	WithContext(ctx).Info("scoped")
	WithContext(context.Background()).Info("global")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "abc", entries[0].ContextMap()["request_id"])
	assert.NotContains(t, entries[1].ContextMap(), "request_id")
}
