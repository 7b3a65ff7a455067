package di

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LSTS/neptus-sub053/internal/testutil"
	"github.com/LSTS/neptus-sub053/pkg/config"
	"github.com/LSTS/neptus-sub053/pkg/index"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.Systems = map[uint16]string{0x0801: "seeded-name"}
	return cfg
}

func TestContainer_Lazy(t *testing.T) {
	c := NewContainer(testConfig(t), nil)
	defer c.Close()

	reg, err := c.Registry()
	require.NoError(t, err)
	assert.Nil(t, reg, "no schema configured")

	assert.Equal(t, "seeded-name", c.Resolver().Format(0x0801))
	assert.Same(t, c.Resolver(), c.Resolver())

	st1, err := c.Storage()
	require.NoError(t, err)
	st2, err := c.Storage()
	require.NoError(t, err)
	assert.Same(t, st1, st2)
	assert.DirExists(t, filepath.Join(c.Config().DataDir, "store"))

	logs, err := c.LogService()
	require.NoError(t, err)
	assert.Same(t, c.Resolver(), logs.Resolver())
}

func TestContainer_Schema(t *testing.T) {
	cfg := testConfig(t)
	cfg.Schema = filepath.Join(t.TempDir(), "IMC.xml")
	require.NoError(t, os.WriteFile(cfg.Schema, testutil.SchemaXML(), 0600))

	c := NewContainer(cfg, nil)
	defer c.Close()
	reg, err := c.Registry()
	require.NoError(t, err)
	require.NotNil(t, reg)
	assert.Equal(t, "5.4.30", reg.Version())

	cfg.Schema = filepath.Join(t.TempDir(), "missing.xml")
	_, err = NewContainer(cfg, nil).Registry()
	assert.Error(t, err)
}

func TestContainer_IndexConfig(t *testing.T) {
	cfg := testConfig(t)
	c := NewContainer(cfg, nil)
	defer c.Close()

	ic, err := c.IndexConfig()
	require.NoError(t, err)
	require.NotNil(t, ic.Cache)

	ix, err := index.Build(testutil.WriteLogDir(t, testutil.Sample(t)...), ic)
	require.NoError(t, err)
	defer ix.Close()
	assert.Equal(t, 10, ix.Len())
	assert.Equal(t, "lauv-xplore-1", c.Resolver().Format(0x0801), "announcement overrides the seed")

	cfg.Index.Snapshots = false
	ic, err = NewContainer(cfg, nil).IndexConfig()
	require.NoError(t, err)
	assert.Nil(t, ic.Cache)
}

func TestContainer_CloseIsRepeatable(t *testing.T) {
	c := NewContainer(testConfig(t), nil)
	_, err := c.LogService()
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}
