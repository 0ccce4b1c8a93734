package pathoram

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadServerConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: "0.0.0.0:9000"
db_path: "/var/lib/oram/server.db"
num_shards: 4
tree_height: 5
bucket_size: 4
block_size: 32
metrics_addr: ":9100"
`), 0o600))

	sc, err := LoadServerConfig(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9000", sc.ListenAddr)
	require.Equal(t, 4, sc.NumShards)
	require.Equal(t, 5, sc.TreeHeight)
	require.NoError(t, sc.Validate())
}

func TestServerConfig_Validate(t *testing.T) {
	base := ServerConfig{ListenAddr: "x:1", DBPath: "/tmp/db", NumShards: 1, TreeHeight: 1}
	require.NoError(t, base.Validate())

	bad := base
	bad.ListenAddr = ""
	require.Error(t, bad.Validate())

	bad = base
	bad.DBPath = ""
	require.Error(t, bad.Validate())

	bad = base
	bad.NumShards = 0
	require.Error(t, bad.Validate())

	bad = base
	bad.TreeHeight = 0
	require.Error(t, bad.Validate())
}

func TestServerConfig_Validate_DefaultsBucketSize(t *testing.T) {
	sc := ServerConfig{ListenAddr: "x:1", DBPath: "/tmp/db", NumShards: 1, TreeHeight: 1}
	require.NoError(t, sc.Validate())
	require.Equal(t, 4, sc.BucketSize)
}
