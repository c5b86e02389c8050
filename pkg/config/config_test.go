package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	cfg.Node.NodeID = "peer-1"
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsExcessiveByzantineTolerance(t *testing.T) {
	cfg := Default()
	cfg.Node.NodeID = "peer-1"
	cfg.Consensus.ByzantineTolerance = 0.5
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresNodeID(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Validate())
}

func TestLoadAppliesOverridesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aerolithdb.yaml")
	yamlDoc := `
node:
  node_id: peer-1
  data_dir: /var/lib/aerolithdb
storage:
  replication_factor: 5
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "peer-1", cfg.Node.NodeID)
	assert.Equal(t, 5, cfg.Storage.ReplicationFactor)
	// defaults preserved where the file didn't override
	assert.Equal(t, ShardingConsistentHash, cfg.Storage.ShardingStrategy)
	assert.Equal(t, 128, cfg.Storage.VirtualNodesPerPeer)
}
