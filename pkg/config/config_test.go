/*
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

     https://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersistAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigDir, ConfigFile)

	cfg := NewDefaultConfig()
	cfg.SetPath(path)
	cfg.SourceConfig.Address = "239.1.1.1"
	cfg.SourceConfig.Vlan = 12
	cfg.AdvancedConfig.PushOnTTV = true
	cfg.StateConfig.SnapshotInterval = 3 * time.Second
	require.NoError(t, cfg.Persist(false))

	err := cfg.Persist(false)
	require.Error(t, err)
	assert.Equal(t, ErrConfigFileExists{Path: path}, err)
	require.NoError(t, cfg.Persist(true))

	loaded := NewDefaultConfig()
	loaded.SetPath(path)
	require.NoError(t, loaded.Load())
	assert.Equal(t, "239.1.1.1", loaded.SourceConfig.Address)
	assert.Equal(t, uint16(12), loaded.SourceConfig.Vlan)
	assert.Equal(t, DefaultPort, loaded.SourceConfig.Port)
	assert.True(t, loaded.AdvancedConfig.PushOnTTV)
	assert.Equal(t, 3*time.Second, loaded.StateConfig.SnapshotInterval)
}

func TestLoadKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFile)
	require.NoError(t, os.WriteFile(path, []byte("advanced:\n  pktsPerBlock: 64\n"), 0644))

	cfg := NewDefaultConfig()
	cfg.SetPath(path)
	require.NoError(t, cfg.Load())
	assert.Equal(t, 64, cfg.AdvancedConfig.PktsPerBlock)
	assert.Equal(t, DefaultPktsPerSocketRead, cfg.AdvancedConfig.PktsPerSocketRead)
	assert.Equal(t, DefaultBufferSize, cfg.AdvancedConfig.BufferSize)

	missing := NewDefaultConfig()
	missing.SetPath(filepath.Join(dir, "nope"))
	assert.NoError(t, missing.Load())
}

func TestAttachment(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.SourceConfig.Interface = "eth1"
	cfg.SourceConfig.Address = "239.0.0.5"
	assert.Equal(t, "239.0.0.5", cfg.Attachment().Address)
	assert.Equal(t, EndiannessBig, cfg.Endianness())

	cfg.AttachmentOverride.Enabled = true
	cfg.AttachmentOverride.Address = "10.0.0.7"
	cfg.AttachmentOverride.Port = 30000
	cfg.AttachmentOverride.Endianness = EndiannessLittle
	attach := cfg.Attachment()
	assert.Equal(t, "eth1", attach.Interface)
	assert.Equal(t, "10.0.0.7", attach.Address)
	assert.Equal(t, 30000, attach.Port)
	assert.Equal(t, EndiannessLittle, cfg.Endianness())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"bad address", func(c *Config) { c.SourceConfig.Address = "nowhere" }, false},
		{"bad port", func(c *Config) { c.SourceConfig.Port = 70000 }, false},
		{"bad api port", func(c *Config) { c.ApiConfig.Port = 0 }, false},
		{"bad endianness", func(c *Config) { c.AttachmentOverride.Endianness = "2143" }, false},
		{"zero batch", func(c *Config) { c.AdvancedConfig.PktsPerSocketRead = 0 }, false},
		{"small pool", func(c *Config) { c.AdvancedConfig.BufferSize = 999 }, false},
		{"exact pool", func(c *Config) { c.AdvancedConfig.BufferSize = 1000 }, true},
		{"missing section", func(c *Config) { c.StateConfig = nil }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.IsType(t, ErrInvalidConfig{}, err)
		})
	}
}
