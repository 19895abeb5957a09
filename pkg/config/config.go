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
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"
)

// SourceConfig is the address the SDDS stream is attached to
type SourceConfig struct {
	Interface string `json:"interface" yaml:"interface"`
	Address   string `json:"address" yaml:"address"`
	Vlan      uint16 `json:"vlan" yaml:"vlan"`
	Port      int    `json:"port" yaml:"port"`
}

// AttachmentOverride replaces the attach address when enabled
type AttachmentOverride struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Address    string `json:"address" yaml:"address"`
	Vlan       uint16 `json:"vlan" yaml:"vlan"`
	Port       int    `json:"port" yaml:"port"`
	Endianness string `json:"endianness" yaml:"endianness"`
}

type AdvancedConfig struct {
	// BufferSize is the number of packets in the packet pool
	BufferSize int `json:"bufferSize" yaml:"bufferSize"`
	// SocketBufferSize is the kernel receive buffer in bytes, 0 keeps the system default
	SocketBufferSize        int    `json:"socketBufferSize" yaml:"socketBufferSize"`
	PktsPerSocketRead       int    `json:"pktsPerSocketRead" yaml:"pktsPerSocketRead"`
	PktsPerBlock            int    `json:"pktsPerBlock" yaml:"pktsPerBlock"`
	WaitOnTTV               bool   `json:"waitOnTTV" yaml:"waitOnTTV"`
	PushOnTTV               bool   `json:"pushOnTTV" yaml:"pushOnTTV"`
	CheckForDuplicateSender bool   `json:"checkForDuplicateSender" yaml:"checkForDuplicateSender"`
	StreamID                string `json:"streamID" yaml:"streamID"`
}

type ApiConfig struct {
	Address string `json:"address" yaml:"address"`
	Port    int    `json:"port" yaml:"port"`
}

type StateConfig struct {
	DBPath           string        `json:"dbPath" yaml:"dbPath"`
	SnapshotInterval time.Duration `json:"snapshotInterval" yaml:"snapshotInterval"`
}

type Config struct {
	LogLevel            string `json:"logLevel" yaml:"logLevel"`
	*SourceConfig       `json:"source,omitempty" yaml:"source,omitempty"`
	*AttachmentOverride `json:"attachmentOverride,omitempty" yaml:"attachmentOverride,omitempty"`
	*AdvancedConfig     `json:"advanced,omitempty" yaml:"advanced,omitempty"`
	*ApiConfig          `json:"api,omitempty" yaml:"api,omitempty"`
	*StateConfig        `json:"state,omitempty" yaml:"state,omitempty"`
	filepath            string
}

func (c *Config) Persist(overwrite bool) error {
	if _, err := os.Stat(c.filepath); err == nil && !overwrite {
		return ErrConfigFileExists{Path: c.filepath}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	dir := filepath.Dir(c.filepath)
	err = os.MkdirAll(dir, 0755)
	if err != nil {
		return err
	}

	return os.WriteFile(c.filepath, data, 0644)
}

// Load reads the config file over the current values.
// A missing file is not an error, defaults stay in place.
func (c *Config) Load() error {
	data, err := os.ReadFile(c.filepath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", c.filepath, err)
	}
	return nil
}

func (c *Config) Path() string {
	return c.filepath
}

func (c *Config) SetPath(path string) {
	c.filepath = path
}

// Attachment returns the address the reader must attach to taking the override into account
func (c *Config) Attachment() SourceConfig {
	if c.AttachmentOverride != nil && c.AttachmentOverride.Enabled {
		return SourceConfig{
			Interface: c.SourceConfig.Interface,
			Address:   c.AttachmentOverride.Address,
			Vlan:      c.AttachmentOverride.Vlan,
			Port:      c.AttachmentOverride.Port,
		}
	}
	return *c.SourceConfig
}

// Endianness returns the byte order token the payload is assumed to have
func (c *Config) Endianness() string {
	if c.AttachmentOverride != nil && c.AttachmentOverride.Endianness != "" {
		return c.AttachmentOverride.Endianness
	}
	return DefaultEndianness
}

func validPort(port int) bool {
	return port > 0 && port <= 65535
}

func (c *Config) Validate() error {
	if c.SourceConfig == nil || c.AdvancedConfig == nil || c.ApiConfig == nil || c.StateConfig == nil {
		return ErrInvalidConfig{What: "incomplete config"}
	}
	attach := c.Attachment()
	if net.ParseIP(attach.Address) == nil {
		return ErrInvalidConfig{What: fmt.Sprintf("invalid address %q", attach.Address)}
	}
	if !validPort(attach.Port) {
		return ErrInvalidConfig{What: fmt.Sprintf("invalid port %d", attach.Port)}
	}
	if !validPort(c.ApiConfig.Port) {
		return ErrInvalidConfig{What: fmt.Sprintf("invalid api port %d", c.ApiConfig.Port)}
	}
	switch c.Endianness() {
	case EndiannessBig, EndiannessLittle:
	default:
		return ErrInvalidConfig{What: fmt.Sprintf("unknown endianness %q", c.Endianness())}
	}
	a := c.AdvancedConfig
	if a.PktsPerSocketRead <= 0 || a.PktsPerBlock <= 0 {
		return ErrInvalidConfig{What: "packets per read and per block must be positive"}
	}
	if a.SocketBufferSize < 0 {
		return ErrInvalidConfig{What: "socket buffer size must not be negative"}
	}
	if a.BufferSize < a.PktsPerSocketRead+a.PktsPerBlock {
		return ErrInvalidConfig{What: fmt.Sprintf("buffer size %d is less than pktsPerSocketRead + pktsPerBlock = %d",
			a.BufferSize, a.PktsPerSocketRead+a.PktsPerBlock)}
	}
	if c.StateConfig.SnapshotInterval < 0 {
		return ErrInvalidConfig{What: "snapshot interval must not be negative"}
	}
	return nil
}

func DefaultConfigPath() string {
	return filepath.Join(defaultDir(), ConfigFile)
}

func DefaultStateDBPath() string {
	return filepath.Join(defaultDir(), StateDBFile)
}

func defaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	return filepath.Join(home, ConfigDir)
}

func NewDefaultConfig() *Config {
	return &Config{
		LogLevel: DefaultLogLevel,
		SourceConfig: &SourceConfig{
			Interface: DefaultInterface,
			Address:   DefaultAddress,
			Vlan:      DefaultVlan,
			Port:      DefaultPort,
		},
		AttachmentOverride: &AttachmentOverride{
			Enabled:    false,
			Address:    DefaultAddress,
			Vlan:       DefaultVlan,
			Port:       DefaultPort,
			Endianness: DefaultEndianness,
		},
		AdvancedConfig: &AdvancedConfig{
			BufferSize:        DefaultBufferSize,
			SocketBufferSize:  DefaultSocketBufferSize,
			PktsPerSocketRead: DefaultPktsPerSocketRead,
			PktsPerBlock:      DefaultPktsPerBlock,
			StreamID:          DefaultStreamID,
		},
		ApiConfig: &ApiConfig{
			Address: DefaultApiAddress,
			Port:    DefaultApiPort,
		},
		StateConfig: &StateConfig{
			DBPath:           DefaultStateDBPath(),
			SnapshotInterval: DefaultSnapshotInterval,
		},
		filepath: DefaultConfigPath(),
	}
}
