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

package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/procfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	procNetUDP = `   sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode ref pointer drops
 1523: 0100007F:7337 00000000:0000 07 00000000:00000A00 00:00000000 00000000  1000        0 12345 2 0000000000000000 0
 1524: 00000000:7337 00000000:0000 07 00000000:00000100 00:00000000 00000000  1000        0 12346 2 0000000000000000 0
 1600: 0100007F:0035 00000000:0000 07 00000000:00000200 00:00000000 00000000     0        0 12347 2 0000000000000000 0
`
	procNetDev = `Inter-|   Receive                                                |  Transmit
 face |bytes    packets errs drop fifo frame compressed multicast|bytes    packets errs drop fifo colls carrier compressed
    lo:    1000      10    0    0    0     0          0         0     1000      10    0    0    0     0       0          0
  eth0:    2000      20    0    7    0     0          0         0     3000      30    0    0    0     0       0          0
`
)

func newTestProcFS(t *testing.T) procfs.FS {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "net"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "net", "udp"), []byte(procNetUDP), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "net", "dev"), []byte(procNetDev), 0644))
	fs, err := procfs.NewFS(dir)
	require.NoError(t, err)
	return fs
}

func TestReadNetStats(t *testing.T) {
	fs := newTestProcFS(t)

	stats, err := readNetStats(fs, 29495, "eth0")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.NumUdpSocketReaders)
	assert.Equal(t, uint64(0xa00+0x100), stats.UdpSocketBufferQueue)
	assert.Equal(t, uint64(7), stats.NumPacketsDroppedByNic)

	stats, err = readNetStats(fs, 29495, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), stats.NumPacketsDroppedByNic)

	stats, err = readNetStats(fs, 1, "eth1")
	require.NoError(t, err)
	assert.Equal(t, NetStats{}, stats)
}
