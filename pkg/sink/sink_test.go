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

package sink

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sigs.k8s.io/yaml"

	"jinr.ru/greenlab/go-sdds/pkg/srv/stream"
)

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "samples.dat")
	w, err := NewFileSink(path)
	require.NoError(t, err)

	md := stream.DefaultMetadata("s1")
	md.XDelta = 1e-6
	md.Keywords = []stream.Keyword{{ID: "COL_RF", Value: "1e9"}}
	require.NoError(t, w.PushMetadata("s1", md))
	require.NoError(t, w.PushBlock(stream.Block{StreamID: "s1", Data: []byte{1, 2, 3, 4}, SampleWidth: 16}))
	require.NoError(t, w.PushBlock(stream.Block{StreamID: "s1", Data: []byte{5, 6}, SampleWidth: 16, EOS: true}))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, data)
	assert.Equal(t, int64(6), w.Written())

	sriData, err := os.ReadFile(path + SRISuffix)
	require.NoError(t, err)
	sri := SRIFile{}
	require.NoError(t, yaml.Unmarshal(sriData, &sri))
	assert.Equal(t, "s1", sri.StreamID)
	assert.Equal(t, 16, sri.BitsPerSample)
	assert.Equal(t, int64(0), sri.ByteOffset)
	assert.True(t, md.Equal(sri.Metadata))
}

func TestFileSinkMetadataOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "samples.dat")
	w, err := NewFileSink(path)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.PushMetadata("s1", stream.DefaultMetadata("s1")))
	require.NoError(t, w.PushBlock(stream.Block{Data: make([]byte, 10), SampleWidth: 8}))
	require.NoError(t, w.PushMetadata("s2", stream.DefaultMetadata("s2")))

	sriData, err := os.ReadFile(w.SRIPath())
	require.NoError(t, err)
	sri := SRIFile{}
	require.NoError(t, yaml.Unmarshal(sriData, &sri))
	assert.Equal(t, "s2", sri.StreamID)
	assert.Equal(t, int64(10), sri.ByteOffset)
}

func TestNewFileSinkError(t *testing.T) {
	_, err := NewFileSink(filepath.Join(t.TempDir(), "missing", "samples.dat"))
	assert.Error(t, err)
}

func TestLogSink(t *testing.T) {
	s := NewLogSink()
	require.NoError(t, s.PushMetadata("s", stream.DefaultMetadata("s")))
	require.NoError(t, s.PushBlock(stream.Block{Data: make([]byte, 8), SampleWidth: 16}))
	require.NoError(t, s.PushBlock(stream.Block{EOS: true}))
	assert.Equal(t, uint64(2), s.Blocks())
	assert.Equal(t, uint64(4), s.Samples())
}

type memoryRecorder struct {
	ids []string
	err error
}

func (r *memoryRecorder) AppendMetadata(streamID string, md stream.StreamMetadata) error {
	r.ids = append(r.ids, streamID)
	return r.err
}

func TestStateSink(t *testing.T) {
	next := NewLogSink()
	recorder := &memoryRecorder{}
	s := NewStateSink(next, recorder)

	require.NoError(t, s.PushMetadata("a", stream.DefaultMetadata("a")))
	require.NoError(t, s.PushBlock(stream.Block{Data: make([]byte, 2), SampleWidth: 8}))
	assert.Equal(t, []string{"a"}, recorder.ids)
	assert.Equal(t, uint64(1), next.Blocks())

	// recording errors do not stop the stream
	recorder.err = errors.New("disk full")
	require.NoError(t, s.PushMetadata("b", stream.DefaultMetadata("b")))
	assert.Equal(t, []string{"a", "b"}, recorder.ids)
}
