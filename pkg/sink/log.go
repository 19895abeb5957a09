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
	"sync/atomic"

	"jinr.ru/greenlab/go-sdds/pkg/log"
	"jinr.ru/greenlab/go-sdds/pkg/srv/stream"
)

// LogSink logs a summary of every metadata push and block
type LogSink struct {
	blocks  atomic.Uint64
	samples atomic.Uint64
}

func NewLogSink() *LogSink {
	return &LogSink{}
}

func (s *LogSink) PushMetadata(streamID string, md stream.StreamMetadata) error {
	log.Info("Metadata: stream: %s xdelta: %g mode: %d keywords: %d", streamID, md.XDelta, md.Mode, len(md.Keywords))
	return nil
}

func (s *LogSink) PushBlock(block stream.Block) error {
	s.blocks.Add(1)
	s.samples.Add(uint64(block.Samples()))
	ts := block.Timestamp
	log.Debug("Block: stream: %s samples: %d width: %d time: %s valid: %t eos: %t",
		block.StreamID, block.Samples(), block.SampleWidth, ts.Time().Format("2006-01-02T15:04:05.000000000"), ts.Valid, block.EOS)
	if block.EOS {
		log.Info("End of stream %s: %d blocks %d samples", block.StreamID, s.blocks.Load(), s.samples.Load())
	}
	return nil
}

func (s *LogSink) Blocks() uint64 {
	return s.blocks.Load()
}

func (s *LogSink) Samples() uint64 {
	return s.samples.Load()
}
