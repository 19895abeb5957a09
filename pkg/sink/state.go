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
	"jinr.ru/greenlab/go-sdds/pkg/log"
	"jinr.ru/greenlab/go-sdds/pkg/srv/stream"
)

// MetadataRecorder stores pushed metadata
type MetadataRecorder interface {
	AppendMetadata(streamID string, md stream.StreamMetadata) error
}

// StateSink records every metadata push and forwards everything to the next sink
type StateSink struct {
	next     stream.Sink
	recorder MetadataRecorder
}

func NewStateSink(next stream.Sink, recorder MetadataRecorder) *StateSink {
	return &StateSink{next: next, recorder: recorder}
}

func (s *StateSink) PushMetadata(streamID string, md stream.StreamMetadata) error {
	if err := s.recorder.AppendMetadata(streamID, md); err != nil {
		// the stream goes on without history
		log.Error("Error while recording metadata for stream %s: %s", streamID, err)
	}
	return s.next.PushMetadata(streamID, md)
}

func (s *StateSink) PushBlock(block stream.Block) error {
	return s.next.PushBlock(block)
}
