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

// Package sink holds the stream sinks used by the command line tools
package sink

import (
	"os"
	"sync"

	"sigs.k8s.io/yaml"

	"jinr.ru/greenlab/go-sdds/pkg/log"
	"jinr.ru/greenlab/go-sdds/pkg/srv/stream"
)

const SRISuffix = ".sri.yaml"

// SRIFile is the content of the metadata side file
type SRIFile struct {
	StreamID string                `json:"streamID"`
	Metadata stream.StreamMetadata `json:"metadata"`
	// ByteOffset is the file position where samples with this metadata start
	ByteOffset    int64 `json:"byteOffset"`
	BitsPerSample int   `json:"bitsPerSample,omitempty"`
}

// FileSink writes little endian samples to a file and the current metadata
// to a yaml file next to it
type FileSink struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	written int64
	sri     SRIFile
}

func NewFileSink(filename string) (*FileSink, error) {
	file, err := os.Create(filename)
	if err != nil {
		log.Error("Error while creating file: %s", filename)
		return nil, err
	}
	return &FileSink{
		file: file,
		path: filename,
	}, nil
}

func (w *FileSink) SRIPath() string {
	return w.path + SRISuffix
}

func (w *FileSink) PushMetadata(streamID string, md stream.StreamMetadata) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sri = SRIFile{
		StreamID:   streamID,
		Metadata:   md,
		ByteOffset: w.written,
	}
	return w.writeSRI()
}

func (w *FileSink) writeSRI() error {
	data, err := yaml.Marshal(w.sri)
	if err != nil {
		return err
	}
	return os.WriteFile(w.SRIPath(), data, 0644)
}

func (w *FileSink) PushBlock(block stream.Block) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sri.BitsPerSample != block.SampleWidth && block.SampleWidth != 0 {
		w.sri.BitsPerSample = block.SampleWidth
		if err := w.writeSRI(); err != nil {
			return err
		}
	}
	n, err := w.file.Write(block.Data)
	w.written += int64(n)
	if err != nil {
		return err
	}
	if block.EOS {
		log.Info("End of stream %s: %d bytes written to %s", block.StreamID, w.written, w.path)
		return w.file.Sync()
	}
	return nil
}

func (w *FileSink) Written() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

func (w *FileSink) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
