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
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
	"sigs.k8s.io/yaml"

	"jinr.ru/greenlab/go-sdds/pkg/log"
	"jinr.ru/greenlab/go-sdds/pkg/srv/stream"
)

const (
	StatusBucket   = "status"
	MetadataBucket = "metadata"
	LastStatusKey  = "last"

	openTimeout = time.Second
)

// MetadataRecord is one entry of the pushed metadata history
type MetadataRecord struct {
	Time     time.Time             `json:"time"`
	StreamID string                `json:"streamID"`
	Metadata stream.StreamMetadata `json:"metadata"`
}

// StatusRecord is the last stored status snapshot
type StatusRecord struct {
	Time   time.Time `json:"time"`
	Status Status    `json:"status"`
}

// ErrStateNotFound returned when the requested record is not stored yet
type ErrStateNotFound struct {
	What string
}

func (e ErrStateNotFound) Error() string {
	return fmt.Sprintf("Not found in state database: %s", e.What)
}

type State struct {
	DB *bbolt.DB
}

// NewState opens the state database creating it and its buckets if needed
func NewState(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("open state database %s: %w", path, err)
	}
	s := &State{DB: db}
	for _, name := range []string{StatusBucket, MetadataBucket} {
		if err := s.CreateBucket(name); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// OpenStateReadOnly opens an existing state database for reading
func OpenStateReadOnly(path string) (*State, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: openTimeout, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("open state database %s: %w", path, err)
	}
	return &State{DB: db}, nil
}

func (s *State) Close() error {
	return s.DB.Close()
}

func (s *State) CreateBucket(name string) error {
	return s.DB.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
}

func seqKey(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// SaveStatus replaces the stored status snapshot
func (s *State) SaveStatus(status Status) error {
	data, err := yaml.Marshal(StatusRecord{Time: time.Now().UTC(), Status: status})
	if err != nil {
		return err
	}
	return s.DB.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(StatusBucket))
		if b == nil {
			return ErrStateNotFound{What: "bucket " + StatusBucket}
		}
		return b.Put([]byte(LastStatusKey), data)
	})
}

func (s *State) LastStatus() (*StatusRecord, error) {
	record := &StatusRecord{}
	if err := s.DB.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(StatusBucket))
		if b == nil {
			return ErrStateNotFound{What: "bucket " + StatusBucket}
		}
		data := b.Get([]byte(LastStatusKey))
		if data == nil {
			return ErrStateNotFound{What: "status snapshot"}
		}
		return yaml.Unmarshal(data, record)
	}); err != nil {
		return nil, err
	}
	return record, nil
}

// AppendMetadata adds a pushed metadata value to the history
func (s *State) AppendMetadata(streamID string, md stream.StreamMetadata) error {
	log.Debug("Recording metadata: stream: %s", streamID)
	data, err := yaml.Marshal(MetadataRecord{Time: time.Now().UTC(), StreamID: streamID, Metadata: md})
	if err != nil {
		return err
	}
	return s.DB.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(MetadataBucket))
		if b == nil {
			return ErrStateNotFound{What: "bucket " + MetadataBucket}
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
}

// MetadataHistory returns the recorded metadata oldest first
func (s *State) MetadataHistory() ([]MetadataRecord, error) {
	var records []MetadataRecord
	if err := s.DB.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(MetadataBucket))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			record := MetadataRecord{}
			if err := yaml.Unmarshal(v, &record); err != nil {
				log.Error("Error while unmarshalling metadata record: %s", err)
				return err
			}
			records = append(records, record)
			return nil
		})
	}); err != nil {
		return nil, err
	}
	return records, nil
}
