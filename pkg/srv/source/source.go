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

// Package source runs the SDDS receive pipeline: the socket reader fills the
// packet pool, the stream reconstructor drains it into a sink. The API server
// exposes status, metadata override and runtime settings.
package source

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"jinr.ru/greenlab/go-sdds/pkg/config"
	"jinr.ru/greenlab/go-sdds/pkg/log"
	"jinr.ru/greenlab/go-sdds/pkg/pool"
	"jinr.ru/greenlab/go-sdds/pkg/srv/reader"
	"jinr.ru/greenlab/go-sdds/pkg/srv/stream"
)

const (
	apiShutdownTimeout = 5 * time.Second
	// readerStopTimeout bounds the wait for the reader before the pool is shut down under it
	readerStopTimeout = time.Second
)

type SourceServer struct {
	context.Context
	*config.Config
	pool     *pool.Pool
	reader   *reader.Reader
	recon    *stream.Reconstructor
	state    *State
	api      *ApiServer
	attach   config.SourceConfig
	netStats NetStatsFunc
	override atomic.Pointer[stream.StreamMetadata]
}

// NewSourceServer validates the config and builds the pipeline. The state is optional.
func NewSourceServer(ctx context.Context, cfg *config.Config, sink stream.Sink, state *State) (*SourceServer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	order, err := stream.ParseByteOrder(cfg.Endianness())
	if err != nil {
		return nil, err
	}
	attach := cfg.Attachment()
	log.Info("Initializing source server with address: %s port: %d vlan: %d interface: %q",
		attach.Address, attach.Port, attach.Vlan, attach.Interface)

	adv := cfg.AdvancedConfig
	rd := reader.NewReader()
	if err := rd.SetBatchSize(adv.PktsPerSocketRead); err != nil {
		return nil, err
	}
	if err := rd.SetSocketBufferSize(adv.SocketBufferSize); err != nil {
		return nil, err
	}

	recon := stream.NewReconstructor(stream.Settings{
		PacketsPerBlock: adv.PktsPerBlock,
		WaitOnTTV:       adv.WaitOnTTV,
		PushOnTTV:       adv.PushOnTTV,
		ByteOrder:       order,
		StreamID:        adv.StreamID,
	}, sink, nil)

	s := &SourceServer{
		Context:  ctx,
		Config:   cfg,
		pool:     pool.New(),
		reader:   rd,
		recon:    recon,
		state:    state,
		attach:   attach,
		netStats: ReadNetStats,
	}

	apiServer, err := NewApiServer(ctx, cfg, s)
	if err != nil {
		return nil, err
	}
	s.api = apiServer
	return s, nil
}

// Run attaches to the stream and blocks until the context is done or a
// pipeline goroutine fails. The reconstructor flushes with end of stream on return.
func (s *SourceServer) Run() error {
	if err := s.pool.Initialize(s.AdvancedConfig.BufferSize); err != nil {
		return err
	}
	if err := s.reader.Configure(s.attach.Interface, s.attach.Address, s.attach.Vlan, s.attach.Port); err != nil {
		return err
	}

	errChan := make(chan error, 3)
	var wg sync.WaitGroup

	readerDone := make(chan struct{})
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer close(readerDone)
		if err := s.reader.Run(s.pool, s.AdvancedConfig.CheckForDuplicateSender); err != nil {
			errChan <- fmt.Errorf("socket reader: %w", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := s.recon.Run(s.pool); err != nil {
			errChan <- fmt.Errorf("stream reconstructor: %w", err)
		}
	}()

	if s.api != nil {
		go func() {
			if err := s.api.Run(); err != nil {
				errChan <- fmt.Errorf("api server: %w", err)
			}
		}()
	}

	done := make(chan struct{})
	if s.state != nil && s.StateConfig.SnapshotInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.snapshotLoop(done, s.StateConfig.SnapshotInterval)
		}()
	}

	var err error
	select {
	case <-s.Context.Done():
		log.Info("Stopping source server")
	case err = <-errChan:
		log.Error("Stopping source server: %s", err)
	}

	// the reader publishes its last batch before the pool stops, the reconstructor drains it
	s.reader.ShutDown()
	select {
	case <-readerDone:
	case <-time.After(readerStopTimeout):
		log.Warning("Socket reader did not stop in %s", readerStopTimeout)
	}
	s.pool.Shutdown()
	close(done)
	wg.Wait()

	if s.api != nil {
		ctx, cancel := context.WithTimeout(context.Background(), apiShutdownTimeout)
		defer cancel()
		if shutdownErr := s.api.Shutdown(ctx); shutdownErr != nil {
			log.Error("Error while stopping API server: %s", shutdownErr)
		}
	}
	s.saveSnapshot()
	return err
}

func (s *SourceServer) snapshotLoop(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.saveSnapshot()
		}
	}
}

func (s *SourceServer) saveSnapshot() {
	if s.state == nil {
		return
	}
	if err := s.state.SaveStatus(s.Status()); err != nil {
		log.Error("Error while saving status snapshot: %s", err)
	}
}

func (s *SourceServer) Api() *ApiServer {
	return s.api
}

func (s *SourceServer) Attachment() config.SourceConfig {
	return s.attach
}

func (s *SourceServer) SetMetadataOverride(md stream.StreamMetadata) {
	c := md.Clone()
	s.override.Store(&c)
	s.recon.SetMetadataOverride(md)
}

func (s *SourceServer) ClearMetadataOverride() {
	s.override.Store(nil)
	s.recon.ClearMetadataOverride()
}

// MetadataOverride returns the current upstream metadata or nil
func (s *SourceServer) MetadataOverride() *stream.StreamMetadata {
	md := s.override.Load()
	if md == nil {
		return nil
	}
	c := md.Clone()
	return &c
}

func (s *SourceServer) MetadataHistory() ([]MetadataRecord, error) {
	if s.state == nil {
		return nil, nil
	}
	return s.state.MetadataHistory()
}

func (s *SourceServer) Settings() Settings {
	return Settings{
		PushOnTTV:         s.recon.PushOnTTV(),
		WaitOnTTV:         s.recon.WaitOnTTV(),
		Endianness:        s.recon.Status().Endianness,
		PacketsPerBlock:   s.recon.PacketsPerBlock(),
		PktsPerSocketRead: s.reader.BatchSize(),
		BufferSize:        s.AdvancedConfig.BufferSize,
		SocketBufferSize:  s.reader.SocketBufferSize(),
	}
}

// ApplySettings changes the runtime settings, the byte order applies from the next packet
func (s *SourceServer) ApplySettings(update SettingsUpdate) error {
	if update.Endianness != nil {
		order, err := stream.ParseByteOrder(*update.Endianness)
		if err != nil {
			return err
		}
		s.recon.SetByteOrder(order)
	}
	if update.PushOnTTV != nil {
		log.Info("Push on TTV set to %t", *update.PushOnTTV)
		s.recon.SetPushOnTTV(*update.PushOnTTV)
	}
	if update.WaitOnTTV != nil {
		log.Info("Wait on TTV set to %t", *update.WaitOnTTV)
		s.recon.SetWaitOnTTV(*update.WaitOnTTV)
	}
	return nil
}
