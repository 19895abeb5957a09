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

package command

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/imroc/req"

	"jinr.ru/greenlab/go-sdds/pkg/config"
	"jinr.ru/greenlab/go-sdds/pkg/srv/source"
	"jinr.ru/greenlab/go-sdds/pkg/srv/stream"
)

type ApiClient struct {
	*config.Config
	ApiPrefix string
}

func NewApiClient(cfg *config.Config) *ApiClient {
	return &ApiClient{
		Config:    cfg,
		ApiPrefix: fmt.Sprintf("http://%s:%d/api", cfg.ApiConfig.Address, cfg.ApiConfig.Port),
	}
}

func (c *ApiClient) url(path string) string {
	return c.ApiPrefix + path
}

func checkStatus(r *req.Resp) error {
	if r.Response().StatusCode != http.StatusOK {
		return errors.New(r.Response().Status)
	}
	return nil
}

// Status sends request to get the status snapshot of the source
func (c *ApiClient) Status() (*source.Status, error) {
	r, err := req.Get(c.url("/status"))
	if err != nil {
		return nil, err
	}
	if err := checkStatus(r); err != nil {
		return nil, err
	}
	status := &source.Status{}
	if err := r.ToJSON(status); err != nil {
		return nil, err
	}
	return status, nil
}

// Metadata returns the upstream metadata override, nil when it is not set
func (c *ApiClient) Metadata() (*stream.StreamMetadata, error) {
	r, err := req.Get(c.url("/metadata"))
	if err != nil {
		return nil, err
	}
	if r.Response().StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err := checkStatus(r); err != nil {
		return nil, err
	}
	md := &stream.StreamMetadata{}
	if err := r.ToJSON(md); err != nil {
		return nil, err
	}
	return md, nil
}

// SetMetadata sends request to override the stream metadata
func (c *ApiClient) SetMetadata(md stream.StreamMetadata) error {
	r, err := req.Post(c.url("/metadata"), req.BodyJSON(&md))
	if err != nil {
		return err
	}
	return checkStatus(r)
}

// ClearMetadata sends request to drop the metadata override
func (c *ApiClient) ClearMetadata() error {
	r, err := req.Delete(c.url("/metadata"))
	if err != nil {
		return err
	}
	return checkStatus(r)
}

// MetadataHistory sends request to get the metadata pushed downstream
func (c *ApiClient) MetadataHistory() ([]source.MetadataRecord, error) {
	r, err := req.Get(c.url("/metadata/history"))
	if err != nil {
		return nil, err
	}
	if err := checkStatus(r); err != nil {
		return nil, err
	}
	var records []source.MetadataRecord
	if err := r.ToJSON(&records); err != nil {
		return nil, err
	}
	return records, nil
}

func (c *ApiClient) Settings() (*source.Settings, error) {
	r, err := req.Get(c.url("/settings"))
	if err != nil {
		return nil, err
	}
	if err := checkStatus(r); err != nil {
		return nil, err
	}
	settings := &source.Settings{}
	if err := r.ToJSON(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// UpdateSettings sends the changed runtime settings and returns the resulting ones
func (c *ApiClient) UpdateSettings(update source.SettingsUpdate) (*source.Settings, error) {
	r, err := req.Post(c.url("/settings"), req.BodyJSON(&update))
	if err != nil {
		return nil, err
	}
	if err := checkStatus(r); err != nil {
		return nil, fmt.Errorf("%w: %s", err, r.String())
	}
	settings := &source.Settings{}
	if err := r.ToJSON(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

func (c *ApiClient) Attachment() (*config.SourceConfig, error) {
	r, err := req.Get(c.url("/attachment"))
	if err != nil {
		return nil, err
	}
	if err := checkStatus(r); err != nil {
		return nil, err
	}
	attach := &config.SourceConfig{}
	if err := r.ToJSON(attach); err != nil {
		return nil, err
	}
	return attach, nil
}
