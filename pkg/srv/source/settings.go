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

// Settings are the runtime settings of the source
type Settings struct {
	PushOnTTV         bool   `json:"pushOnTTV"`
	WaitOnTTV         bool   `json:"waitOnTTV"`
	Endianness        string `json:"endianness"`
	PacketsPerBlock   int    `json:"packetsPerBlock"`
	PktsPerSocketRead int    `json:"pktsPerSocketRead"`
	BufferSize        int    `json:"bufferSize"`
	SocketBufferSize  int    `json:"socketBufferSize"`
}

// SettingsUpdate changes the settings that can be changed while streaming,
// nil fields are kept
type SettingsUpdate struct {
	PushOnTTV  *bool   `json:"pushOnTTV,omitempty"`
	WaitOnTTV  *bool   `json:"waitOnTTV,omitempty"`
	Endianness *string `json:"endianness,omitempty"`
}
