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

import "time"

const (
	ConfigDir   = ".go-sdds"
	ConfigFile  = "config"
	StateDBFile = "state.db"

	DefaultLogLevel = "info"

	DefaultInterface = ""
	DefaultAddress   = "127.0.0.1"
	DefaultVlan      = 0
	DefaultPort      = 29495

	DefaultEndianness = EndiannessBig

	DefaultBufferSize        = 200000
	DefaultSocketBufferSize  = 0
	DefaultPktsPerSocketRead = 500
	DefaultPktsPerBlock      = 500
	DefaultStreamID          = ""

	DefaultApiAddress = "127.0.0.1"
	DefaultApiPort    = 8004

	DefaultSnapshotInterval = 10 * time.Second
)

// Byte order tokens as they appear in stream metadata keywords
const (
	EndiannessBig    = "4321"
	EndiannessLittle = "1234"
)
