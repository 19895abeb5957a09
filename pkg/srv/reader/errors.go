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

package reader

import (
	"errors"
	"fmt"
)

// ErrConfigure returned when the socket can not be set up for the requested attachment
type ErrConfigure struct {
	What string
	Err  error
}

func (e ErrConfigure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("Error while configuring socket reader: %s: %s", e.What, e.Err)
	}
	return fmt.Sprintf("Error while configuring socket reader: %s", e.What)
}

func (e ErrConfigure) Unwrap() error {
	return e.Err
}

var (
	// ErrReaderRunning returned when the reader is reconfigured while running
	ErrReaderRunning = errors.New("socket reader is running")
	// ErrNotConfigured returned when Run is called before Configure
	ErrNotConfigured = errors.New("socket reader is not configured")
)
