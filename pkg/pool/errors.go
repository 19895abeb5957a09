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

package pool

import "fmt"

// ErrNotInitialized returned when the pool is used before Initialize
type ErrNotInitialized struct{}

func (e ErrNotInitialized) Error() string {
	return "Packet pool is not initialized"
}

// ErrAlreadyInitialized returned when Initialize is called twice
type ErrAlreadyInitialized struct{}

func (e ErrAlreadyInitialized) Error() string {
	return "Packet pool is already initialized"
}

// ErrInvalidCount returned when a buffer count is not positive or exceeds the capacity
type ErrInvalidCount struct {
	Count int
}

func (e ErrInvalidCount) Error() string {
	return fmt.Sprintf("Invalid buffer count: %d", e.Count)
}
