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
	"io"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

const (
	InterfaceOptionName  = "interface"
	AddressOptionName    = "address"
	VlanOptionName       = "vlan"
	PortOptionName       = "port"
	OutputOptionName     = "output"
	StreamIDOptionName   = "stream-id"
	XDeltaOptionName     = "xdelta"
	ComplexOptionName    = "complex"
	KeywordOptionName    = "keyword"
	PriorityOptionName   = "priority"
	EndiannessOptionName = "endianness"
	PushOnTTVOptionName  = "push-on-ttv"
	WaitOnTTVOptionName  = "wait-on-ttv"
	DBOptionName         = "db"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "source",
		Short: "Run and control the SDDS source",
	}
	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewStatusCommand())
	cmd.AddCommand(NewMetadataCommand())
	cmd.AddCommand(NewSettingsCommand())
	return cmd
}

func printYaml(out io.Writer, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}
