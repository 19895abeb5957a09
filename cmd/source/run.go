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
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"jinr.ru/greenlab/go-sdds/pkg/config"
	"jinr.ru/greenlab/go-sdds/pkg/log"
	"jinr.ru/greenlab/go-sdds/pkg/sink"
	"jinr.ru/greenlab/go-sdds/pkg/srv/source"
	"jinr.ru/greenlab/go-sdds/pkg/srv/stream"
)

func NewRunCommand() *cobra.Command {
	var iface, address, output string
	var vlan uint16
	var port int
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Receive an SDDS stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed(InterfaceOptionName) {
				cfg.SourceConfig.Interface = iface
			}
			if flags.Changed(AddressOptionName) {
				cfg.SourceConfig.Address = address
			}
			if flags.Changed(VlanOptionName) {
				cfg.SourceConfig.Vlan = vlan
			}
			if flags.Changed(PortOptionName) {
				cfg.SourceConfig.Port = port
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			state, err := source.NewState(cfg.StateConfig.DBPath)
			if err != nil {
				return err
			}
			defer state.Close()

			var out stream.Sink = sink.NewLogSink()
			if output != "" {
				fileSink, err := sink.NewFileSink(output)
				if err != nil {
					return err
				}
				defer fileSink.Close()
				out = fileSink
				log.Info("Writing samples to %s", output)
			}

			server, err := source.NewSourceServer(ctx, cfg, sink.NewStateSink(out, state), state)
			if err != nil {
				return err
			}
			return server.Run()
		},
	}
	cmd.Flags().StringVar(&iface, InterfaceOptionName, "", "Interface name to attach to. E.g. eth0")
	cmd.Flags().StringVar(&address, AddressOptionName, "", fmt.Sprintf("Unicast or multicast address. E.g. %s", config.DefaultAddress))
	cmd.Flags().Uint16Var(&vlan, VlanOptionName, 0, "VLAN id, 0 for none")
	cmd.Flags().IntVar(&port, PortOptionName, 0, fmt.Sprintf("UDP port. E.g. %d", config.DefaultPort))
	cmd.Flags().StringVar(&output, OutputOptionName, "", "File to write samples to, blocks are only logged when empty")

	return cmd
}
