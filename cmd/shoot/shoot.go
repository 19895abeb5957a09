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

package shoot

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"jinr.ru/greenlab/go-sdds/pkg/config"
	"jinr.ru/greenlab/go-sdds/pkg/log"
	"jinr.ru/greenlab/go-sdds/pkg/shooter"
)

const (
	AddressOptionName       = "address"
	PortOptionName          = "port"
	PacketRateOptionName    = "packet-rate"
	SampleRateOptionName    = "sample-rate"
	BitsPerSampleOptionName = "bits-per-sample"
	ComplexOptionName       = "complex"
	CountOptionName         = "count"
	TTVToggleOptionName     = "ttv-toggle"
	NonConformingOptionName = "non-conforming"
	StartSeqOptionName      = "start-seq"
)

func NewCommand() *cobra.Command {
	cfg := config.NewDefaultConfig()
	cfg.Load()
	shooterCfg := shooter.Config{
		Address:       cfg.SourceConfig.Address,
		Port:          cfg.SourceConfig.Port,
		SampleRate:    shooter.DefaultSampleRate,
		BitsPerSample: shooter.DefaultBitsPerSample,
	}
	cmd := &cobra.Command{
		Use:   "shoot",
		Short: "Send a synthetic SDDS stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			s, err := shooter.NewShooter(shooterCfg)
			if err != nil {
				return err
			}
			defer s.Close()
			err = s.Run(ctx)
			log.Info("Sent %d packets", s.Sent())
			return err
		},
	}
	cmd.Flags().StringVar(&shooterCfg.Address, AddressOptionName, shooterCfg.Address, "Destination address")
	cmd.Flags().IntVar(&shooterCfg.Port, PortOptionName, shooterCfg.Port, "Destination port")
	cmd.Flags().Float64Var(&shooterCfg.PacketRate, PacketRateOptionName, 0, "Packets per second, 0 for no pacing")
	cmd.Flags().Float64Var(&shooterCfg.SampleRate, SampleRateOptionName, shooterCfg.SampleRate, "Declared sample rate")
	cmd.Flags().IntVar(&shooterCfg.BitsPerSample, BitsPerSampleOptionName, shooterCfg.BitsPerSample, "Bits per sample, 8 16 or 32")
	cmd.Flags().BoolVar(&shooterCfg.Complex, ComplexOptionName, false, "Send complex samples")
	cmd.Flags().IntVar(&shooterCfg.Count, CountOptionName, 0, "Packets to send, 0 until interrupted")
	cmd.Flags().IntVar(&shooterCfg.TTVTogglePeriod, TTVToggleOptionName, 0, "Flip the time tag valid flag every that many packets")
	cmd.Flags().BoolVar(&shooterCfg.NonConforming, NonConformingOptionName, false, "Time tags advance at twice the declared rate")
	cmd.Flags().Uint16Var(&shooterCfg.StartSeq, StartSeqOptionName, 0, "First sequence number")
	return cmd
}
