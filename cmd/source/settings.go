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
	"github.com/spf13/cobra"

	"jinr.ru/greenlab/go-sdds/pkg/command"
	"jinr.ru/greenlab/go-sdds/pkg/config"
	"jinr.ru/greenlab/go-sdds/pkg/srv/source"
)

func NewSettingsCommand() *cobra.Command {
	var pushOnTTV, waitOnTTV bool
	var endianness string
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change runtime settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient := command.NewApiClient(cfg)
			flags := cmd.Flags()
			var update source.SettingsUpdate
			changed := false
			if flags.Changed(PushOnTTVOptionName) {
				update.PushOnTTV = &pushOnTTV
				changed = true
			}
			if flags.Changed(WaitOnTTVOptionName) {
				update.WaitOnTTV = &waitOnTTV
				changed = true
			}
			if flags.Changed(EndiannessOptionName) {
				update.Endianness = &endianness
				changed = true
			}
			var settings *source.Settings
			var err error
			if changed {
				settings, err = apiClient.UpdateSettings(update)
			} else {
				settings, err = apiClient.Settings()
			}
			if err != nil {
				return err
			}
			return printYaml(cmd.OutOrStdout(), settings)
		},
	}
	cmd.Flags().BoolVar(&pushOnTTV, PushOnTTVOptionName, false, "Push a block whenever the time tag valid flag changes")
	cmd.Flags().BoolVar(&waitOnTTV, WaitOnTTVOptionName, false, "Drop packets until the time tag is valid")
	cmd.Flags().StringVar(&endianness, EndiannessOptionName, "", "Payload byte order, 4321 or 1234")
	return cmd
}
