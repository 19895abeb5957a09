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
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"jinr.ru/greenlab/go-sdds/pkg/command"
	"jinr.ru/greenlab/go-sdds/pkg/config"
	"jinr.ru/greenlab/go-sdds/pkg/srv/source"
	"jinr.ru/greenlab/go-sdds/pkg/srv/stream"
)

func NewMetadataCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metadata",
		Short: "Manage upstream metadata",
	}
	cmd.AddCommand(NewMetadataShowCommand())
	cmd.AddCommand(NewMetadataSetCommand())
	cmd.AddCommand(NewMetadataClearCommand())
	cmd.AddCommand(NewMetadataListCommand())
	return cmd
}

func NewMetadataShowCommand() *cobra.Command {
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print upstream metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient := command.NewApiClient(cfg)
			md, err := apiClient.Metadata()
			if err != nil {
				return err
			}
			if md == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "No upstream metadata")
				return nil
			}
			return printYaml(cmd.OutOrStdout(), md)
		},
	}
	return cmd
}

// parseKeywords converts id=value pairs
func parseKeywords(pairs []string) ([]stream.Keyword, error) {
	var keywords []stream.Keyword
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("wrong keyword %q, must be id=value", pair)
		}
		keywords = append(keywords, stream.Keyword{ID: parts[0], Value: parts[1]})
	}
	return keywords, nil
}

func NewMetadataSetCommand() *cobra.Command {
	var streamID, endianness string
	var xdelta float64
	var complex, priority bool
	var pairs []string
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set upstream metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			keywords, err := parseKeywords(pairs)
			if err != nil {
				return err
			}
			md := stream.DefaultMetadata(streamID)
			md.XDelta = xdelta
			if complex {
				md.Mode = stream.ModeComplex
			}
			if priority {
				keywords = append(keywords, stream.Keyword{ID: stream.KeywordSRIPriority, Value: "1"})
			}
			if endianness != "" {
				if _, err := stream.ParseByteOrder(endianness); err != nil {
					return err
				}
				keywords = append(keywords, stream.Keyword{ID: stream.KeywordDataRef, Value: endianness})
			}
			md.Keywords = keywords
			apiClient := command.NewApiClient(cfg)
			return apiClient.SetMetadata(md)
		},
	}
	cmd.Flags().StringVar(&streamID, StreamIDOptionName, "", "Stream id")
	cmd.Flags().Float64Var(&xdelta, XDeltaOptionName, 0, "Seconds between samples")
	cmd.Flags().BoolVar(&complex, ComplexOptionName, false, "Samples are complex")
	cmd.Flags().BoolVar(&priority, PriorityOptionName, false, "Upstream values win over values derived from packets")
	cmd.Flags().StringVar(&endianness, EndiannessOptionName, "", "Payload byte order, 4321 or 1234")
	cmd.Flags().StringArrayVar(&pairs, KeywordOptionName, nil, "Keyword id=value, may be repeated")
	return cmd
}

func NewMetadataClearCommand() *cobra.Command {
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove upstream metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient := command.NewApiClient(cfg)
			return apiClient.ClearMetadata()
		},
	}
	return cmd
}

func NewMetadataListCommand() *cobra.Command {
	var db string
	cfg := config.NewDefaultConfig()
	cfg.Load()
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List metadata pushed downstream",
		RunE: func(cmd *cobra.Command, args []string) error {
			var records []source.MetadataRecord
			var err error
			if db != "" {
				state, err := source.OpenStateReadOnly(db)
				if err != nil {
					return err
				}
				defer state.Close()
				records, err = state.MetadataHistory()
				if err != nil {
					return err
				}
			} else {
				apiClient := command.NewApiClient(cfg)
				records, err = apiClient.MetadataHistory()
				if err != nil {
					return err
				}
			}
			return printYaml(cmd.OutOrStdout(), records)
		},
	}
	cmd.Flags().StringVar(&db, DBOptionName, "", "Read a state database instead of asking the running source")
	return cmd
}
