package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zerfoo/zskl/pkg/downloader"
)

func newDownloadCmd(a *app) *cobra.Command {
	var modelID, output, apiKey string
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download estimator documents from the HuggingFace Hub",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if modelID == "" {
				return fmt.Errorf("--model flag is required for 'download' command")
			}
			if apiKey == "" {
				apiKey = a.cfg.HuggingFaceToken
			}
			source := downloader.NewHuggingFaceSource(
				downloader.WithAPIURL(a.cfg.HuggingFaceAPIURL),
				downloader.WithCDNURL(a.cfg.HuggingFaceCDNURL),
				downloader.WithToken(apiKey),
			)
			d := downloader.NewDownloader(source)

			fmt.Fprintf(cmd.OutOrStdout(), "Downloading model '%s' to '%s'...\n", modelID, output)
			result, err := d.Download(cmd.Context(), modelID, output)
			if err != nil {
				return err
			}
			a.logger.Info("downloaded model", "model", modelID, "documents", len(result.DocumentPaths))
			fmt.Fprintln(cmd.OutOrStdout(), "Downloaded estimator documents:")
			for _, p := range result.DocumentPaths {
				fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", p)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&modelID, "model", "", "HuggingFace model ID (e.g., 'org/estimator')")
	cmd.Flags().StringVar(&output, "output", ".", "Output directory for downloaded files")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Optional HuggingFace API key (default $HF_API_KEY)")
	return cmd
}
