package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	httpserver "github.com/fyrsmithlabs/mediasearch/internal/http"
)

var (
	uploadSKU string
	linkSKU   string
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a product image or video",
	Long: `Upload a product image or video. The file is validated, stored and
queued for embedding.

Examples:
  mediactl upload --sku CHAIR-01 chair.jpg`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

var reprocessCmd = &cobra.Command{
	Use:   "reprocess <media-id>",
	Short: "Queue a media asset for a new embedding attempt",
	Args:  cobra.ExactArgs(1),
	RunE:  runReprocess,
}

var linkCmd = &cobra.Command{
	Use:   "link <media-id>",
	Short: "Attach a media asset to a product",
	Long: `Attach a media asset to the product with the given SKU. Without --sku
the SKU the media was uploaded under is used, which links uploads made
before their product existed.

Examples:
  mediactl link 3f1c9a2e-...
  mediactl link --sku CHAIR-02 3f1c9a2e-...`,
	Args: cobra.ExactArgs(1),
	RunE: runLink,
}

var mediaCmd = &cobra.Command{
	Use:   "media <media-id>",
	Short: "Show a media asset and its processing state",
	Args:  cobra.ExactArgs(1),
	RunE:  runMedia,
}

func init() {
	uploadCmd.Flags().StringVar(&uploadSKU, "sku", "", "product SKU the media belongs to")
	_ = uploadCmd.MarkFlagRequired("sku")

	linkCmd.Flags().StringVar(&linkSKU, "sku", "", "product SKU to link (defaults to the upload SKU)")

	rootCmd.AddCommand(uploadCmd, reprocessCmd, linkCmd, mediaCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	body, contentType, err := fileForm(args[0], map[string]string{"sku": uploadSKU})
	if err != nil {
		return err
	}

	var resp httpserver.UploadResponse
	if err := doJSON(http.MethodPost, "/api/v1/media/upload", body, contentType, &resp); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Media ID: %s\n", resp.MediaID)
	fmt.Fprintf(out, "Kind:     %s\n", resp.Kind)
	fmt.Fprintf(out, "Status:   %s\n", resp.Status)
	fmt.Fprintf(out, "Key:      %s\n", resp.Key)
	if resp.HasThumbnail {
		fmt.Fprintf(out, "Thumb:    %s\n", resp.ThumbnailKey)
	}
	return nil
}

func runReprocess(cmd *cobra.Command, args []string) error {
	var resp httpserver.ReprocessResponse
	path := "/api/v1/media/" + url.PathEscape(args[0]) + "/reprocess"
	if err := doJSON(http.MethodPost, path, nil, "", &resp); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s (status %s, attempt %d)\n", resp.Message, resp.Media.Status, resp.Media.Attempt)
	return nil
}

func runLink(cmd *cobra.Command, args []string) error {
	body, err := json.Marshal(httpserver.LinkRequest{SKU: linkSKU})
	if err != nil {
		return err
	}

	var resp httpserver.LinkResponse
	path := "/api/v1/media/" + url.PathEscape(args[0]) + "/link"
	if err := doJSON(http.MethodPost, path, bytes.NewReader(body), "application/json", &resp); err != nil {
		return err
	}
	if resp.Media == nil || resp.Media.ProductID == nil {
		return fmt.Errorf("server returned no linked product")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Linked %s to product %s\n", resp.Media.ID, *resp.Media.ProductID)
	return nil
}

func runMedia(cmd *cobra.Command, args []string) error {
	var resp httpserver.MediaResponse
	if err := doJSON(http.MethodGet, "/api/v1/media/"+url.PathEscape(args[0]), nil, "", &resp); err != nil {
		return err
	}
	if resp.Media == nil || resp.Media.MediaAsset == nil {
		return fmt.Errorf("server returned no media")
	}

	m := resp.Media
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Media ID: %s\n", m.ID)
	if m.ProductID != nil {
		fmt.Fprintf(out, "Product:  %s\n", *m.ProductID)
	}
	fmt.Fprintf(out, "Kind:     %s\n", m.Kind)
	fmt.Fprintf(out, "Status:   %s (attempt %d)\n", m.Status, m.Attempt)
	if m.Error != "" {
		fmt.Fprintf(out, "Error:    %s\n", m.Error)
	}
	fmt.Fprintf(out, "URL:      %s\n", m.URL)
	return nil
}
