package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/Lllllllleong/flipbookflow/internal/localfs"
	"github.com/Lllllllleong/flipbookflow/internal/models"
	"github.com/Lllllllleong/flipbookflow/internal/render"
	"github.com/Lllllllleong/flipbookflow/internal/services"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	renderPDFPath     string
	renderOutDir      string
	renderBaseURL     string
	renderUserID      string
	renderDocumentID  string
	renderScale       float64
	renderQuality     int
	renderMaxPages    int
	renderConcurrency int
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render a local PDF into flipbook pages",
	Long: `Render a PDF from disk with the same engine the converter uses and write the
page images under --out using the bucket layout documents/{user}/{document}/pages/.`,
	RunE: runRender,
}

func init() {
	defaults := services.DefaultEngineConfig()
	renderCmd.Flags().StringVarP(&renderPDFPath, "pdf", "p", "", "path to the PDF file (required)")
	renderCmd.Flags().StringVarP(&renderOutDir, "out", "o", "flipbook-out", "output directory")
	renderCmd.Flags().StringVar(&renderBaseURL, "base-url", "", "URL prefix for page links (defaults to file:// URLs)")
	renderCmd.Flags().StringVar(&renderUserID, "user", "local", "user ID used in object paths")
	renderCmd.Flags().StringVar(&renderDocumentID, "document", "", "document ID used in object paths (random when empty)")
	renderCmd.Flags().Float64Var(&renderScale, "scale", defaults.Scale, "render scale relative to 72 DPI")
	renderCmd.Flags().IntVar(&renderQuality, "quality", defaults.Quality, "JPEG quality 1-100")
	renderCmd.Flags().IntVar(&renderMaxPages, "max-pages", defaults.MaxPages, "reject documents with more pages, 0 disables")
	renderCmd.Flags().IntVar(&renderConcurrency, "concurrency", defaults.Concurrency, "pages rendered in parallel")
	_ = renderCmd.MarkFlagRequired("pdf")
	rootCmd.AddCommand(renderCmd)
}

func runRender(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg := services.EngineConfig{
		Scale:       renderScale,
		Quality:     renderQuality,
		MaxPages:    renderMaxPages,
		Concurrency: renderConcurrency,
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	pdf, err := os.ReadFile(renderPDFPath)
	if err != nil {
		return fmt.Errorf("read pdf: %w", err)
	}
	if renderDocumentID == "" {
		renderDocumentID = strings.ReplaceAll(uuid.NewString(), "-", "")
	}

	store := localfs.NewDirStore(renderOutDir, renderBaseURL)
	source := models.UploadPath(services.UploadPrefixFromEnv(), renderUserID, renderDocumentID)
	if err := store.Put(ctx, source, pdf, "application/pdf", ""); err != nil {
		return err
	}
	defer store.Delete(context.Background(), source)

	engine := services.NewLocalEngine(
		func(string) services.ObjectStore { return store },
		render.NewFitzRasterizer(),
		render.NewJPEGEncoder(),
		cfg,
	)
	res, err := engine.Convert(ctx, models.ConversionJob{
		DocumentID: renderDocumentID,
		UserID:     renderUserID,
		Source:     models.SourceRef{Bucket: filepath.Base(renderOutDir), Path: source},
	})
	if err != nil {
		if page := services.ErrorPage(err); page > 0 {
			return fmt.Errorf("%s on page %d: %w", services.ErrorKind(err), page, err)
		}
		return fmt.Errorf("%s: %w", services.ErrorKind(err), err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "document %s: %d pages\n", renderDocumentID, res.PageCount)
	for i, url := range res.PageURLs {
		fmt.Fprintf(out, "%3d  %s\n", i+1, url)
	}
	return nil
}
