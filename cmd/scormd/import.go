package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/stefando/scormhost/internal/app"
	"github.com/stefando/scormhost/internal/logging"
	"github.com/stefando/scormhost/internal/upload"
)

// NewImportCommand publishes a local package archive without going through
// the HTTP API.
func NewImportCommand(fs afero.Fs, ctx context.Context, opts *rootOptions, logger *logging.Logger) *cobra.Command {
	return &cobra.Command{
		Use:     "import [block key] [archive.zip]",
		Aliases: []string{"i"},
		Example: "$ scormd import intro-course ./intro.zip",
		Short:   "Publish a SCORM package archive for a content block",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.build(ctx, fs, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			url, err := importArchive(ctx, a, fs, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		},
	}
}

// importArchive copies the archive into staging as a single whole upload and
// records the published URL on the block.
func importArchive(ctx context.Context, a *app.App, fs afero.Fs, key, archive string) (string, error) {
	f, err := fs.Open(archive)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", archive, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", archive, err)
	}
	a.Logger.Info("Importing package", "key", key, "archive", archive, "size", humanize.Bytes(uint64(info.Size())))

	settings, err := a.Status.Settings(ctx, key)
	if err != nil {
		return "", err
	}

	res, err := a.Uploads.Upload(ctx, upload.Request{
		Key:     key,
		Body:    f,
		Charset: settings.Encoding,
	})
	if err != nil {
		return "", err
	}

	if err := a.Status.RecordPackage(ctx, key, res.URL, filepath.Base(archive), time.Now().UTC()); err != nil {
		return "", err
	}
	return res.URL, nil
}
