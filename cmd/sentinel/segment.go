package main

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nvr-ai/sentinel/images"
	"github.com/nvr-ai/sentinel/logging"
	"github.com/nvr-ai/sentinel/segmentation"
)

var (
	segmentImage  string
	segmentPoints []string
	segmentOut    string
)

var segmentCmd = &cobra.Command{
	Use:     "segment",
	Short:   "Segment a still image around prompt points and write the masks and crops",
	Example: `  sentinel segment --image door.jpg --point 320,240 --point 40,40,- --out ./masks`,
	RunE:    runSegment,
}

func init() {
	segmentCmd.Flags().StringVarP(&segmentImage, "image", "i", "", "image to segment")
	segmentCmd.Flags().StringArrayVarP(&segmentPoints, "point", "p", nil, "prompt point x,y[,label]")
	segmentCmd.Flags().StringVarP(&segmentOut, "out", "o", ".", "output directory")
	_ = segmentCmd.MarkFlagRequired("image")
	_ = segmentCmd.MarkFlagRequired("point")
}

func runSegment(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	points, err := segmentation.ParsePoints(segmentPoints)
	if err != nil {
		return err
	}
	img, err := loadImage(segmentImage)
	if err != nil {
		return err
	}

	engine, err := newEngine(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer engine.Dispose()

	ctx := cmd.Context()
	mode, err := engine.Initialize(ctx)
	if err != nil {
		return err
	}
	if err := engine.EncodeImage(ctx, img); err != nil {
		return err
	}
	result, err := engine.Segment(ctx, img, points)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(segmentOut, 0o755); err != nil {
		return errors.Wrap(err, "create output directory")
	}
	for i, mask := range result.Masks {
		if err := writePNG(filepath.Join(segmentOut, fmt.Sprintf("mask_%d.png", i)), mask); err != nil {
			return err
		}
		if result.Crops[i] != nil {
			if err := writePNG(filepath.Join(segmentOut, fmt.Sprintf("crop_%d.png", i)), result.Crops[i]); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "mask %d: score %.3f\n", i, result.Scores[i])
	}

	logger.Info("segmentation complete",
		zap.String("mode", string(mode)),
		zap.Int("masks", result.Len()),
		zap.String("out", segmentOut),
	)
	return nil
}

func writePNG(path string, img image.Image) error {
	data, err := images.EncodePNG(img)
	if err != nil {
		return err
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "write %s", path)
}
