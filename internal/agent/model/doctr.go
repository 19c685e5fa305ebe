package model

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/kennethnrk/edgernetes-inference/internal/common/modelid"
)

// DocTR model identities and the file names the OCR runtime looks for.
var (
	DocTRDetectionID   = modelid.MustParse("doctr_det/db_resnet50")
	DocTRRecognitionID = modelid.MustParse("doctr_rec/crnn_vgg16_bn")
)

const (
	doctrDetectionFile   = "db_resnet50-ac60cadc.pt"
	doctrRecognitionFile = "crnn_vgg16_bn-9762b0b0.pt"
)

// DocTR pairs the text detection and recognition models of the OCR runtime.
type DocTR struct {
	Detection   *CoreModel
	Recognition *CoreModel
	// CacheDir is the directory the OCR runtime reads pretrained weights from.
	CacheDir string
}

// LoadDocTR fetches both DocTR models and stages their weights where the OCR
// runtime expects pretrained checkpoints.
func (l *Loader) LoadDocTR(ctx context.Context, opts LoadOptions) (*DocTR, error) {
	det, err := l.LoadCore(ctx, DocTRDetectionID, Core{}, opts)
	if err != nil {
		return nil, err
	}
	rec, err := l.LoadCore(ctx, DocTRRecognitionID, Core{}, opts)
	if err != nil {
		return nil, err
	}

	if err := l.stage(det.WeightsPath(), DocTRDetectionID.DatasetID, doctrDetectionFile); err != nil {
		return nil, err
	}
	if err := l.stage(rec.WeightsPath(), DocTRRecognitionID.DatasetID, doctrRecognitionFile); err != nil {
		return nil, err
	}
	return &DocTR{
		Detection:   det,
		Recognition: rec,
		CacheDir:    filepath.Join(l.store.Root(), DocTRRecognitionID.DatasetID),
	}, nil
}

// stage copies the cached weights at src into <root>/<dataset>/models/name.
func (l *Loader) stage(src, dataset, name string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	dst := modelid.ID{DatasetID: dataset, VersionID: "models"}
	if _, err := l.store.SaveFrom(dst, name, in); err != nil {
		return fmt.Errorf("stage %s: %w", name, err)
	}
	logrus.WithField("path", l.store.Path(dst, name)).Debug("Staged OCR weights")
	return nil
}
