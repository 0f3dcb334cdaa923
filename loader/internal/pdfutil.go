package internal

import (
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// cropHeaderFooter writes a copy of inputPath to outputPath with top and
// bottom margins cut from the crop box of every page. Margins are in
// points (1 pt = 1/72 inch).
func cropHeaderFooter(inputPath, outputPath string, top, bottom float64) error {
	conf := api.LoadConfiguration()

	box, err := model.ParseBox(fmt.Sprintf("%.2f 0 %.2f 0", top, bottom), types.POINTS)
	if err != nil {
		return fmt.Errorf("parse crop box: %w", err)
	}

	if err := api.CropFile(inputPath, outputPath, []string{"1-"}, box, conf); err != nil {
		return fmt.Errorf("crop pdf: %w", err)
	}
	return nil
}
