// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// panelProgress displays the number of panels of the QR factorization dispatched so far.
type panelProgress struct {
	bar    *progressbar.ProgressBar
	output *termenv.Output
}

func newPanelProgress(numPanels int) *panelProgress {
	output := termenv.NewOutput(os.Stderr)
	output.HideCursor()
	useColors := output.Profile != termenv.Ascii
	return &panelProgress{
		output: output,
		bar: progressbar.NewOptions(numPanels,
			progressbar.OptionSetDescription("[bold]QR panels[reset]"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionUseANSICodes(useColors),
			progressbar.OptionEnableColorCodes(useColors),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("panels"),
			progressbar.OptionSetTheme(progressbar.ThemeASCII),
		),
	}
}

// Update implements the progress function of linalg.QRBuilder.WithProgress.
func (p *panelProgress) Update(panel, _ int) {
	_ = p.bar.Set(panel)
}

// Done finishes the progress bar and restores the cursor.
func (p *panelProgress) Done() {
	_ = p.bar.Finish()
	p.output.ShowCursor()
	fmt.Fprintln(os.Stderr)
}
