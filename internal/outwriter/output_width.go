package outwriter

import (
	"os"

	"github.com/huangsam/defectrisk/internal/contract"
	"golang.org/x/term"
)

// getMaxTablePathWidth calculates the maximum width for file paths in table output
// based on terminal width and table configuration.
func getMaxTablePathWidth(cfg *contract.Config) int {
	var termWidth int

	// Check for absolute width override from flag/env
	if cfg.Width > 0 {
		termWidth = cfg.Width
	}

	if termWidth == 0 { // Not set by override
		detectedWidth, _, err := term.GetSize(int(os.Stdout.Fd()))
		if err != nil || detectedWidth <= 0 {
			termWidth = 80 // Conservative default for narrow terminals and CI
		} else {
			termWidth = detectedWidth
		}
	}

	// Rank + Probability + Label with borders/padding, plus separators
	baseWidth := 30 + 20

	available := termWidth - baseWidth
	if available < 15 {
		return 15
	}
	if available > 80 {
		return 80
	}
	return available
}
