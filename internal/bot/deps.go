// File: internal/bot/deps.go
package bot

import (
	"context"

	"github.com/basketman23/suno-automation/internal/browser"
	"github.com/basketman23/suno-automation/internal/humanoid"
)

// Surface is the slice of the live browser session the bot drives.
// Production backs it with *browser.Manager; tests script it.
type Surface interface {
	Navigate(url string) error
	CurrentURL() (string, error)
	Reload() error
	Alive() bool
	Screenshot(label string)
	Evaluate(ctx context.Context, expr string, res interface{}) error
	AwaitDownload() (<-chan browser.Download, func())
}

var _ Surface = (*browser.Manager)(nil)

// Interactor performs pointer and keyboard interaction against CSS
// selectors. Production backs it with *humanoid.Humanoid.
type Interactor interface {
	Click(ctx context.Context, selector string) error
	Hover(ctx context.Context, selector string) error
	Type(ctx context.Context, selector string, text string) error
	PressKeys(ctx context.Context, keys ...string) error
	ScrollIntoView(ctx context.Context, selector string) error
}

var _ Interactor = (*humanoid.Humanoid)(nil)
