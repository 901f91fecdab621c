// File: internal/bot/download.go
package bot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/basketman23/suno-automation/internal/browser"
	"github.com/basketman23/suno-automation/internal/config"
	"github.com/basketman23/suno-automation/internal/locator"
	"github.com/basketman23/suno-automation/internal/status"
)

// Artifact is one downloaded variant of a finished song.
type Artifact struct {
	VariantIndex int
	Path         string
	Size         int64
}

// Retriever pulls the finished variants out of the song listing via
// the per-row context menu. Downloads arrive through browser events,
// named by GUID; the retriever renames them into stable filenames.
type Retriever struct {
	cfg      config.DownloadConfig
	surface  Surface
	interact Interactor
	resolver *locator.Resolver
	sink     status.Sink
	logger   *zap.Logger

	// interVariant paces consecutive downloads within one job.
	interVariant time.Duration

	// keyConfirmWait is how long the keyboard submenu path gets to
	// produce a download event before the click fallback runs.
	keyConfirmWait time.Duration
}

// NewRetriever wires an artifact retriever.
func NewRetriever(cfg config.DownloadConfig, surface Surface, interact Interactor, resolver *locator.Resolver, sink status.Sink, logger *zap.Logger) *Retriever {
	return &Retriever{
		cfg:            cfg,
		surface:        surface,
		interact:       interact,
		resolver:       resolver,
		sink:           sink,
		logger:         logger.Named("download"),
		interVariant:   3 * time.Second,
		keyConfirmWait: 5 * time.Second,
	}
}

// Fetch downloads up to variantCount artifacts for the job. A partial
// result with an error means some variants landed before one failed.
func (r *Retriever) Fetch(ctx context.Context, job JobRequest, variantCount int) ([]Artifact, error) {
	r.sink.Emit(status.New(status.StatusDownloading, "retrieving artifacts", map[string]any{
		"job_id": job.ID, "variants": variantCount,
	}))

	tagged, err := r.tagRows(ctx, variantCount)
	if err != nil {
		return nil, err
	}
	if tagged == 0 {
		return nil, fmt.Errorf("job %q: no listing rows to download from: %w", job.ID, locator.ErrNotFound)
	}
	if tagged < variantCount {
		r.logger.Warn("Fewer rows than expected variants",
			zap.String("job_id", job.ID),
			zap.Int("expected", variantCount),
			zap.Int("found", tagged),
		)
	}

	var artifacts []Artifact
	for i := 0; i < tagged; i++ {
		if i > 0 {
			if err := sleepCtx(ctx, r.interVariant); err != nil {
				return artifacts, err
			}
		}
		art, err := r.fetchVariant(ctx, job, i)
		if err != nil {
			return artifacts, fmt.Errorf("job %q variant %d: %w", job.ID, i, err)
		}
		artifacts = append(artifacts, art)
		r.sink.Emit(status.New(status.StatusArtifactSaved, "artifact saved", map[string]any{
			"job_id": job.ID, "variant": i, "path": art.Path, "size": art.Size,
		}))
	}
	return artifacts, nil
}

// tagRows marks the newest visible rows with an index attribute so
// each variant can be addressed by a plain selector. Visible order is
// the only row identity the page offers, so the tag is taken in one
// pass and reused for every interaction that follows.
func (r *Retriever) tagRows(ctx context.Context, count int) (int, error) {
	rowMatch, err := r.resolver.Resolve(ctx, locator.RoleListingRow)
	if err != nil {
		return 0, fmt.Errorf("locating listing rows: %w", err)
	}

	var tagged int
	if err := r.surface.Evaluate(ctx, tagRowsJS(rowMatch.Selector, count), &tagged); err != nil {
		if !r.surface.Alive() {
			return 0, ErrSessionLost
		}
		return 0, fmt.Errorf("tagging listing rows: %w", err)
	}
	return tagged, nil
}

// tagRowsJS builds the tagging expression. Hidden and zero-size rows
// are dropped before indexing: off-screen duplicate DOM entries would
// otherwise shift every index under the pointer.
func tagRowsJS(rowSelector string, count int) string {
	return fmt.Sprintf(`(() => {
		const visible = el => {
			const r = el.getBoundingClientRect();
			if (r.width === 0 || r.height === 0) return false;
			const cs = window.getComputedStyle(el);
			return cs.display !== 'none' && cs.visibility !== 'hidden';
		};
		document.querySelectorAll('[data-dl-target]').forEach(el => el.removeAttribute('data-dl-target'));
		const rows = Array.from(document.querySelectorAll(%s)).filter(visible).slice(0, %d);
		rows.forEach((row, i) => row.setAttribute('data-dl-target', String(i)));
		return rows.length;
	})()`, strconv.Quote(rowSelector), count)
}

// fetchVariant walks one row's menu chain and captures the resulting
// download.
func (r *Retriever) fetchVariant(ctx context.Context, job JobRequest, index int) (Artifact, error) {
	rowSel := fmt.Sprintf(`[data-dl-target="%d"]`, index)

	if err := r.interact.ScrollIntoView(ctx, rowSel); err != nil {
		return Artifact{}, fmt.Errorf("scrolling to row: %w", err)
	}
	// Menu triggers are hover-revealed.
	if err := r.interact.Hover(ctx, rowSel); err != nil {
		return Artifact{}, fmt.Errorf("hovering row: %w", err)
	}
	if err := r.clickScoped(ctx, rowSel, locator.RoleRowMenuTrigger); err != nil {
		return Artifact{}, fmt.Errorf("opening row menu: %w", err)
	}

	// Menus render in a portal at the document root, so the remaining
	// items resolve globally, not under the row.
	dl, err := r.resolver.Resolve(ctx, locator.RoleDownloadMenuItem)
	if err != nil {
		return Artifact{}, fmt.Errorf("locating download menu item: %w", err)
	}
	if err := r.interact.Click(ctx, dl.Selector); err != nil {
		return Artifact{}, fmt.Errorf("clicking download menu item: %w", err)
	}

	// Register before confirming or the completion event races us.
	downloads, cancelWait := r.surface.AwaitDownload()
	defer cancelWait()

	// Keyboard confirmation first: pointer travel across a floating
	// submenu closes it more often than not.
	if err := r.interact.PressKeys(ctx, kb.ArrowRight, kb.Enter); err != nil {
		r.logger.Debug("Keyboard submenu confirmation failed", zap.Error(err))
	}
	if d, ok := r.tryAwait(ctx, downloads, r.keyConfirmWait); ok {
		return r.finalize(ctx, job, index, d)
	}

	// No download event from the keyboard path; click the format item.
	format, err := r.resolver.Resolve(ctx, locator.RoleDownloadFormatItem)
	if err != nil {
		return Artifact{}, fmt.Errorf("locating format item: %w", err)
	}
	if err := r.interact.Click(ctx, format.Selector); err != nil {
		// Submenu items can be too transient for pointer travel; fall
		// back to a synthetic click.
		r.logger.Debug("Pointer click on format item failed, using synthetic click", zap.Error(err))
		js := fmt.Sprintf(`(() => {
			const el = document.querySelector(%s);
			if (!el) return false;
			el.click();
			return true;
		})()`, strconv.Quote(format.Selector))
		var ok bool
		if evalErr := r.surface.Evaluate(ctx, js, &ok); evalErr != nil || !ok {
			return Artifact{}, fmt.Errorf("clicking format item: %w", err)
		}
	}

	d, err := r.awaitDownload(ctx, downloads)
	if err != nil {
		return Artifact{}, err
	}
	return r.finalize(ctx, job, index, d)
}

// tryAwait waits briefly for a download event without failing the
// variant when none arrives.
func (r *Retriever) tryAwait(ctx context.Context, downloads <-chan browser.Download, window time.Duration) (browser.Download, bool) {
	select {
	case d, ok := <-downloads:
		if !ok {
			return browser.Download{}, false
		}
		return d, true
	case <-time.After(window):
		return browser.Download{}, false
	case <-ctx.Done():
		return browser.Download{}, false
	}
}

// clickScoped tries each candidate for the role scoped under the
// parent selector until one click lands.
func (r *Retriever) clickScoped(ctx context.Context, parentSel string, role locator.Role) error {
	var lastErr error
	for _, cand := range r.resolver.CandidatesFor(role) {
		scoped := parentSel + " " + cand
		if err := r.interact.Click(ctx, scoped); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr == nil {
		lastErr = locator.ErrNotFound
	}
	return lastErr
}

func (r *Retriever) awaitDownload(ctx context.Context, downloads <-chan browser.Download) (browser.Download, error) {
	timeout := r.cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	select {
	case d, ok := <-downloads:
		if !ok {
			return browser.Download{}, fmt.Errorf("download channel closed: %w", ErrSessionLost)
		}
		return d, nil
	case <-time.After(timeout):
		r.surface.Screenshot("download-timeout")
		return browser.Download{}, fmt.Errorf("no download completed within %s", timeout)
	case <-ctx.Done():
		return browser.Download{}, ctx.Err()
	}
}

// finalize validates the downloaded file and moves it to its stable
// name. The stat retries cover the gap between the completion event
// and the file landing on disk.
func (r *Retriever) finalize(ctx context.Context, job JobRequest, index int, d browser.Download) (Artifact, error) {
	var size int64
	err := retry.Do(
		func() error {
			info, err := os.Stat(d.Path)
			if err != nil {
				return err
			}
			size = info.Size()
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(5),
		retry.Delay(200*time.Millisecond),
	)
	if err != nil {
		return Artifact{}, fmt.Errorf("downloaded file never appeared at %s: %w", d.Path, err)
	}
	if size == 0 {
		_ = os.Remove(d.Path)
		return Artifact{}, ErrEmptyArtifact
	}

	dest := filepath.Join(r.cfg.Dir, artifactName(job.Title, index, d.SuggestedFilename))
	if err := os.Rename(d.Path, dest); err != nil {
		return Artifact{}, fmt.Errorf("moving artifact into place: %w", err)
	}

	r.logger.Info("Artifact saved",
		zap.String("job_id", job.ID),
		zap.Int("variant", index),
		zap.String("path", dest),
		zap.Int64("size", size),
	)
	return Artifact{VariantIndex: index, Path: dest, Size: size}, nil
}

// artifactName builds a deterministic filename from the title, variant
// index and timestamp. The extension follows the browser's suggestion
// when it has one.
func artifactName(title string, index int, suggested string) string {
	base := sanitizeFilename(title)
	if base == "" {
		base = "untitled"
	}
	ext := filepath.Ext(suggested)
	if ext == "" {
		ext = ".mp3"
	}
	return fmt.Sprintf("%s-v%d-%s%s", base, index+1, time.Now().Format("20060102-150405"), ext)
}

// sanitizeFilename keeps the title recognizable while staying safe on
// every filesystem.
func sanitizeFilename(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	var b strings.Builder
	lastDash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
