package enrich

import (
	"context"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/mirrorlab/sitemirror/internal/crawler"
)

// Filler backfills generated alt text onto stored images whose original
// alt text is missing or too generic to be useful.
type Filler struct {
	store  crawler.AssetStore
	gen    Generator
	logger *zap.Logger
}

// NewFiller creates a Filler. With a nil or unavailable generator Backfill
// is a no-op.
func NewFiller(store crawler.AssetStore, gen Generator, logger *zap.Logger) *Filler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filler{store: store, gen: gen, logger: logger}
}

// Backfill regenerates alt text for the given asset hashes. Failures on
// individual images are logged and skipped; only cancellation aborts.
func (f *Filler) Backfill(ctx context.Context, hashes []string) error {
	if f.store == nil || f.gen == nil || !f.gen.Available() {
		return nil
	}
	for _, hash := range hashes {
		if err := ctx.Err(); err != nil {
			return err
		}
		asset, ok := f.store.Lookup(hash)
		if !ok || asset.Kind != crawler.AssetKindImage {
			continue
		}
		if !isGenericAltText(asset.AltText) {
			continue
		}
		image, err := os.ReadFile(asset.LocalPath)
		if err != nil {
			f.logger.Debug("alt text source unreadable", zap.String("hash", hash), zap.Error(err))
			continue
		}
		text, err := f.gen.AltText(ctx, image)
		if err != nil {
			f.logger.Warn("alt text generation failed", zap.String("hash", hash), zap.Error(err))
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if err := f.store.SetAltText(hash, text, crawler.AltTextGenerated); err != nil {
			f.logger.Warn("alt text update failed", zap.String("hash", hash), zap.Error(err))
		}
	}
	return nil
}

// genericAltTerms are alt texts that describe nothing.
var genericAltTerms = map[string]struct{}{
	"bild": {}, "image": {}, "foto": {}, "photo": {}, "picture": {}, "img": {},
	"icon": {}, "logo": {}, "banner": {}, "header": {}, "footer": {},
}

var filenameShapedAlt = regexp.MustCompile(`^[a-z0-9_\-]+\.(jpg|jpeg|png|gif|webp)$`)

// isGenericAltText reports whether an alt text carries no real information:
// empty, very short, a stock term, a bare filename, or one or two words
// with no context.
func isGenericAltText(alt string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(alt))
	if trimmed == "" {
		return true
	}
	if utf8.RuneCountInString(trimmed) < 5 {
		return true
	}
	if _, generic := genericAltTerms[trimmed]; generic {
		return true
	}
	if filenameShapedAlt.MatchString(trimmed) {
		return true
	}
	if words := strings.Fields(trimmed); len(words) <= 2 && utf8.RuneCountInString(trimmed) < 20 {
		return true
	}
	return false
}
