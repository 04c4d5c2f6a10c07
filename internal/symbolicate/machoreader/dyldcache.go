package machoreader

import (
	"fmt"

	"github.com/blacktop/go-macho/pkg/dyld"

	"github.com/manu343726/symctl/internal/symbolicate/debugid"
)

// OpenDyldCacheImage opens cachePath as a dyld shared cache, locates the
// image at dylibPath, and returns a File view over it. The returned closer
// releases the cache mapping and must be called once the caller is done
// with the File — section and symbol reads go through the cache lazily.
// No cache slide is applied: symbol addresses and the relative base are
// the image's unslid VM addresses, taken relative to its __TEXT segment
// as for a standalone Mach-O.
func OpenDyldCacheImage(cachePath, dylibPath string) (*File, func() error, error) {
	cache, err := dyld.Open(cachePath)
	if err != nil {
		return nil, nil, fmt.Errorf("machoreader: opening dyld cache %s: %w", cachePath, err)
	}

	image := cache.Image(dylibPath)
	if image == nil {
		cache.Close()
		return nil, nil, fmt.Errorf("machoreader: image %s not found in dyld cache %s", dylibPath, cachePath)
	}

	mf, err := image.GetMacho()
	if err != nil {
		cache.Close()
		return nil, nil, fmt.Errorf("machoreader: parsing image %s from dyld cache: %w", dylibPath, err)
	}

	f, err := wrap(mf)
	if err != nil {
		cache.Close()
		return nil, nil, err
	}

	id := debugid.Nil
	if u := mf.UUID(); u != nil {
		var raw [16]byte
		copy(raw[:], u.UUID[:])
		id = debugid.New(raw, 0)
	}
	f.DebugId = id
	return f, cache.Close, nil
}
