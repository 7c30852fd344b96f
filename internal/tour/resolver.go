package tour

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
)

var ErrAssetNotFound = errors.New("asset not found")

// AssetResolver turns a stop's audio or image reference into something a
// player can open: a local path or an absolute URL.
type AssetResolver interface {
	Resolve(ref string) (string, error)
}

// DirResolver resolves relative references against a tour folder. Absolute
// http(s) references pass through unchanged.
type DirResolver struct {
	Dir string
}

func (r DirResolver) Resolve(ref string) (string, error) {
	if u, err := url.Parse(ref); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return ref, nil
	}
	if ref == "" {
		return "", ErrAssetNotFound
	}

	// Clean against a rooted path so references cannot escape the folder.
	path := filepath.Join(r.Dir, filepath.Clean("/"+ref))
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("resolving %q: %w", ref, ErrAssetNotFound)
	}
	return path, nil
}
