package vfs

import (
	"path/filepath"
	"strings"
)

// Translator maps paths as seen by mount clients onto the backing repository.
type Translator struct {
	root string
}

func NewTranslator(root string) *Translator {
	return &Translator{root: filepath.Clean(root)}
}

func (t *Translator) Root() string { return t.root }

// Translate returns the backing path for clientPath. Empty stays empty and
// paths already under the repository are returned unchanged, so
// Translate(Translate(p)) == Translate(p). The prefix only counts at a path
// component boundary: with root /srv, /srvfoo is still a client path.
func (t *Translator) Translate(clientPath string) string {
	if clientPath == "" {
		return ""
	}
	if t.within(clientPath) {
		return clientPath
	}
	return collapseSeparators(t.root + "/" + clientPath)
}

func (t *Translator) within(p string) bool {
	if !strings.HasPrefix(p, t.root) {
		return false
	}
	rest := p[len(t.root):]
	return rest == "" || rest[0] == '/' || strings.HasSuffix(t.root, "/")
}

func collapseSeparators(p string) string {
	if !strings.Contains(p, "//") {
		return p
	}
	var b strings.Builder
	b.Grow(len(p))
	prevSep := false
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c == '/' {
			if prevSep {
				continue
			}
			prevSep = true
		} else {
			prevSep = false
		}
		b.WriteByte(c)
	}
	return b.String()
}
