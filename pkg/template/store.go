// Package template loads reference images recursively from a directory
// into a name-keyed cache, extracting alpha masks and generating
// rotation/flip siblings for orientation-dependent detectors. Reload
// rebuilds the cache fully before an atomic swap, so readers never see a
// partial rebuild.
package template

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/disintegration/imaging"

	ximaging "github.com/questbot/engine/pkg/imaging"
	"github.com/questbot/engine/pkg/logger"
	"github.com/questbot/engine/pkg/model"
)

// Variant suffixes generated for orientation-dependent templates.
// The rotation angle (117deg) is fixed and empirical; no other angles are
// synthesized.
const (
	VariantNormal  = ""
	VariantFlipH   = ":flip_h"
	VariantFlipV   = ":flip_v"
	VariantFlipHV  = ":flip_hv"
	VariantRotCW   = ":rot_cw117"
	rotationAngle  = -117 // imaging.Rotate takes counter-clockwise degrees
)

var OrientationVariants = []string{VariantNormal, VariantFlipH, VariantFlipV, VariantFlipHV, VariantRotCW}

// Store is the loaded, cached set of templates. Safe for concurrent reads;
// Reload swaps the whole cache atomically so readers never see a partial
// rebuild.
type Store struct {
	mu   sync.RWMutex
	root string
	// generateOrientations lists exact template names (e.g. "icons/tutorial_finger")
	// for which rotation/flip siblings should be generated at load time.
	generateOrientations []string
	cache                map[string]model.Template
}

// NewStore loads every template under root recursively and returns the
// populated store. orientationPrefixes names templates that need
// rotation/flip siblings generated (others load as a single normal variant).
func NewStore(root string, orientationPrefixes []string) *Store {
	s := &Store{root: root, generateOrientations: orientationPrefixes}
	s.reloadInto()
	return s
}

func (s *Store) needsOrientations(name string) bool {
	for _, p := range s.generateOrientations {
		if name == p {
			return true
		}
	}
	return false
}

// Reload rescans the template directory and atomically swaps the cache.
func (s *Store) Reload() {
	s.reloadInto()
}

func (s *Store) reloadInto() {
	cache := make(map[string]model.Template)

	if info, err := os.Stat(s.root); err != nil || !info.IsDir() {
		logger.WarnCF("template", "template directory not found", map[string]interface{}{"root": s.root})
		s.mu.Lock()
		s.cache = cache
		s.mu.Unlock()
		return
	}

	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".png" && ext != ".jpg" && ext != ".jpeg" {
			return nil
		}

		img, decErr := ximaging.Decode(path)
		if decErr != nil {
			logger.WarnCF("template", "failed to load template", map[string]interface{}{"path": path, "error": decErr.Error()})
			return nil
		}

		rel, _ := filepath.Rel(s.root, path)
		name := strings.TrimSuffix(rel, filepath.Ext(rel))
		name = filepath.ToSlash(name)

		base := buildTemplate(name, img)
		cache[name] = base

		if s.needsOrientations(name) {
			for _, variant := range OrientationVariants[1:] {
				cache[name+variant] = buildVariant(name+variant, img, variant)
			}
		}

		logger.DebugCF("template", "loaded template", map[string]interface{}{
			"name": name, "width": base.Width, "height": base.Height, "masked": base.HasMask(),
		})
		return nil
	})
	if err != nil {
		logger.WarnCF("template", "template walk error", map[string]interface{}{"error": err.Error()})
	}

	s.mu.Lock()
	s.cache = cache
	s.mu.Unlock()

	logger.InfoCF("template", "loaded templates", map[string]interface{}{"count": len(cache), "root": s.root})
}

func buildTemplate(name string, img image.Image) model.Template {
	rgba := ximaging.ToRGBA(img)
	b := rgba.Bounds()
	return model.Template{
		Name:   name,
		Img:    rgba,
		Mask:   ximaging.AlphaMask(rgba),
		Width:  b.Dx(),
		Height: b.Dy(),
	}
}

func buildVariant(name string, img image.Image, variant string) model.Template {
	var transformed image.Image
	switch variant {
	case VariantFlipH:
		transformed = imaging.FlipH(img)
	case VariantFlipV:
		transformed = imaging.FlipV(img)
	case VariantFlipHV:
		transformed = imaging.FlipV(imaging.FlipH(img))
	case VariantRotCW:
		transformed = imaging.Rotate(img, rotationAngle, image.Transparent)
	default:
		transformed = img
	}
	return buildTemplate(name, transformed)
}

// Get returns a cached template by exact name.
func (s *Store) Get(name string) (model.Template, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.cache[name]
	return t, ok
}

// GetWithPrefixes tries the literal name, then each prefix + name in order,
// ("buttons/", "icons/", "scenes/").
func (s *Store) GetWithPrefixes(name string, prefixes []string) (model.Template, bool) {
	if t, ok := s.Get(name); ok {
		return t, true
	}
	for _, p := range prefixes {
		if t, ok := s.Get(p + name); ok {
			return t, true
		}
	}
	return model.Template{}, false
}

// Names returns every loaded template name, optionally filtered to those
// starting with category.
func (s *Store) Names(category string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for name := range s.cache {
		if category == "" || strings.HasPrefix(name, category) {
			out = append(out, name)
		}
	}
	return out
}

// Count returns the number of loaded templates.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

// OrientationTemplates returns every loaded orientation variant for a base
// template name, keyed by the variant suffix ("" for normal).
func (s *Store) OrientationTemplates(baseName string) map[string]model.Template {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.Template)
	for _, v := range OrientationVariants {
		if t, ok := s.cache[baseName+v]; ok {
			out[v] = t
		}
	}
	return out
}

// ErrTemplateDirMissing describes a missing template directory. Store
// lookups report absence through their bool result; no Store method
// returns this error.
var ErrTemplateDirMissing = fmt.Errorf("template directory missing")
