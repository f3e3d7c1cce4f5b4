// Package scene classifies a captured frame into exactly one screen state
// through an ordered chain of disjoint rules, first match wins.
package scene

import (
	"image"
	"math"

	"github.com/questbot/engine/pkg/matcher"
	"github.com/questbot/engine/pkg/model"
	"github.com/questbot/engine/pkg/template"
)

// Classifier classifies a frame into one Scene, rules applied in
// order: Popup > ExitDialog > Loading > StoryDialogue > MainCity/WorldMap >
// other scenes > Unknown.
type Classifier struct {
	Templates *template.Store
	Threshold float64
}

func NewClassifier(templates *template.Store, threshold float64) *Classifier {
	return &Classifier{Templates: templates, Threshold: threshold}
}

// Result carries the winning scene and the rule's confidence score, used by
// callers that want to log why a frame classified the way it did.
type Result struct {
	Scene      model.Scene
	Confidence float64
}

func grayAt(img *image.RGBA, x, y int) float64 {
	r, g, b, _ := img.At(x, y).RGBA()
	return 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
}

func meanLuma(img *image.RGBA, region model.Bbox) float64 {
	sum, n := 0.0, 0
	b := img.Bounds()
	for y := region.Y1; y < region.Y2; y++ {
		for x := region.X1; x < region.X2; x++ {
			sum += grayAt(img, b.Min.X+x, b.Min.Y+y)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func meanStdLuma(img *image.RGBA) (mean, std float64) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	n := w * h
	sum := 0.0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum += grayAt(img, b.Min.X+x, b.Min.Y+y)
		}
	}
	mean = sum / float64(n)
	var sqSum float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			d := grayAt(img, b.Min.X+x, b.Min.Y+y) - mean
			sqSum += d * d
		}
	}
	std = math.Sqrt(sqSum / float64(n))
	return
}

// Classify runs the ordered rule chain and returns exactly one scene.
func (c *Classifier) Classify(frameImg *image.RGBA) Result {
	w, h := frameImg.Bounds().Dx(), frameImg.Bounds().Dy()

	if r, ok := c.classifyPopup(frameImg, w, h); ok {
		return r
	}
	if r, ok := c.classifyExitDialog(frameImg, w, h); ok {
		return r
	}
	if r, ok := c.classifyLoading(frameImg); ok {
		return r
	}
	if r, ok := c.classifyStoryDialogue(frameImg); ok {
		return r
	}
	if r, ok := c.classifyCityOrWorldMap(frameImg, w, h); ok {
		return r
	}
	if r, ok := c.classifyOtherScenes(frameImg); ok {
		return r
	}
	return Result{Scene: model.SceneUnknown, Confidence: 0}
}

// classifyPopup: center vs four 10% border strips.
func (c *Classifier) classifyPopup(img *image.RGBA, w, h int) (Result, bool) {
	borderW := int(0.10 * float64(w))
	borderH := int(0.10 * float64(h))

	strips := []model.Bbox{
		{X1: 0, Y1: 0, X2: w, Y2: borderH},             // top
		{X1: 0, Y1: h - borderH, X2: w, Y2: h},          // bottom
		{X1: 0, Y1: 0, X2: borderW, Y2: h},              // left
		{X1: w - borderW, Y1: 0, X2: w, Y2: h},          // right
	}
	var borderSum float64
	for _, s := range strips {
		borderSum += meanLuma(img, s)
	}
	borderMean := borderSum / float64(len(strips))

	cw, ch := int(0.5*float64(w)), int(0.5*float64(h))
	center := model.Bbox{X1: (w - cw) / 2, Y1: (h - ch) / 2, X2: (w + cw) / 2, Y2: (h + ch) / 2}
	centerMean := meanLuma(img, center)

	if centerMean > 50 && borderMean < 0.5*centerMean {
		score := 0.7
		if c.Templates != nil {
			if tmpl, ok := c.Templates.GetWithPrefixes("close_x", []string{"buttons/"}); ok {
				if _, found := matcher.MatchOne(img, nil, tmpl, c.Threshold); found {
					score = 0.9
				}
			}
		}
		return Result{Scene: model.ScenePopup, Confidence: score}, true
	}
	return Result{}, false
}

// classifyExitDialog: template match in the lower-center region.
func (c *Classifier) classifyExitDialog(img *image.RGBA, w, h int) (Result, bool) {
	if c.Templates == nil {
		return Result{}, false
	}
	tmpl, ok := c.Templates.GetWithPrefixes("exit_dialog", []string{"scenes/"})
	if !ok {
		return Result{}, false
	}
	region := model.Bbox{X1: w / 4, Y1: h / 2, X2: 3 * w / 4, Y2: h}
	m, ok := matcher.MatchOne(img, &region, tmpl, 0.8)
	if !ok || m.Confidence < 0.8 {
		return Result{}, false
	}
	return Result{Scene: model.SceneExitDialog, Confidence: m.Confidence}, true
}

// classifyLoading must run after ExitDialog.
func (c *Classifier) classifyLoading(img *image.RGBA) (Result, bool) {
	mean, std := meanStdLuma(img)
	if std < 20 {
		return Result{Scene: model.SceneLoading, Confidence: 0.8}, true
	}
	if mean < 30 || mean > 240 {
		return Result{Scene: model.SceneLoading, Confidence: 0.6}, true
	}
	return Result{}, false
}

// classifyStoryDialogue: down-triangle continue icon at >= 0.9.
func (c *Classifier) classifyStoryDialogue(img *image.RGBA) (Result, bool) {
	if c.Templates == nil {
		return Result{}, false
	}
	tmpl, ok := c.Templates.GetWithPrefixes("continue_triangle", []string{"icons/"})
	if !ok {
		return Result{}, false
	}
	m, ok := matcher.MatchOne(img, nil, tmpl, 0.9)
	if !ok || m.Confidence < 0.9 {
		return Result{}, false
	}
	return Result{Scene: model.SceneStoryDialogue, Confidence: m.Confidence}, true
}

// classifyCityOrWorldMap: match two templates in the bottom-right 22%x15%
// corner, pick the higher if >= 0.5.
func (c *Classifier) classifyCityOrWorldMap(img *image.RGBA, w, h int) (Result, bool) {
	if c.Templates == nil {
		return Result{}, false
	}
	region := model.Bbox{
		X1: int(0.78 * float64(w)), Y1: int(0.85 * float64(h)),
		X2: w, Y2: h,
	}

	cityConf := 0.0
	if tmpl, ok := c.Templates.GetWithPrefixes("nav_bar/territory", nil); ok {
		if m, ok := matcher.MatchOne(img, &region, tmpl, 0); ok {
			cityConf = m.Confidence
		}
	}
	mapConf := 0.0
	if tmpl, ok := c.Templates.GetWithPrefixes("nav_bar/world", nil); ok {
		if m, ok := matcher.MatchOne(img, &region, tmpl, 0); ok {
			mapConf = m.Confidence
		}
	}

	if cityConf >= mapConf && cityConf >= 0.5 {
		return Result{Scene: model.SceneMainCity, Confidence: cityConf}, true
	}
	if mapConf > cityConf && mapConf >= 0.5 {
		return Result{Scene: model.SceneWorldMap, Confidence: mapConf}, true
	}
	return Result{}, false
}

// classifyOtherScenes: full-screen scan of scenes/* templates, take max.
func (c *Classifier) classifyOtherScenes(img *image.RGBA) (Result, bool) {
	if c.Templates == nil {
		return Result{}, false
	}
	names := c.Templates.Names("scenes/")
	best := Result{}
	found := false
	for _, name := range names {
		tmpl, ok := c.Templates.Get(name)
		if !ok {
			continue
		}
		m, ok := matcher.MatchOne(img, nil, tmpl, c.Threshold)
		if !ok {
			continue
		}
		sc, ok := sceneForTemplate(name)
		if !ok {
			continue
		}
		if !found || m.Confidence > best.Confidence {
			best = Result{Scene: sc, Confidence: m.Confidence}
			found = true
		}
	}
	return best, found
}

// sceneForTemplate maps a "scenes/<name>" template id to a Scene value.
func sceneForTemplate(name string) (model.Scene, bool) {
	switch name {
	case "scenes/hero":
		return model.SceneHero, true
	case "scenes/hero_recruit":
		return model.SceneHeroRecruit, true
	case "scenes/hero_upgrade":
		return model.SceneHeroUpgrade, true
	case "scenes/battle":
		return model.SceneBattle, true
	}
	return "", false
}

// CornerScene reports whether the bottom-right corner identifies the frame
// as MainCity or WorldMap, without running the full rule chain. Used by the
// quest-script ensure_* verbs, which only care about the two primary
// scenes.
func (c *Classifier) CornerScene(img *image.RGBA) (model.Scene, bool) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if r, ok := c.classifyCityOrWorldMap(img, w, h); ok {
		return r.Scene, true
	}
	return model.SceneUnknown, false
}
