// Package parser extracts categories, exercise listings and exercise details
// from exercise-site markup. Every extractor has a primary selector scheme
// bound to the current site layout and a looser link-pattern fallback used
// when the primary scheme finds nothing.
package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/exercise-crawler/internal/crawler"
	"github.com/JakeFAU/exercise-crawler/internal/metrics"
)

// Default link patterns used by the fallback schemes.
const (
	DefaultCategoryLinkPattern = "/exercises/"
	DefaultExerciseLinkPattern = "/exercise/"
)

const (
	selCategorySection = ".category-list"
	selCategoryLinks   = ".category-list a"
	selExerciseBlocks  = ".exercise-item, .exercise-block"
	selBlockDesc       = ".exercise-description"
	selDetailName      = "h1, .exercise-name"
	selDetailImages    = ".exercise-image img, .exercise-photos img"
	selDetailDesc      = ".exercise-description, .description"
	selDetailSteps     = ".exercise-instructions, .instructions"
	selDetailMuscles   = ".muscle-worked, .muscles-worked"
	selDetailLevel     = ".difficulty-level"
	selDetailEquipment = ".equipment-needed"
)

// Config tunes the fallback link patterns.
type Config struct {
	CategoryLinkPattern string
	ExerciseLinkPattern string
}

// Parser implements crawler.Parser using goquery. It is stateless and safe
// for concurrent use.
type Parser struct {
	cfg    Config
	logger *zap.Logger
}

var _ crawler.Parser = (*Parser)(nil)

// New builds a Parser. Empty patterns fall back to the defaults.
func New(cfg Config, logger *zap.Logger) *Parser {
	if cfg.CategoryLinkPattern == "" {
		cfg.CategoryLinkPattern = DefaultCategoryLinkPattern
	}
	if cfg.ExerciseLinkPattern == "" {
		cfg.ExerciseLinkPattern = DefaultExerciseLinkPattern
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{cfg: cfg, logger: logger}
}

// ExtractCategories returns the category links on the main page.
func (p *Parser) ExtractCategories(markup string) []crawler.Category {
	doc, ok := p.document(markup, "categories")
	if !ok {
		return []crawler.Category{}
	}

	categories := []crawler.Category{}
	if doc.Find(selCategorySection).Length() > 0 {
		doc.Find(selCategoryLinks).Each(func(_ int, s *goquery.Selection) {
			if c, ok := categoryFrom(s); ok {
				categories = append(categories, c)
			}
		})
	} else {
		p.logger.Warn("category list section not found")
	}
	if len(categories) > 0 {
		return categories
	}

	p.noteFallback("categories")
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if !strings.Contains(s.AttrOr("href", ""), p.cfg.CategoryLinkPattern) {
			return
		}
		if c, ok := categoryFrom(s); ok {
			categories = append(categories, c)
		}
	})
	return categories
}

// ExtractExercises returns the exercises listed on a category page.
func (p *Parser) ExtractExercises(markup string) []crawler.ExerciseSummary {
	doc, ok := p.document(markup, "exercises")
	if !ok {
		return []crawler.ExerciseSummary{}
	}

	exercises := []crawler.ExerciseSummary{}
	doc.Find(selExerciseBlocks).Each(func(_ int, block *goquery.Selection) {
		link := block.Find("a").First()
		summary := crawler.ExerciseSummary{
			Name:        text(link),
			URL:         strings.TrimSpace(link.AttrOr("href", "")),
			ImageURL:    strings.TrimSpace(block.Find("img").First().AttrOr("src", "")),
			Description: text(block.Find(selBlockDesc).First()),
		}
		if summary.Name != "" && summary.URL != "" {
			exercises = append(exercises, summary)
		}
	})
	if len(exercises) > 0 {
		return exercises
	}

	p.noteFallback("exercises")
	return p.exerciseLinks(doc)
}

// exerciseLinks walks links and images in document order so every matching
// link can borrow the closest image: its own, else the last one seen, else
// the next one to appear.
func (p *Parser) exerciseLinks(doc *goquery.Document) []crawler.ExerciseSummary {
	nodes := doc.Find("a[href], img")
	var (
		lastImg string
		hasImg  bool
	)
	exercises := []crawler.ExerciseSummary{}
	nodes.Each(func(i int, s *goquery.Selection) {
		if goquery.NodeName(s) == "img" {
			lastImg, hasImg = s.AttrOr("src", ""), true
			return
		}
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if !strings.Contains(href, p.cfg.ExerciseLinkPattern) {
			return
		}
		name := text(s)
		if name == "" || href == "" {
			return
		}
		summary := crawler.ExerciseSummary{Name: name, URL: href}
		switch inner := s.Find("img").First(); {
		case inner.Length() > 0:
			summary.ImageURL = inner.AttrOr("src", "")
		case hasImg:
			summary.ImageURL = lastImg
		default:
			summary.ImageURL = nextImage(nodes, i)
		}
		summary.ImageURL = strings.TrimSpace(summary.ImageURL)
		exercises = append(exercises, summary)
	})
	return exercises
}

// ExtractExerciseDetails returns whatever detail fields the page exposes.
func (p *Parser) ExtractExerciseDetails(markup string) crawler.ExerciseDetail {
	doc, ok := p.document(markup, "details")
	if !ok {
		return emptyDetail()
	}

	details := emptyDetail()
	details.Name = text(doc.Find(selDetailName).First())
	details.Description = text(doc.Find(selDetailDesc).First())
	details.Instructions = text(doc.Find(selDetailSteps).First())
	details.Difficulty = text(doc.Find(selDetailLevel).First())
	details.Equipment = text(doc.Find(selDetailEquipment).First())
	doc.Find(selDetailImages).Each(func(_ int, s *goquery.Selection) {
		if src := strings.TrimSpace(s.AttrOr("src", "")); src != "" {
			details.Images = append(details.Images, src)
		}
	})
	doc.Find(selDetailMuscles).Each(func(_ int, s *goquery.Selection) {
		if muscle := text(s); muscle != "" {
			details.MusclesWorked = append(details.MusclesWorked, muscle)
		}
	})
	return details
}

// emptyDetail has non-nil lists so they encode as [].
func emptyDetail() crawler.ExerciseDetail {
	return crawler.ExerciseDetail{Images: []string{}, MusclesWorked: []string{}}
}

func (p *Parser) document(markup, scheme string) (*goquery.Document, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		p.logger.Error("parse markup", zap.String("scheme", scheme), zap.Error(err))
		return nil, false
	}
	return doc, true
}

func (p *Parser) noteFallback(scheme string) {
	p.logger.Info("primary selectors found nothing, trying link fallback", zap.String("scheme", scheme))
	metrics.ObserveParserFallback(scheme)
}

func categoryFrom(s *goquery.Selection) (crawler.Category, bool) {
	c := crawler.Category{
		Name: text(s),
		URL:  strings.TrimSpace(s.AttrOr("href", "")),
	}
	return c, c.Name != "" && c.URL != ""
}

func nextImage(nodes *goquery.Selection, after int) string {
	for j := after + 1; j < nodes.Length(); j++ {
		if s := nodes.Eq(j); goquery.NodeName(s) == "img" {
			return s.AttrOr("src", "")
		}
	}
	return ""
}

// text returns the element's text with runs of whitespace collapsed.
func text(s *goquery.Selection) string {
	if s == nil || s.Length() == 0 {
		return ""
	}
	return strings.Join(strings.Fields(s.Text()), " ")
}
