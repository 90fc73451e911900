// Package extract turns a fetched profile page into a CandidateSupervisor
// using deterministic rules. Only facts observed on the page are written to
// record fields; inferred context goes to Notes.
package extract

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/sells-group/supervisor-finder/internal/classify"
	"github.com/sells-group/supervisor-finder/internal/config"
	"github.com/sells-group/supervisor-finder/internal/fetcher"
	"github.com/sells-group/supervisor-finder/internal/model"
	"github.com/sells-group/supervisor-finder/internal/names"
	"github.com/sells-group/supervisor-finder/internal/relevance"
)

const piNote = "Principal Investigator/Group Leader"

// contentSelectors are tried when the page text is too thin, in case the
// fetcher's boilerplate stripping removed the profile body.
var contentSelectors = []string{"main", "article", ".content", ".main-content", "#content", ".profile-content", ".person-details"}

// Extractor extracts supervisors from profile pages. It is safe for
// concurrent use.
type Extractor struct {
	th         config.Thresholds
	summarizer relevance.Summarizer
	log        *zap.Logger
}

// New creates an Extractor. summarizer supplies keywords and fit scores.
func New(th config.Thresholds, summarizer relevance.Summarizer) *Extractor {
	return &Extractor{
		th:         th,
		summarizer: summarizer,
		log:        zap.L().With(zap.String("component", "extract")),
	}
}

// Extract builds a CandidateSupervisor from page. Exactly one of the return
// values is non-nil. The candidate's Tier is left for the scorer.
func (e *Extractor) Extract(ctx context.Context, page *model.FetchResult, seed model.Seed, profile model.ResearchProfile) (*model.CandidateSupervisor, *Failure) {
	// Both the requested URL and where it redirected to must be on the
	// seed's domain. The record is attributed to the resolved URL.
	pageURL := page.ResolvedURL()
	for _, raw := range []string{page.URL, pageURL} {
		u, err := url.Parse(raw)
		if err != nil || !classify.MatchesDomain(u.Host, seed.Domain) {
			return nil, fail(ReasonDomainMismatch, "host="+hostOf(u)+", domain="+seed.Domain)
		}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return nil, fail(ReasonNoName, "unparseable html")
	}
	text := page.Text
	if text == "" {
		text = fetcher.DocumentText(doc)
	}
	if utf8.RuneCountInString(text) < 100 {
		text = richerText(doc, text)
	}

	// A heading naming a group is a listing page, whatever the <title> says.
	h1 := strings.TrimSpace(doc.Find("h1").First().Text())
	if h1 != "" && !names.LooksLikeName(names.CleanName(h1)) && names.IsCollectiveHeading(h1) {
		return nil, fail(ReasonNoName, noNameDetail(doc, text))
	}

	name, nameSrc, rejected := pickName(nameSources(doc, text))
	if name == "" {
		if rejected != "" {
			return nil, fail(ReasonInvalidName, "extracted="+rejected)
		}
		return nil, fail(ReasonNoName, noNameDetail(doc, text))
	}

	profileID := classify.IsProfileIDURL(pageURL)
	minText := e.th.MinTextLength
	if profileID {
		minText = e.th.MinTextLengthProfileID
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(text)); n < minText {
		return nil, fail(ReasonTextTooShort, "text_len="+strconv.Itoa(n))
	}

	title, titleAt := findTitle(text)
	isPI := piRe.MatchString(text)
	if title == "" && !profileID && !isPI {
		return nil, fail(ReasonMissingTitle, "")
	}

	if !isPI && studentPostdocRe.MatchString(text) && !facultyTitleRe.MatchString(headingRegion(doc)) {
		return nil, fail(ReasonStudentPostdoc, "")
	}

	if relevance.ContainsAny(text, profile.NegativeKeywords) {
		return nil, fail(ReasonNegativeKeyword, "")
	}

	email, confidence, emailEvidence := findEmail(doc, text)

	summary, err := e.summarizer.Summarize(ctx, text, profile)
	if err != nil {
		e.log.Warn("summarizer failed, scoring as zero",
			zap.String("url", pageURL), zap.Error(err))
		summary = relevance.Summary{}
	}
	if summary.FitScore < e.th.FitFloor(isPI) {
		return nil, lowFitFailure(summary.FitScore)
	}

	first, last := names.SplitName(name)
	base, _ := url.Parse(page.ResolvedURL())
	homepage, pubs := findLinks(doc, base, e.th.MaxPublicationLinks)

	var evidence []string
	if emailEvidence != "" {
		evidence = append(evidence, "Email: "+emailEvidence)
	}
	if titleAt >= 0 {
		if s := sentenceAround(text, titleAt); s != "" {
			evidence = append(evidence, "Title: "+s)
		}
	}
	evidence = append(evidence, "Name ("+nameSrc+"): "+name)

	var notes []string
	if summary.Reason != "" {
		notes = append(notes, summary.Reason)
	}
	if isPI {
		notes = append(notes, piNote)
	}

	return &model.CandidateSupervisor{
		Name:              name,
		FirstName:         first,
		LastName:          last,
		Title:             title,
		Institution:       seed.Institution,
		Domain:            seed.Domain,
		Country:           seed.Country,
		Region:            seed.Region,
		Rank:              seed.Rank,
		Email:             email,
		EmailConfidence:   model.EmailConfidence(confidence),
		ProfileURL:        pageURL,
		HomepageURL:       homepage,
		ScholarSearchURL:  ScholarSearchURL(name),
		Keywords:          summary.Keywords,
		PublicationsLinks: pubs,
		FitScore:          summary.FitScore,
		IsPI:              isPI,
		SourceURL:         pageURL,
		EvidenceSnippets:  evidence,
		Notes:             strings.Join(notes, " | "),
	}, nil
}

// headingRegion is the text where a person's own role is stated: the H1,
// the <title> and the first heading-level subtitle.
func headingRegion(doc *goquery.Document) string {
	parts := []string{
		doc.Find("h1").First().Text(),
		doc.Find("title").First().Text(),
		doc.Find("h1 + p, h1 + h2, .job-title, .position, .role").First().Text(),
	}
	return strings.Join(parts, " ")
}

func richerText(doc *goquery.Document, text string) string {
	for _, sel := range contentSelectors {
		s := doc.Find(sel)
		if s.Length() == 0 {
			continue
		}
		more := fetcher.CollapseSpace(s.Text())
		if len(more) > len(text) {
			return more
		}
	}
	return text
}

func hostOf(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.Host
}
