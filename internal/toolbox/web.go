package toolbox

import (
	"context"
	"errors"
	"unicode/utf8"

	"github.com/mwiater/mcpdispatch/internal/tools"
	"github.com/mwiater/mcpdispatch/internal/webfetch"
)

// ScrapeResult is the scrape_webpage payload.
type ScrapeResult struct {
	URL            string `json:"url"`
	Content        string `json:"content"`
	CharacterCount int    `json:"character_count"`
	Truncated      bool   `json:"truncated,omitempty"`
}

// WordCountResult is the count_word_occurrences payload.
type WordCountResult struct {
	URL            string `json:"url"`
	Word           string `json:"word"`
	Count          int    `json:"count"`
	CharacterCount int    `json:"character_count"`
}

var urlProperty = tools.Property{
	Type:        tools.TypeString,
	Description: "The http or https URL of the page",
	MinLength:   tools.Int(1),
	MaxLength:   tools.Int(2048),
}

func scrapeDescriptor() tools.Descriptor {
	return tools.Descriptor{
		Name:        ScrapeWebpageName,
		Description: "Fetch a web page and return its readable text content.",
		InputSchema: tools.Object(map[string]tools.Property{"url": urlProperty}, "url"),
	}
}

func countWordDescriptor() tools.Descriptor {
	return tools.Descriptor{
		Name:        CountWordOccurrencesName,
		Description: "Fetch a web page and count case-insensitive occurrences of a word in its text.",
		InputSchema: tools.Object(map[string]tools.Property{
			"url":  urlProperty,
			"word": {Type: tools.TypeString, Description: "Word to count", MinLength: tools.Int(1), MaxLength: tools.Int(200)},
		}, "url", "word"),
	}
}

// fetchPage maps an invalid URL to an argument error so callers see
// InvalidArgumentsError rather than a handler failure.
func fetchPage(ctx context.Context, f *webfetch.Fetcher, rawURL string) (*webfetch.Page, error) {
	page, err := f.Fetch(ctx, rawURL)
	if err != nil {
		if errors.Is(err, webfetch.ErrInvalidURL) {
			return nil, tools.NewArgumentError("url", "%v", err)
		}
		return nil, err
	}
	return page, nil
}

func scrapeWebpage(f *webfetch.Fetcher) tools.Handler {
	return typed(func(ctx context.Context, args struct {
		URL string `json:"url"`
	}) (any, error) {
		page, err := fetchPage(ctx, f, args.URL)
		if err != nil {
			return nil, err
		}
		return ScrapeResult{
			URL:            page.URL,
			Content:        page.Content,
			CharacterCount: utf8.RuneCountInString(page.Content),
			Truncated:      page.Truncated,
		}, nil
	})
}

func countWordOccurrences(f *webfetch.Fetcher) tools.Handler {
	return typed(func(ctx context.Context, args struct {
		URL  string `json:"url"`
		Word string `json:"word"`
	}) (any, error) {
		page, err := fetchPage(ctx, f, args.URL)
		if err != nil {
			return nil, err
		}
		return WordCountResult{
			URL:            page.URL,
			Word:           args.Word,
			Count:          webfetch.CountOccurrences(page.Content, args.Word),
			CharacterCount: utf8.RuneCountInString(page.Content),
		}, nil
	})
}
