package toolbox

import (
	"context"
	"strings"

	"github.com/mwiater/mcpdispatch/internal/context7"
	"github.com/mwiater/mcpdispatch/internal/docsearch"
	"github.com/mwiater/mcpdispatch/internal/tools"
)

// SearchDocsResult is the search_docs payload.
type SearchDocsResult struct {
	Query   string             `json:"query"`
	Results []docsearch.Result `json:"results"`
}

func searchDocsDescriptor() tools.Descriptor {
	return tools.Descriptor{
		Name:        SearchDocsName,
		Description: "Search the FastMCP documentation corpus and return the best matching pages.",
		InputSchema: tools.Object(map[string]tools.Property{
			"query": {Type: tools.TypeString, Description: "Search query", MinLength: tools.Int(1), MaxLength: tools.Int(500)},
			"num_results": {
				Type:        tools.TypeInteger,
				Description: "Number of results to return",
				Minimum:     tools.Float(1),
				Maximum:     tools.Float(docsearch.MaxResults),
				Default:     5,
			},
		}, "query"),
	}
}

func searchDocs(docs *docsearch.Lazy) tools.Handler {
	return typed(func(ctx context.Context, args struct {
		Query      string `json:"query"`
		NumResults *int   `json:"num_results"`
	}) (any, error) {
		query, err := nonBlank("query", args.Query)
		if err != nil {
			return nil, err
		}
		limit := 5
		if args.NumResults != nil {
			limit = *args.NumResults
		}
		results, err := docs.Search(ctx, query, limit)
		if err != nil {
			return nil, err
		}
		return SearchDocsResult{Query: query, Results: results}, nil
	})
}

func docsSearchLibrariesDescriptor() tools.Descriptor {
	return tools.Descriptor{
		Name:        DocsSearchLibrariesName,
		Description: "Search Context7 for libraries with up-to-date documentation.",
		InputSchema: tools.Object(map[string]tools.Property{
			"query": {Type: tools.TypeString, Description: "Library name or keywords", MinLength: tools.Int(1), MaxLength: tools.Int(200)},
			"limit": {Type: tools.TypeInteger, Description: "Maximum number of libraries", Minimum: tools.Float(1), Maximum: tools.Float(100), Default: 20},
		}, "query"),
	}
}

func docsSearchLibraries(c *context7.Client) tools.Handler {
	return typed(func(ctx context.Context, args struct {
		Query string `json:"query"`
		Limit *int   `json:"limit"`
	}) (any, error) {
		query, err := nonBlank("query", args.Query)
		if err != nil {
			return nil, err
		}
		limit := 20
		if args.Limit != nil {
			limit = *args.Limit
		}
		libs, err := c.SearchLibraries(ctx, query, limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"query": query, "libraries": libs}, nil
	})
}

func docsGetDocumentationDescriptor() tools.Descriptor {
	return tools.Descriptor{
		Name:        DocsGetDocumentationName,
		Description: "Fetch a library's documentation from Context7 as markdown.",
		InputSchema: tools.Object(map[string]tools.Property{
			"library": {Type: tools.TypeString, Description: "Library identifier", MinLength: tools.Int(1), MaxLength: tools.Int(100)},
			"version": {Type: tools.TypeString, Description: "Library version", MaxLength: tools.Int(50), Default: "latest"},
		}, "library"),
	}
}

func docsGetDocumentation(c *context7.Client) tools.Handler {
	return typed(func(ctx context.Context, args struct {
		Library string `json:"library"`
		Version string `json:"version"`
	}) (any, error) {
		library, err := nonBlank("library", args.Library)
		if err != nil {
			return nil, err
		}
		return c.GetDocumentation(ctx, library, strings.TrimSpace(args.Version))
	})
}

func docsGetExamplesDescriptor() tools.Descriptor {
	return tools.Descriptor{
		Name:        DocsGetExamplesName,
		Description: "Fetch code examples for a library topic from Context7.",
		InputSchema: tools.Object(map[string]tools.Property{
			"library": {Type: tools.TypeString, Description: "Library identifier", MinLength: tools.Int(1), MaxLength: tools.Int(100)},
			"topic":   {Type: tools.TypeString, Description: "Topic to find examples for", MinLength: tools.Int(1), MaxLength: tools.Int(200)},
			"limit":   {Type: tools.TypeInteger, Description: "Maximum number of examples", Minimum: tools.Float(1), Maximum: tools.Float(50), Default: 10},
		}, "library", "topic"),
	}
}

func docsGetExamples(c *context7.Client) tools.Handler {
	return typed(func(ctx context.Context, args struct {
		Library string `json:"library"`
		Topic   string `json:"topic"`
		Limit   *int   `json:"limit"`
	}) (any, error) {
		library, err := nonBlank("library", args.Library)
		if err != nil {
			return nil, err
		}
		topic, err := nonBlank("topic", args.Topic)
		if err != nil {
			return nil, err
		}
		limit := 10
		if args.Limit != nil {
			limit = *args.Limit
		}
		examples, err := c.GetExamples(ctx, library, topic, limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"library": library, "topic": topic, "examples": examples}, nil
	})
}

// nonBlank trims value and rejects it when nothing is left.
func nonBlank(field, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", tools.NewArgumentError(field, "%s cannot be empty", field)
	}
	return value, nil
}
