// Package toolbox holds the demonstration tools served by mcpdispatch and
// registers them with a tools.Registry.
package toolbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mwiater/mcpdispatch/internal/context7"
	"github.com/mwiater/mcpdispatch/internal/docsearch"
	"github.com/mwiater/mcpdispatch/internal/tools"
	"github.com/mwiater/mcpdispatch/internal/webfetch"
)

// Tool names.
const (
	EchoName                 = "echo"
	AddName                  = "add"
	CurrentTimeName          = "current_time"
	GetWeatherName           = "get_weather"
	AvailableToolsName       = "available_tools"
	ScrapeWebpageName        = "scrape_webpage"
	CountWordOccurrencesName = "count_word_occurrences"
	SearchDocsName           = "search_docs"
	DocsSearchLibrariesName  = "docs_search_libraries"
	DocsGetDocumentationName = "docs_get_documentation"
	DocsGetExamplesName      = "docs_get_examples"
)

// Deps are the collaborators the network-backed tools need. A nil field
// leaves the tools that depend on it unregistered.
type Deps struct {
	Weather  WeatherSource
	Fetcher  *webfetch.Fetcher
	Docs     *docsearch.Lazy
	Context7 *context7.Client
	// Now defaults to time.Now.
	Now func() time.Time
}

type entry struct {
	desc    tools.Descriptor
	handler tools.Handler
}

// Register adds every tool whose dependencies are present to reg.
func Register(reg *tools.Registry, deps Deps) error {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	entries := []entry{
		{echoDescriptor(), echo},
		{addDescriptor(), add},
		{currentTimeDescriptor(), currentTime(deps.Now)},
		{availableToolsDescriptor(), availableTools(reg)},
	}
	if deps.Weather != nil {
		entries = append(entries, entry{weatherDescriptor(), getWeather(deps.Weather, deps.Now)})
	}
	if deps.Fetcher != nil {
		entries = append(entries,
			entry{scrapeDescriptor(), scrapeWebpage(deps.Fetcher)},
			entry{countWordDescriptor(), countWordOccurrences(deps.Fetcher)},
		)
	}
	if deps.Docs != nil {
		entries = append(entries, entry{searchDocsDescriptor(), searchDocs(deps.Docs)})
	}
	if deps.Context7 != nil {
		entries = append(entries,
			entry{docsSearchLibrariesDescriptor(), docsSearchLibraries(deps.Context7)},
			entry{docsGetDocumentationDescriptor(), docsGetDocumentation(deps.Context7)},
			entry{docsGetExamplesDescriptor(), docsGetExamples(deps.Context7)},
		)
	}
	for _, e := range entries {
		if err := reg.Register(e.desc, e.handler); err != nil {
			return fmt.Errorf("register %s: %w", e.desc.Name, err)
		}
	}
	return nil
}

// typed adapts a handler taking a decoded argument struct.
func typed[A any](fn func(ctx context.Context, args A) (any, error)) tools.Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args A
		if err := tools.DecodeArgs(raw, &args); err != nil {
			return nil, err
		}
		return fn(ctx, args)
	}
}

// EchoResult is the echo payload.
type EchoResult struct {
	Message string `json:"message"`
}

func echoDescriptor() tools.Descriptor {
	return tools.Descriptor{
		Name:        EchoName,
		Description: "Echo back the provided message.",
		InputSchema: tools.Object(map[string]tools.Property{
			"message": {Type: tools.TypeString, Description: "Message to echo back", MaxLength: tools.Int(10000)},
		}, "message"),
	}
}

var echo = typed(func(_ context.Context, args struct {
	Message string `json:"message"`
}) (any, error) {
	return EchoResult{Message: args.Message}, nil
})

// AddResult is the add payload.
type AddResult struct {
	A   int64 `json:"a"`
	B   int64 `json:"b"`
	Sum int64 `json:"sum"`
}

func addDescriptor() tools.Descriptor {
	return tools.Descriptor{
		Name:        AddName,
		Description: "Add two integers.",
		InputSchema: tools.Object(map[string]tools.Property{
			"a": {Type: tools.TypeInteger, Description: "First addend"},
			"b": {Type: tools.TypeInteger, Description: "Second addend"},
		}, "a", "b"),
	}
}

var add = typed(func(_ context.Context, args struct {
	A int64 `json:"a"`
	B int64 `json:"b"`
}) (any, error) {
	sum := args.A + args.B
	// overflow flips the sign away from both operands
	if (args.A >= 0) == (args.B >= 0) && (sum >= 0) != (args.A >= 0) {
		return nil, tools.NewArgumentError("b", "argument 'b' makes the sum overflow a 64-bit integer")
	}
	return AddResult{A: args.A, B: args.B, Sum: sum}, nil
})

// TimeResult is the current_time payload.
type TimeResult struct {
	LocalTime string `json:"local_time"`
	Timezone  string `json:"timezone"`
	Unix      int64  `json:"unix"`
}

func currentTimeDescriptor() tools.Descriptor {
	return tools.Descriptor{
		Name:        CurrentTimeName,
		Description: "Get the current time, optionally in an IANA timezone such as Europe/Paris.",
		InputSchema: tools.Object(map[string]tools.Property{
			"timezone": {Type: tools.TypeString, Description: "IANA timezone name", MaxLength: tools.Int(64)},
		}),
	}
}

func currentTime(now func() time.Time) tools.Handler {
	return typed(func(_ context.Context, args struct {
		Timezone string `json:"timezone"`
	}) (any, error) {
		t := now()
		if args.Timezone != "" {
			loc, err := time.LoadLocation(args.Timezone)
			if err != nil {
				return nil, tools.NewArgumentError("timezone", "unknown timezone '%s'", args.Timezone)
			}
			t = t.In(loc)
		}
		return TimeResult{
			LocalTime: t.Format(time.RFC3339),
			Timezone:  t.Location().String(),
			Unix:      t.Unix(),
		}, nil
	})
}

// ToolSummary is one entry of the available_tools payload.
type ToolSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func availableToolsDescriptor() tools.Descriptor {
	return tools.Descriptor{
		Name:        AvailableToolsName,
		Description: "List the tools this server exposes with a short description of each.",
		InputSchema: tools.Object(map[string]tools.Property{}),
	}
}

func availableTools(catalog interface{ List() []tools.Descriptor }) tools.Handler {
	return func(context.Context, json.RawMessage) (any, error) {
		descs := catalog.List()
		out := make([]ToolSummary, 0, len(descs))
		for _, d := range descs {
			out = append(out, ToolSummary{Name: d.Name, Description: d.Description})
		}
		return map[string]any{"tools": out}, nil
	}
}

func weatherDescriptor() tools.Descriptor {
	return tools.Descriptor{
		Name:        GetWeatherName,
		Description: "Get current weather information for a specified city.",
		InputSchema: tools.Object(map[string]tools.Property{
			"city": {Type: tools.TypeString, Description: "Name of the city to get weather for", MinLength: tools.Int(1), MaxLength: tools.Int(100)},
			"units": {
				Type:        tools.TypeString,
				Description: "Temperature units (metric, imperial, or kelvin)",
				Enum:        []any{UnitsMetric, UnitsImperial, UnitsKelvin},
				Default:     UnitsMetric,
			},
		}, "city"),
	}
}

func getWeather(src WeatherSource, now func() time.Time) tools.Handler {
	return typed(func(ctx context.Context, args struct {
		City  string `json:"city"`
		Units string `json:"units"`
	}) (any, error) {
		city := strings.TrimSpace(args.City)
		if city == "" {
			return nil, tools.NewArgumentError("city", "city name cannot be empty")
		}
		units := args.Units
		if units == "" {
			units = UnitsMetric
		}
		reading, err := src.Current(ctx, city)
		if err != nil {
			if errors.Is(err, ErrCityNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("weather service error: %w", err)
		}
		return NewWeatherReport(city, reading, units, now()), nil
	})
}
