package appconfig

import (
	"fmt"
	"io"
)

// ShowConfig prints the current configuration summary. Secrets are redacted.
func ShowConfig(out io.Writer, cfg Config) {
	if cfg.ConfigPath == "" {
		fmt.Fprintln(out, "No config file loaded (using defaults).")
	} else {
		fmt.Fprintf(out, "Config file: %s\n\n", cfg.ConfigPath)
	}

	fmt.Fprintln(out, "Current configuration:")
	fmt.Fprintf(out, "  Log Level:        %s\n", cfg.EffectiveLogLevel())
	fmt.Fprintf(out, "  Log File:         %s\n", orNone(cfg.LogFile))
	fmt.Fprintf(out, "  Debug:            %v\n", cfg.Debug)
	fmt.Fprintf(out, "  Transport:        %s\n", cfg.Transport)
	fmt.Fprintf(out, "  Handler Timeout:  %s\n", cfg.HandlerTimeoutDuration())
	fmt.Fprintf(out, "  Stdio Max Message: %d bytes\n", cfg.Stdio.MaxMessageBytes)
	fmt.Fprintf(out, "  HTTP Address:     %s:%d\n", cfg.HTTP.Host, cfg.HTTP.Port)
	fmt.Fprintf(out, "  HTTP Max Body:    %d bytes\n", cfg.HTTP.MaxBodyBytes)
	fmt.Fprintf(out, "  HTTP Origins:     %v\n", cfg.HTTP.AllowedOrigins)
	fmt.Fprintf(out, "  HTTP Auth Token:  %s\n", redact(cfg.HTTP.AuthToken))
	fmt.Fprintf(out, "  Weather Provider: %s\n", cfg.Weather.Provider)
	fmt.Fprintf(out, "  Fetch Reader URL: %s\n", orNone(cfg.Fetch.ReaderURL))
	fmt.Fprintf(out, "  Fetch Timeout:    %s (retries %d)\n", cfg.Fetch.TimeoutDuration(), cfg.Fetch.Retries)
	if cfg.Docs.CorpusPath != "" {
		fmt.Fprintf(out, "  Docs Corpus Path: %s\n", cfg.Docs.CorpusPath)
	} else {
		fmt.Fprintf(out, "  Docs Archive URL: %s\n", cfg.Docs.ArchiveURL)
		fmt.Fprintf(out, "  Docs Cache Dir:   %s\n", cfg.Docs.CacheDir)
	}
	fmt.Fprintf(out, "  Docs Extensions:  %v\n", cfg.Docs.Extensions)
	if len(cfg.Docs.Exclude) > 0 {
		fmt.Fprintf(out, "  Docs Exclude:     %v\n", cfg.Docs.Exclude)
	}
	fmt.Fprintf(out, "  Context7:         %s\n", context7Status(cfg.Context7))
}

func context7Status(c Context7Config) string {
	if !c.Enabled() {
		return "disabled (no API key)"
	}
	return fmt.Sprintf("enabled (%s, key %s, %d req/min)", c.BaseURL, redact(c.APIKey), c.RequestsPerMinute)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func redact(secret string) string {
	switch {
	case secret == "":
		return "(none)"
	case len(secret) <= 4:
		return "****"
	default:
		return "****" + secret[len(secret)-4:]
	}
}
