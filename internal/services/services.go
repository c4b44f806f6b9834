package services

import (
	"github.com/charmbracelet/log"

	"github.com/desertthunder/stemx/internal/shared"
)

// Toolbox groups the external collaborators of the media jobs.
type Toolbox struct {
	Downloader Downloader
	Separator  Separator
	Analyzer   Analyzer
	Cover      *APIService
}

// NewToolbox builds the toolbox described by cfg. An empty analyzer command yields [NoAnalyzer].
func NewToolbox(cfg *shared.Config, logger *log.Logger) Toolbox {
	timeout := cfg.Tools.Timeout
	tb := Toolbox{
		Downloader: Downloader{Tool: NewTool(cfg.Tools.Downloader, cfg.Tools.DownloadTimeout, logger)},
		Separator:  Separator{Tool: NewTool(cfg.Tools.Separator, timeout, logger), Model: cfg.Tools.SeparatorModel},
		Analyzer:   NoAnalyzer{},
		Cover: NewAPIService(CoverOptions{
			BaseURL:     cfg.Cover.APIURL,
			APIKey:      cfg.Cover.APIKey,
			Model:       cfg.Cover.Model,
			CallbackURL: cfg.Cover.CallbackURL,
		}, nil),
	}
	if cfg.Tools.Analyzer != "" {
		tb.Analyzer = ToolAnalyzer{Tool: NewTool(cfg.Tools.Analyzer, timeout, logger)}
	}
	return tb
}
