package formprobe

import "time"

type DispatchMode string

const (
	DispatchPage DispatchMode = "page"
	DispatchHTTP DispatchMode = "http"
)

type Options struct {
	Strategy           Strategy          `yaml:"strategy"`
	Dispatch           DispatchMode      `yaml:"dispatch"`
	Values             FillValues        `yaml:"values"`
	NameRules          []NameRule        `yaml:"name_rules"`
	SkipInputTypes     []string          `yaml:"skip_input_types"`
	FixedValues        bool              `yaml:"fixed_values"`
	RandomSeed         string            `yaml:"random_seed"`
	SkipDuplicateForms bool              `yaml:"skip_duplicate_forms"`
	Workers            int               `yaml:"workers"`
	Settle             time.Duration     `yaml:"settle"`
	NavigationTimeout  time.Duration     `yaml:"navigation_timeout"`
	HeadlessChrome     bool              `yaml:"headless"`
	ExecutablePath     string            `yaml:"executable_path"`
	Proxy              string            `yaml:"proxy"`
	UserAgent          string            `yaml:"user_agent"`
	ExtraHeaders       map[string]string `yaml:"extra_headers"`
	LoadImages         bool              `yaml:"load_images"`
	BlockNavigation    bool              `yaml:"block_navigation"`
	ExcludedUrls       []string          `yaml:"excluded_urls"`
	WindowSize         []int             `yaml:"window_size"`
	HTTPTimeout        time.Duration     `yaml:"http_timeout"`
	RateLimit          float64           `yaml:"rate_limit"`
	Verbosity          int               `yaml:"verbosity"`
}

type NameRule struct {
	Pattern string `yaml:"pattern"`
	Value   string `yaml:"value"`
}

func DefaultOptions() *Options {
	return &Options{
		Strategy:           StrategyNative,
		Dispatch:           DispatchPage,
		Values:             DefaultFillValues(),
		NameRules:          []NameRule{},
		SkipInputTypes:     []string{"hidden", "file"},
		FixedValues:        false,
		RandomSeed:         "",
		SkipDuplicateForms: false,
		Workers:            4,
		Settle:             3 * time.Second,
		NavigationTimeout:  15 * time.Second,
		HeadlessChrome:     true,
		ExecutablePath:     "",
		Proxy:              "",
		UserAgent:          "",
		ExtraHeaders:       map[string]string{},
		LoadImages:         false,
		BlockNavigation:    true,
		ExcludedUrls:       []string{},
		WindowSize:         []int{1600, 1000},
		HTTPTimeout:        15 * time.Second,
		RateLimit:          0,
		Verbosity:          0,
	}
}

// applyDefaults fills zero values a config file may have cleared.
func (o *Options) applyDefaults() {
	def := DefaultOptions()
	if o.Dispatch == "" {
		o.Dispatch = def.Dispatch
	}
	if o.Workers <= 0 {
		o.Workers = def.Workers
	}
	if o.Settle < 0 {
		o.Settle = 0
	}
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = def.NavigationTimeout
	}
	if o.HTTPTimeout <= 0 {
		o.HTTPTimeout = def.HTTPTimeout
	}
	if len(o.WindowSize) != 2 {
		o.WindowSize = def.WindowSize
	}
	if o.ExtraHeaders == nil {
		o.ExtraHeaders = map[string]string{}
	}
	o.Values.applyDefaults()
}
