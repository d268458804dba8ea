package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/remeh/sizedwaitgroup"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/seaung/formprobe-go"
)

type cliFlags struct {
	input          string
	output         string
	config         string
	strategy       string
	dispatch       string
	executablePath string
	seed           string
	workers        int
	settle         time.Duration
	offline        bool
	showBrowser    bool
	fixed          bool
	dedupe         bool
	verbosity      int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &cliFlags{}

	cmd := &cobra.Command{
		Use:   "formprobe [flags] [url...]",
		Short: "Fill and submit every form on the given pages",
		Long: `formprobe opens each target page, fills every empty visible form field with
placeholder data and submits the form, either natively or as an equivalent
request. Requests the page sends to its own host are written as JSON lines.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f, args)
		},
	}
	bindFlags(cmd, f)

	return cmd
}

func bindFlags(cmd *cobra.Command, f *cliFlags) {
	flags := cmd.Flags()
	flags.StringVarP(&f.input, "input", "i", "", "file with one URL per line, - for stdin")
	flags.StringVarP(&f.output, "output", "o", "-", "output file, - for stdout")
	flags.StringVarP(&f.config, "config", "c", "", "YAML options file")
	flags.StringVar(&f.strategy, "strategy", "", "submission strategy: native or programmatic")
	flags.StringVar(&f.dispatch, "dispatch", "", "programmatic dispatch: page (in-tab fetch) or http")
	flags.StringVar(&f.executablePath, "executable-path", "", "chrome-like browser executable (default $CHROME_EXECUTABLE_PATH)")
	flags.StringVar(&f.seed, "seed", "", "seed string for reproducible values")
	flags.IntVarP(&f.workers, "workers", "w", 0, "pages processed in parallel")
	flags.DurationVar(&f.settle, "settle", 0, "time to wait for requests after submitting a page's forms")
	flags.BoolVar(&f.offline, "offline", false, "fetch and parse pages over HTTP instead of driving a browser")
	flags.BoolVar(&f.showBrowser, "show-browser", false, "show the browser window")
	flags.BoolVar(&f.fixed, "fixed", false, "always use the first candidate value")
	flags.BoolVar(&f.dedupe, "dedupe", false, "submit each distinct form only once across pages")
	flags.CountVarP(&f.verbosity, "verbose", "v", "be more verbose (repeatable)")
}

func loadOptions(cmd *cobra.Command, f *cliFlags) (*formprobe.Options, error) {
	opts := formprobe.DefaultOptions()
	if f.config != "" {
		var err error
		if opts, err = formprobe.LoadOptions(f.config); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("strategy") {
		s, err := formprobe.ParseStrategy(f.strategy)
		if err != nil {
			return nil, err
		}
		opts.Strategy = s
	}
	if flags.Changed("dispatch") {
		opts.Dispatch = formprobe.DispatchMode(strings.ToLower(f.dispatch))
	}
	if flags.Changed("workers") {
		opts.Workers = f.workers
	}
	if flags.Changed("settle") {
		opts.Settle = f.settle
	}
	if flags.Changed("seed") {
		opts.RandomSeed = f.seed
	}
	if f.fixed {
		opts.FixedValues = true
	}
	if f.dedupe {
		opts.SkipDuplicateForms = true
	}
	if f.showBrowser {
		opts.HeadlessChrome = false
	}
	if f.executablePath != "" {
		opts.ExecutablePath = f.executablePath
	} else if opts.ExecutablePath == "" {
		opts.ExecutablePath = os.Getenv("CHROME_EXECUTABLE_PATH")
	}
	opts.Verbosity += f.verbosity

	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return opts, opts.Validate()
}

func readTargets(f *cliFlags, args []string) ([]string, error) {
	raw := append([]string(nil), args...)

	if f.input != "" {
		var r io.Reader = os.Stdin
		if f.input != "-" {
			file, err := os.Open(f.input)
			if err != nil {
				return nil, err
			}
			defer file.Close()
			r = file
		}
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			raw = append(raw, scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read %s: %w", f.input, err)
		}
	}

	targets := make([]string, 0, len(raw))
	for _, line := range raw {
		if u := formprobe.NormalizeURL(line); u != "" {
			targets = append(targets, u)
		}
	}
	return formprobe.RemoveDuplicateStrings(targets), nil
}

type runner struct {
	opts   *formprobe.Options
	filler *formprobe.Filler
	seen   *formprobe.SeenForms
	stats  *formprobe.Stats
	log    zerolog.Logger

	outMu sync.Mutex
	enc   *json.Encoder
}

func run(cmd *cobra.Command, f *cliFlags, args []string) error {
	_ = godotenv.Load()

	opts, err := loadOptions(cmd, f)
	if err != nil {
		return err
	}

	log := formprobe.NewLogger(os.Stderr, opts.Verbosity)

	targets, err := readTargets(f, args)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return fmt.Errorf("no target urls given")
	}

	var out io.Writer = os.Stdout
	if f.output != "-" {
		file, err := os.Create(f.output)
		if err != nil {
			return err
		}
		defer file.Close()
		out = file
	}

	stats := formprobe.NewStats()
	filler, err := formprobe.NewFillerFromOptions(opts,
		formprobe.WithFillerLogger(log),
		formprobe.WithFillerStats(stats),
	)
	if err != nil {
		return err
	}

	r := &runner{
		opts:   opts,
		filler: filler,
		stats:  stats,
		log:    log,
		enc:    json.NewEncoder(out),
	}
	if opts.SkipDuplicateForms {
		r.seen = formprobe.NewSeenForms()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats.Start()
	if f.offline {
		err = r.runOffline(ctx, targets)
	} else {
		err = r.runBrowser(ctx, targets)
	}
	stats.End()

	log.Info().Fields(stats.GetStats()).Msg("done")
	return err
}

func (r *runner) runBrowser(ctx context.Context, targets []string) error {
	crawler, err := formprobe.Launch(r.opts, r.log)
	if err != nil {
		return err
	}
	defer crawler.Close()

	var httpDispatcher formprobe.Dispatcher
	if r.opts.Dispatch == formprobe.DispatchHTTP {
		httpDispatcher = formprobe.NewHTTPDispatcher(formprobe.NewHTTPClient(r.opts),
			formprobe.WithRateLimit(r.opts.RateLimit),
			formprobe.WithDispatchLogger(r.log),
		)
	}

	r.forEach(ctx, targets, func(target string) error {
		page, err := crawler.Open(ctx, target)
		if err != nil {
			return err
		}
		defer page.Close()
		r.stats.RecordPage()

		dispatcher := httpDispatcher
		if dispatcher == nil {
			dispatcher = page.Dispatcher()
		}

		pending, err := r.drive(ctx, target, page, dispatcher)
		if err != nil {
			return err
		}
		r.settle(ctx, pending)

		captured := page.Requests()
		r.stats.RecordCaptured(len(captured))
		return r.write(captured...)
	})
	return ctx.Err()
}

func (r *runner) runOffline(ctx context.Context, targets []string) error {
	client := formprobe.NewHTTPClient(r.opts)
	dispatcher := formprobe.NewHTTPDispatcher(client,
		formprobe.WithRateLimit(r.opts.RateLimit),
		formprobe.WithDispatchLogger(r.log),
	)

	r.forEach(ctx, targets, func(target string) error {
		resp, err := client.R().SetContext(ctx).Get(target)
		if err != nil {
			return err
		}
		r.stats.RecordPage()

		base := target
		if resp.RawResponse != nil && resp.RawResponse.Request != nil {
			base = resp.RawResponse.Request.URL.String()
		}

		// Native submission has no browser to navigate; the request is sent
		// over HTTP and its handle kept with the programmatic ones.
		var navigated []*formprobe.Pending
		doc, err := formprobe.ParseHTML(bytes.NewReader(resp.Body()), base,
			formprobe.WithNavigator(func(req *formprobe.Request) error {
				navigated = append(navigated, dispatcher.Dispatch(ctx, req))
				return nil
			}),
		)
		if err != nil {
			return err
		}

		pending, err := r.drive(ctx, target, doc, dispatcher)
		if err != nil {
			return err
		}
		pending = append(pending, navigated...)
		r.settle(ctx, pending)

		captured := make([]*formprobe.CapturedRequest, 0, len(pending))
		for _, p := range pending {
			captured = append(captured, capturedFromRequest(target, p.Request))
		}
		r.stats.RecordCaptured(len(captured))
		return r.write(captured...)
	})
	return ctx.Err()
}

func (r *runner) forEach(ctx context.Context, targets []string, fn func(target string) error) {
	swg := sizedwaitgroup.New(r.opts.Workers)
	for _, target := range targets {
		if ctx.Err() != nil {
			break
		}
		if formprobe.MatchesExcludedURL(target, r.opts.ExcludedUrls) {
			r.log.Debug().Str("url", target).Msg("excluded")
			continue
		}

		swg.Add()
		go func(target string) {
			defer swg.Done()
			if err := fn(target); err != nil {
				r.log.Warn().Err(err).Str("url", target).Msg("page failed")
				r.stats.RecordError()
			}
		}(target)
	}
	swg.Wait()
}

func (r *runner) drive(ctx context.Context, target string, doc formprobe.Document, dispatcher formprobe.Dispatcher) ([]*formprobe.Pending, error) {
	submitter, err := formprobe.NewSubmitter(r.opts.Strategy, dispatcher)
	if err != nil {
		return nil, err
	}

	opts := []formprobe.DriverOption{
		formprobe.WithDriverStats(r.stats),
		formprobe.WithDriverLogger(r.log.With().Str("page", target).Logger()),
	}
	if r.seen != nil {
		opts = append(opts, formprobe.WithSeenForms(r.seen))
	}

	return formprobe.NewDriver(r.filler, submitter, opts...).Run(ctx, doc)
}

// settle gives submissions time to leave the page: it waits for pending
// dispatches, or the full settle period when there is nothing to wait on.
func (r *runner) settle(ctx context.Context, pending []*formprobe.Pending) {
	if r.opts.Settle <= 0 {
		return
	}
	settleCtx, cancel := context.WithTimeout(ctx, r.opts.Settle)
	defer cancel()

	if len(pending) == 0 {
		<-settleCtx.Done()
		return
	}

	resolved := formprobe.WaitAll(settleCtx, pending)
	r.log.Debug().Int("resolved", resolved).Int("pending", len(pending)).Msg("settled")
}

func (r *runner) write(reqs ...*formprobe.CapturedRequest) error {
	r.outMu.Lock()
	defer r.outMu.Unlock()

	for _, req := range reqs {
		if err := r.enc.Encode(req); err != nil {
			return err
		}
	}
	return nil
}

func capturedFromRequest(page string, req *formprobe.Request) *formprobe.CapturedRequest {
	c := &formprobe.CapturedRequest{
		ID:     req.ID,
		Page:   page,
		Type:   "form",
		Method: req.Method,
		URL:    req.URL,
		Body:   req.Body,
	}
	if req.ContentType != "" {
		c.Headers = map[string]string{"content-type": req.ContentType}
	}
	return c
}
