package resolver

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"github.com/airlookjs/mediainfo/internal/cache"
	"github.com/airlookjs/mediainfo/internal/format"
	"github.com/airlookjs/mediainfo/internal/mediainfo"
	"github.com/airlookjs/mediainfo/internal/share"
	"github.com/airlookjs/mediainfo/pkg/logger"
	"github.com/google/uuid"
)

const (
	CachedKey  = "cached"
	VersionKey = "version"

	// suggestionThreshold is the minimum similarity for a known format
	// name to be logged as a likely intended value for an unknown one.
	suggestionThreshold = 0.5
)

type (
	TargetKind int

	// Target is the resolved subject of a request: either a file found
	// on one of the shares, or a remote URL handed straight to mediainfo.
	Target struct {
		Kind     TargetKind
		Location string
		Share    *share.Share
	}

	Config struct {
		Version       string
		DefaultFormat string
		Formats       *format.Registry
		Shares        []*share.Share
	}

	Request struct {
		ID           string
		Path         string
		OutputFormat string
	}

	// Response is a successful resolution. JSON formats populate
	// Document (already stamped with the version, and the cached flag
	// when served from cache); other kinds carry their body in Text.
	Response struct {
		Format   format.OutputFormat
		Target   Target
		Cached   bool
		Document map[string]any
		Text     string
	}

	cacheStore interface {
		Lookup(source string) (cache.Document, cache.Status, error)
		Store(source string, doc cache.Document) error
	}

	// Recorder receives an observation for each cache lookup, cache
	// write and analyzer invocation the resolver performs.
	Recorder interface {
		ObserveCacheLookup(status string)
		ObserveCacheWrite(err error)
		ObserveAnalysis(formatName string, target string, elapsed time.Duration, err error)
	}

	Resolver struct {
		config   Config
		analyzer mediainfo.Analyzer
		cache    cacheStore
		recorder Recorder
	}
)

const (
	LocalFile TargetKind = iota
	RemoteURL
)

func (e TargetKind) Values() []string {
	return []string{"LOCAL_FILE", "REMOTE_URL"}
}

func (e TargetKind) String() string {
	return e.Values()[e]
}

func New(config Config, analyzer mediainfo.Analyzer, store cacheStore, recorder Recorder) *Resolver {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	if config.Formats == nil {
		config.Formats = format.Default()
	}

	return &Resolver{config: config, analyzer: analyzer, cache: store, recorder: recorder}
}

// Resolve runs a request through format resolution, target resolution,
// the cache, and finally mediainfo itself. Every failure is returned as
// an *Error. Failing to write the cache is never reported to the caller.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Response, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	log := logger.Get("Resolver:" + shortID(req.ID))

	formatName := req.OutputFormat
	if formatName == "" {
		formatName = r.config.DefaultFormat
	}

	outputFormat, ok := r.config.Formats.Lookup(formatName)
	if !ok {
		if suggestion, ok := r.closestFormat(formatName); ok {
			log.Emit(logger.WARNING, "Invalid outputFormat: %s (did you mean %s?)\n", formatName, suggestion)
		} else {
			log.Emit(logger.WARNING, "Invalid outputFormat: %s\n", formatName)
		}

		return nil, errInvalidFormat(formatName)
	}
	log.Emit(logger.DEBUG, "Using outputFormat %s\n", outputFormat)

	if req.Path == "" {
		log.Infof("Missing file argument\n")
		return nil, errMissingArgument()
	}

	target, err := r.resolveTarget(req.Path)
	if err != nil {
		log.Infof("File was not found: %s\n", req.Path)
		return nil, err
	}

	cacheable := r.isCacheable(target, outputFormat)
	if cacheable {
		if resp := r.lookupCache(log, target, outputFormat); resp != nil {
			return resp, nil
		}
	}

	log.Infof("Analysing %s %s\n", target.Kind, target.Location)
	result, err := r.analyze(ctx, target, outputFormat)
	if err != nil {
		log.Errorf("Error computing mediainfo: %s\n", err)
		return nil, err
	}

	if cacheable {
		if err := r.storeCache(target, result); err != nil {
			log.Errorf("Error writing mediainfo file: %s\n", err)
		}
	}

	return r.respond(target, outputFormat, result, false), nil
}

// resolveTarget finds the file referenced by path on the configured
// shares. Failing that, a path which looks like an http(s) URL is
// accepted as a remote target.
func (r *Resolver) resolveTarget(path string) (Target, error) {
	if match, ok := share.Resolve(r.config.Shares, path); ok {
		return Target{Kind: LocalFile, Location: match.Path, Share: match.Share}, nil
	}

	if strings.HasPrefix(path, "http") && isRemoteURL(path) {
		return Target{Kind: RemoteURL, Location: path}, nil
	}

	return Target{}, errNotFound(path)
}

// isCacheable reports whether results for this target may be read from
// and written to the sidecar cache. Only files on cache-enabled shares
// requested in the default format qualify.
func (r *Resolver) isCacheable(target Target, f format.OutputFormat) bool {
	return target.Kind == LocalFile &&
		target.Share != nil &&
		target.Share.Cached &&
		f.Name == r.config.DefaultFormat &&
		f.Kind == format.JSON &&
		r.cache != nil
}

func (r *Resolver) lookupCache(log logger.Logger, target Target, f format.OutputFormat) *Response {
	doc, status, err := r.cache.Lookup(target.Location)
	r.recorder.ObserveCacheLookup(status.String())
	if err != nil {
		log.Emit(logger.WARNING, "Ignoring unreadable cache for %s: %s\n", target.Location, err)
		return nil
	}
	if status != cache.Fresh {
		return nil
	}

	log.Emit(logger.SUCCESS, "Serving cached result for %s\n", target.Location)
	return r.respond(target, f, &mediainfo.Result{Kind: f.Kind, Document: doc}, true)
}

func (r *Resolver) storeCache(target Target, result *mediainfo.Result) error {
	err := r.cache.Store(target.Location, cache.Document(result.Document))
	r.recorder.ObserveCacheWrite(err)
	if err != nil {
		return errCacheIO(err)
	}

	return nil
}

func (r *Resolver) analyze(ctx context.Context, target Target, f format.OutputFormat) (*mediainfo.Result, error) {
	start := time.Now()
	result, err := r.invoke(ctx, target, f)
	r.recorder.ObserveAnalysis(f.Name, target.Kind.String(), time.Since(start), err)

	return result, err
}

func (r *Resolver) invoke(ctx context.Context, target Target, f format.OutputFormat) (*mediainfo.Result, error) {
	out, err := r.analyzer.Analyze(ctx, target.Location, f.WireValue)
	if err != nil {
		return nil, errAnalysisFailed(err)
	}

	result, err := mediainfo.Interpret(f, out)
	if err != nil {
		return nil, errAnalysisFailed(err)
	}

	return result, nil
}

// respond shapes a result for the client. JSON documents are copied
// before stamping so the stamps never leak into the cache.
func (r *Resolver) respond(target Target, f format.OutputFormat, result *mediainfo.Result, cached bool) *Response {
	resp := &Response{Format: f, Target: target, Cached: cached}
	switch f.Kind {
	case format.JSON:
		doc := make(map[string]any, len(result.Document)+2)
		for k, v := range result.Document {
			doc[k] = v
		}
		if cached {
			doc[CachedKey] = true
		}
		doc[VersionKey] = r.config.Version
		resp.Document = doc
	case format.XML, format.TEXT:
		resp.Text = result.Text
	}

	return resp
}

// closestFormat finds the registered format name most similar to the
// unknown name given, if any is similar enough to be worth suggesting.
func (r *Resolver) closestFormat(name string) (string, bool) {
	metric := metrics.NewLevenshtein()
	metric.CaseSensitive = false

	best, bestScore := "", 0.0
	for _, candidate := range r.config.Formats.Names() {
		if score := strutil.Similarity(name, candidate, metric); score > bestScore {
			best, bestScore = candidate, score
		}
	}

	return best, bestScore >= suggestionThreshold
}

// isRemoteURL reports whether s is a well formed http or https URL.
func isRemoteURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return false
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return true
	default:
		return false
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}

	return id
}

// IsKind reports whether err is a resolver *Error of the kind given.
func IsKind(err error, kind ErrorKind) bool {
	var rErr *Error
	return errors.As(err, &rErr) && rErr.Kind == kind
}

type noopRecorder struct{}

func (noopRecorder) ObserveCacheLookup(string)                            {}
func (noopRecorder) ObserveCacheWrite(error)                              {}
func (noopRecorder) ObserveAnalysis(string, string, time.Duration, error) {}
