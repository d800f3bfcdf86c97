package resolver_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/airlookjs/mediainfo/internal/cache"
	"github.com/airlookjs/mediainfo/internal/format"
	"github.com/airlookjs/mediainfo/internal/mediainfo"
	"github.com/airlookjs/mediainfo/internal/resolver"
	"github.com/airlookjs/mediainfo/internal/share"
	"github.com/airlookjs/mediainfo/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gotest.tools/v3/fs"
)

const (
	testVersion   = "1.2.3-test"
	defaultFormat = "EBUCore_JSON"
	mediainfoJSON = `{"media":{"@ref":"bar.mp4","track":[{"@type":"General","Duration":"12.000"}]}}`
)

var errExpected = errors.New("test: expected error")

func init() {
	logger.SetMinLoggingLevel(logger.WARNING.Level())
}

type mockAnalyzer struct {
	mock.Mock
}

func (m *mockAnalyzer) Analyze(_ context.Context, target string, wireValue string) (mediainfo.Output, error) {
	args := m.Called(target, wireValue)
	//nolint:forcetypeassert
	return args.Get(0).(mediainfo.Output), args.Error(1)
}

type mockCache struct {
	mock.Mock
}

func (m *mockCache) Lookup(source string) (cache.Document, cache.Status, error) {
	args := m.Called(source)
	doc, _ := args.Get(0).(cache.Document)
	//nolint:forcetypeassert
	return doc, args.Get(1).(cache.Status), args.Error(2)
}

func (m *mockCache) Store(source string, doc cache.Document) error {
	return m.Called(source, doc).Error(0)
}

type countingRecorder struct {
	lookups  []string
	writes   []error
	analyses int
}

func (c *countingRecorder) ObserveCacheLookup(status string) { c.lookups = append(c.lookups, status) }
func (c *countingRecorder) ObserveCacheWrite(err error)      { c.writes = append(c.writes, err) }
func (c *countingRecorder) ObserveAnalysis(string, string, time.Duration, error) {
	c.analyses++
}

type fixture struct {
	dir      *fs.Dir
	share    *share.Share
	analyzer *mockAnalyzer
	recorder *countingRecorder
	resolver *resolver.Resolver
}

// newFixture builds a resolver over a single share mounted at a fresh
// temporary directory containing foo/bar.mp4, matching `^foo\/(.*)$`.
func newFixture(t *testing.T, cached bool) *fixture {
	dir := fs.NewDir(t, "mnt", fs.WithFile("bar.mp4", "not really a video"))
	s, err := share.New("test", dir.Path(), cached, []string{`^foo\/(.*)$`})
	require.NoError(t, err)

	f := &fixture{dir: dir, share: s, analyzer: &mockAnalyzer{}, recorder: &countingRecorder{}}
	f.resolver = resolver.New(resolver.Config{
		Version:       testVersion,
		DefaultFormat: defaultFormat,
		Formats:       format.Default(),
		Shares:        []*share.Share{s},
	}, f.analyzer, cache.New(), f.recorder)

	return f
}

func (f *fixture) resolve(t *testing.T, path string, outputFormat string) (*resolver.Response, error) {
	return f.resolver.Resolve(context.Background(), resolver.Request{Path: path, OutputFormat: outputFormat})
}

func requireKind(t *testing.T, err error, kind resolver.ErrorKind) *resolver.Error {
	var rErr *resolver.Error
	require.True(t, errors.As(err, &rErr), "expected *resolver.Error, got %v", err)
	assert.Equal(t, kind, rErr.Kind)
	return rErr
}

func mustJSON(t *testing.T, v any) string {
	out, err := json.Marshal(v)
	require.NoError(t, err)
	return string(out)
}

// Scenario A: default format, cached share, no cache present.
func Test_Resolve_FreshAnalysisIsCached(t *testing.T) {
	f := newFixture(t, true)
	source := f.dir.Join("bar.mp4")
	f.analyzer.On("Analyze", source, "EBUCore_JSON").Return(mediainfo.Output{Stdout: mediainfoJSON}, nil).Once()

	resp, err := f.resolve(t, "foo/bar.mp4", "")
	require.NoError(t, err)

	assert.False(t, resp.Cached)
	assert.Equal(t, resolver.LocalFile, resp.Target.Kind)
	assert.Equal(t, source, resp.Target.Location)
	assert.Equal(t, testVersion, resp.Document[resolver.VersionKey])
	assert.NotContains(t, resp.Document, resolver.CachedKey)
	assert.JSONEq(t, `{"mediainfo":`+mediainfoJSON+`,"version":"`+testVersion+`"}`, mustJSON(t, resp.Document))

	// The cache file holds the result without any stamps
	cacheContent, err := os.ReadFile(cache.New().Path(source))
	require.NoError(t, err)
	assert.JSONEq(t, `{"mediainfo":`+mediainfoJSON+`}`, string(cacheContent))

	f.analyzer.AssertExpectations(t)
	assert.Equal(t, []string{"MISSING"}, f.recorder.lookups)
	assert.Equal(t, []error{nil}, f.recorder.writes)
}

// Scenario B, plus idempotence and the round-trip property.
func Test_Resolve_RepeatServesCache(t *testing.T) {
	f := newFixture(t, true)
	source := f.dir.Join("bar.mp4")
	f.analyzer.On("Analyze", source, "EBUCore_JSON").Return(mediainfo.Output{Stdout: mediainfoJSON}, nil).Once()

	first, err := f.resolve(t, "foo/bar.mp4", "")
	require.NoError(t, err)
	second, err := f.resolve(t, "foo/bar.mp4", defaultFormat)
	require.NoError(t, err)

	f.analyzer.AssertNumberOfCalls(t, "Analyze", 1)
	assert.True(t, second.Cached)
	assert.Equal(t, true, second.Document[resolver.CachedKey])
	assert.Equal(t, testVersion, second.Document[resolver.VersionKey])
	assert.Equal(t,
		mustJSON(t, first.Document[mediainfo.DocumentKey]),
		mustJSON(t, second.Document[mediainfo.DocumentKey]),
		"cached payload must be byte-for-byte identical",
	)

	expected := map[string]any{}
	for k, v := range first.Document {
		expected[k] = v
	}
	expected[resolver.CachedKey] = true
	assert.JSONEq(t, mustJSON(t, expected), mustJSON(t, second.Document))
}

func Test_Resolve_StaleCacheIsReanalysed(t *testing.T) {
	f := newFixture(t, true)
	source := f.dir.Join("bar.mp4")
	f.analyzer.On("Analyze", source, "EBUCore_JSON").Return(mediainfo.Output{Stdout: mediainfoJSON}, nil).Twice()

	_, err := f.resolve(t, "foo/bar.mp4", "")
	require.NoError(t, err)

	// Source modified after the cache was written
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(cache.New().Path(source), past, past))

	resp, err := f.resolve(t, "foo/bar.mp4", "")
	require.NoError(t, err)
	assert.False(t, resp.Cached)
	f.analyzer.AssertNumberOfCalls(t, "Analyze", 2)
	assert.Equal(t, []string{"MISSING", "STALE"}, f.recorder.lookups)
}

func Test_Resolve_NonDefaultFormatIsNeverCached(t *testing.T) {
	f := newFixture(t, true)
	source := f.dir.Join("bar.mp4")
	f.analyzer.On("Analyze", source, "JSON").Return(mediainfo.Output{Stdout: mediainfoJSON}, nil).Twice()

	for i := 0; i < 2; i++ {
		resp, err := f.resolve(t, "foo/bar.mp4", "JSON")
		require.NoError(t, err)
		assert.False(t, resp.Cached)
	}

	assert.NoFileExists(t, cache.New().Path(source))
	assert.Empty(t, f.recorder.lookups)
	f.analyzer.AssertExpectations(t)
}

func Test_Resolve_UncachedShare(t *testing.T) {
	f := newFixture(t, false)
	source := f.dir.Join("bar.mp4")
	f.analyzer.On("Analyze", source, "EBUCore_JSON").Return(mediainfo.Output{Stdout: mediainfoJSON}, nil).Twice()

	for i := 0; i < 2; i++ {
		_, err := f.resolve(t, "foo/bar.mp4", "")
		require.NoError(t, err)
	}

	assert.NoFileExists(t, cache.New().Path(source))
	f.analyzer.AssertExpectations(t)
}

// Scenario C
func Test_Resolve_InvalidFormat(t *testing.T) {
	analyzer := &mockAnalyzer{}
	store := &mockCache{}
	r := resolver.New(resolver.Config{
		Version:       testVersion,
		DefaultFormat: defaultFormat,
		Shares:        []*share.Share{},
	}, analyzer, store, nil)

	for _, name := range []string{"BOGUS", "json", "EBUCORE_JSON"} {
		_, err := r.Resolve(context.Background(), resolver.Request{Path: "foo/bar.mp4", OutputFormat: name})
		rErr := requireKind(t, err, resolver.InvalidFormat)
		assert.Equal(t, "Invalid outputFormat: "+name, rErr.Error())
		assert.Equal(t, http.StatusInternalServerError, rErr.StatusCode())
	}

	// The format is validated before the path, so even an empty path reports the format
	_, err := r.Resolve(context.Background(), resolver.Request{OutputFormat: "BOGUS"})
	requireKind(t, err, resolver.InvalidFormat)

	analyzer.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "Lookup", mock.Anything)
	store.AssertNotCalled(t, "Store", mock.Anything, mock.Anything)
}

// Scenario D
func Test_Resolve_RemoteURL(t *testing.T) {
	f := newFixture(t, true)
	url := "https://example.com/clip.mp4"
	f.analyzer.On("Analyze", url, "EBUCore_JSON").Return(mediainfo.Output{Stdout: mediainfoJSON}, nil).Twice()

	for i := 0; i < 2; i++ {
		resp, err := f.resolve(t, url, "")
		require.NoError(t, err)
		assert.Equal(t, resolver.RemoteURL, resp.Target.Kind)
		assert.Nil(t, resp.Target.Share)
		assert.False(t, resp.Cached)
		assert.Equal(t, testVersion, resp.Document[resolver.VersionKey])
	}

	f.analyzer.AssertExpectations(t)
	assert.Empty(t, f.recorder.lookups, "remote targets never consult the cache")
	assert.Empty(t, f.recorder.writes, "remote targets are never cached")
}

func Test_Resolve_InvalidRemoteURL(t *testing.T) {
	f := newFixture(t, true)

	for _, path := range []string{"httpfoo", "http://", "http:///nohost.mp4", "https//example.com/a.mp4", "ftp://example.com/a.mp4", "http://[::1"} {
		_, err := f.resolve(t, path, "")
		rErr := requireKind(t, err, resolver.NotFound)
		assert.Equal(t, "File was not found: "+path, rErr.Error())
	}

	f.analyzer.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything)
}

// Scenario E
func Test_Resolve_MissingArgument(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.resolve(t, "", "")
	rErr := requireKind(t, err, resolver.MissingArgument)
	assert.Equal(t, "Missing file argument", rErr.Error())
	assert.Equal(t, http.StatusBadRequest, rErr.StatusCode())
	f.analyzer.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything)
}

func Test_Resolve_LocalFileNotFound(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.resolve(t, "foo/missing.mp4", "")
	rErr := requireKind(t, err, resolver.NotFound)
	assert.Equal(t, "File was not found: foo/missing.mp4", rErr.Error())

	_, err = f.resolve(t, "unmatched/bar.mp4", "")
	requireKind(t, err, resolver.NotFound)
}

func Test_Resolve_AnalysisFailure(t *testing.T) {
	f := newFixture(t, true)
	source := f.dir.Join("bar.mp4")
	f.analyzer.On("Analyze", source, "EBUCore_JSON").Return(mediainfo.Output{Stdout: mediainfoJSON, Stderr: "Unable to open file"}, nil).Once()
	f.analyzer.On("Analyze", source, "XML").Return(mediainfo.Output{}, errExpected).Once()
	f.analyzer.On("Analyze", source, "JSON").Return(mediainfo.Output{Stdout: "not json"}, nil).Once()

	_, err := f.resolve(t, "foo/bar.mp4", "")
	rErr := requireKind(t, err, resolver.AnalysisFailed)
	assert.Equal(t, "Unable to open file", rErr.Error(), "stderr must be propagated verbatim")
	assert.NoFileExists(t, cache.New().Path(source), "failures must not be cached")

	_, err = f.resolve(t, "foo/bar.mp4", "XML")
	rErr = requireKind(t, err, resolver.AnalysisFailed)
	assert.ErrorIs(t, rErr, errExpected)

	_, err = f.resolve(t, "foo/bar.mp4", "JSON")
	requireKind(t, err, resolver.AnalysisFailed)
	assert.Equal(t, 3, f.recorder.analyses)
}

func Test_Resolve_CacheWriteFailureIsSwallowed(t *testing.T) {
	f := newFixture(t, true)
	source := f.dir.Join("bar.mp4")
	// A regular file in place of the cache directory makes every write fail
	require.NoError(t, os.WriteFile(f.dir.Join(".cache"), []byte("in the way"), 0o644))
	f.analyzer.On("Analyze", source, "EBUCore_JSON").Return(mediainfo.Output{Stdout: mediainfoJSON}, nil).Twice()

	for i := 0; i < 2; i++ {
		resp, err := f.resolve(t, "foo/bar.mp4", "")
		require.NoError(t, err)
		assert.False(t, resp.Cached)
		assert.Equal(t, testVersion, resp.Document[resolver.VersionKey])
	}

	require.Len(t, f.recorder.writes, 2)
	assert.Error(t, f.recorder.writes[0])
	f.analyzer.AssertExpectations(t)
}

func Test_Resolve_UnreadableCacheIsIgnored(t *testing.T) {
	f := newFixture(t, true)
	source := f.dir.Join("bar.mp4")
	require.NoError(t, os.MkdirAll(f.dir.Join(".cache", "mediainfo"), 0o755))
	require.NoError(t, os.WriteFile(cache.New().Path(source), []byte("{truncated"), 0o644))
	f.analyzer.On("Analyze", source, "EBUCore_JSON").Return(mediainfo.Output{Stdout: mediainfoJSON}, nil).Once()

	resp, err := f.resolve(t, "foo/bar.mp4", "")
	require.NoError(t, err)
	assert.False(t, resp.Cached)

	// The broken cache was replaced by the fresh analysis
	resp, err = f.resolve(t, "foo/bar.mp4", "")
	require.NoError(t, err)
	assert.True(t, resp.Cached)
	f.analyzer.AssertExpectations(t)
}

func Test_Resolve_TextKinds(t *testing.T) {
	f := newFixture(t, true)
	source := f.dir.Join("bar.mp4")
	f.analyzer.On("Analyze", source, "PBCore2").Return(mediainfo.Output{Stdout: "<pbcore/>"}, nil).Once()
	f.analyzer.On("Analyze", source, "HTML").Return(mediainfo.Output{Stdout: "<html/>"}, nil).Once()

	resp, err := f.resolve(t, "foo/bar.mp4", "PBCore2")
	require.NoError(t, err)
	assert.Equal(t, format.XML, resp.Format.Kind)
	assert.Equal(t, "<pbcore/>", resp.Text)
	assert.Nil(t, resp.Document)

	resp, err = f.resolve(t, "foo/bar.mp4", "HTML")
	require.NoError(t, err)
	assert.Equal(t, format.TEXT, resp.Format.Kind)
	assert.Equal(t, "<html/>", resp.Text)
}

func Test_Resolve_CacheMockHit(t *testing.T) {
	f := newFixture(t, true)
	source := f.dir.Join("bar.mp4")
	store := &mockCache{}
	store.On("Lookup", source).Return(cache.Document{"mediainfo": "from cache"}, cache.Fresh, nil).Once()

	r := resolver.New(resolver.Config{
		Version:       testVersion,
		DefaultFormat: defaultFormat,
		Shares:        []*share.Share{f.share},
	}, f.analyzer, store, nil)

	resp, err := r.Resolve(context.Background(), resolver.Request{ID: "fixed-request-id", Path: "foo/bar.mp4"})
	require.NoError(t, err)
	assert.True(t, resp.Cached)
	assert.Equal(t, "from cache", resp.Document["mediainfo"])
	store.AssertExpectations(t)
	store.AssertNotCalled(t, "Store", mock.Anything, mock.Anything)
	f.analyzer.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything)
}

func Test_IsKind(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.resolve(t, "", "")
	assert.True(t, resolver.IsKind(err, resolver.MissingArgument))
	assert.False(t, resolver.IsKind(err, resolver.NotFound))
	assert.False(t, resolver.IsKind(errExpected, resolver.MissingArgument))
}
