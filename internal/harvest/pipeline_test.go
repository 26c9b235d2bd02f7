package harvest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/journal-harvester/internal/clock/system"
	"github.com/JakeFAU/journal-harvester/internal/crawler"
	collyfetcher "github.com/JakeFAU/journal-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/journal-harvester/internal/oaipmh"
	"github.com/JakeFAU/journal-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/journal-harvester/internal/publisher/memory"
	"github.com/JakeFAU/journal-harvester/internal/storage/local"
)

const testStamp = "2021-03-04_05-06-07"

// repository emulates the aggregator: OAI endpoint, DOI resolver, article
// pages and the download host all live on one httptest server.
type repository struct {
	t      *testing.T
	srv    *httptest.Server
	mu     sync.Mutex
	calls  map[string]int
	failN  map[string]int
	record map[string]string
	pdfs   bool
	// slow delays GetRecord so overlapping attempts of one id would be seen.
	slow     time.Duration
	inflight map[string]int
	overlap  bool
}

const oaiEnvelope = `<?xml version="1.0" encoding="UTF-8"?>
<OAI-PMH xmlns="http://www.openarchives.org/OAI/2.0/"><responseDate>2021-03-04T05:06:07Z</responseDate>%s</OAI-PMH>`

func newRepository(t *testing.T) *repository {
	t.Helper()
	r := &repository{t: t, calls: map[string]int{}, failN: map[string]int{}, record: map[string]string{}, pdfs: true, inflight: map[string]int{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/oai", r.oai)
	mux.HandleFunc("/doi/", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, "/articles/"+strings.TrimPrefix(req.URL.Path, "/doi/"), http.StatusFound)
	})
	mux.HandleFunc("/articles/", r.article)
	mux.HandleFunc("/files/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 2048)))
	})
	r.srv = httptest.NewServer(mux)
	t.Cleanup(r.srv.Close)
	return r
}

func (r *repository) host() string {
	u, _ := url.Parse(r.srv.URL)
	return u.Host
}

func (r *repository) identifier(n int) string {
	return fmt.Sprintf("oai:hindawi.com:10.1155/2019/%d", n)
}

// addRecord registers record n. fields are raw dc elements; "" means defaults.
func (r *repository) addRecord(n int, fields string) {
	if fields == "" {
		fields = fmt.Sprintf(`<dc:title>Article %[1]d</dc:title><dc:creator>Doe</dc:creator>
<dc:publisher>Hindawi</dc:publisher><dc:date>2019</dc:date>
<dc:identifier>%[2]s/doi/%[1]d</dc:identifier><dc:rights>Copyright</dc:rights>`, n, r.srv.URL)
	}
	r.record[r.identifier(n)] = fmt.Sprintf(`<GetRecord><record><header>
<identifier>%s</identifier><datestamp>2019-06-%02d</datestamp><setSpec>HINDAWI.AA:2019</setSpec></header>
<metadata><oai_dc:dc xmlns:oai_dc="http://www.openarchives.org/OAI/2.0/oai_dc/" xmlns:dc="http://purl.org/dc/elements/1.1/">%s</oai_dc:dc></metadata>
</record></GetRecord>`, r.identifier(n), n, fields)
}

func (r *repository) getRecordCalls(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[id]
}

func (r *repository) oai(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	write := func(body string) { _, _ = fmt.Fprintf(w, oaiEnvelope, body) }
	switch q.Get("verb") {
	case "ListSets":
		write(`<ListSets>
<set><setSpec>HINDAWI.AA</setSpec><setName>Advances in Astronomy</setName></set>
<set><setSpec>HINDAWI.AA:2019</setSpec><setName>2019</setName></set>
<set><setSpec>HINDAWI.AA:2020</setSpec><setName>2020</setName></set>
</ListSets>`)
	case "ListIdentifiers":
		if q.Get("set") == "HINDAWI.AA:2020" {
			write(`<error code="noRecordsMatch"/>`)
			return
		}
		if q.Get("resumptionToken") == "" {
			write(fmt.Sprintf(`<ListIdentifiers><header><identifier>%s</identifier></header>
<header><identifier>%s</identifier></header><resumptionToken>p2</resumptionToken></ListIdentifiers>`,
				r.identifier(1), r.identifier(2)))
			return
		}
		write(fmt.Sprintf(`<ListIdentifiers><header><identifier>%s</identifier></header><resumptionToken/></ListIdentifiers>`, r.identifier(3)))
	case "GetRecord":
		id := q.Get("identifier")
		r.mu.Lock()
		r.calls[id]++
		n := r.calls[id]
		fail := n <= r.failN[id]
		r.inflight[id]++
		if r.inflight[id] > 1 {
			r.overlap = true
		}
		r.mu.Unlock()
		defer func() {
			r.mu.Lock()
			r.inflight[id]--
			r.mu.Unlock()
		}()
		time.Sleep(r.slow)
		if fail {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		body, ok := r.record[id]
		if !ok {
			write(`<error code="idDoesNotExist"/>`)
			return
		}
		write(body)
	default:
		write(`<error code="badVerb"/>`)
	}
}

func (r *repository) article(w http.ResponseWriter, req *http.Request) {
	n := strings.TrimPrefix(req.URL.Path, "/articles/")
	pdf := ""
	if r.pdfs {
		pdf = fmt.Sprintf(`<a href="http://%[1]s/files/%[2]s.pdf">PDF</a><a href="https://%[1]s/files/%[2]s.pdf">PDF</a>`, r.host(), n)
	}
	_, _ = fmt.Fprintf(w, `<html><head>
<meta name="dc.title" content="Scraped %[2]s"><meta name="dc.creator" content="Page Doe">
<meta name="citation_issn" content="1687-7969"></head><body>
<a href="https://creativecommons.org/licenses/by/4.0/">Creative Commons Attribution License</a>
%[3]s<a href="http://%[1]s/files/%[2]s.f1.docx">Supplement</a>
</body></html>`, r.host(), n, pdf)
}

type harness struct {
	h         *Harvester
	root      string
	state     string
	publisher *memory.Publisher
}

func newHarness(t *testing.T, repo *repository, workers int, table URLTable) harness {
	t.Helper()
	root := filepath.Join(t.TempDir(), "downloads")
	state := t.TempDir()
	output, err := local.New(local.Config{BaseDir: root})
	require.NoError(t, err)
	stateStore, err := local.New(local.Config{BaseDir: state})
	require.NoError(t, err)

	fetcher := ratelimit.NewPoliteFetcher(
		collyfetcher.New(collyfetcher.Config{UserAgent: "harvester-test", Timeout: 5 * time.Second}),
		ratelimit.New(ratelimit.Config{}),
	)
	client, err := oaipmh.New(oaipmh.Config{BaseURL: repo.srv.URL + "/oai"}, fetcher, crawler.NoPause{}, nil)
	require.NoError(t, err)

	pub := memory.New()
	h, err := New(Config{
		ArtifactHost:      repo.host(),
		ArtifactScheme:    "http",
		CollectionPrefix:  "Open Access E-Journals/Hindawi",
		Group:             "Hindawi Publishing Corporation",
		ToolName:          "journal-harvester",
		Version:           "test",
		Workers:           workers,
		MaxRecordAttempts: 3,
		RecordBackoff:     time.Millisecond,
		Topic:             "packages",
	}, Deps{
		Sets:       NewSetResolver(client, nil),
		Enumerator: NewEnumerator(client, nil),
		Resolver:   NewResolver(client, fetcher, table, "127.0.0.1", nil),
		Artifacts:  NewArtifactFetcher(fetcher, output, nil, crawler.NewLinearRetryPolicy(3, 0), crawler.NoPause{}, nil),
		Output:     output,
		State:      stateStore,
		Publisher:  pub,
		Pauser:     crawler.NoPause{},
		Clock:      system.Fixed(time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)),
		BaseURL:    client.BaseURL(),
	})
	require.NoError(t, err)
	require.Equal(t, testStamp, h.Stamp())
	return harness{h: h, root: root, state: state, publisher: pub}
}

func TestRunRecoversFromTransientFaults(t *testing.T) {
	t.Parallel()

	repo := newRepository(t)
	repo.addRecord(1, "")
	repo.addRecord(2, "")
	repo.addRecord(3, "")
	repo.failN[repo.identifier(2)] = 2

	hs := newHarness(t, repo, 1, nil)
	summary, err := hs.h.Run(context.Background(), []string{"HINDAWI.AA:2019"}, nil)
	require.NoError(t, err)
	require.Len(t, summary.Sets, 1)

	set := summary.Sets[0]
	assert.Equal(t, 3, set.Total)
	assert.Equal(t, 3, set.Completed)
	assert.Equal(t, 2, set.Requeues)
	assert.Empty(t, set.Failed)
	assert.Empty(t, set.Skipped)
	assert.Empty(t, set.Remaining)
	assert.Equal(t, 3, repo.getRecordCalls(repo.identifier(2)))

	progress := hs.h.Progress()
	assert.Equal(t, Progress{Stamp: testStamp, SetsDone: 1, Completed: 3, Requeues: 2}, progress)

	folder := filepath.Join(hs.root, "HINDAWI_AA_2019_"+testStamp)
	for n := 1; n <= 3; n++ {
		rec := filepath.Join(folder, fmt.Sprintf("10_1155_2019_%d", n))
		for _, f := range []string{OAIRecordFile, DCFile, CollectionFile, HarvestFile} {
			assert.FileExists(t, filepath.Join(rec, f))
		}
		assert.FileExists(t, filepath.Join(rec, "MASTER", fmt.Sprintf("%d.pdf", n)))
		assert.FileExists(t, filepath.Join(rec, "MASTER", fmt.Sprintf("%d.pdf.md5", n)))
		assert.FileExists(t, filepath.Join(rec, "MASTER", "supplements", fmt.Sprintf("%d.f1.docx", n)))
	}

	dc, err := os.ReadFile(filepath.Join(folder, "10_1155_2019_1", DCFile))
	require.NoError(t, err)
	assert.Contains(t, string(dc), "<dcterms:accessRights>https://creativecommons.org/licenses/by/4.0/</dcterms:accessRights>")
	assert.NotContains(t, string(dc), "dc:rights")

	harvest, err := os.ReadFile(filepath.Join(folder, "10_1155_2019_1", HarvestFile))
	require.NoError(t, err)
	assert.Contains(t, string(harvest), "<sourceURL>"+repo.srv.URL+"/articles/1</sourceURL>")
	assert.Contains(t, string(harvest), "<harvestDate>2021-03-04 05:06:07</harvestDate>")

	assert.NoFileExists(t, filepath.Join(hs.state, "HINDAWI_AA_2019_"+testStamp+ManifestSuffix))
	assert.NoFileExists(t, filepath.Join(hs.state, testStamp+"_"+FailuresFile))

	stats, err := os.ReadFile(filepath.Join(hs.state, testStamp+"_"+StatisticsFile))
	require.NoError(t, err)
	assert.Equal(t, "\nAdvances in Astronomy\nHINDAWI.AA:2019\n3\n", string(stats))

	msgs := hs.publisher.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "packages", msgs[0].Topic)
	event, ok := msgs[0].Payload.(PackageArchived)
	require.True(t, ok)
	assert.Equal(t, 2, event.Files)
}

func TestRunGivesUpAfterRepeatedFaults(t *testing.T) {
	t.Parallel()

	repo := newRepository(t)
	repo.addRecord(1, "")
	repo.addRecord(2, "")
	repo.addRecord(3, "")
	repo.failN[repo.identifier(2)] = 100

	hs := newHarness(t, repo, 2, nil)
	summary, err := hs.h.Run(context.Background(), []string{"HINDAWI.AA:2019"}, nil)
	require.NoError(t, err)

	set := summary.Sets[0]
	assert.Equal(t, 2, set.Completed)
	assert.Equal(t, []string{repo.identifier(2)}, set.Failed)
	assert.Equal(t, 4, repo.getRecordCalls(repo.identifier(2)), "no fifth attempt")
	assert.NoDirExists(t, filepath.Join(hs.root, "HINDAWI_AA_2019_"+testStamp, "10_1155_2019_2"))

	manifest, err := os.ReadFile(filepath.Join(hs.state, "HINDAWI_AA_2019_"+testStamp+ManifestSuffix))
	require.NoError(t, err)
	assert.Equal(t, repo.identifier(2)+"\n", string(manifest))

	failures, err := os.ReadFile(filepath.Join(hs.state, testStamp+"_"+FailuresFile))
	require.NoError(t, err)
	assert.Equal(t, "HINDAWI.AA:2019\n\""+repo.identifier(2)+"\" \n\n", string(failures))
}

func TestRunSkipsRecordsWithoutDOIAndReportsMissingMetadata(t *testing.T) {
	t.Parallel()

	repo := newRepository(t)
	repo.pdfs = false
	repo.addRecord(1, `<dc:title>No DOI</dc:title>`)
	repo.addRecord(2, `<dc:title>Lonely</dc:title><dc:publisher>Hindawi</dc:publisher>
<dc:identifier>https://doi.org/10.1155/2019/2</dc:identifier>`)
	table := URLTable{"https://doi.org/10.1155/2019/2": repo.srv.URL + "/articles/2"}

	hs := newHarness(t, repo, 1, table)
	ids := []string{repo.identifier(1), repo.identifier(2)}
	summary, err := hs.h.Run(context.Background(), []string{"HINDAWI.AA:2019", "NOT.A.SET"}, ids)
	require.NoError(t, err)
	assert.Equal(t, []string{"NOT.A.SET"}, summary.Invalid)

	set := summary.Sets[0]
	assert.Equal(t, 1, set.Completed)
	assert.Equal(t, []string{repo.identifier(1)}, set.Skipped)
	assert.Equal(t, 1, repo.getRecordCalls(repo.identifier(1)), "skips are not retried")
	folder := filepath.Join(hs.root, "HINDAWI_AA_2019_"+testStamp)
	assert.NoDirExists(t, filepath.Join(folder, "10_1155_2019_1"))

	dc, err := os.ReadFile(filepath.Join(folder, "10_1155_2019_2", DCFile))
	require.NoError(t, err)
	assert.Contains(t, string(dc), "<dc:identifier>DOI: 10.1155/2019/2</dc:identifier>")

	report, err := os.ReadFile(filepath.Join(hs.state, testStamp+"_"+MissingMetadataFile))
	require.NoError(t, err)
	assert.Contains(t, string(report), "=== HINDAWI.AA:2019")
	assert.Contains(t, string(report), "dc:creator is missing")
	assert.Contains(t, string(report), "dc:date is missing")
	assert.Contains(t, string(report), repo.srv.URL+"/articles/2\nTitle: Scraped 2")
}

// stopAfter cancels the run once n packages were published.
type stopAfter struct {
	*memory.Publisher
	n      int
	cancel context.CancelFunc
}

func (p *stopAfter) Publish(ctx context.Context, topic string, payload any) (string, error) {
	id, err := p.Publisher.Publish(ctx, topic, payload)
	if len(p.Messages()) == p.n {
		p.cancel()
	}
	return id, err
}

func TestRunStoppedMidSetStillWritesReports(t *testing.T) {
	t.Parallel()

	repo := newRepository(t)
	repo.addRecord(1, "")
	repo.addRecord(2, fmt.Sprintf(`<dc:title>Article 2</dc:title><dc:publisher>Hindawi</dc:publisher>
<dc:identifier>%s/doi/2</dc:identifier>`, repo.srv.URL))
	repo.addRecord(3, "")

	hs := newHarness(t, repo, 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hs.h.deps.Publisher = &stopAfter{Publisher: hs.publisher, n: 2, cancel: cancel}

	summary, err := hs.h.Run(ctx, []string{"HINDAWI.AA:2019"}, nil)
	require.NoError(t, err)
	require.Len(t, summary.Sets, 1)
	set := summary.Sets[0]
	assert.True(t, set.Stopped)
	assert.Equal(t, 2, set.Completed)
	assert.Equal(t, []string{repo.identifier(3)}, set.Remaining)
	assert.Zero(t, repo.getRecordCalls(repo.identifier(3)))

	manifest, err := os.ReadFile(filepath.Join(hs.state, "HINDAWI_AA_2019_"+testStamp+ManifestSuffix))
	require.NoError(t, err)
	assert.Equal(t, repo.identifier(3)+"\n", string(manifest))

	report, err := os.ReadFile(filepath.Join(hs.state, testStamp+"_"+MissingMetadataFile))
	require.NoError(t, err)
	assert.Contains(t, string(report), "dc:creator is missing")
	assert.Contains(t, string(report), "dc:date is missing")

	stats, err := os.ReadFile(filepath.Join(hs.state, testStamp+"_"+StatisticsFile))
	require.NoError(t, err)
	assert.Equal(t, "\nAdvances in Astronomy\nHINDAWI.AA:2019\n3\n", string(stats))
}

func TestProcessSetHonorsCancellation(t *testing.T) {
	t.Parallel()

	repo := newRepository(t)
	repo.addRecord(1, "")
	repo.addRecord(2, "")
	hs := newHarness(t, repo, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ids := []string{repo.identifier(1), repo.identifier(2)}
	result, err := hs.h.ProcessSet(ctx, "HINDAWI.AA:2019", ids)
	require.NoError(t, err)
	assert.True(t, result.Stopped)
	assert.Zero(t, result.Completed)
	assert.Equal(t, ids, result.Remaining)
	assert.Zero(t, repo.getRecordCalls(repo.identifier(1)))

	manifest, err := os.ReadFile(filepath.Join(hs.state, "HINDAWI_AA_2019_"+testStamp+ManifestSuffix))
	require.NoError(t, err)
	assert.Equal(t, strings.Join(ids, "\n")+"\n", string(manifest))
}

func TestProcessSetNeverRunsAnIdentifierTwiceAtOnce(t *testing.T) {
	t.Parallel()

	repo := newRepository(t)
	repo.addRecord(1, "")
	repo.addRecord(2, "")
	repo.slow = 20 * time.Millisecond
	hs := newHarness(t, repo, 4, nil)

	one, two := repo.identifier(1), repo.identifier(2)
	result, err := hs.h.ProcessSet(context.Background(), "HINDAWI.AA:2019", []string{one, one, two, one})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Completed)
	assert.Empty(t, result.Remaining)
	assert.Equal(t, 3, repo.getRecordCalls(one))
	assert.Equal(t, 1, repo.getRecordCalls(two))
	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.False(t, repo.overlap, "an identifier was fetched by two workers at once")
}

func TestCountExpandsSets(t *testing.T) {
	t.Parallel()

	repo := newRepository(t)
	hs := newHarness(t, repo, 1, nil)

	summary, err := hs.h.Count(context.Background(), []string{"HINDAWI.AA", "bogus"})
	require.NoError(t, err)
	assert.Equal(t, []string{"bogus"}, summary.Invalid)

	counts := map[string]int{}
	for _, s := range summary.Sets {
		counts[s.Target] = s.Total
	}
	assert.Equal(t, map[string]int{"HINDAWI.AA": 3, "HINDAWI.AA:2019": 3, "HINDAWI.AA:2020": 0}, counts)

	stats, err := os.ReadFile(filepath.Join(hs.state, testStamp+"_"+StatisticsFile))
	require.NoError(t, err)
	assert.Equal(t, "\nAdvances in Astronomy\nHINDAWI.AA,HINDAWI.AA:2019,HINDAWI.AA:2020\n3,3,0\n", string(stats))

	entries, err := os.ReadDir(hs.root)
	require.NoError(t, err)
	assert.Empty(t, entries, "counting downloads nothing")
}

func TestAppendSetFile(t *testing.T) {
	t.Parallel()

	repo := newRepository(t)
	hs := newHarness(t, repo, 1, nil)
	path := filepath.Join(t.TempDir(), "sets.txt")
	require.NoError(t, os.WriteFile(path, []byte("HINDAWI.BB:2000\n"), 0o600))

	n, err := AppendSetFile(context.Background(), hs.h.deps.Sets, []string{"HINDAWI.AA", "HINDAWI.AA:2019", "junk"}, DefaultSetPrefix, path, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "HINDAWI.BB:2000\nHINDAWI.AA:2019\nHINDAWI.AA:2020\n", string(data))
}
