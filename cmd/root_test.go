package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/journal-harvester/internal/config"
	"github.com/JakeFAU/journal-harvester/internal/logging"
)

const envelope = `<?xml version="1.0" encoding="UTF-8"?>
<OAI-PMH xmlns="http://www.openarchives.org/OAI/2.0/"><responseDate>2021-03-04T05:06:07Z</responseDate>%s</OAI-PMH>`

func newOAIServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch q.Get("verb") {
		case "ListSets":
			_, _ = fmt.Fprintf(w, envelope, `<ListSets>
<set><setSpec>HINDAWI.AA</setSpec><setName>Advances in Astronomy</setName></set>
<set><setSpec>HINDAWI.AA:2019</setSpec><setName>2019</setName></set>
<set><setSpec>HINDAWI.AA:2020</setSpec><setName>2020</setName></set>
</ListSets>`)
		case "ListIdentifiers":
			_, _ = fmt.Fprintf(w, envelope, `<ListIdentifiers>
<header><identifier>oai:hindawi.com:10.1155/2019/1</identifier></header>
<header><identifier>oai:hindawi.com:10.1155/2019/2</identifier></header>
</ListIdentifiers>`)
		default:
			_, _ = fmt.Fprintf(w, envelope, `<error code="badVerb"/>`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// useTestApp swaps the App factory for one that skips version resolution and
// logs nowhere. Tests using it must not run in parallel.
func useTestApp(t *testing.T, base ...config.Override) {
	t.Helper()
	orig := newApp
	t.Cleanup(func() { newApp = orig })
	newApp = func(_ context.Context, path string, overrides []config.Override) (*App, error) {
		cfg, err := config.Load(path, append(base, overrides...)...)
		if err != nil {
			return nil, err
		}
		return &App{Config: cfg, Logger: zap.NewNop(), Counter: &logging.Counter{}, Version: "test", Stamp: "stamp"}, nil
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestFlagOverrides(t *testing.T) {
	t.Parallel()

	cmd := newHarvestCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--workers", "3", "--loglevel", "debug", "--download-root", "/data"}))

	overrides, err := flagOverrides(cmd)
	require.NoError(t, err)
	assert.ElementsMatch(t, []config.Override{
		{Key: "harvest.workers", Value: 3},
		{Key: "logging.level", Value: "debug"},
		{Key: "harvest.download_root", Value: "/data"},
	}, overrides)
}

func TestFlagOverridesIgnoresUnsetFlags(t *testing.T) {
	t.Parallel()

	cmd := newHarvestCmd()
	require.NoError(t, cmd.ParseFlags(nil))
	overrides, err := flagOverrides(cmd)
	require.NoError(t, err)
	assert.Empty(t, overrides)
}

func TestCollectIDs(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ids.txt")
	require.NoError(t, os.WriteFile(path, []byte("c\n\n d \n"), 0o600))

	tests := []struct {
		name string
		ids  []string
		file string
		want []string
	}{
		{name: "none", want: []string{}},
		{name: "flag only", ids: []string{"a", "b"}, want: []string{"a", "b"}},
		{name: "flag and file", ids: []string{"a"}, file: path, want: []string{"a", "c", "d"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := collectIDs(tt.ids, tt.file)
			if err != nil {
				t.Fatalf("collectIDs() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("collectIDs() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("collectIDs() = %v, want %v", got, tt.want)
				}
			}
		})
	}

	_, err := collectIDs(nil, filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestCountCommand(t *testing.T) {
	srv := newOAIServer(t)
	state := t.TempDir()
	useTestApp(t,
		config.Override{Key: "oai.base_url", Value: srv.URL + "/oai"},
		config.Override{Key: "oai.page_delay", Value: "0s"},
	)

	out, err := execute(t, "count", "HINDAWI.AA", "--state-dir", state)
	require.NoError(t, err)
	assert.Contains(t, out, "HINDAWI.AA\t2\n")
	assert.Contains(t, out, "HINDAWI.AA:2019\t2\n")
	assert.Contains(t, out, "HINDAWI.AA:2020\t2\n")

	matches, err := filepath.Glob(filepath.Join(state, "*_counted_records.csv"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Equal(t, "\nAdvances in Astronomy\nHINDAWI.AA,HINDAWI.AA:2019,HINDAWI.AA:2020\n2,2,2\n", string(data))
}

func TestSetfileCommand(t *testing.T) {
	srv := newOAIServer(t)
	useTestApp(t, config.Override{Key: "oai.base_url", Value: srv.URL + "/oai"})
	path := filepath.Join(t.TempDir(), "targets.txt")

	out, err := execute(t, "setfile", path, "HINDAWI.AA", "HINDAWI.AA:2019")
	require.NoError(t, err)
	assert.Contains(t, out, "appended 2 subsets")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "HINDAWI.AA:2019\nHINDAWI.AA:2020\n", string(data))
}

func TestHarvestCommandRequiresDownloadRoot(t *testing.T) {
	useTestApp(t, config.Override{Key: "harvest.download_root", Value: ""})

	_, err := execute(t, "harvest", "HINDAWI.AA:2019")
	require.ErrorContains(t, err, "harvest.download_root")
}

func TestHarvestCommandRejectsBadWorkers(t *testing.T) {
	useTestApp(t)

	_, err := execute(t, "harvest", "HINDAWI.AA:2019", "--workers", "7", "--download-root", t.TempDir())
	require.ErrorContains(t, err, "harvest.workers")
}

func TestAppCloseReportsProblems(t *testing.T) {
	t.Parallel()

	counter := &logging.Counter{}
	logger, err := logging.New(logging.Options{Level: "error", Counter: counter})
	require.NoError(t, err)
	app := &App{Config: config.Config{Logging: config.LoggingConfig{Dir: "/var/log/harvester"}}, Logger: logger, Counter: counter, Stamp: "2021-03-04_05-06-07"}

	var quiet bytes.Buffer
	app.Close(&quiet)
	assert.Empty(t, quiet.String())

	logger.Error("boom")
	var loud bytes.Buffer
	app.Close(&loud)
	assert.Equal(t, "There were 0 warnings and 1 errors during this run, see /var/log/harvester/2021-03-04_05-06-07_harvest.log.\n", loud.String())
}
