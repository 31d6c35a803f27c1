package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/yairfalse/permitwatch/internal/errors"
	"github.com/yairfalse/permitwatch/internal/storage"
	"github.com/yairfalse/permitwatch/pkg/types"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

// fakeRecreation serves one undivided permit with days 12 and 14 of
// March 2025 open
func fakeRecreation(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/details"):
			fmt.Fprint(w, `{"payload":{"name":"Mt. Whitney","divisions":{"166":{"name":"Day Use"}}}}`)
		case strings.HasSuffix(r.URL.Path, "/availability"):
			fmt.Fprint(w, `{"payload":{"date_availability":{`+
				`"2025-03-12T00:00:00Z":{"remaining":2,"total":10},`+
				`"2025-03-13T00:00:00Z":{"remaining":0,"total":10},`+
				`"2025-03-14T00:00:00Z":{"remaining":1,"total":10}}}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeSettings(t *testing.T, dir, apiURL string) string {
	t.Helper()
	settings := map[string]interface{}{
		"permits":   []map[string]interface{}{{"id": "233260"}},
		"dates":     map[string]string{"start": "2025-03-01", "end": "2025-03-31"},
		"run-once":  true,
		"notifiers": []string{"console"},
		"storage":   map[string]string{"url": filepath.Join(dir, "permitAvail.json")},
		"api":       map[string]string{"base-url": apiURL},
		"logging":   map[string]string{"level": "error"},
	}
	data, err := json.Marshal(settings)
	require.NoError(t, err)

	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func writeStoreFile(t *testing.T, dir string, store types.Store) {
	t.Helper()
	data, err := json.Marshal(store)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "permitAvail.json"), data, 0644))
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeSettings(t, dir, "http://127.0.0.1:1")

	out, _, err := execute(t, "validate", "--config", path)
	require.NoError(t, err)

	assert.Contains(t, out, "Settings OK: "+path)
	assert.Contains(t, out, "permits:   1")
	assert.Contains(t, out, "notifiers: console")
	assert.Contains(t, out, "months:    March 2025\n")
	assert.Contains(t, out, `NOTICE: No "run-every" field in settings.`)
}

func TestValidateCommand_InvalidSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"dates":{"start":"2025-03-01","end":"2025-03-31"}}`), 0644))

	_, _, err := execute(t, "validate", "--config", path)
	require.Error(t, err)
	assert.True(t, perrors.IsType(err, perrors.ErrorTypeConfiguration))
	assert.Equal(t, 1, perrors.GetExitCode(err))
}

func TestShowCommand_NothingStored(t *testing.T) {
	dir := t.TempDir()
	path := writeSettings(t, dir, "http://127.0.0.1:1")

	out, errOut, err := execute(t, "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, errOut, "Nothing stored yet")
	assert.Equal(t, "{}\n", out)
}

func TestShowCommand_JSON(t *testing.T) {
	dir := t.TempDir()
	path := writeSettings(t, dir, "http://127.0.0.1:1")
	writeStoreFile(t, dir, types.Store{
		"233260": types.NewUndivided("Mt. Whitney", "https://www.recreation.gov/permits/233260",
			types.Calendar{"March 2025": types.NewDaySet(12)}),
	})

	out, _, err := execute(t, "show", "--config", path, "--output", "json")
	require.NoError(t, err)

	var got types.Store
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Contains(t, got, types.EntityID("233260"))
	assert.Equal(t, "Mt. Whitney", got["233260"].Name)
}

func TestCheckCommand_FirstCheckIsSilent(t *testing.T) {
	dir := t.TempDir()
	srv := fakeRecreation(t)
	path := writeSettings(t, dir, srv.URL)

	out, _, err := execute(t, "check", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "no new availability\n", out)

	_, err = os.Stat(filepath.Join(dir, "permitAvail.json"))
	assert.True(t, os.IsNotExist(err), "check must not persist")
}

func TestCheckCommand_ReportsNewDays(t *testing.T) {
	dir := t.TempDir()
	srv := fakeRecreation(t)
	path := writeSettings(t, dir, srv.URL)
	writeStoreFile(t, dir, types.Store{
		"233260": types.NewUndivided("Mt. Whitney", srv.URL+"/permits/233260",
			types.Calendar{"March 2025": types.NewDaySet(12)}),
	})

	out, _, err := execute(t, "check", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "Mt. Whitney ("+srv.URL+"/permits/233260)\n\tMarch 2025\n\t\t[14]\n", out)

	out, _, err = execute(t, "check", "--config", path, "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "March 2025:")
	assert.Contains(t, out, "- 14")
}

func TestCheckCommand_FetchFailure(t *testing.T) {
	dir := t.TempDir()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()
	path := writeSettings(t, dir, srv.URL)

	_, _, err := execute(t, "check", "--config", path)
	require.Error(t, err)
	assert.True(t, perrors.IsType(err, perrors.ErrorTypeFetch))
}

func TestRunCommand_OncePersistsBaseline(t *testing.T) {
	dir := t.TempDir()
	srv := fakeRecreation(t)
	path := writeSettings(t, dir, srv.URL)

	_, _, err := execute(t, "run", "--config", path, "--once")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "permitAvail.json"))
	require.NoError(t, err)

	var saved types.Store
	require.NoError(t, json.Unmarshal(data, &saved))
	require.Contains(t, saved, types.EntityID("233260"))
	shape, ok := saved["233260"].Shape.(types.Undivided)
	require.True(t, ok)
	assert.Equal(t, []int{12, 14}, shape.Availability["March 2025"].Sorted())
}

func TestVersionCommand(t *testing.T) {
	out, _, err := execute(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestWriteStructured_UnknownFormat(t *testing.T) {
	err := writeStructured(&bytes.Buffer{}, "xml", types.Store{})
	assert.Error(t, err)
}

type timedStore struct {
	storage.Store
	updated time.Time
}

func (s timedStore) UpdatedAt(context.Context) (time.Time, error) { return s.updated, nil }

func TestDescribeStore_UpdatedAt(t *testing.T) {
	var out bytes.Buffer
	describeStore(context.Background(), &out, timedStore{updated: time.Now().Add(-3 * time.Hour)})
	assert.Equal(t, "Last saved 3 hours ago\n", out.String())
}

func TestDescribeStore_Backups(t *testing.T) {
	ctx := context.Background()
	store := storage.NewFileStore(afero.NewMemMapFs(), "/data/permitAvail.json", true)
	require.NoError(t, store.Save(ctx, types.Store{}))

	var out bytes.Buffer
	describeStore(ctx, &out, store)
	assert.Empty(t, out.String())

	require.NoError(t, store.Save(ctx, types.Store{}))
	describeStore(ctx, &out, store)
	assert.Contains(t, out.String(), "1 previous copies kept, newest /data/.permitwatch-backups/")
}

func TestPrintError_SettingsHint(t *testing.T) {
	var out bytes.Buffer
	printError(&out, perrors.ConfigError("missing dates"))
	assert.Contains(t, out.String(), "missing dates")
	assert.Contains(t, out.String(), "Run 'permitwatch validate'")

	out.Reset()
	printError(&out, perrors.NotificationError("smtp", errors.New("refused")))
	assert.Contains(t, out.String(), "refused")
	assert.NotContains(t, out.String(), "permitwatch validate")
}
