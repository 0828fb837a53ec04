package client

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method string
	path   string
	query  string
	body   map[string]interface{}
}

// recordingServer answers every request with reply and remembers the last
// request it saw.
func recordingServer(t *testing.T, status int, reply interface{}) (*Client, *recorded) {
	t.Helper()
	last := &recorded{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		last.method = r.Method
		last.path = r.URL.EscapedPath()
		last.query = r.URL.RawQuery
		last.body = nil
		if r.ContentLength > 0 {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&last.body))
		}
		if reply == nil {
			w.WriteHeader(status)
			return
		}
		writeJSON(w, status, reply)
	})
	return c, last
}

func TestSessionsClient_Lifecycle(t *testing.T) {
	ctx := context.Background()
	score := 0.9
	view := Session{
		SessionID: "s-1", DatasetID: "d-1", Mode: ModeLocal, UsedMode: ModeLocal,
		Preview:     []PreviewLine{{Text: "1号点 轮虫: 0 → 5", Severity: SeverityNormal}},
		Corrections: []Correction{{Kind: "species", Raw: "晶囊轮", Suggestion: "晶囊轮虫", Score: &score}},
		CanApply:    true,
	}

	c, last := recordingServer(t, http.StatusCreated, view)
	got, err := c.Sessions().Start(ctx, &StartSessionRequest{DatasetID: "d-1", Input: "1号点的轮虫改为5"})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, last.method)
	assert.Equal(t, "/api/v1/sessions", last.path)
	assert.Equal(t, "1号点的轮虫改为5", last.body["input"])
	assert.NotContains(t, last.body, "mode")
	assert.Equal(t, "s-1", got.SessionID)
	require.Len(t, got.Corrections, 1)
	assert.InDelta(t, 0.9, *got.Corrections[0].Score, 1e-9)
	assert.False(t, got.HasErrors())

	input := "1号点的轮虫改为6"
	_, err = c.Sessions().Update(ctx, "s-1", &UpdateSessionRequest{Input: &input})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPatch, last.method)
	assert.Equal(t, "/api/v1/sessions/s-1", last.path)
	assert.Equal(t, input, last.body["input"])

	_, err = c.Sessions().Reparse(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/sessions/s-1/reparse", last.path)
	assert.Nil(t, last.body)

	_, err = c.Sessions().ResolveCorrection(ctx, "s-1", &CorrectionDecision{Kind: "species", Raw: "晶囊轮", Adopt: true})
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/sessions/s-1/corrections", last.path)
	assert.Equal(t, true, last.body["adopt"])

	_, err = c.Sessions().Get(ctx, "a/b")
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, last.method)
	assert.Equal(t, "/api/v1/sessions/a%2Fb", last.path)
}

func TestSessionsClient_ApplyAndClose(t *testing.T) {
	ctx := context.Background()
	c, last := recordingServer(t, http.StatusOK, ApplyResult{
		DatasetID: "d-1", Applied: 2, SnapshotKey: "dataset:snap",
		Dataset: DatasetSummary{ID: "d-1", SpeciesCount: 1},
	})
	res, err := c.Sessions().Apply(ctx, "s-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/sessions/s-1/apply", last.path)
	assert.Equal(t, false, last.body["confirmDelete"])
	assert.Equal(t, 2, res.Applied)
	assert.Equal(t, "dataset:snap", res.SnapshotKey)

	c, last = recordingServer(t, http.StatusNoContent, nil)
	require.NoError(t, c.Sessions().Close(ctx, "s-1"))
	assert.Equal(t, http.MethodDelete, last.method)
}

func TestSessionsClient_Settings(t *testing.T) {
	c, last := recordingServer(t, http.StatusOK, Settings{RequireConfirm: true, DefaultVOrigL: 20, DefaultMode: ModeAPI1})
	v := 15.0
	s, err := c.Sessions().UpdateSettings(context.Background(), &SettingsPatch{DefaultVOrigL: &v})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, last.method)
	assert.Equal(t, map[string]interface{}{"defaultVOrigL": 15.0}, last.body)
	assert.Equal(t, ModeAPI1, s.DefaultMode)
}

func TestSession_HasErrors(t *testing.T) {
	s := &Session{Preview: []PreviewLine{{Severity: SeverityWarn}, {Severity: SeverityError}}}
	assert.True(t, s.HasErrors())
}

func TestDatasetsClient(t *testing.T) {
	ctx := context.Background()

	c, last := recordingServer(t, http.StatusOK, DatasetList{
		Items: []DatasetSummary{{ID: "d-1", TitlePrefix: "洱海"}}, Total: 1, Page: 2, PageSize: 5,
	})
	list, err := c.Datasets().List(ctx, 2, 5)
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/datasets", last.path)
	assert.Equal(t, "page=2&page_size=5", last.query)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "洱海", list.Items[0].TitlePrefix)

	_, err = c.Datasets().List(ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, last.query)

	c, last = recordingServer(t, http.StatusCreated, Dataset{ID: "d-2", Points: []Point{{ID: "p", Label: "1", VOrigL: 20}}})
	created, err := c.Datasets().Create(ctx, &CreateDatasetRequest{TitlePrefix: "太湖"})
	require.NoError(t, err)
	assert.Equal(t, "太湖", last.body["titlePrefix"])
	assert.NotContains(t, last.body, "defaultVOrigL")
	require.Len(t, created.Points, 1)

	_, err = c.Datasets().Replace(ctx, "d-2", created)
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, last.method)
	assert.Equal(t, "/api/v1/datasets/d-2", last.path)

	c, last = recordingServer(t, http.StatusCreated, Snapshot{DatasetID: "d-3", Key: "datasets/d-2/x.json"})
	snap, err := c.Datasets().Snapshot(ctx, "d-2", "")
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/datasets/d-2/snapshots", last.path)
	assert.Empty(t, last.body)
	assert.Equal(t, "datasets/d-2/x.json", snap.Key)
}
