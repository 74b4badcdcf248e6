package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hpcerrors "github.com/primerid/hpcqueue/common/errors"
)

type fakeStore struct {
	t       *testing.T
	patches map[string]Patch
	status  int
}

func (f *fakeStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(APIKeyHeader) != "k3y" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if f.status != 0 {
		w.WriteHeader(f.status)
		return
	}
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/ogv":
		io.WriteString(w, `[{"id":"1","createdAt":"2024-03-01T10:00:00.000Z","submit":true,"pending":false,"uploadCount":3},
			{"id":"2","createdAt":"2024-03-01T10:00:00.000Z","submit":false,"pending":true}]`)
	case r.Method == http.MethodGet && r.URL.Path == "/ogv/1":
		io.WriteString(w, `{"_id":"1","email":"user@example.org"}`)
	case r.Method == http.MethodPatch && strings.HasPrefix(r.URL.Path, "/ogv/"):
		assert.Equal(f.t, "application/json", r.Header.Get("Content-Type"))
		p := Patch{}
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&p))
		f.patches[strings.TrimPrefix(r.URL.Path, "/ogv/")] = p
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestClient(t *testing.T, store *fakeStore) Client {
	srv := httptest.NewServer(store)
	t.Cleanup(srv.Close)
	endpoints := func(jobType string) string {
		if jobType == "missing" {
			return ""
		}
		return srv.URL + "/" + jobType + "/"
	}
	return NewCustomClient(endpoints, "k3y", srv.Client())
}

func TestList(t *testing.T) {
	c := newTestClient(t, &fakeStore{t: t})

	summaries, err := c.List(context.Background(), "ogv")
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "1", summaries[0].ID)
	assert.True(t, summaries[0].Submit)
	assert.Equal(t, 3, summaries[0].Count())
	assert.Equal(t, 0, summaries[1].Count())
	assert.True(t, summaries[1].Pending)

	created, err := summaries[0].Created()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), created)
}

func TestGet(t *testing.T) {
	c := newTestClient(t, &fakeStore{t: t})

	var detail struct {
		ID    string `json:"_id"`
		Email string `json:"email"`
	}
	require.NoError(t, c.Get(context.Background(), "ogv", "1", &detail))
	assert.Equal(t, "user@example.org", detail.Email)

	err := c.Get(context.Background(), "ogv", "404", &detail)
	assert.Equal(t, hpcerrors.JobData, hpcerrors.KindOf(err))
}

func TestPatch(t *testing.T) {
	store := &fakeStore{t: t, patches: map[string]Patch{}}
	c := newTestClient(t, store)

	require.NoError(t, c.Patch(context.Background(), "ogv", "7", PendingPatch()))
	assert.Equal(t, Patch{"pending": true, "submit": false}, store.patches["7"])

	require.NoError(t, c.Patch(context.Background(), "ogv", "8", FailedPatch()))
	assert.Equal(t, Patch{"pending": false, "processingError": true}, store.patches["8"])
}

func TestServerErrorsAreTransient(t *testing.T) {
	c := newTestClient(t, &fakeStore{t: t, status: http.StatusBadGateway})
	_, err := c.List(context.Background(), "ogv")
	assert.True(t, hpcerrors.IsTransient(err))
	assert.Contains(t, err.Error(), "502")
}

func TestWrongKeyIsDataError(t *testing.T) {
	store := &fakeStore{t: t}
	srv := httptest.NewServer(store)
	defer srv.Close()
	c := NewCustomClient(func(string) string { return srv.URL + "/ogv" }, "wrong", srv.Client())
	_, err := c.List(context.Background(), "ogv")
	assert.Equal(t, hpcerrors.JobData, hpcerrors.KindOf(err))
}

func TestMissingEndpoint(t *testing.T) {
	c := newTestClient(t, &fakeStore{t: t})
	_, err := c.List(context.Background(), "missing")
	assert.Error(t, err)
}

func TestTransportFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	doer := NewMockDoer(ctrl)
	doer.EXPECT().Do(gomock.Any()).Return(nil, errors.New("connection refused"))

	c := NewCustomClient(func(string) string { return "http://store/ogv" }, "k3y", doer)
	_, err := c.List(context.Background(), "ogv")
	assert.True(t, hpcerrors.IsTransient(err))
}

func TestParseCreatedAt(t *testing.T) {
	for _, v := range []string{"2024-03-01T10:00:00Z", "2024-03-01T10:00:00.123Z", "2024-03-01T12:00:00+02:00"} {
		ts, err := ParseCreatedAt(v)
		require.NoError(t, err, v)
		assert.Equal(t, 2024, ts.Year())
	}
	_, err := ParseCreatedAt("yesterday")
	assert.Error(t, err)
}

func TestPatchesAreFresh(t *testing.T) {
	p := PendingPatch()
	p["submit"] = true
	assert.Equal(t, false, PendingPatch()["submit"])
	assert.Equal(t, Patch{"pending": false, "submit": false}, CompletedPatch())
}
