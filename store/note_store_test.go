package store

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	se "fanwall.io/notes/errors"
	md "fanwall.io/notes/models"
)

const (
	fakeCouchAddr = "http://fake-couch:5984/"
	fakeDBName    = "fan_notes"
)

func jsonResp(statusCode int, body string) *http.Response {
	return &http.Response{
		StatusCode: statusCode,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       ioutil.NopCloser(bytes.NewReader([]byte(body))),
	}
}

func newTestStore(t *testing.T, rt http.RoundTripper) *CouchNoteStore {
	st, err := NewCouchNoteStore(&CouchConfig{
		Addr:   fakeCouchAddr,
		DBName: fakeDBName,
		RT:     rt,
	})
	assert.Nil(t, err, "store construction should have succeeded")
	return st
}

func TestCouchNoteStore_Insert(t *testing.T) {
	note := md.NewNote("0ujsszwN8NRY24YaXiTIE2VWDTS", "", "Love this album!", "fakehash")
	tcs := []struct {
		name       string
		rt         *mockTransport
		failed     bool
		expErrCode se.ErrCode
	}{
		{
			name: "HappyCase",
			rt: func() *mockTransport {
				m := &mockTransport{}
				m.On("RoundTrip", mock.Anything).Run(func(args mock.Arguments) {
					req := args.Get(0).(*http.Request)
					assert.Equal(t, http.MethodPut, req.Method)
					assert.Equal(t, fmt.Sprintf("/%s/%s", fakeDBName, note.ID), req.URL.Path)
				}).Return(
					jsonResp(http.StatusCreated,
						fmt.Sprintf(`{"ok": true, "id": %q, "rev": "1-fakerev"}`, note.ID)),
					nil,
				)
				return m
			}(),
		},
		{
			name: "NetworkError",
			rt: func() *mockTransport {
				m := &mockTransport{}
				m.On("RoundTrip", mock.Anything).Return(
					(*http.Response)(nil),
					&net.AddrError{Err: "no internet"},
				)
				return m
			}(),
			failed:     true,
			expErrCode: se.ErrCodeServiceFailure,
		},
		{
			name: "CouchDBError",
			rt: func() *mockTransport {
				m := &mockTransport{}
				m.On("RoundTrip", mock.Anything).Return(
					jsonResp(http.StatusInternalServerError,
						`{"error": "DB nuked", "reason": "hacked"}`),
					nil,
				)
				return m
			}(),
			failed:     true,
			expErrCode: se.ErrCodeServiceFailure,
		},
	}
	for _, c := range tcs {
		t.Run(c.name, func(t *testing.T) {
			st := newTestStore(t, c.rt)
			// when
			err := st.Insert(note)
			c.rt.AssertExpectations(t)
			if !c.failed {
				assert.Nil(t, err)
				assert.Equal(t, "1-fakerev", note.Rev, "revision from CouchDB should be recorded")
				return
			}
			assert.NotNil(t, err)
			assert.Equal(t, c.expErrCode, err.Code)
		})
	}
}

func TestCouchNoteStore_CountSince(t *testing.T) {
	since := time.Date(2020, 4, 1, 12, 0, 0, 0, time.UTC)
	tcs := []struct {
		name     string
		rt       *mockTransport
		failed   bool
		expected int
	}{
		{
			name: "CountsMatchingDocs",
			rt: func() *mockTransport {
				m := &mockTransport{}
				m.On("RoundTrip", mock.Anything).Run(func(args mock.Arguments) {
					req := args.Get(0).(*http.Request)
					assert.Equal(t, http.MethodPost, req.Method)
					assert.Equal(t, fmt.Sprintf("/%s/_find", fakeDBName), req.URL.Path)
					body, rerr := ioutil.ReadAll(req.Body)
					assert.Nil(t, rerr)
					assert.Contains(t, string(body), `"hashed_id":"fakehash"`)
					assert.Contains(t, string(body), `"$gte":"2020-04-01T12:00:00Z"`)
				}).Return(
					jsonResp(http.StatusOK,
						`{"docs": [{"_id": "a"}, {"_id": "b"}, {"_id": "c"}], "bookmark": ""}`),
					nil,
				)
				return m
			}(),
			expected: 3,
		},
		{
			name: "NoMatches",
			rt: func() *mockTransport {
				m := &mockTransport{}
				m.On("RoundTrip", mock.Anything).Return(
					jsonResp(http.StatusOK, `{"docs": [], "bookmark": ""}`),
					nil,
				)
				return m
			}(),
			expected: 0,
		},
		{
			name: "StoreUnreachable",
			rt: func() *mockTransport {
				m := &mockTransport{}
				m.On("RoundTrip", mock.Anything).Return(
					(*http.Response)(nil),
					&net.AddrError{Err: "no internet"},
				)
				return m
			}(),
			failed: true,
		},
	}
	for _, c := range tcs {
		t.Run(c.name, func(t *testing.T) {
			st := newTestStore(t, c.rt)

			cnt, err := st.CountSince("fakehash", since)
			c.rt.AssertExpectations(t)
			if c.failed {
				assert.NotNil(t, err, "store errors must surface so the limiter can fail closed")
				return
			}
			assert.Nil(t, err)
			assert.Equal(t, c.expected, cnt)
		})
	}
}

func TestCouchNoteStore_List(t *testing.T) {
	m := &mockTransport{}
	// first _find serves the page, second serves the total count
	m.On("RoundTrip", mock.Anything).Run(func(args mock.Arguments) {
		req := args.Get(0).(*http.Request)
		assert.Equal(t, fmt.Sprintf("/%s/_find", fakeDBName), req.URL.Path)
		body, rerr := ioutil.ReadAll(req.Body)
		assert.Nil(t, rerr)
		assert.Contains(t, string(body), `"approved":true`)
	}).Return(
		jsonResp(http.StatusOK, `{
			"docs": [
				{"_id": "n2", "name": "Anonymous", "body": "second", "hashed_id": "h", "approved": true, "created_at": "2020-04-02T00:00:00Z"},
				{"_id": "n1", "name": "a fan", "body": "first", "hashed_id": "h", "approved": true, "created_at": "2020-04-01T00:00:00Z"}
			],
			"bookmark": ""
		}`),
		nil,
	).Once()
	m.On("RoundTrip", mock.Anything).Return(
		jsonResp(http.StatusOK, `{"docs": [{"_id": "n1"}, {"_id": "n2"}, {"_id": "n0"}], "bookmark": ""}`),
		nil,
	).Once()
	st := newTestStore(t, m)

	notes, total, err := st.List(2, 0)
	m.AssertExpectations(t)
	assert.Nil(t, err)
	assert.Equal(t, 3, total, "total must reflect the full approved set, not the page")
	assert.Equal(t, 2, len(notes))
	assert.Equal(t, "n2", notes[0].ID, "notes must come back newest first")
	assert.Equal(t, "second", notes[0].Body)
}

func TestListCacheKey(t *testing.T) {
	assert.Equal(t, "notes.list.10.0", ListCacheKey(10, 0))
	assert.NotEqual(t, ListCacheKey(10, 1), ListCacheKey(10, 2))
}

type mockTransport struct {
	http.RoundTripper
	mock.Mock
}

func (m *mockTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	args := m.Called(r)
	resp := args.Get(0).(*http.Response)
	// the couch driver reads the originating request off error responses
	if resp != nil {
		resp.Request = r
	}
	return resp, args.Error(1)
}
