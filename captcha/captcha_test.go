package captcha

import (
	"bytes"
	"io/ioutil"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

const fakeSecret = "fakesecret"

func verifyRespTransport(t *testing.T, body string) *mockTransport {
	m := &mockTransport{}
	m.On("RoundTrip", mock.Anything).Run(func(args mock.Arguments) {
		req := args.Get(0).(*http.Request)
		assert.Equal(t, http.MethodPost, req.Method)
		assert.Nil(t, req.ParseForm())
		assert.Equal(t, fakeSecret, req.PostForm.Get("secret"))
		assert.NotEmpty(t, req.PostForm.Get("response"))
	}).Return(
		&http.Response{
			StatusCode: http.StatusOK,
			Body:       ioutil.NopCloser(bytes.NewReader([]byte(body))),
		},
		nil,
	)
	return m
}

func TestVerify(t *testing.T) {
	tcs := []struct {
		name     string
		respBody string
		expected bool
	}{
		{
			name:     "ScoreAtThreshold",
			respBody: `{"success": true, "score": 0.5}`,
			expected: true,
		},
		{
			name:     "ScoreBelowThreshold",
			respBody: `{"success": true, "score": 0.49}`,
			expected: false,
		},
		{
			name:     "NoScoreFallsBackToSuccessFlag",
			respBody: `{"success": true}`,
			expected: true,
		},
		{
			name:     "NoScoreFailedCheck",
			respBody: `{"success": false, "error-codes": ["invalid-input-response"]}`,
			expected: false,
		},
		{
			name: "MalformedResponseDenies",
			// fail closed when the backend replies with junk
			respBody: `<html>not json</html>`,
			expected: false,
		},
	}
	for _, c := range tcs {
		t.Run(c.name, func(t *testing.T) {
			rt := verifyRespTransport(t, c.respBody)
			v := NewVerifier(&VerifierConfig{Secret: fakeSecret, RT: rt})

			assert.Equal(t, c.expected, v.Verify("faketoken"), "unexpected verify decision")
			rt.AssertExpectations(t)
		})
	}
}

func TestVerifyFailsClosedWithoutCall(t *testing.T) {
	tcs := []struct {
		name   string
		secret string
		token  string
	}{
		{
			name:  "SecretUnset",
			token: "faketoken",
		},
		{
			name:   "EmptyToken",
			secret: fakeSecret,
		},
		{
			name:   "WhitespaceToken",
			secret: fakeSecret,
			token:  "   ",
		},
	}
	for _, c := range tcs {
		t.Run(c.name, func(t *testing.T) {
			rt := &mockTransport{}
			v := NewVerifier(&VerifierConfig{Secret: c.secret, RT: rt})

			assert.False(t, v.Verify(c.token), "must deny without calling the backend")
			rt.AssertNotCalled(t, "RoundTrip", mock.Anything)
		})
	}
}

func TestVerifyNetworkErrorDenies(t *testing.T) {
	rt := &mockTransport{}
	rt.On("RoundTrip", mock.Anything).Return(
		(*http.Response)(nil),
		&net.AddrError{Err: "no internet"},
	)
	v := NewVerifier(&VerifierConfig{Secret: fakeSecret, RT: rt})

	assert.False(t, v.Verify("faketoken"))
	rt.AssertExpectations(t)
}

func TestVerifyErrorStatusDenies(t *testing.T) {
	rt := &mockTransport{}
	rt.On("RoundTrip", mock.Anything).Return(
		&http.Response{
			StatusCode: http.StatusServiceUnavailable,
			Body:       ioutil.NopCloser(bytes.NewReader([]byte(`{}`))),
		},
		nil,
	)
	v := NewVerifier(&VerifierConfig{Secret: fakeSecret, RT: rt})

	assert.False(t, v.Verify("faketoken"))
	rt.AssertExpectations(t)
}

type mockTransport struct {
	http.RoundTripper
	mock.Mock
}

func (m *mockTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	args := m.Called(r)
	return args.Get(0).(*http.Response), args.Error(1)
}
