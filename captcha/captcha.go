// Package captcha validates client-supplied proof-of-humanity tokens against
// an external verification endpoint.
package captcha

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultVerifyURL is the reCAPTCHA-compatible verification endpoint.
const DefaultVerifyURL = "https://www.google.com/recaptcha/api/siteverify"

// trustScoreMin is the lowest trust score still admitted when the backend
// returns one
const trustScoreMin = 0.5

// Verifier checks tokens with a server-held shared secret. Every failure mode
// (unset secret, empty token, network error, malformed reply) denies.
type Verifier struct {
	Secret    string
	VerifyURL string
	C         *http.Client
}

type VerifierConfig struct {
	Secret    string
	VerifyURL string
	RT        http.RoundTripper
	// fields below are optional
	RequestTimeout time.Duration
}

func NewVerifier(cfg *VerifierConfig) *Verifier {
	u := cfg.VerifyURL
	if u == "" {
		u = DefaultVerifyURL
	}
	return &Verifier{
		Secret:    cfg.Secret,
		VerifyURL: u,
		C: &http.Client{
			Transport: cfg.RT,
			Timeout:   cfg.RequestTimeout,
		},
	}
}

// verifyResponse is the verification backend's reply. Score is a pointer since
// some backends omit it: classic checkbox captchas return only the success
// flag while score-based ones attach a [0,1] trust estimate.
type verifyResponse struct {
	Success    bool     `json:"success"`
	Score      *float64 `json:"score"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify reports whether token proves a human submitter. When the backend
// attaches a trust score the decision is score >= 0.5; otherwise the backend's
// own success flag decides.
func (v *Verifier) Verify(token string) bool {
	if v.Secret == "" {
		log.Error("bot verification secret is not configured. Denying request")
		return false
	}
	if strings.TrimSpace(token) == "" {
		return false
	}
	form := url.Values{
		"secret":   {v.Secret},
		"response": {token},
	}
	resp, err := v.C.PostForm(v.VerifyURL, form)
	if err != nil {
		log.WithError(err).Error("error calling bot verification endpoint. Denying request")
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		log.WithField("statusCode", resp.StatusCode).Error("bot verification endpoint returned error status. Denying request")
		return false
	}
	var vr verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		log.WithError(err).Error("error decoding bot verification response. Denying request")
		return false
	}
	if len(vr.ErrorCodes) > 0 {
		log.WithField("errorCodes", vr.ErrorCodes).Debug("bot verification reported error codes")
	}
	if vr.Score != nil {
		return *vr.Score >= trustScoreMin
	}
	return vr.Success
}
