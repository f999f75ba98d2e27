package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	hr "github.com/julienschmidt/httprouter"
	"github.com/segmentio/ksuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"fanwall.io/notes/captcha"
	"fanwall.io/notes/common/logging"
	mw "fanwall.io/notes/common/middleware"
	rt "fanwall.io/notes/common/retry"
	cst "fanwall.io/notes/constants"
	se "fanwall.io/notes/errors"
	"fanwall.io/notes/hashid"
	md "fanwall.io/notes/models"
	"fanwall.io/notes/moderate"
	"fanwall.io/notes/ratelimit"
	st "fanwall.io/notes/store"
)

// response messages. Each failing stage gets a distinct message since the
// remediation differs: wait, redo the human check, or edit the note
const (
	respMsgSubmitted        = "Note submitted successfully"
	respMsgBadBody          = "invalid request body"
	respMsgEmptyContent     = "note content cannot be empty"
	respMsgMissingToken     = "verification token is required"
	respMsgRateLimited      = "too many notes submitted recently, please wait before trying again"
	respMsgBotCheckFailed   = "human verification failed, please try again"
	respMsgModerated        = "note violates community guidelines"
	respMsgSaveFailed       = "error saving note, please try again later"
	respMsgMethodNotAllowed = "method not allowed"
	respMsgOK               = "OK"
)

var (
	respMsgOversizeContent = fmt.Sprintf("note content exceeds %d characters", md.BodyMaxLen)
	respMsgOversizeName    = fmt.Sprintf("name exceeds %d characters", md.NameMaxLen)
)

const defaultMaxBodyBytes = 1 << 16

// guard-stage interfaces the writer sequences. Depending on behavior instead
// of concrete types keeps every stage substitutable in tests
type rateLimiter interface {
	Allow(hashedID string) bool
}

type botVerifier interface {
	Verify(token string) bool
}

type moderator interface {
	Appropriate(text string) bool
}

type noteDAO interface {
	Insert(n *md.Note) *se.Err
}

// writer handles write traffic of the fan-note service. It is stateless per
// request: all cross-request coordination lives in the note store
type noteWriter struct {
	R         *hr.Router
	Hasher    *hashid.Hasher
	Limiter   rateLimiter
	Verifier  botVerifier
	Moderator moderator
	DAO       noteDAO
	// MaxBodyBytes caps the request body read per submission. Zero or
	// negative falls back to defaultMaxBodyBytes
	MaxBodyBytes int64
}

func (wrt *noteWriter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wrt.R.ServeHTTP(w, r)
}

func serve() error {
	viper.AutomaticEnv()
	setDefaults()
	logging.SetupLog("notes-writer")
	ns, err := setupNoteStore()
	if err != nil {
		return err
	}
	defer ns.Close()

	wrt := &noteWriter{
		Hasher: hashid.New(viper.GetString(cst.EnvHashSalt)),
		Limiter: ratelimit.New(
			ns,
			time.Duration(viper.GetInt(cst.EnvRateWindowSecs))*time.Second,
			viper.GetInt(cst.EnvRateMaxPerWindow),
		),
		Verifier: captcha.NewVerifier(&captcha.VerifierConfig{
			Secret:         viper.GetString(cst.EnvCaptchaSecret),
			VerifyURL:      viper.GetString(cst.EnvCaptchaVerifyURL),
			RequestTimeout: 10 * time.Second,
		}),
		Moderator: moderate.New(
			moderate.NewRemoteClassifier(&moderate.RemoteConfig{
				APIKey:         viper.GetString(cst.EnvModerationAPIKey),
				URL:            viper.GetString(cst.EnvModerationURL),
				Model:          viper.GetString(cst.EnvModerationModel),
				RequestTimeout: 15 * time.Second,
			}),
			moderate.NewKeywordFilter(),
			viper.GetInt(cst.EnvModerationCacheSize),
		),
		DAO:          ns,
		MaxBodyBytes: viper.GetInt64(cst.EnvReqBodySizeMaxByte),
	}
	wrt.SetupRoutes()

	s := &http.Server{
		Addr:    viper.GetString(cst.EnvWriterAddr),
		Handler: wrt,
		// write timeout leaves room for the two upstream guard calls
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 12,
	}
	log.WithField("addr", s.Addr).Info("notes writer is starting up")
	return s.ListenAndServe()
}

func setDefaults() {
	viper.SetDefault(cst.EnvWriterAddr, ":8080")
	viper.SetDefault(cst.EnvCouchAddr, "http://localhost:5984/")
	viper.SetDefault(cst.EnvCouchDBName, "fan_notes")
	viper.SetDefault(cst.EnvRateWindowSecs, 300)
	viper.SetDefault(cst.EnvRateMaxPerWindow, 3)
	viper.SetDefault(cst.EnvHashSalt, "fanwall-dev-salt")
	viper.SetDefault(cst.EnvCaptchaVerifyURL, captcha.DefaultVerifyURL)
	viper.SetDefault(cst.EnvModerationURL, moderate.DefaultModerationURL)
	viper.SetDefault(cst.EnvModerationModel, moderate.DefaultModerationModel)
	viper.SetDefault(cst.EnvModerationCacheSize, 512)
	viper.SetDefault(cst.EnvReqBodySizeMaxByte, 1<<16)
}

func setupNoteStore() (*st.CouchNoteStore, error) {
	ns, perr := st.NewCouchNoteStore(&st.CouchConfig{
		Addr:     viper.GetString(cst.EnvCouchAddr),
		DBName:   viper.GetString(cst.EnvCouchDBName),
		Username: viper.GetString(cst.EnvCouchUser),
		Passwd:   viper.GetString(cst.EnvCouchPasswd),
	})
	if perr != nil {
		return nil, perr
	}
	ping := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return ns.Ping(ctx)
	}
	if err := rt.Retry(ping,
		rt.WithTimeout(30*time.Second),
		rt.WithBaseDelay(100*time.Millisecond),
		rt.WithExp(2.0),
		rt.WithMaxBackoff(5*time.Second),
		rt.WithRetryOn(rt.IsDepOffline),
	); err != nil {
		return nil, se.ErrServiceFailure("failed reaching the note store").WithCause(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if perr := ns.EnsureIndexes(ctx); perr != nil {
		return nil, perr
	}
	return ns, nil
}

func (wrt *noteWriter) SetupRoutes() {
	r := hr.New()
	r.POST("/notes", mw.Chain(wrt.HandleTaskCreateNote(), mw.CORS(), mw.PanicRecoverer()))
	// cross-origin preflight for browser clients
	r.OPTIONS("/notes", func(w http.ResponseWriter, _ *http.Request, _ hr.Params) {
		mw.SetCORSHeaders(w)
		respond(w, http.StatusOK, &apiResponse{Message: respMsgOK})
	})
	r.HandleMethodNotAllowed = true
	r.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mw.SetCORSHeaders(w)
		respond(w, http.StatusMethodNotAllowed, &apiResponse{Message: respMsgMethodNotAllowed})
	})
	wrt.R = r
}

type createNoteRequest struct {
	Name           string `json:"name"`
	Content        string `json:"content"`
	RecaptchaToken string `json:"recaptchaToken"`
}

// validate applies the request-shape checks that run before any guard stage
// or external call
func (req *createNoteRequest) validate() *se.Err {
	if strings.TrimSpace(req.Content) == "" {
		return se.ErrBadRequest(respMsgEmptyContent)
	}
	if strings.TrimSpace(req.RecaptchaToken) == "" {
		return se.ErrBadRequest(respMsgMissingToken)
	}
	// limits are in characters, not bytes; fans write multibyte scripts
	if utf8.RuneCountInString(req.Content) > md.BodyMaxLen {
		return se.ErrBadRequest(respMsgOversizeContent)
	}
	if utf8.RuneCountInString(req.Name) > md.NameMaxLen {
		return se.ErrBadRequest(respMsgOversizeName)
	}
	return nil
}

// HandleTaskCreateNote sequences the guard stages per submission,
// short-circuiting on the first failure. Stage order is fixed: rate limit,
// bot check, moderation, persistence - cheapest and most decisive first so a
// rejected request never spends external-service calls it didn't need
func (wrt *noteWriter) HandleTaskCreateNote() hr.Handle {
	maxReqBodySize := wrt.MaxBodyBytes
	if maxReqBodySize <= 0 {
		maxReqBodySize = defaultMaxBodyBytes
	}
	return func(w http.ResponseWriter, r *http.Request, _ hr.Params) {
		clog := logging.WithFuncName()
		r.Body = http.MaxBytesReader(w, r.Body, maxReqBodySize)
		var req createNoteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			clog.WithError(err).Warning("got malformed submission body")
			respondErr(w, se.ErrBadRequest(respMsgBadBody))
			return
		}
		if perr := req.validate(); perr != nil {
			respondErr(w, perr)
			return
		}
		hashedID := wrt.Hasher.Hash(hashid.FromRequest(r))
		clog = clog.WithField("hashedID", hashedID)
		if !wrt.Limiter.Allow(hashedID) {
			clog.Warning("rate limit exceeded. Rejecting request")
			respondErr(w, se.ErrRateLimited(respMsgRateLimited))
			return
		}
		if !wrt.Verifier.Verify(req.RecaptchaToken) {
			clog.Warning("bot verification failed. Rejecting request")
			respondErr(w, se.ErrBadRequest(respMsgBotCheckFailed))
			return
		}
		if !wrt.Moderator.Appropriate(req.Content) {
			clog.Warning("note rejected by content moderation")
			respondErr(w, se.ErrBadRequest(respMsgModerated))
			return
		}
		n, perr := buildNote(&req, hashedID)
		if perr != nil {
			respondErr(w, perr)
			return
		}
		if perr := wrt.DAO.Insert(n); perr != nil {
			clog.WithError(perr).Error("error persisting note")
			respondErr(w, se.ErrServiceFailure(respMsgSaveFailed).WithCause(perr))
			return
		}
		clog.WithField("noteID", n.ID).Info("note accepted")
		respond(w, http.StatusOK, &apiResponse{Message: respMsgSubmitted, Success: true})
	}
}

func buildNote(req *createNoteRequest, hashedID string) (*md.Note, *se.Err) {
	id, err := ksuid.NewRandom()
	if err != nil {
		log.WithError(err).Error("fail to generate note id")
		return nil, se.ErrServiceFailure(respMsgSaveFailed).WithCause(err)
	}
	return md.NewNote(id.String(), req.Name, req.Content, hashedID), nil
}

type apiResponse struct {
	Message string `json:"message"`
	Success bool   `json:"success,omitempty"`
}

func respond(w http.ResponseWriter, statusCode int, resp *apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.WithError(err).Error("error writing response to client")
	}
}

// respondErr surfaces the error's client-safe message only. Upstream causes
// stay in server logs: a client probing the pipeline must not learn whether a
// denial came from policy or from a dependency outage
func respondErr(w http.ResponseWriter, err *se.Err) {
	respond(w, err.StatusCode(), &apiResponse{Message: err.Error()})
}
