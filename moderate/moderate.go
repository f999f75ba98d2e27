// Package moderate decides whether submitted note text is appropriate for the
// fan wall. Classification is two-tier: a remote generative classifier when a
// credential is configured, and a local keyword filter as fallback. Both tiers
// fail closed.
package moderate

import (
	"bytes"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/bluele/gcache"
	log "github.com/sirupsen/logrus"

	se "fanwall.io/notes/errors"
)

// Classifier labels text as safe or unsafe. Returning an error means the tier
// could not produce a verdict at all, which is distinct from "unsafe".
type Classifier interface {
	Classify(text string) (bool, *se.Err)
}

// Moderator composes a primary classifier with a fallback tier. Any failure
// outcome of the primary, including "not configured", shifts the decision to
// the fallback.
type Moderator struct {
	Primary  Classifier
	Fallback Classifier
	verdicts gcache.Cache
}

// New builds a Moderator with an LRU verdict cache of cacheSize entries so
// duplicate resubmissions don't re-spend remote classifier calls. cacheSize
// <= 0 disables caching.
func New(primary, fallback Classifier, cacheSize int) *Moderator {
	m := &Moderator{Primary: primary, Fallback: fallback}
	if cacheSize > 0 {
		m.verdicts = gcache.New(cacheSize).LRU().Build()
	}
	return m
}

// Appropriate reports whether text may be published. Empty or whitespace-only
// text is always inappropriate.
func (m *Moderator) Appropriate(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	if m.verdicts != nil {
		if v, err := m.verdicts.Get(text); err == nil {
			return v.(bool)
		}
	}
	safe, err := m.Primary.Classify(text)
	if err != nil {
		log.WithError(err).Info("primary moderation tier unavailable. Falling back to keyword tier")
		safe, err = m.Fallback.Classify(text)
		if err != nil {
			log.WithError(err).Error("fallback moderation tier failed. Treating text as inappropriate")
			return false
		}
		// fallback verdicts stay uncached so the primary gets consulted
		// again for the same text once it recovers
		return safe
	}
	if m.verdicts != nil {
		if err := m.verdicts.Set(text, safe); err != nil {
			log.WithError(err).Debug("error caching moderation verdict")
		}
	}
	return safe
}

// DefaultModerationURL is the chat-completions endpoint of the generative-text
// service used for primary-tier classification.
const DefaultModerationURL = "https://api.openai.com/v1/chat/completions"

const DefaultModerationModel = "gpt-4o-mini"

const classifyInstruction = `You are a content moderator for a music artist's fan wall. ` +
	`Classify the user's message against these categories: profanity, sexual content, ` +
	`hate speech, harassment, violence or threats, spam. ` +
	`Reply with exactly one word: SAFE if the message violates none of them, UNSAFE otherwise.`

// safeToken matches the literal verdict token. The word boundary keeps UNSAFE
// replies from matching.
var safeToken = regexp.MustCompile(`\bSAFE\b`)

// RemoteClassifier is the primary tier: a strict binary prompt against a
// chat-completions API.
type RemoteClassifier struct {
	APIKey string
	URL    string
	Model  string
	C      *http.Client
}

type RemoteConfig struct {
	APIKey string
	URL    string
	Model  string
	RT     http.RoundTripper
	// fields below are optional
	RequestTimeout time.Duration
}

func NewRemoteClassifier(cfg *RemoteConfig) *RemoteClassifier {
	u, m := cfg.URL, cfg.Model
	if u == "" {
		u = DefaultModerationURL
	}
	if m == "" {
		m = DefaultModerationModel
	}
	return &RemoteClassifier{
		APIKey: cfg.APIKey,
		URL:    u,
		Model:  m,
		C: &http.Client{
			Transport: cfg.RT,
			Timeout:   cfg.RequestTimeout,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (rc *RemoteClassifier) Classify(text string) (bool, *se.Err) {
	if rc.APIKey == "" {
		return false, se.ErrServiceFailure("moderation API credential is not configured")
	}
	body, err := json.Marshal(&chatRequest{
		Model: rc.Model,
		Messages: []chatMessage{
			{Role: "system", Content: classifyInstruction},
			{Role: "user", Content: text},
		},
	})
	if err != nil {
		return false, se.ErrServiceFailure("error marshalling moderation request").WithCause(err)
	}
	req, err := http.NewRequest(http.MethodPost, rc.URL, bytes.NewReader(body))
	if err != nil {
		return false, se.ErrServiceFailure("error creating moderation request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+rc.APIKey)
	resp, err := rc.C.Do(req)
	if err != nil {
		return false, se.ErrServiceFailure("error calling moderation service").WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		log.WithField("statusCode", resp.StatusCode).Error("moderation service returned error status")
		return false, se.ErrServiceFailure("moderation service returned error status")
	}
	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return false, se.ErrServiceFailure("error decoding moderation response").WithCause(err)
	}
	if len(cr.Choices) == 0 {
		return false, se.ErrServiceFailure("moderation service returned no verdict")
	}
	return safeToken.MatchString(cr.Choices[0].Message.Content), nil
}

// Denylist is the fallback tier's term list. It is policy data, not
// architecture: deployments are expected to tune it. Terms span the languages
// the fan base actually writes in.
var Denylist = []string{
	// english
	"fuck", "shit", "bitch", "asshole", "bastard", "ass", "dick", "whore",
	"slut", "idiot", "moron", "dumbass", "scumbag",
	// spanish
	"puta", "cabron", "mierda", "pendejo", "gilipollas",
	// french
	"merde", "connard", "salope", "putain", "encule",
	// german
	"scheisse", "arschloch", "fotze", "hurensohn",
	// italian
	"stronzo", "cazzo", "vaffanculo", "merda",
	// portuguese
	"caralho", "porra", "merda", "filho da puta",
	// russian (transliterated)
	"blyad", "suka", "pizdec", "mudak",
	// japanese (transliterated)
	"kuso", "baka yarou",
}

// KeywordFilter is the fallback tier: case-insensitive whole-word matching
// against a denylist. A 3-letter term buried inside a longer innocent word
// must not trigger, hence whole-word.
type KeywordFilter struct {
	re *regexp.Regexp
}

func NewKeywordFilter(terms ...string) *KeywordFilter {
	if len(terms) == 0 {
		terms = Denylist
	}
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = regexp.QuoteMeta(strings.ToLower(t))
	}
	return &KeywordFilter{
		re: regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`),
	}
}

func (f *KeywordFilter) Classify(text string) (bool, *se.Err) {
	if strings.TrimSpace(text) == "" {
		return false, nil
	}
	return !f.re.MatchString(text), nil
}
