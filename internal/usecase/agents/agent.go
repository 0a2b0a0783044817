// Package agents builds keyword and trigger driven domain agents.
package agents

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"deskmate/internal/domain"
	"deskmate/internal/usecase/extract"
)

// Default confidences for rule classification.
const (
	DefaultRuleConfidence    = 0.6
	DefaultDefaultConfidence = 0.3
)

// IntentRule maps trigger phrases to an intent. Response is an optional
// acknowledgement; {name} placeholders are filled from extracted entities.
type IntentRule struct {
	Intent   string
	Triggers []string
	Response string
}

// Spec declares a rule-based agent. Descriptor.Intents may be left empty,
// in which case it is derived from Rules and DefaultIntent.
//
// Leading recognizers run before the shared ones and must only match in
// unambiguous context ("at 10:30", "to 3 replicas"). Recognizers run after.
type Spec struct {
	Descriptor      domain.AgentDescriptor
	Rules           []IntentRule
	Leading         []extract.Recognizer
	Recognizers     []extract.Recognizer
	DefaultResponse string
}

// phrase is a compiled whole-word phrase.
type phrase struct {
	text  string
	words int
	re    *regexp.Regexp
}

type rule struct {
	intent   string
	triggers []phrase
	response string
}

// RuleAgent is a DomainAgent whose behaviour is fully described by its Spec.
// It is immutable and safe for concurrent use.
type RuleAgent struct {
	desc            domain.AgentDescriptor
	keywords        []phrase
	rules           []rule
	extractor       *extract.Extractor
	defaultResponse string

	ruleConfidence    float64
	defaultConfidence float64
	signalBonus       float64
}

// Option configures a RuleAgent.
type Option func(*RuleAgent)

// WithConfidence overrides the rule and default-intent confidences.
func WithConfidence(rule, fallback float64) Option {
	return func(a *RuleAgent) {
		a.ruleConfidence = rule
		a.defaultConfidence = fallback
	}
}

// WithStrongSignalBonus sets the bonus used by signals that declare none.
func WithStrongSignalBonus(bonus float64) Option {
	return func(a *RuleAgent) {
		if bonus > 0 {
			a.signalBonus = bonus
		}
	}
}

// WithExtractor replaces the shared extractor the agent recognizers are
// appended to.
func WithExtractor(x *extract.Extractor) Option {
	return func(a *RuleAgent) {
		if x != nil {
			a.extractor = x
		}
	}
}

// New compiles spec into an agent.
func New(spec Spec, opts ...Option) (*RuleAgent, error) {
	desc := spec.Descriptor
	if desc.ID == "" {
		return nil, fmt.Errorf("%w: agent id is empty", domain.ErrInvalidInput)
	}
	if desc.DefaultIntent == "" {
		return nil, fmt.Errorf("%w: agent %s: default intent is empty", domain.ErrInvalidInput, desc.ID)
	}

	if len(desc.Intents) == 0 {
		for _, r := range spec.Rules {
			if !slices.Contains(desc.Intents, r.Intent) {
				desc.Intents = append(desc.Intents, r.Intent)
			}
		}
		if !slices.Contains(desc.Intents, desc.DefaultIntent) {
			desc.Intents = append(desc.Intents, desc.DefaultIntent)
		}
	} else {
		desc.Intents = slices.Clone(desc.Intents)
	}
	if !desc.HasIntent(desc.DefaultIntent) {
		return nil, fmt.Errorf("%w: agent %s: default intent %q not in intent set", domain.ErrInvalidInput, desc.ID, desc.DefaultIntent)
	}
	if desc.Name == "" {
		desc.Name = desc.ID
	}

	a := &RuleAgent{
		extractor:         extract.Default(),
		defaultResponse:   spec.DefaultResponse,
		ruleConfidence:    DefaultRuleConfidence,
		defaultConfidence: DefaultDefaultConfidence,
		signalBonus:       domain.DefaultStrongSignalBonus,
	}
	for _, o := range opts {
		o(a)
	}
	a.extractor = extract.New(spec.Leading...).
		With(a.extractor.Recognizers()...).
		With(spec.Recognizers...)

	seen := make(map[string]bool, len(desc.Keywords))
	keywords := make([]string, 0, len(desc.Keywords))
	for _, kw := range desc.Keywords {
		norm := strings.ToLower(strings.Join(strings.Fields(kw), " "))
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		keywords = append(keywords, norm)
		a.keywords = append(a.keywords, compilePhrase(norm))
	}
	desc.Keywords = keywords
	desc.StrongSignals = slices.Clone(desc.StrongSignals)

	for _, r := range spec.Rules {
		if !desc.HasIntent(r.Intent) {
			return nil, fmt.Errorf("%w: agent %s: rule intent %q not in intent set", domain.ErrInvalidInput, desc.ID, r.Intent)
		}
		cr := rule{intent: r.Intent, response: r.Response}
		for _, t := range r.Triggers {
			norm := strings.ToLower(strings.Join(strings.Fields(t), " "))
			if norm != "" {
				cr.triggers = append(cr.triggers, compilePhrase(norm))
			}
		}
		a.rules = append(a.rules, cr)
	}

	a.desc = desc
	return a, nil
}

// compilePhrase matches p case-insensitively as whole words with flexible
// inner whitespace.
func compilePhrase(p string) phrase {
	words := strings.Fields(p)
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	expr := strings.Join(quoted, `\s+`)
	if isWordRune(firstRune(p)) {
		expr = `\b` + expr
	}
	if isWordRune(lastRune(p)) {
		expr += `\b`
	}
	return phrase{text: p, words: len(words), re: regexp.MustCompile(`(?i)` + expr)}
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func firstRune(s string) rune {
	for _, r := range s {
		return r
	}
	return 0
}

func lastRune(s string) rune {
	r := []rune(s)
	if len(r) == 0 {
		return 0
	}
	return r[len(r)-1]
}

// Descriptor returns a copy of the agent's vocabulary.
func (a *RuleAgent) Descriptor() domain.AgentDescriptor {
	d := a.desc
	d.Intents = slices.Clone(d.Intents)
	d.Keywords = slices.Clone(d.Keywords)
	d.StrongSignals = slices.Clone(d.StrongSignals)
	return d
}

// Priority returns the tie-break priority; lower wins.
func (a *RuleAgent) Priority() int { return a.desc.Priority }

// Extractor returns the shared recognizers followed by the agent's own.
func (a *RuleAgent) Extractor() *extract.Extractor { return a.extractor }

// Score counts distinct keyword matches and adds the bonus of every
// strong signal found in message.
func (a *RuleAgent) Score(message string) domain.ScoreResult {
	var res domain.ScoreResult
	for _, kw := range a.keywords {
		if kw.re.MatchString(message) {
			res.Score++
			res.Keywords = append(res.Keywords, kw.text)
		}
	}
	for _, s := range a.desc.StrongSignals {
		if s.Pattern == nil || !s.Pattern.MatchString(message) {
			continue
		}
		bonus := s.Bonus
		if bonus <= 0 {
			bonus = a.signalBonus
		}
		res.Score += bonus
		res.Signals = append(res.Signals, s.Name)
	}
	return res
}

// Classify picks the intent whose triggers cover the most words of message.
// Ties go to the rule declared first. Without any trigger the default intent
// is returned at the default confidence.
func (a *RuleAgent) Classify(message string) domain.Classification {
	entities := a.extractor.Extract(message)

	best, bestScore := -1, 0
	var bestTriggers []string
	for i, r := range a.rules {
		score := 0
		var matched []string
		for _, t := range r.triggers {
			if t.re.MatchString(message) {
				score += t.words
				matched = append(matched, t.text)
			}
		}
		if score > bestScore {
			best, bestScore, bestTriggers = i, score, matched
		}
	}

	if best < 0 {
		return domain.Classification{
			Intent:     a.desc.DefaultIntent,
			Confidence: a.defaultConfidence,
			Entities:   entities,
			Method:     domain.MethodFallback,
			Response:   a.render(a.responseFor(a.desc.DefaultIntent), entities),
		}
	}
	r := a.rules[best]
	return domain.Classification{
		Intent:     r.intent,
		Confidence: a.ruleConfidence,
		Entities:   entities,
		Method:     domain.MethodRules,
		Triggers:   bestTriggers,
		Response:   a.render(r.response, entities),
	}
}

// Respond renders the acknowledgement for intent with the given entities.
func (a *RuleAgent) Respond(intent string, entities domain.Entities) string {
	return a.render(a.responseFor(intent), entities)
}

func (a *RuleAgent) responseFor(intent string) string {
	for _, r := range a.rules {
		if r.intent == intent && r.response != "" {
			return r.response
		}
	}
	return a.defaultResponse
}

var placeholderRe = regexp.MustCompile(`\{([a-z_]+)\}`)

// render substitutes {name} with entity values. A placeholder without a
// value drops the whole clause in [brackets] around it, or is left empty.
func (a *RuleAgent) render(tpl string, entities domain.Entities) string {
	if tpl == "" {
		return ""
	}
	values := entities.Map()
	out := optionalClauseRe.ReplaceAllStringFunc(tpl, func(clause string) string {
		for _, m := range placeholderRe.FindAllStringSubmatch(clause, -1) {
			if values[m[1]] == "" {
				return ""
			}
		}
		return clause[1 : len(clause)-1]
	})
	out = placeholderRe.ReplaceAllStringFunc(out, func(ph string) string {
		return values[ph[1:len(ph)-1]]
	})
	return strings.Join(strings.Fields(out), " ")
}

var optionalClauseRe = regexp.MustCompile(`\[[^\[\]]*\]`)
