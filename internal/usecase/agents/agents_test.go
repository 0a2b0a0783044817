package agents

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskmate/internal/domain"
)

func mustAgent(t *testing.T, spec Spec, opts ...Option) *RuleAgent {
	t.Helper()
	a, err := New(spec, opts...)
	require.NoError(t, err)
	return a
}

func TestScore(t *testing.T) {
	tests := []struct {
		name     string
		spec     Spec
		message  string
		score    float64
		keywords []string
		signals  []string
	}{
		{
			name:     "issue key signal",
			spec:     IssuesSpec(),
			message:  "Update status of issue OCPQE-30241 to done",
			score:    6,
			keywords: []string{"issue"},
			signals:  []string{"issue_key"},
		},
		{
			name:     "cli invocation",
			spec:     ClusterSpec(),
			message:  "oc get pods in namespace foo",
			score:    8,
			keywords: []string{"oc", "pods", "namespace"},
			signals:  []string{"cli"},
		},
		{
			name:    "keyword inside a word does not count",
			spec:    ClusterSpec(),
			message: "Update status of issue OCPQE-30241 to done",
			score:   0,
		},
		{
			name:     "multi-word keyword",
			spec:     CodeReviewSpec(),
			message:  "any Pull  Request waiting on me?",
			score:    1,
			keywords: []string{"pull request"},
		},
		{
			name:    "nothing",
			spec:    MailSpec(),
			message: "asdkjasdkj",
			score:   0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mustAgent(t, tt.spec).Score(tt.message)
			assert.InDelta(t, tt.score, got.Score, 1e-9)
			assert.Equal(t, tt.keywords, got.Keywords)
			assert.Equal(t, tt.signals, got.Signals)
		})
	}
}

func TestScoreCountsDistinctKeywordsOnce(t *testing.T) {
	a := mustAgent(t, Spec{Descriptor: domain.AgentDescriptor{
		ID:            "x",
		Keywords:      []string{"mail", "Mail", " mail "},
		DefaultIntent: "noop",
	}})
	assert.Equal(t, []string{"mail"}, a.Descriptor().Keywords)
	assert.InDelta(t, 1.0, a.Score("mail mail MAIL").Score, 1e-9)
}

func TestScoreDefaultSignalBonus(t *testing.T) {
	a := mustAgent(t, MailSpec(), WithStrongSignalBonus(4))
	got := a.Score("ping a@b.io")
	assert.InDelta(t, 4.0, got.Score, 1e-9)
	assert.Equal(t, []string{"email_address"}, got.Signals)
}

func TestScoreIsPure(t *testing.T) {
	a := mustAgent(t, IssuesSpec())
	msg := "assign bug ABC-12 to jane"
	assert.Equal(t, a.Score(msg), a.Score(msg))
}

func TestClassifyScenarios(t *testing.T) {
	t.Run("issue status update", func(t *testing.T) {
		c := mustAgent(t, IssuesSpec()).Classify("Update status of issue OCPQE-30241 to done")
		assert.Equal(t, "update_status", c.Intent)
		assert.Equal(t, domain.MethodRules, c.Method)
		assert.InDelta(t, DefaultRuleConfidence, c.Confidence, 1e-9)
		assert.Equal(t, "OCPQE-30241", c.Entities.Value("issue_key"))
		assert.Equal(t, "Done", c.Entities.Value("status"))
		assert.Equal(t, "Updating OCPQE-30241 to Done.", c.Response)
	})

	t.Run("list pods", func(t *testing.T) {
		c := mustAgent(t, ClusterSpec()).Classify("oc get pods in namespace foo")
		assert.Equal(t, "list_pods", c.Intent)
		assert.Equal(t, "foo", c.Entities.Value("namespace"))
		assert.Equal(t, "pods", c.Entities.Value("resource_type"))
		assert.Equal(t, "Listing pods in foo.", c.Response)
	})

	t.Run("gibberish", func(t *testing.T) {
		c := mustAgent(t, GeneralSpec()).Classify("asdkjasdkj")
		assert.Equal(t, "general_conversation", c.Intent)
		assert.Equal(t, domain.MethodFallback, c.Method)
		assert.LessOrEqual(t, c.Confidence, 0.3)
		assert.Empty(t, c.Entities)
		assert.Equal(t, FallbackResponse, c.Response)
	})
}

func TestClassifyAgentRecognizers(t *testing.T) {
	tests := []struct {
		name     string
		spec     Spec
		message  string
		intent   string
		entities map[string]string
	}{
		{
			name:     "pod logs",
			spec:     ClusterSpec(),
			message:  "logs for web-1 in namespace prod",
			intent:   "get_logs",
			entities: map[string]string{"pod": "web-1", "namespace": "prod"},
		},
		{
			name:     "replicas beat shared identifiers",
			spec:     ClusterSpec(),
			message:  "scale frontend to 12 replicas",
			intent:   "scale_deployment",
			entities: map[string]string{"replicas": "12"},
		},
		{
			name:     "meeting time and attendee",
			spec:     CalendarSpec(),
			message:  "schedule a meeting with alice tomorrow at 3 PM",
			intent:   "schedule_meeting",
			entities: map[string]string{"attendee": "alice", "date": "tomorrow", "time": "3pm"},
		},
		{
			name:     "assignee",
			spec:     IssuesSpec(),
			message:  "assign ABC-7 to jdoe",
			intent:   "assign_issue",
			entities: map[string]string{"issue_key": "ABC-7", "assignee": "jdoe"},
		},
		{
			name:     "sender",
			spec:     MailSpec(),
			message:  "show emails from bob",
			intent:   "search_by_sender",
			entities: map[string]string{"sender": "bob"},
		},
		{
			name:     "merge into branch",
			spec:     CodeReviewSpec(),
			message:  "merge PR 42 into main",
			intent:   "merge_pr",
			entities: map[string]string{"pr_number": "42", "branch": "main"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := mustAgent(t, tt.spec).Classify(tt.message)
			assert.Equal(t, tt.intent, c.Intent)
			got := c.Entities.Map()
			for k, v := range tt.entities {
				assert.Equal(t, v, got[k], "entity %s", k)
			}
		})
	}
}

func TestClassifyResourceTypeSkipsFlags(t *testing.T) {
	agent := mustAgent(t, ClusterSpec())

	c := agent.Classify("kubectl logs my-pod --namespace=prod")
	assert.Equal(t, "prod", c.Entities.Value("namespace"))
	assert.False(t, c.Entities.Has("resource_type"), "got %v", c.Entities.Map())

	c = agent.Classify("oc get pods --namespace prod")
	assert.Equal(t, "pods", c.Entities.Value("resource_type"))
	assert.Equal(t, "prod", c.Entities.Value("namespace"))

	c = agent.Classify("list namespaces")
	assert.Equal(t, "namespaces", c.Entities.Value("resource_type"))

	c = agent.Classify("pods,services in ns prod")
	assert.Equal(t, "pods", c.Entities.Value("resource_type"))
}

func TestClassifyPrefersLongerTriggers(t *testing.T) {
	c := mustAgent(t, MailSpec()).Classify("mark all as read")
	assert.Equal(t, "mark_read", c.Intent)
	assert.Equal(t, []string{"mark all as read"}, c.Triggers)
}

func TestClassifyTieGoesToDeclaredOrder(t *testing.T) {
	a := mustAgent(t, Spec{
		Descriptor: domain.AgentDescriptor{ID: "x", DefaultIntent: "c"},
		Rules: []IntentRule{
			{Intent: "a", Triggers: []string{"foo"}},
			{Intent: "b", Triggers: []string{"bar"}},
			{Intent: "c"},
		},
	})
	assert.Equal(t, "a", a.Classify("bar foo").Intent)
	assert.Equal(t, []string{"a", "b", "c"}, a.Descriptor().Intents)
}

func TestClassifyConfidenceOption(t *testing.T) {
	a := mustAgent(t, IssuesSpec(), WithConfidence(0.7, 0.2))
	assert.InDelta(t, 0.7, a.Classify("close ABC-1").Confidence, 1e-9)
	assert.InDelta(t, 0.2, a.Classify("ABC-1").Confidence, 1e-9)
	assert.Equal(t, "fetch_issues", a.Classify("ABC-1").Intent)
}

func TestRespondDropsMissingClauses(t *testing.T) {
	a := mustAgent(t, IssuesSpec())
	entities := domain.Entities{{Kind: domain.EntityIssueKey, Name: "issue_key", Value: "ABC-1"}}
	assert.Equal(t, "Assigning ABC-1.", a.Respond("assign_issue", entities))
	assert.Equal(t, "Fetching your issues.", a.Respond("fetch_issues", nil))
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
	}{
		{"empty id", Spec{Descriptor: domain.AgentDescriptor{DefaultIntent: "a"}}},
		{"empty default", Spec{Descriptor: domain.AgentDescriptor{ID: "x"}}},
		{"default outside intents", Spec{Descriptor: domain.AgentDescriptor{ID: "x", Intents: []string{"a"}, DefaultIntent: "b"}}},
		{"rule outside intents", Spec{
			Descriptor: domain.AgentDescriptor{ID: "x", Intents: []string{"a"}, DefaultIntent: "a"},
			Rules:      []IntentRule{{Intent: "b", Triggers: []string{"b"}}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.spec)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestDescriptorIsACopy(t *testing.T) {
	a := mustAgent(t, IssuesSpec())
	d := a.Descriptor()
	d.Intents[0] = "mutated"
	d.Keywords[0] = "mutated"
	assert.NotEqual(t, "mutated", a.Descriptor().Intents[0])
	assert.NotEqual(t, "mutated", a.Descriptor().Keywords[0])
}

func TestBuiltinCatalog(t *testing.T) {
	specs := Builtin()
	ids := make([]string, 0, len(specs))
	for _, s := range specs {
		a := mustAgent(t, s)
		d := a.Descriptor()
		assert.True(t, d.HasIntent(d.DefaultIntent), "agent %s", d.ID)
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{IssuesID, ClusterID, CodeReviewID, MailID, CalendarID, GeneralID}, ids)
}

func TestBuildOverrides(t *testing.T) {
	agents, err := Build(Builtin(), map[string]Override{
		MailID:    {Disabled: true},
		ClusterID: {Priority: 9, Keywords: []string{"argocd"}},
	}, GeneralID)
	require.NoError(t, err)
	require.Len(t, agents, 5)

	for _, a := range agents {
		assert.NotEqual(t, MailID, a.Descriptor().ID)
		if a.Descriptor().ID == ClusterID {
			assert.Equal(t, 9, a.Priority())
			assert.Contains(t, a.Descriptor().Keywords, "argocd")
		}
	}
}

func TestBuildRejectsDisabledFallback(t *testing.T) {
	_, err := Build(Builtin(), map[string]Override{GeneralID: {Disabled: true}}, GeneralID)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestBuildRejectsUnknownOverride(t *testing.T) {
	_, err := Build(Builtin(), map[string]Override{"nope": {Priority: 1}}, GeneralID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestGeneralResponder(t *testing.T) {
	g := NewGeneralResponder(func() []domain.AgentInfo {
		return []domain.AgentInfo{
			{ID: MailID, Name: "Mail", Description: "Reads mail."},
			{ID: GeneralID, Name: "General", Fallback: true},
		}
	})
	g.now = func() time.Time { return time.Date(2025, 3, 14, 9, 26, 0, 0, time.UTC) }
	ctx := context.Background()

	tests := []struct {
		intent  string
		success bool
		want    string
	}{
		{"greeting", true, "Hello! How can I help you today?"},
		{"time", true, "It is 09:26."},
		{"date", true, "Today is Friday, March 14, 2025."},
		{"general_conversation", false, FallbackResponse},
	}
	for _, tt := range tests {
		t.Run(tt.intent, func(t *testing.T) {
			res, err := g.Execute(ctx, domain.RoutingDecision{AgentID: GeneralID, Intent: tt.intent})
			require.NoError(t, err)
			assert.Equal(t, tt.success, res.Success)
			assert.Equal(t, tt.want, res.Response)
		})
	}

	res, err := g.Execute(ctx, domain.RoutingDecision{AgentID: GeneralID, Intent: "help"})
	require.NoError(t, err)
	assert.Contains(t, res.Response, "- Mail: Reads mail.")
	assert.NotContains(t, res.Response, "- General")
}

func TestCompilePhraseBoundaries(t *testing.T) {
	p := compilePhrase("must-gather")
	assert.True(t, p.re.MatchString("run a must-gather now"))
	assert.False(t, p.re.MatchString("mustgather"))
	assert.Equal(t, 1, p.words)

	q := compilePhrase("what's on")
	assert.True(t, q.re.MatchString("What's on  today"))
	assert.Equal(t, regexp.MustCompile(`(?i)\bwhat's\s+on\b`).String(), q.re.String())
}
