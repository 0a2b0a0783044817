package agents

import (
	"regexp"
	"strings"

	"deskmate/internal/domain"
	"deskmate/internal/usecase/extract"
)

// issueStatuses maps spoken workflow states to their canonical names.
var issueStatuses = map[string]string{
	"to do":       "To Do",
	"todo":        "To Do",
	"new":         "New",
	"open":        "Open",
	"reopened":    "Reopened",
	"in progress": "In Progress",
	"in review":   "In Review",
	"code review": "Code Review",
	"on qa":       "ON_QA",
	"modified":    "MODIFIED",
	"post":        "POST",
	"verified":    "Verified",
	"blocked":     "Blocked",
	"done":        "Done",
	"closed":      "Closed",
	"resolved":    "Resolved",
}

var statusRe = regexp.MustCompile(`(?i)\b(?:to|as|into|status)\s+(to\s+do|todo|new|open|reopened|in\s+progress|in\s+review|code\s+review|on\s+qa|modified|post|verified|blocked|done|closed|resolved)\b`)

func issueStatus(s string) (string, bool) {
	v, ok := issueStatuses[strings.ToLower(strings.Join(strings.Fields(s), " "))]
	return v, ok
}

// resourceTypes maps kubectl kinds, short names and plurals to one name.
var resourceTypes = map[string]string{
	"pod": "pods", "pods": "pods", "po": "pods",
	"deployment": "deployments", "deployments": "deployments", "deploy": "deployments",
	"service": "services", "services": "services", "svc": "services",
	"node": "nodes", "nodes": "nodes",
	"namespace": "namespaces", "namespaces": "namespaces", "ns": "namespaces",
	"project": "projects", "projects": "projects",
	"configmap": "configmaps", "configmaps": "configmaps", "cm": "configmaps",
	"secret": "secrets", "secrets": "secrets",
	"route": "routes", "routes": "routes",
	"event": "events", "events": "events",
	"ingress": "ingresses", "ingresses": "ingresses",
	"job": "jobs", "jobs": "jobs",
	"cronjob": "cronjobs", "cronjobs": "cronjobs",
	"pvc": "persistentvolumeclaims", "pvcs": "persistentvolumeclaims",
	"statefulset": "statefulsets", "statefulsets": "statefulsets", "sts": "statefulsets",
	"daemonset": "daemonsets", "daemonsets": "daemonsets", "ds": "daemonsets",
}

var (
	// A word glued to a dash is a flag name, as in --namespace=prod.
	resourceTypeRe = regexp.MustCompile(`(?i)(?:^|[^\w-])(pods?|po|deployments?|deploy|services?|svc|nodes?|namespaces?|ns|projects?|configmaps?|cm|secrets?|routes?|events?|ingress(?:es)?|jobs?|cronjobs?|pvcs?|statefulsets?|sts|daemonsets?|ds)\b`)
	resourceRefRe  = regexp.MustCompile(`(?i)\b(?:pod|po|deployment|deploy|svc|service|node|statefulset|sts|daemonset|ds|job|configmap|cm|secret|route)/([a-z0-9](?:[-a-z0-9.]*[a-z0-9])?)\b`)
	podNameRe      = regexp.MustCompile(`(?i)\b(?:logs?\s+(?:for|of|from)?\s*|describe\s+pod\s+|exec\s+(?:into\s+)?|rsh\s+|pod\s+)([a-z0-9](?:[-a-z0-9]*[a-z0-9])?-[a-z0-9]+)\b`)
	replicasRe     = regexp.MustCompile(`(?i)(?:\bto\s+(\d{1,3})\s+(?:replicas?|pods?|instances?)\b|\breplicas[=\s]\s*(\d{1,3})\b)`)
)

func resourceType(s string) (string, bool) {
	v, ok := resourceTypes[strings.ToLower(s)]
	return v, ok
}

// nameStopwords are words that follow "to", "from" or "with" without
// naming a person.
var nameStopwords = map[string]bool{
	"me": true, "my": true, "myself": true, "the": true, "a": true, "an": true,
	"all": true, "everyone": true, "it": true, "them": true, "this": true, "that": true,
	"do": true, "done": true, "in": true, "on": true, "review": true, "qa": true,
	"today": true, "tomorrow": true, "yesterday": true, "last": true, "next": true,
	"github": true, "gitlab": true, "jira": true, "inbox": true, "main": true,
}

func personName(s string) (string, bool) {
	v := strings.ToLower(s)
	if nameStopwords[v] {
		return "", false
	}
	return v, true
}

var (
	assigneeRe  = regexp.MustCompile(`(?i)\bassign(?:ed)?\s+(?:it\s+|this\s+|[A-Z][A-Z0-9]+-\d+\s+)?to\s+([a-z][\w.\-]*)`)
	projectRe   = regexp.MustCompile(`(?i)\b(?:in|for|to)\s+(?:the\s+)?project\s+([A-Za-z][A-Za-z0-9_\-]*)`)
	branchRe    = regexp.MustCompile(`(?i)\b(?:branch|into|onto|from\s+branch)\s+([A-Za-z0-9][\w./\-]*)`)
	prStateRe   = regexp.MustCompile(`(?i)\b(open|opened|closed|merged|draft)\b`)
	senderRe    = regexp.MustCompile(`(?i)\b(?:from|by)\s+([a-z][\w.\-]*)`)
	recipientRe = regexp.MustCompile(`(?i)\b(?:to|cc)\s+([a-z][\w.\-]*)`)
	attendeeRe  = regexp.MustCompile(`(?i)\bwith\s+([a-z][\w.\-]*)`)
	clockRe     = regexp.MustCompile(`(?i)\b(\d{1,2}(?::\d{2})?\s?(?:am|pm)|\d{1,2}:\d{2})\b`)
	durationRe  = regexp.MustCompile(`(?i)\b(\d+\s?(?:minutes?|mins?|hours?|hrs?|h))\b`)
)

func prState(s string) (string, bool) {
	v := strings.ToLower(s)
	if v == "opened" {
		v = "open"
	}
	return v, true
}

func clockTime(s string) (string, bool) {
	return strings.ReplaceAll(strings.ToLower(s), " ", ""), true
}

func issueRecognizers() []extract.Recognizer {
	return []extract.Recognizer{
		{Kind: domain.EntityStatus, Pattern: statusRe, Group: 1, Normalize: issueStatus},
		{Kind: domain.EntityUser, Name: "assignee", Pattern: assigneeRe, Group: 1, Normalize: personName},
		{Kind: domain.EntityIdentifier, Name: "project", Pattern: projectRe, Group: 1, Normalize: func(s string) (string, bool) {
			return strings.ToUpper(s), true
		}},
	}
}

func clusterRecognizers() []extract.Recognizer {
	return []extract.Recognizer{
		{Kind: domain.EntityIdentifier, Name: "resource_name", Pattern: resourceRefRe, Group: 1},
		{Kind: domain.EntityIdentifier, Name: "pod", Pattern: podNameRe, Group: 1, Normalize: func(s string) (string, bool) {
			return strings.ToLower(s), true
		}},
		{Kind: domain.EntityResourceType, Pattern: resourceTypeRe, Group: 1, Normalize: resourceType, Literal: true},
	}
}

func clusterLeading() []extract.Recognizer {
	return []extract.Recognizer{
		{Kind: domain.EntityIdentifier, Name: "replicas", Pattern: replicasRe, Group: 1},
		{Kind: domain.EntityIdentifier, Name: "replicas", Pattern: replicasRe, Group: 2},
	}
}

func codeReviewRecognizers() []extract.Recognizer {
	return []extract.Recognizer{
		{Kind: domain.EntityBranch, Pattern: branchRe, Group: 1},
		{Kind: domain.EntityStatus, Name: "state", Pattern: prStateRe, Group: 1, Normalize: prState, Literal: true},
	}
}

func mailRecognizers() []extract.Recognizer {
	return []extract.Recognizer{
		{Kind: domain.EntityUser, Name: "sender", Pattern: senderRe, Group: 1, Normalize: personName},
		{Kind: domain.EntityUser, Name: "recipient", Pattern: recipientRe, Group: 1, Normalize: personName},
	}
}

func calendarLeading() []extract.Recognizer {
	return []extract.Recognizer{
		{Kind: domain.EntityTime, Pattern: clockRe, Group: 1, Normalize: clockTime},
		{Kind: domain.EntityTime, Name: "duration", Pattern: durationRe, Group: 1, Normalize: clockTime},
	}
}

func calendarRecognizers() []extract.Recognizer {
	return []extract.Recognizer{
		{Kind: domain.EntityUser, Name: "attendee", Pattern: attendeeRe, Group: 1, Normalize: personName},
	}
}
