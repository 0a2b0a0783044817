package agents

import (
	"regexp"

	"deskmate/internal/domain"
)

// Built-in agent IDs.
const (
	IssuesID     = "issues"
	ClusterID    = "cluster"
	CodeReviewID = "codereview"
	MailID       = "mail"
	CalendarID   = "calendar"
	GeneralID    = "general"
)

// FallbackResponse is the reply for messages no agent understood.
const FallbackResponse = domain.FallbackResponse

// Builtin returns the specs of every built-in agent in registration order.
func Builtin() []Spec {
	return []Spec{
		IssuesSpec(),
		ClusterSpec(),
		CodeReviewSpec(),
		MailSpec(),
		CalendarSpec(),
		GeneralSpec(),
	}
}

// IssuesSpec describes the issue tracker agent.
func IssuesSpec() Spec {
	return Spec{
		Descriptor: domain.AgentDescriptor{
			ID:          IssuesID,
			Name:        "Issue Tracker",
			Description: "Finds, creates, updates and summarizes tracker issues.",
			Keywords: []string{
				"jira", "issue", "issues", "ticket", "tickets", "bug", "bugs",
				"story", "stories", "epic", "epics", "sprint", "backlog", "task", "tasks",
				"assignee", "reassign", "transition", "jql", "ocpbugs",
			},
			StrongSignals: []domain.StrongSignal{
				{Name: "issue_key", Pattern: regexp.MustCompile(`\b[A-Z][A-Z0-9]{1,9}-\d+\b`), Bonus: 5},
				{Name: "jql", Pattern: regexp.MustCompile(`(?i)\b(?:project|assignee|status|labels?)\s*(?:=|!=|\bin\s*\()`)},
			},
			DefaultIntent: "fetch_issues",
			Priority:      1,
		},
		Rules: []IntentRule{
			{Intent: "update_status", Triggers: []string{
				"update status", "change status", "set status", "status to", "mark as",
				"move to", "transition", "close", "resolve", "reopen",
			}, Response: "Updating {issue_key}[ to {status}]."},
			{Intent: "add_comment", Triggers: []string{
				"add comment", "add a comment", "comment", "post a comment", "note on",
			}, Response: "Adding a comment to {issue_key}."},
			{Intent: "assign_issue", Triggers: []string{
				"assign", "reassign", "unassign", "assign to", "take ownership",
			}, Response: "Assigning {issue_key}[ to {assignee}]."},
			{Intent: "create_issue", Triggers: []string{
				"create issue", "create an issue", "create a ticket", "create ticket", "new issue",
				"open issue", "file a bug", "report a bug", "create bug", "create story", "create task",
			}, Response: "Creating a new issue[ \"{quoted}\"][ in {project}]."},
			{Intent: "summarize_issue", Triggers: []string{
				"summarize", "summarise", "summary", "explain", "details of", "tell me about", "what is",
			}, Response: "Summarizing {issue_key}."},
			{Intent: "list_projects", Triggers: []string{
				"list projects", "show projects", "my projects", "which projects", "projects",
			}, Response: "Listing your projects."},
			{Intent: "search_issues", Triggers: []string{
				"search", "filter", "find issues", "find tickets", "jql", "query", "with label", "created by",
			}, Response: "Searching issues."},
			{Intent: "fetch_issues", Triggers: []string{
				"my issues", "show issues", "list issues", "open issues", "assigned to me",
				"get issues", "my tickets", "show tickets", "my bugs",
			}, Response: "Fetching your issues[ in {project}]."},
		},
		Recognizers:     issueRecognizers(),
		DefaultResponse: "Fetching your issues.",
	}
}

// ClusterSpec describes the Kubernetes and OpenShift operations agent.
func ClusterSpec() Spec {
	return Spec{
		Descriptor: domain.AgentDescriptor{
			ID:          ClusterID,
			Name:        "Cluster Operations",
			Description: "Inspects and operates Kubernetes and OpenShift clusters.",
			Keywords: []string{
				"kubernetes", "k8s", "openshift", "ocp", "oc", "kubectl", "cluster", "clusters",
				"pod", "pods", "namespace", "namespaces", "deployment", "deployments",
				"node", "nodes", "container", "containers", "configmap", "configmaps",
				"ingress", "pvc", "statefulset", "daemonset", "replicaset", "rollout",
				"kubeconfig", "helm", "must-gather", "crashloopbackoff", "svc",
			},
			StrongSignals: []domain.StrongSignal{
				{Name: "cli", Pattern: regexp.MustCompile(`(?i)^\s*(?:oc|kubectl)\s+[a-z][\w-]*`), Bonus: 5},
				{Name: "namespace_flag", Pattern: regexp.MustCompile(`(?:^|\s)(?:-n|--namespace)[=\s]\s*\S+`)},
				{Name: "resource_ref", Pattern: regexp.MustCompile(`(?i)\b(?:pod|deployment|deploy|svc|service|node|statefulset|daemonset|job|configmap|secret)/[a-z0-9][-a-z0-9.]*`)},
			},
			DefaultIntent: "cluster_help",
			Priority:      2,
		},
		Rules: []IntentRule{
			{Intent: "list_pods", Triggers: []string{
				"get pods", "list pods", "show pods", "running pods", "get po", "pods",
			}, Response: "Listing pods[ in {namespace}]."},
			{Intent: "list_namespaces", Triggers: []string{
				"get namespaces", "list namespaces", "show namespaces", "get projects", "namespaces",
			}, Response: "Listing namespaces."},
			{Intent: "list_services", Triggers: []string{
				"get svc", "get services", "list services", "show services", "services",
			}, Response: "Listing services[ in {namespace}]."},
			{Intent: "list_deployments", Triggers: []string{
				"get deployments", "get deploy", "list deployments", "show deployments", "deployments",
			}, Response: "Listing deployments[ in {namespace}]."},
			{Intent: "list_nodes", Triggers: []string{
				"get nodes", "list nodes", "show nodes", "nodes",
			}, Response: "Listing nodes."},
			{Intent: "describe_resource", Triggers: []string{
				"describe", "inspect", "details of",
			}, Response: "Describing[ {resource_type}][ {resource_name}][ {pod}]."},
			{Intent: "get_logs", Triggers: []string{
				"logs", "log", "get logs", "show logs", "tail logs",
			}, Response: "Fetching logs[ for {pod}][ in {namespace}]."},
			{Intent: "get_events", Triggers: []string{
				"get events", "events", "warnings",
			}, Response: "Fetching events[ in {namespace}]."},
			{Intent: "exec_pod", Triggers: []string{
				"exec", "rsh", "shell into", "ssh into",
			}, Response: "Opening a shell[ in {pod}]."},
			{Intent: "port_forward", Triggers: []string{
				"port-forward", "port forward", "forward port",
			}, Response: "Forwarding ports[ to {pod}]."},
			{Intent: "scale_deployment", Triggers: []string{
				"scale", "scale up", "scale down", "replicas",
			}, Response: "Scaling[ {resource_name}][ to {replicas} replicas]."},
			{Intent: "deploy_app", Triggers: []string{
				"deploy", "apply", "new-app", "create deployment", "install",
			}, Response: "Deploying[ to {namespace}]."},
			{Intent: "restart_rollout", Triggers: []string{
				"rollout restart", "restart", "rollout",
			}, Response: "Restarting the rollout[ of {resource_name}]."},
			{Intent: "delete_resource", Triggers: []string{
				"delete", "remove",
			}, Response: "Deleting[ {resource_type}][ {resource_name}]."},
			{Intent: "cluster_health", Triggers: []string{
				"health", "cluster status", "status of cluster", "crashloopbackoff", "failing", "unhealthy",
			}, Response: "Checking cluster health."},
			{Intent: "must_gather", Triggers: []string{
				"must-gather", "must gather", "collect logs", "diagnostics",
			}, Response: "Collecting a must-gather."},
			{Intent: "cluster_help", Triggers: []string{
				"help", "how do i", "what can",
			}},
		},
		Leading:         clusterLeading(),
		Recognizers:     clusterRecognizers(),
		DefaultResponse: "I can list, describe, scale and troubleshoot cluster resources.",
	}
}

// CodeReviewSpec describes the pull request agent.
func CodeReviewSpec() Spec {
	return Spec{
		Descriptor: domain.AgentDescriptor{
			ID:          CodeReviewID,
			Name:        "Code Review",
			Description: "Lists, reviews and merges pull requests.",
			Keywords: []string{
				"github", "gitlab", "pr", "prs", "pull request", "pull requests",
				"merge", "merged", "commit", "commits", "branch", "branches",
				"repo", "repos", "repository", "code review", "reviewer", "reviewers",
				"approve", "diff", "rebase",
			},
			StrongSignals: []domain.StrongSignal{
				{Name: "pr_ref", Pattern: regexp.MustCompile(`(?i)\b(?:pr|pull request)\s+#?\d+\b`), Bonus: 5},
				{Name: "repo_ref", Pattern: regexp.MustCompile(`\b[\w.-]+/[\w.-]+#\d+\b`), Bonus: 5},
				{Name: "github_url", Pattern: regexp.MustCompile(`(?i)\bhttps?://(?:www\.)?github\.com/\S+`), Bonus: 5},
			},
			DefaultIntent: "list_prs",
			Priority:      3,
		},
		Rules: []IntentRule{
			{Intent: "create_pr", Triggers: []string{
				"create pr", "open pr", "open a pr", "raise a pr", "new pr",
				"create pull request", "open a pull request",
			}, Response: "Opening a pull request[ from {branch}]."},
			{Intent: "review_pr", Triggers: []string{
				"review", "code review", "approve", "request changes", "lgtm",
			}, Response: "Reviewing[ PR #{pr_number}][ in {repository}]."},
			{Intent: "merge_pr", Triggers: []string{
				"merge", "squash", "rebase and merge",
			}, Response: "Merging[ PR #{pr_number}][ into {branch}]."},
			{Intent: "search_prs", Triggers: []string{
				"search", "find", "filter",
			}, Response: "Searching pull requests[ in {repository}]."},
			{Intent: "pr_details", Triggers: []string{
				"details", "show pr", "status of pr", "checks", "diff", "files changed", "summarize",
			}, Response: "Fetching[ PR #{pr_number}] details."},
			{Intent: "security_review", Triggers: []string{
				"security", "vulnerability", "vulnerabilities", "cve", "secrets",
			}, Response: "Running a security review[ of PR #{pr_number}]."},
			{Intent: "list_prs", Triggers: []string{
				"list prs", "my prs", "open prs", "show prs", "pull requests", "pending reviews", "prs",
			}, Response: "Listing[ {state}] pull requests[ in {repository}]."},
		},
		Recognizers:     codeReviewRecognizers(),
		DefaultResponse: "Listing your pull requests.",
	}
}

// MailSpec describes the mail agent.
func MailSpec() Spec {
	return Spec{
		Descriptor: domain.AgentDescriptor{
			ID:          MailID,
			Name:        "Mail",
			Description: "Reads, searches, sends and summarizes email.",
			Keywords: []string{
				"email", "emails", "e-mail", "mail", "mails", "gmail", "inbox", "unread",
				"sender", "subject", "attachment", "attachments", "compose", "reply",
				"forward", "draft", "drafts", "spam", "cc", "bcc", "newsletter", "mailbox",
			},
			StrongSignals: []domain.StrongSignal{
				{Name: "email_address", Pattern: regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9\-]+(?:\.[a-z0-9\-]+)*\.[a-z]{2,}\b`)},
				{Name: "subject_line", Pattern: regexp.MustCompile(`(?i)\bsubject\s*:`)},
			},
			DefaultIntent: "read_emails",
			Priority:      4,
		},
		Rules: []IntentRule{
			{Intent: "send_email", Triggers: []string{
				"send email", "send an email", "send mail", "compose", "write an email", "email to", "draft",
			}, Response: "Drafting an email[ to {email}][ to {recipient}]."},
			{Intent: "reply_email", Triggers: []string{
				"reply", "respond to", "answer",
			}, Response: "Replying[ to {sender}]."},
			{Intent: "forward_email", Triggers: []string{
				"forward",
			}, Response: "Forwarding[ to {email}][ to {recipient}]."},
			{Intent: "search_by_sender", Triggers: []string{
				"emails from", "mail from", "sent by", "from",
			}, Response: "Searching mail from[ {email}][ {sender}]."},
			{Intent: "search_by_date", Triggers: []string{
				"received on", "received", "since", "emails on",
			}, Response: "Searching mail[ from {date}]."},
			{Intent: "search_emails", Triggers: []string{
				"search", "find emails", "find email", "look for",
			}, Response: "Searching mail[ for \"{quoted}\"]."},
			{Intent: "mark_read", Triggers: []string{
				"mark as read", "mark read", "mark all read", "mark all as read",
			}, Response: "Marking messages as read."},
			{Intent: "delete_email", Triggers: []string{
				"delete", "trash", "archive",
			}, Response: "Moving messages to the trash."},
			{Intent: "find_attachments", Triggers: []string{
				"attachment", "attachments", "with files",
			}, Response: "Finding messages with attachments."},
			{Intent: "find_important", Triggers: []string{
				"important", "urgent", "starred", "priority",
			}, Response: "Finding important messages."},
			{Intent: "summarize_email", Triggers: []string{
				"summarize", "summary", "digest",
			}, Response: "Summarizing your mail[ from {date}]."},
			{Intent: "follow_up", Triggers: []string{
				"follow up", "follow-up", "followup", "awaiting reply", "no reply",
			}, Response: "Finding threads that need a follow-up."},
			{Intent: "read_emails", Triggers: []string{
				"read", "check", "unread", "inbox", "new emails", "latest emails", "show emails",
			}, Response: "Reading your inbox."},
		},
		Recognizers:     mailRecognizers(),
		DefaultResponse: "Reading your inbox.",
	}
}

// CalendarSpec describes the calendar agent.
func CalendarSpec() Spec {
	return Spec{
		Descriptor: domain.AgentDescriptor{
			ID:          CalendarID,
			Name:        "Calendar",
			Description: "Shows, schedules and reschedules meetings.",
			Keywords: []string{
				"calendar", "meeting", "meetings", "appointment", "appointments", "agenda",
				"schedule", "invite", "invites", "invitation", "event", "standup",
				"reminder", "availability", "busy",
			},
			StrongSignals: []domain.StrongSignal{
				{Name: "clock_time", Pattern: regexp.MustCompile(`(?i)\b\d{1,2}(?::\d{2})?\s?(?:am|pm)\b`)},
				{Name: "book_meeting", Pattern: regexp.MustCompile(`(?i)\b(?:book|schedule|set\s+up)\s+(?:a\s+|an\s+)?(?:meeting|call|sync|1:1)`)},
			},
			DefaultIntent: "show_calendar",
			Priority:      5,
		},
		Rules: []IntentRule{
			{Intent: "schedule_meeting", Triggers: []string{
				"schedule a meeting", "schedule meeting", "book a meeting", "set up a meeting", "book", "schedule",
			}, Response: "Scheduling a meeting[ with {attendee}][ on {date}][ at {time}]."},
			{Intent: "schedule_call", Triggers: []string{
				"schedule a call", "set up a call", "call with",
			}, Response: "Scheduling a call[ with {attendee}][ on {date}][ at {time}]."},
			{Intent: "send_invite", Triggers: []string{
				"send invite", "send an invite", "invite",
			}, Response: "Sending an invite[ to {attendee}]."},
			{Intent: "respond_invite", Triggers: []string{
				"accept", "decline", "rsvp",
			}, Response: "Responding to the invitation."},
			{Intent: "set_reminder", Triggers: []string{
				"remind me", "reminder", "set a reminder",
			}, Response: "Setting a reminder[ for {date}][ at {time}]."},
			{Intent: "reschedule_meeting", Triggers: []string{
				"reschedule", "move meeting", "move the meeting", "postpone",
			}, Response: "Rescheduling[ to {date}][ at {time}]."},
			{Intent: "cancel_meeting", Triggers: []string{
				"cancel meeting", "cancel the meeting", "cancel",
			}, Response: "Cancelling the meeting."},
			{Intent: "find_free_time", Triggers: []string{
				"free time", "free slot", "availability", "when am i free",
			}, Response: "Looking for free time[ on {date}]."},
			{Intent: "calendar_search", Triggers: []string{
				"search", "find", "look up",
			}, Response: "Searching your calendar[ for \"{quoted}\"]."},
			{Intent: "show_events", Triggers: []string{
				"events", "meetings", "what's on", "upcoming", "agenda",
			}, Response: "Showing events[ for {date}]."},
			{Intent: "show_calendar", Triggers: []string{
				"show calendar", "my calendar", "calendar",
			}, Response: "Showing your calendar[ for {date}]."},
		},
		Leading:         calendarLeading(),
		Recognizers:     calendarRecognizers(),
		DefaultResponse: "Showing your calendar.",
	}
}

// GeneralSpec describes the conversational fallback agent.
func GeneralSpec() Spec {
	return Spec{
		Descriptor: domain.AgentDescriptor{
			ID:          GeneralID,
			Name:        "General",
			Description: "Small talk, help and anything no other agent claims.",
			Keywords: []string{
				"hello", "hi", "hey", "thanks", "thank you", "bye", "goodbye", "help",
			},
			DefaultIntent: "general_conversation",
			Priority:      100,
		},
		Rules: []IntentRule{
			{Intent: "greeting", Triggers: []string{
				"hello", "hi", "hey", "good morning", "good afternoon", "good evening",
			}},
			{Intent: "goodbye", Triggers: []string{
				"bye", "goodbye", "see you", "good night",
			}},
			{Intent: "thanks", Triggers: []string{
				"thanks", "thank you", "thx", "appreciate",
			}},
			{Intent: "help", Triggers: []string{
				"help", "what can you do", "capabilities", "commands",
			}},
			{Intent: "time", Triggers: []string{
				"what time", "current time", "time is it",
			}},
			{Intent: "date", Triggers: []string{
				"what date", "today's date", "what day", "date today",
			}},
			{Intent: "general_conversation"},
		},
		DefaultResponse: FallbackResponse,
	}
}
