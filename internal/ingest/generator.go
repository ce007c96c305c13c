// Package ingest produces and loads raw event batches. The generator is
// seeded and fully deterministic, which makes pipeline runs reproducible
// end to end.
package ingest

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"
)

const (
	defaultNumUsers     = 500
	defaultNumDocuments = 2000

	// DefaultEventsPerDay is the generated volume when the caller does not
	// override it.
	DefaultEventsPerDay = 10000
)

// eventWeights models observed product usage: edits dominate, subscription
// changes are rare.
var eventWeights = []weighted{
	{"document_edited", 35},
	{"document_created", 10},
	{"user_login", 15},
	{"feature_used", 20},
	{"document_shared", 8},
	{"user_logout", 5},
	{"subscription_started", 2},
	{"subscription_upgraded", 3},
	{"subscription_cancelled", 1},
	{"document_deleted", 1},
}

var platformWeights = []weighted{
	{"web", 60},
	{"mobile", 25},
	{"desktop", 10},
	{"api", 5},
}

var planWeights = []weighted{
	{"free", 70},
	{"pro", 25},
	{"enterprise", 5},
}

// catalogFeature mirrors one row of the seeded feature dimension.
type catalogFeature struct {
	ID   string
	Name string
}

var catalogFeatures = []catalogFeature{
	{"real_time_collab", "Real-time Collaboration"},
	{"comments", "Comments"},
	{"version_history", "Version History"},
	{"export_pdf", "Export to PDF"},
	{"templates", "Templates"},
	{"cloud_storage", "Cloud Storage"},
	{"advanced_search", "Advanced Search"},
	{"team_analytics", "Team Analytics"},
}

// hourWeights shapes the time-of-day distribution: morning and afternoon
// peaks, quiet nights.
var hourWeights = []int{
	1, 1, 1, 1, 1, 2, 3, 5, 8, 10, 10, 9,
	7, 8, 10, 10, 9, 8, 6, 5, 4, 3, 2, 1,
}

type weighted struct {
	value  string
	weight int
}

type genUser struct {
	UserID     string
	Email      string
	SignupDate time.Time
	Plan       string
}

type genDocument struct {
	DocumentID  string
	OwnerUserID string
	Title       string
	CreatedAt   time.Time
}

// Event is one generated wire payload, shaped like the ingestion contract.
type Event struct {
	EventID        string         `json:"event_id"`
	EventType      string         `json:"event_type"`
	EventTimestamp string         `json:"event_timestamp"`
	UserID         string         `json:"user_id"`
	SessionID      string         `json:"session_id"`
	Properties     map[string]any `json:"properties"`
	Context        EventContext   `json:"context"`
}

// EventContext carries client metadata.
type EventContext struct {
	Platform  string `json:"platform"`
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
}

// Generator produces synthetic product events from fixed user and document
// pools. The same seed always yields the same event stream.
type Generator struct {
	rng       *rand.Rand
	users     []genUser
	documents []genDocument
	sessions  map[string]string
}

// NewGenerator creates a Generator with pools derived from the seed.
func NewGenerator(seed int64) *Generator {
	g := &Generator{
		rng:      rand.New(rand.NewSource(seed)),
		sessions: make(map[string]string),
	}
	g.users = g.generateUsers(defaultNumUsers)
	g.documents = g.generateDocuments(defaultNumDocuments)
	return g
}

func (g *Generator) generateUsers(n int) []genUser {
	users := make([]genUser, 0, n)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		users = append(users, genUser{
			UserID:     "usr_" + g.hex(12),
			Email:      fmt.Sprintf("user%d@example.com", i),
			SignupDate: base.AddDate(0, 0, g.rng.Intn(366)),
			Plan:       g.pick(planWeights),
		})
	}
	return users
}

func (g *Generator) generateDocuments(n int) []genDocument {
	docs := make([]genDocument, 0, n)
	for i := 0; i < n; i++ {
		owner := g.users[g.rng.Intn(len(g.users))]
		docs = append(docs, genDocument{
			DocumentID:  "doc_" + g.hex(12),
			OwnerUserID: owner.UserID,
			Title:       fmt.Sprintf("Document %d", i),
			CreatedAt:   owner.SignupDate.AddDate(0, 0, g.rng.Intn(31)),
		})
	}
	return docs
}

// sessionID returns the user's session, rolling a new one 10% of the time to
// imitate browser session churn.
func (g *Generator) sessionID(userID string) string {
	if _, ok := g.sessions[userID]; !ok || g.rng.Float64() < 0.1 {
		g.sessions[userID] = "ses_" + g.hex(12)
	}
	return g.sessions[userID]
}

// GenerateEvent produces one event dated on the given day, with a randomized
// time of day.
func (g *Generator) GenerateEvent(day time.Time) *Event {
	eventType := g.pick(eventWeights)
	user := g.users[g.rng.Intn(len(g.users))]

	hour := g.pickIndex(hourWeights)
	ts := time.Date(day.Year(), day.Month(), day.Day(),
		hour, g.rng.Intn(60), g.rng.Intn(60), 0, time.UTC)

	ev := &Event{
		EventID:        "evt_" + g.hex(32),
		EventType:      eventType,
		EventTimestamp: ts.Format("2006-01-02T15:04:05") + "Z",
		UserID:         user.UserID,
		SessionID:      g.sessionID(user.UserID),
		Properties:     map[string]any{},
		Context: EventContext{
			Platform:  g.pick(platformWeights),
			IPAddress: fmt.Sprintf("192.168.%d.%d", 1+g.rng.Intn(255), 1+g.rng.Intn(255)),
		},
	}
	ev.Context.UserAgent = fmt.Sprintf("Mozilla/5.0 (%s)", ev.Context.Platform)

	switch eventType {
	case "document_edited", "document_created", "document_deleted", "document_shared":
		doc := g.documents[g.rng.Intn(len(g.documents))]
		ev.Properties["document_id"] = doc.DocumentID
		if eventType == "document_edited" {
			ev.Properties["edit_duration_sec"] = 10 + g.rng.Intn(3591)
			ev.Properties["characters_added"] = g.rng.Intn(5001)
		}
	case "feature_used":
		feature := catalogFeatures[g.rng.Intn(len(catalogFeatures))]
		ev.Properties["feature_id"] = feature.ID
		ev.Properties["feature_name"] = feature.Name
		ev.Properties["duration_sec"] = 5 + g.rng.Intn(296)
	case "subscription_started", "subscription_upgraded":
		ev.Properties["plan"] = []string{"pro", "enterprise"}[g.rng.Intn(2)]
		ev.Properties["billing_cycle"] = []string{"monthly", "annual"}[g.rng.Intn(2)]
	case "subscription_cancelled":
		reasons := []string{"too_expensive", "not_using", "competitor", "other"}
		ev.Properties["reason"] = reasons[g.rng.Intn(len(reasons))]
	}

	return ev
}

// GenerateDay produces n events dated on the given day.
func (g *Generator) GenerateDay(day time.Time, n int) []*Event {
	events := make([]*Event, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, g.GenerateEvent(day))
	}
	return events
}

// Marshal renders the event as its wire JSON.
func (e *Event) Marshal() (json.RawMessage, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshaling event %s: %w", e.EventID, err)
	}
	return data, nil
}

func (g *Generator) pick(choices []weighted) string {
	total := 0
	for _, c := range choices {
		total += c.weight
	}
	n := g.rng.Intn(total)
	for _, c := range choices {
		if n < c.weight {
			return c.value
		}
		n -= c.weight
	}
	return choices[len(choices)-1].value
}

func (g *Generator) pickIndex(weights []int) int {
	total := 0
	for _, w := range weights {
		total += w
	}
	n := g.rng.Intn(total)
	for i, w := range weights {
		if n < w {
			return i
		}
		n -= w
	}
	return len(weights) - 1
}

const hexDigits = "0123456789abcdef"

func (g *Generator) hex(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = hexDigits[g.rng.Intn(16)]
	}
	return string(b)
}
