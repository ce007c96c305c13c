package model

// EventType classifies a product-usage event.
// Well-known constants cover the CloudDocs event catalog, but event types are
// extensible; unknown non-empty values pass validation and flow through the
// pipeline untyped.
type EventType string

const (
	EventDocumentEdited        EventType = "document_edited"
	EventDocumentCreated       EventType = "document_created"
	EventDocumentShared        EventType = "document_shared"
	EventDocumentDeleted       EventType = "document_deleted"
	EventUserLogin             EventType = "user_login"
	EventUserLogout            EventType = "user_logout"
	EventFeatureUsed           EventType = "feature_used"
	EventSubscriptionStarted   EventType = "subscription_started"
	EventSubscriptionUpgraded  EventType = "subscription_upgraded"
	EventSubscriptionCancelled EventType = "subscription_cancelled"
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	return string(t)
}

// IsValid reports whether the event type is a non-empty string.
func (t EventType) IsValid() bool {
	return t != ""
}

// IsSubscription reports whether the event carries a plan change.
func (t EventType) IsSubscription() bool {
	switch t {
	case EventSubscriptionStarted, EventSubscriptionUpgraded, EventSubscriptionCancelled:
		return true
	}
	return false
}
