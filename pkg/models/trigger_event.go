package models

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"time"
)

// TriggerEventStatus represents the dispatch state of an ingested event.
type TriggerEventStatus string

const (
	TriggerEventStatusPending    TriggerEventStatus = "pending"
	TriggerEventStatusDispatched TriggerEventStatus = "dispatched"
	TriggerEventStatusIgnored    TriggerEventStatus = "ignored"
)

// TriggerEvent is one ingested occurrence of a subscription's trigger.
// (SubscriptionID, DedupKey) is unique, which caps dispatch at once per
// logical event no matter how many times the provider redelivers it.
type TriggerEvent struct {
	ID             string             `json:"id"`
	SubscriptionID string             `json:"subscription_id" validate:"required"`
	FlowID         string             `json:"flow_id"         validate:"required"`
	Data           map[string]any     `json:"data"`
	DedupKey       string             `json:"dedup_key"       validate:"required"`
	Status         TriggerEventStatus `json:"status"`
	CreatedAt      time.Time          `json:"created_at"`
}

// DeriveDedupKey computes the fallback deduplication key for items whose
// trigger supplies no semantic key: the md5 of the item's canonical JSON.
// Go marshals map keys in sorted order, so equal items hash equally.
func DeriveDedupKey(item map[string]any) string {
	raw, err := json.Marshal(item)
	if err != nil {
		raw = []byte(err.Error())
	}

	sum := md5.Sum(raw)

	return hex.EncodeToString(sum[:])
}
