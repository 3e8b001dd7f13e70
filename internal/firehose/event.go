package firehose

import (
	"encoding/json"
	"fmt"

	"github.com/blackmichael/fuwamoko-bot/internal/bluesky"
)

const postCollection = "app.bsky.feed.post"

// jetstreamEvent is the raw JSON structure from Jetstream.
type jetstreamEvent struct {
	DID    string           `json:"did"`
	TimeUS int64            `json:"time_us"`
	Kind   string           `json:"kind"`
	Commit *jetstreamCommit `json:"commit,omitempty"`
}

// jetstreamCommit is the raw commit data from Jetstream. Record is only
// decoded for post creates.
type jetstreamCommit struct {
	Rev        string              `json:"rev"`
	Operation  string              `json:"operation"`
	Collection string              `json:"collection"`
	RKey       string              `json:"rkey"`
	Record     *bluesky.PostRecord `json:"-"`
	RawRecord  json.RawMessage     `json:"record,omitempty"`
	CID        string              `json:"cid"`
}

func (c *jetstreamCommit) uri(did string) string {
	return fmt.Sprintf("at://%s/%s/%s", did, c.Collection, c.RKey)
}

func parseEvent(data []byte) (*jetstreamEvent, error) {
	var event jetstreamEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}

	commit := event.Commit
	if event.Kind != "commit" || commit == nil {
		event.Commit = nil
		return &event, nil
	}

	if commit.Collection == postCollection && commit.Operation == "create" && len(commit.RawRecord) > 0 {
		var record bluesky.PostRecord
		if err := json.Unmarshal(commit.RawRecord, &record); err != nil {
			return nil, fmt.Errorf("unmarshal post record: %w", err)
		}
		commit.Record = &record
	}
	commit.RawRecord = nil

	return &event, nil
}
