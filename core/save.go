package core

import (
	"encoding/json"
	"time"
)

type (
	VictoryStatus string
	SaveSource    string
)

const (
	VictoryNone    VictoryStatus = "none"
	VictoryVictory VictoryStatus = "victory"
	VictoryDefeat  VictoryStatus = "defeat"

	SourceLocal SaveSource = "local"
	SourceCloud SaveSource = "cloud"
	SourceBoth  SaveSource = "both"

	// SourceQueued only appears in SaveResult: the save is waiting in the
	// offline queue.
	SourceQueued SaveSource = "queued"
)

type (
	// SaveData is a game-state snapshot. The sync layer never mutates it;
	// State is the opaque payload owned by the game layer.
	SaveData struct {
		SaveName      string          `json:"saveName,omitempty"`
		CampaignName  string          `json:"campaignName,omitempty"`
		TurnNumber    int             `json:"turnNumber"`
		Playtime      int64           `json:"playtime"`
		Version       string          `json:"version"`
		VictoryStatus VictoryStatus   `json:"victoryStatus"`
		Thumbnail     string          `json:"thumbnail,omitempty"`
		SavedAt       time.Time       `json:"savedAt"`
		State         json.RawMessage `json:"state,omitempty"`
	}

	// SaveMetadata describes a save without its payload. It is computed on
	// demand and never persisted as such.
	SaveMetadata struct {
		ID            string        `json:"id"`
		SlotName      string        `json:"slotName"`
		SaveName      string        `json:"saveName,omitempty"`
		CampaignName  string        `json:"campaignName,omitempty"`
		TurnNumber    int           `json:"turnNumber"`
		Playtime      int64         `json:"playtime"`
		Version       string        `json:"version"`
		VictoryStatus VictoryStatus `json:"victoryStatus"`
		Thumbnail     string        `json:"thumbnail,omitempty"`
		CreatedAt     time.Time     `json:"createdAt"`
		UpdatedAt     time.Time     `json:"updatedAt"`
		Source        SaveSource    `json:"source"`
	}

	// QueuedSave is a save waiting to reach the remote store. There is at
	// most one per slot.
	QueuedSave struct {
		ID         string    `json:"id"`
		SlotName   string    `json:"slotName"`
		SaveName   string    `json:"saveName,omitempty"`
		SaveData   SaveData  `json:"saveData"`
		QueuedAt   time.Time `json:"queuedAt"`
		RetryCount int       `json:"retryCount"`
	}

	// SaveRow is the remote wire row, unique on (UserID, SlotName). Data holds
	// the compressed codec payload.
	SaveRow struct {
		ID            string        `json:"id"`
		UserID        string        `json:"userId"`
		SlotName      string        `json:"slotName"`
		SaveName      string        `json:"saveName,omitempty"`
		CampaignName  string        `json:"campaignName,omitempty"`
		TurnNumber    int           `json:"turnNumber"`
		Playtime      int64         `json:"playtime"`
		Version       string        `json:"version"`
		VictoryStatus VictoryStatus `json:"victoryStatus"`
		Thumbnail     string        `json:"thumbnail,omitempty"`
		Data          []byte        `json:"data,omitempty"`
		Checksum      string        `json:"checksum,omitempty"`
		CreatedAt     time.Time     `json:"createdAt"`
		UpdatedAt     time.Time     `json:"updatedAt"`
	}
)

// MetadataFrom projects data onto the listing fields.
func MetadataFrom(data *SaveData, slot string) SaveMetadata {
	status := data.VictoryStatus
	if status == "" {
		status = VictoryNone
	}
	return SaveMetadata{
		SlotName:      slot,
		SaveName:      data.SaveName,
		CampaignName:  data.CampaignName,
		TurnNumber:    data.TurnNumber,
		Playtime:      data.Playtime,
		Version:       data.Version,
		VictoryStatus: status,
		Thumbnail:     data.Thumbnail,
		CreatedAt:     data.SavedAt,
		UpdatedAt:     data.SavedAt,
	}
}

// Metadata returns the listing projection of the row, tagged as cloud.
func (r *SaveRow) Metadata() *SaveMetadata {
	return &SaveMetadata{
		ID:            r.ID,
		SlotName:      r.SlotName,
		SaveName:      r.SaveName,
		CampaignName:  r.CampaignName,
		TurnNumber:    r.TurnNumber,
		Playtime:      r.Playtime,
		Version:       r.Version,
		VictoryStatus: r.VictoryStatus,
		Thumbnail:     r.Thumbnail,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		Source:        SourceCloud,
	}
}
