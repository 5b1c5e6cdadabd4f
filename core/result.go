package core

type (
	SaveResult struct {
		Success bool       `json:"success"`
		SavedTo SaveSource `json:"savedTo"`
		Error   string     `json:"error,omitempty"`
	}

	LoadResult struct {
		Success    bool       `json:"success"`
		Data       *SaveData  `json:"data,omitempty"`
		LoadedFrom SaveSource `json:"loadedFrom,omitempty"`
		Error      string     `json:"error,omitempty"`
	}

	DeleteResult struct {
		Success bool   `json:"success"`
		Error   string `json:"error,omitempty"`
	}

	SyncResult struct {
		Synced int      `json:"synced"`
		Errors []string `json:"errors"`
	}

	DrainResult struct {
		Success int `json:"success"`
		Failed  int `json:"failed"`
	}
)
