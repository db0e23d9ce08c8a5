package progresschanged

type Input struct {
	ItemID   string `json:"item_id"`
	Progress int    `json:"progress"`
}

type Output struct {
	Delivered int `json:"delivered"`
	Pruned    int `json:"pruned"`
	// DerivedStatus is empty when the progress left the status unchanged.
	DerivedStatus string `json:"derivedStatus,omitempty"`
}
