package statuschanged

type Input struct {
	ItemID string `json:"item_id"`
	Status string `json:"status"`
}

type Output struct {
	Delivered int `json:"delivered"`
	Pruned    int `json:"pruned"`
}
