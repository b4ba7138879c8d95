package types

// Tab is a read-only snapshot of one open browser tab, as enumerated by the
// host. The resolution engine never mutates it.
type Tab struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
	WindowID int    `json:"window_id"`
	Index    int    `json:"index"`
}
